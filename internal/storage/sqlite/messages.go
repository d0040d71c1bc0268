package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/Tyrowin/counselchat/internal/domain"
)

// CreateMessage persists content in groupID on behalf of author. The stored
// id and timestamp are assigned here.
func (s *Store) CreateMessage(ctx context.Context, groupID int64, author domain.Identity, content string) (domain.Message, error) {
	now := s.nowMillis()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (group_id, author_id, author_role, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		groupID, author.ID, string(author.Role), content, now, now,
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("create message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Message{}, fmt.Errorf("create message: %w", err)
	}
	return domain.Message{
		ID:                id,
		GroupID:           groupID,
		AuthorID:          author.ID,
		AuthorRole:        author.Role,
		AuthorDisplayName: author.Name(),
		Content:           content,
		CreatedAt:         unixMillisToTime(now),
	}, nil
}

type messageRow struct {
	id, groupID, authorID int64
	authorRole            string
	authorName            sql.NullString
	content               string
	createdAt             int64
}

// ListMessages returns one page of the group's live messages, newest first.
func (s *Store) ListMessages(ctx context.Context, groupID int64, page domain.Page) ([]domain.Message, error) {
	page = page.Normalize(domain.DefaultPageSize)
	query := `SELECT m.id, m.group_id, m.author_id, m.author_role,
		       CASE m.author_role
		           WHEN 'lawyer' THEN COALESCE(l.lawyer_name, l.lawyer_id)
		           ELSE COALESCE(u.display_name, u.username)
		       END,
		       m.content, m.created_at
		  FROM messages m
		  LEFT JOIN users u ON m.author_role = 'normal' AND u.id = m.author_id
		  LEFT JOIN lawyers l ON m.author_role = 'lawyer' AND l.id = m.author_id
		 WHERE m.group_id = ? AND m.deleted_at IS NULL AND (? = 0 OR m.id < ?)
		 ORDER BY m.id DESC
		 LIMIT ?`
	rows, err := s.sqlDB.QueryContext(ctx, query, groupID, page.BeforeID, page.BeforeID, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var scanned []messageRow
	for rows.Next() {
		var r messageRow
		if err := rows.Scan(&r.id, &r.groupID, &r.authorID, &r.authorRole, &r.authorName, &r.content, &r.createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return lo.Map(scanned, func(r messageRow, _ int) domain.Message {
		return domain.Message{
			ID:                r.id,
			GroupID:           r.groupID,
			AuthorID:          r.authorID,
			AuthorRole:        domain.Role(r.authorRole),
			AuthorDisplayName: r.authorName.String,
			Content:           r.content,
			CreatedAt:         unixMillisToTime(r.createdAt),
		}
	}), nil
}

// DeleteMessage soft-deletes a message. Only its author may delete it.
func (s *Store) DeleteMessage(ctx context.Context, messageID int64, author domain.Identity) (domain.Message, error) {
	var (
		msg        domain.Message
		authorRole string
		createdAt  int64
		deletedAt  sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, group_id, author_id, author_role, content, created_at, deleted_at
		   FROM messages WHERE id = ?`, messageID,
	).Scan(&msg.ID, &msg.GroupID, &msg.AuthorID, &authorRole, &msg.Content, &createdAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) || deletedAt.Valid {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("load message: %w", err)
	}
	msg.AuthorRole = domain.Role(authorRole)
	msg.CreatedAt = unixMillisToTime(createdAt)
	if msg.AuthorID != author.ID || msg.AuthorRole != author.Role {
		return domain.Message{}, domain.ErrForbidden
	}

	now := s.nowMillis()
	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE messages SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, messageID,
	); err != nil {
		return domain.Message{}, fmt.Errorf("delete message: %w", err)
	}
	msg.AuthorDisplayName = author.Name()
	msg.DeletedAt = lo.ToPtr(unixMillisToTime(now))
	return msg, nil
}
