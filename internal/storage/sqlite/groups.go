package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/counselchat/internal/domain"
)

// CreateGroup inserts a group owned by ownerID and adds the owner as its
// first member.
func (s *Store) CreateGroup(ctx context.Context, name, description string, ownerID int64) (domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Group{}, fmt.Errorf("group name is required")
	}
	now := s.nowMillis()
	group := domain.Group{Name: name, Description: strings.TrimSpace(description), OwnerID: ownerID, CreatedAt: unixMillisToTime(now)}

	err := withTx(ctx, s.sqlDB, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, ownerID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrIdentityNotFound
		}
		if err != nil {
			return fmt.Errorf("load owner: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO chat_groups (name, description, owner_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			group.Name, nullString(group.Description), ownerID, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		if group.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)`, ownerID, group.ID,
		); err != nil {
			return fmt.Errorf("add owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Group{}, err
	}
	return group, nil
}

// GetGroup loads a group by id.
func (s *Store) GetGroup(ctx context.Context, groupID int64) (domain.Group, error) {
	var (
		group       domain.Group
		description sql.NullString
		createdAt   int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, created_at FROM chat_groups WHERE id = ?`, groupID,
	).Scan(&group.ID, &group.Name, &description, &group.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("get group: %w", err)
	}
	group.Description = description.String
	group.CreatedAt = unixMillisToTime(createdAt)
	return group, nil
}

// ListGroups returns the groups identity belongs to, oldest first.
func (s *Store) ListGroups(ctx context.Context, identity domain.Identity) ([]domain.Group, error) {
	table, column, err := membershipTable(identity.Role)
	if err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf(
		`SELECT g.id, g.name, g.description, g.owner_id, g.created_at
		 FROM chat_groups g JOIN %s m ON m.group_id = g.id
		 WHERE m.%s = ?
		 ORDER BY g.id`, table, column),
		identity.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []domain.Group
	for rows.Next() {
		var (
			group       domain.Group
			description sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&group.ID, &group.Name, &description, &group.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		group.Description = description.String
		group.CreatedAt = unixMillisToTime(createdAt)
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// AddMember adds identity to the group's member set.
func (s *Store) AddMember(ctx context.Context, groupID int64, identity domain.Identity) error {
	table, column, err := membershipTable(identity.Role)
	if err != nil {
		return err
	}
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.ResolveIdentity(ctx, identity.Role, identity.ID); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, group_id) VALUES (?, ?)`, table, column),
		identity.ID, groupID,
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyMember
	}
	return nil
}

// RemoveMember drops identity from the group. The owner cannot leave.
func (s *Store) RemoveMember(ctx context.Context, groupID int64, identity domain.Identity) error {
	table, column, err := membershipTable(identity.Role)
	if err != nil {
		return err
	}
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if identity.Role == domain.RoleNormal && group.OwnerID == identity.ID {
		return domain.ErrOwnerCannotLeave
	}
	res, err := s.sqlDB.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND group_id = ?`, table, column),
		identity.ID, groupID,
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotMember
	}
	return nil
}

// IsMember reports whether identity belongs to the group. Unknown groups and
// identities are simply not members.
func (s *Store) IsMember(ctx context.Context, groupID int64, identity domain.Identity) (bool, error) {
	table, column, err := membershipTable(identity.Role)
	if err != nil {
		return false, nil
	}
	var found int
	err = s.sqlDB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = ? AND group_id = ?`, table, column),
		identity.ID, groupID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

func membershipTable(role domain.Role) (table, column string, err error) {
	switch role {
	case domain.RoleNormal:
		return "user_groups", "user_id", nil
	case domain.RoleLawyer:
		return "lawyer_groups", "lawyer_id", nil
	default:
		return "", "", fmt.Errorf("unknown role %q", role)
	}
}
