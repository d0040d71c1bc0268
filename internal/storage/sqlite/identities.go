package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/counselchat/internal/domain"
)

// CreateUser inserts a normal user. passwordHash must already be encoded.
func (s *Store) CreateUser(ctx context.Context, username, displayName, passwordHash string) (domain.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Identity{}, fmt.Errorf("username is required")
	}
	now := s.nowMillis()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (username, hashed_password, display_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		username, passwordHash, nullString(displayName), now, now,
	)
	if isUniqueViolation(err) {
		return domain.Identity{}, domain.ErrLoginTaken
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("create user: %w", err)
	}
	return domain.Identity{ID: id, Role: domain.RoleNormal, Login: username, DisplayName: strings.TrimSpace(displayName)}, nil
}

// CreateLawyer inserts a lawyer account keyed by its public lawyer id.
func (s *Store) CreateLawyer(ctx context.Context, lawyerID, name, passwordHash string) (domain.Identity, error) {
	lawyerID = strings.TrimSpace(lawyerID)
	if lawyerID == "" {
		return domain.Identity{}, fmt.Errorf("lawyer id is required")
	}
	now := s.nowMillis()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO lawyers (lawyer_id, hashed_password, lawyer_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		lawyerID, passwordHash, nullString(name), now, now,
	)
	if isUniqueViolation(err) {
		return domain.Identity{}, domain.ErrLoginTaken
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("create lawyer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("create lawyer: %w", err)
	}
	return domain.Identity{ID: id, Role: domain.RoleLawyer, Login: lawyerID, DisplayName: strings.TrimSpace(name)}, nil
}

// Register creates an account for role. login is the username for normal
// users and the lawyer id for lawyers.
func (s *Store) Register(ctx context.Context, role domain.Role, login, displayName, passwordHash string) (domain.Identity, error) {
	switch role {
	case domain.RoleNormal:
		return s.CreateUser(ctx, login, displayName, passwordHash)
	case domain.RoleLawyer:
		return s.CreateLawyer(ctx, login, displayName, passwordHash)
	default:
		return domain.Identity{}, fmt.Errorf("unknown role %q", role)
	}
}

// SetPasswordHash replaces the stored password hash of identity.
func (s *Store) SetPasswordHash(ctx context.Context, identity domain.Identity, passwordHash string) error {
	var query string
	switch identity.Role {
	case domain.RoleNormal:
		query = `UPDATE users SET hashed_password = ?, updated_at = ? WHERE id = ?`
	case domain.RoleLawyer:
		query = `UPDATE lawyers SET hashed_password = ?, updated_at = ? WHERE id = ?`
	default:
		return fmt.Errorf("unknown role %q", identity.Role)
	}
	res, err := s.sqlDB.ExecContext(ctx, query, passwordHash, s.nowMillis(), identity.ID)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

// ResolveIdentity loads the principal with the given role and id.
func (s *Store) ResolveIdentity(ctx context.Context, role domain.Role, id int64) (domain.Identity, error) {
	var query string
	switch role {
	case domain.RoleNormal:
		query = `SELECT id, username, display_name FROM users WHERE id = ?`
	case domain.RoleLawyer:
		query = `SELECT id, lawyer_id, lawyer_name FROM lawyers WHERE id = ?`
	default:
		return domain.Identity{}, domain.ErrIdentityNotFound
	}
	identity, _, err := scanIdentity(s.sqlDB.QueryRowContext(ctx, query, id), role, false)
	return identity, err
}

// LookupLogin returns the principal registered under login together with
// its encoded password hash.
func (s *Store) LookupLogin(ctx context.Context, role domain.Role, login string) (domain.Identity, string, error) {
	var query string
	switch role {
	case domain.RoleNormal:
		query = `SELECT id, username, display_name, hashed_password FROM users WHERE username = ?`
	case domain.RoleLawyer:
		query = `SELECT id, lawyer_id, lawyer_name, hashed_password FROM lawyers WHERE lawyer_id = ?`
	default:
		return domain.Identity{}, "", domain.ErrIdentityNotFound
	}
	return scanIdentity(s.sqlDB.QueryRowContext(ctx, query, strings.TrimSpace(login)), role, true)
}

func scanIdentity(row *sql.Row, role domain.Role, withHash bool) (domain.Identity, string, error) {
	var (
		identity    = domain.Identity{Role: role}
		displayName sql.NullString
		hash        string
		err         error
	)
	if withHash {
		err = row.Scan(&identity.ID, &identity.Login, &displayName, &hash)
	} else {
		err = row.Scan(&identity.ID, &identity.Login, &displayName)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Identity{}, "", domain.ErrIdentityNotFound
	}
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("load %s identity: %w", role, err)
	}
	identity.DisplayName = displayName.String
	return identity, hash, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
