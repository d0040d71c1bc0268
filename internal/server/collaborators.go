//go:generate go run go.uber.org/mock/mockgen -source=collaborators.go -destination=mocks/mock_collaborators.go -package=mocks

package server

import (
	"context"
	"time"

	"github.com/Tyrowin/counselchat/internal/domain"
)

// CredentialValidator turns a bearer credential into an identity. Failures
// are reported as *domain.AuthError.
type CredentialValidator interface {
	Validate(ctx context.Context, credential string) (domain.Identity, error)
}

// MembershipOracle answers whether an identity belongs to a group.
type MembershipOracle interface {
	IsMember(ctx context.Context, groupID int64, identity domain.Identity) (bool, error)
}

// MessageStore persists and reads chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, groupID int64, author domain.Identity, content string) (domain.Message, error)
	ListMessages(ctx context.Context, groupID int64, page domain.Page) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, messageID int64, author domain.Identity) (domain.Message, error)
}

// AccountDirectory finds login candidates and their password hashes, and
// registers new accounts. Register reports domain.ErrLoginTaken for a login
// already in use.
type AccountDirectory interface {
	LookupLogin(ctx context.Context, role domain.Role, login string) (domain.Identity, string, error)
	Register(ctx context.Context, role domain.Role, login, displayName, passwordHash string) (domain.Identity, error)
	SetPasswordHash(ctx context.Context, identity domain.Identity, passwordHash string) error
}

// GroupDirectory manages groups and their member sets.
type GroupDirectory interface {
	CreateGroup(ctx context.Context, name, description string, ownerID int64) (domain.Group, error)
	GetGroup(ctx context.Context, groupID int64) (domain.Group, error)
	ListGroups(ctx context.Context, identity domain.Identity) ([]domain.Group, error)
	AddMember(ctx context.Context, groupID int64, identity domain.Identity) error
	RemoveMember(ctx context.Context, groupID int64, identity domain.Identity) error
}

// TokenService issues and revokes bearer credentials.
type TokenService interface {
	Issue(identity domain.Identity) (string, time.Time, error)
	Revoke(ctx context.Context, credential string) error
}

// Dependencies groups the collaborators the server needs. Accounts, Groups
// and Tokens are optional; the routes that need them are only mounted when
// they are set.
type Dependencies struct {
	Validator CredentialValidator
	Members   MembershipOracle
	Messages  MessageStore
	Accounts  AccountDirectory
	Groups    GroupDirectory
	Tokens    TokenService
}
