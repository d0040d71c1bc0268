package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/counselchat/internal/domain"
)

// IdentityResolver loads a principal by role and id.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, role domain.Role, id int64) (domain.Identity, error)
}

// Revocations is the revocation list consulted before a token is trusted.
type Revocations interface {
	IsRevoked(ctx context.Context, credential string) (bool, error)
	Revoke(ctx context.Context, credential string, until time.Time) error
}

// Validator turns a bearer credential into an Identity: the revocation list
// is consulted first, then the signature and expiry, then the directory.
type Validator struct {
	issuer     *Issuer
	revoked    Revocations
	identities IdentityResolver
}

func NewValidator(issuer *Issuer, revoked Revocations, identities IdentityResolver) *Validator {
	return &Validator{issuer: issuer, revoked: revoked, identities: identities}
}

// Validate resolves credential. Credential problems come back as
// *domain.AuthError; anything else is an infrastructure failure.
func (v *Validator) Validate(ctx context.Context, credential string) (domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.Identity{}, domain.NewAuthError(domain.AuthMissing, nil)
	}

	revoked, err := v.revoked.IsRevoked(ctx, credential)
	if err != nil {
		return domain.Identity{}, err
	}
	if revoked {
		return domain.Identity{}, domain.NewAuthError(domain.AuthRevoked, nil)
	}

	claims, err := v.issuer.Parse(credential)
	if err != nil {
		return domain.Identity{}, err
	}
	role, id, err := subject(claims)
	if err != nil {
		return domain.Identity{}, err
	}

	identity, err := v.identities.ResolveIdentity(ctx, role, id)
	if errors.Is(err, domain.ErrIdentityNotFound) {
		return domain.Identity{}, domain.NewAuthError(domain.AuthUnknownIdentity, err)
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	return identity, nil
}

// Revoke puts a still-valid credential on the revocation list until it
// expires.
func (v *Validator) Revoke(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	claims, err := v.issuer.Parse(credential)
	if err != nil {
		return err
	}
	return v.revoked.Revoke(ctx, credential, claims.ExpiresAt.Time)
}

// Issue signs a new token for identity.
func (v *Validator) Issue(identity domain.Identity) (string, time.Time, error) {
	return v.issuer.Issue(identity)
}
