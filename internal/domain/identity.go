// Package domain holds the chat concepts shared by the transport, auth and
// storage layers. Nothing in here talks to the network or a database.
package domain

import "fmt"

// Role tags the kind of principal behind an Identity.
type Role string

const (
	RoleNormal Role = "normal"
	RoleLawyer Role = "lawyer"
)

// ParseRole maps a token type claim onto a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleNormal:
		return RoleNormal, nil
	case RoleLawyer:
		return RoleLawyer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Identity is an authenticated principal. It does not change for the
// lifetime of a connection.
type Identity struct {
	ID          int64
	Role        Role
	Login       string
	DisplayName string
}

// Name returns the display name, falling back to the login.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Login
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%d", i.Role, i.ID)
}
