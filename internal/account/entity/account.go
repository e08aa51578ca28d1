package entity

import (
	"fmt"
	"time"
)

// Role is the closed set of account roles. It drives whether a dependent
// profile record must exist.
type Role string

const (
	RoleAthlete    Role = "athlete"
	RoleBusiness   Role = "business"
	RoleCompliance Role = "compliance"
	RoleAdmin      Role = "admin"
)

// ParseRole validates a role string, defaulting empty input to athlete.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAthlete, RoleBusiness, RoleCompliance, RoleAdmin:
		return Role(s), nil
	case "":
		return RoleAthlete, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RequiresBusinessProfile reports whether accounts with this role need a
// linked business profile record.
func (r Role) RequiresBusinessProfile() bool { return r == RoleBusiness }

// Account is the application's own user row. IdentityToken references the
// external credential provider's record and is unique when present; it may
// be null while the two stores are out of sync.
type Account struct {
	ID            int64      `db:"id" json:"id"`
	IdentityToken *string    `db:"identity_token" json:"identity_token,omitempty"`
	Email         string     `db:"email" json:"email"`
	Role          Role       `db:"role" json:"role"`
	FirstName     string     `db:"first_name" json:"first_name,omitempty"`
	LastName      string     `db:"last_name" json:"last_name,omitempty"`
	LastLoginAt   *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Linked reports whether the account references the given identity token.
func (a *Account) Linked(token string) bool {
	return a.IdentityToken != nil && *a.IdentityToken == token
}
