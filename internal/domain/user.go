package domain

import (
	"strings"
	"time"
)

// UserRoleAdmin is the account role allowed to answer consultations.
const UserRoleAdmin = "admin"

// User is the read-only projection of an account owned by the account subsystem.
type User struct {
	ID        string
	Name      *string
	Email     string
	Role      string
	CreatedAt time.Time
}

// DisplayName prefers the profile name, then the local part of the email.
func (u *User) DisplayName() string {
	if u == nil {
		return "Unknown User"
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) != "" {
		return strings.TrimSpace(*u.Name)
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	return "Unknown User"
}

// IsAdmin reports whether the account may answer consultations.
func (u *User) IsAdmin() bool {
	return u != nil && strings.EqualFold(u.Role, UserRoleAdmin)
}
