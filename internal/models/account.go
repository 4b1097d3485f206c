package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// ValidRole reports whether role is one of the known account roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleEmployee:
		return true
	}
	return false
}

// Account is a row of the users table. Status is a cached copy of the
// derived lifecycle status; compute the live value with status.Of.
type Account struct {
	ID                   uuid.UUID  `json:"id"`
	Email                string     `json:"email"`
	Name                 string     `json:"name"`
	Role                 string     `json:"role"`
	PasswordHash         *string    `json:"-"`
	IsEnabled            bool       `json:"is_enabled"`
	Status               string     `json:"status"`
	InvitedAt            *time.Time `json:"invited_at,omitempty"`
	InvitedBy            *uuid.UUID `json:"invited_by,omitempty"`
	InviteTokenHash      *string    `json:"-"`
	InviteExpiresAt      *time.Time `json:"invite_expires_at,omitempty"`
	CredentialVerifiedAt *time.Time `json:"credential_verified_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// HasCredential reports whether a password has been set.
func (a *Account) HasCredential() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// HasOutstandingInvite reports whether both invite fields are present.
func (a *Account) HasOutstandingInvite() bool {
	return a.InviteTokenHash != nil && a.InviteExpiresAt != nil
}

// ClearInvite drops the token hash and expiry together.
func (a *Account) ClearInvite() {
	a.InviteTokenHash = nil
	a.InviteExpiresAt = nil
}
