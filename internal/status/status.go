// Package status derives an account's lifecycle status from its stored
// fields. The stored users.status column is only a cache of this value.
package status

import (
	"time"

	"github.com/ldsaas/backend/internal/models"
)

type Status string

const (
	Pending  Status = "pending"
	Active   Status = "active"
	Inactive Status = "inactive"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Active, Inactive:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Fields is the subset of account state the derivation reads.
type Fields struct {
	HasCredential   bool
	InviteExpiresAt *time.Time
	IsEnabled       bool
}

// Derive returns the lifecycle status at now. Rules are checked in order:
// an unexpired invite on an account without a credential is pending, a
// disabled account is inactive, an enabled account with a credential is
// active, and anything else is inactive.
func Derive(f Fields, now time.Time) Status {
	if !f.HasCredential && f.InviteExpiresAt != nil && f.InviteExpiresAt.After(now) {
		return Pending
	}
	if !f.IsEnabled {
		return Inactive
	}
	if f.HasCredential {
		return Active
	}
	return Inactive
}

// Of derives the status of a loaded account.
func Of(a *models.Account, now time.Time) Status {
	return Derive(Fields{
		HasCredential:   a.HasCredential(),
		InviteExpiresAt: a.InviteExpiresAt,
		IsEnabled:       a.IsEnabled,
	}, now)
}
