package status

import (
	"testing"
	"time"

	"github.com/ldsaas/backend/internal/models"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func timeP(t time.Time) *time.Time { return &t }

func TestDerive(t *testing.T) {
	future := timeP(now.Add(48 * time.Hour))
	past := timeP(now.Add(-time.Minute))

	cases := []struct {
		name string
		f    Fields
		want Status
	}{
		{"fresh invite", Fields{HasCredential: false, InviteExpiresAt: future, IsEnabled: false}, Pending},
		{"fresh invite on enabled row", Fields{HasCredential: false, InviteExpiresAt: future, IsEnabled: true}, Pending},
		{"expired invite", Fields{HasCredential: false, InviteExpiresAt: past, IsEnabled: false}, Inactive},
		{"expiry equal to now", Fields{HasCredential: false, InviteExpiresAt: timeP(now), IsEnabled: false}, Inactive},
		{"accepted and enabled", Fields{HasCredential: true, IsEnabled: true}, Active},
		{"accepted then disabled", Fields{HasCredential: true, IsEnabled: false}, Inactive},
		{"credential with leftover invite", Fields{HasCredential: true, InviteExpiresAt: future, IsEnabled: true}, Active},
		{"re-invited disabled account with credential", Fields{HasCredential: true, InviteExpiresAt: future, IsEnabled: false}, Inactive},
		{"no credential no invite enabled", Fields{HasCredential: false, IsEnabled: true}, Inactive},
		{"nothing at all", Fields{}, Inactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Derive(tc.f, now); got != tc.want {
				t.Errorf("Derive: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDerive_PendingBecomesInactiveAfterExpiry(t *testing.T) {
	expires := now.Add(time.Hour)
	f := Fields{InviteExpiresAt: &expires}

	if got := Derive(f, now); got != Pending {
		t.Fatalf("before expiry: got %q, want %q", got, Pending)
	}
	if got := Derive(f, expires.Add(time.Nanosecond)); got != Inactive {
		t.Fatalf("after expiry: got %q, want %q", got, Inactive)
	}
}

func TestOf(t *testing.T) {
	hash := "$2a$04$abcdefghijklmnopqrstuv"
	empty := ""
	expires := now.Add(time.Hour)

	cases := []struct {
		name string
		acc  models.Account
		want Status
	}{
		{"invited", models.Account{InviteExpiresAt: &expires, InviteTokenHash: &hash}, Pending},
		{"active", models.Account{PasswordHash: &hash, IsEnabled: true}, Active},
		{"empty hash is no credential", models.Account{PasswordHash: &empty, IsEnabled: true}, Inactive},
		{"disabled", models.Account{PasswordHash: &hash}, Inactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Of(&tc.acc, now); got != tc.want {
				t.Errorf("Of: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{Pending, Active, Inactive} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("deleted").Valid() {
		t.Error("unknown status reported valid")
	}
}
