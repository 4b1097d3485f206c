package credential

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcrypt_HashAndVerify(t *testing.T) {
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash equals plaintext")
	}
	if !h.Verify("correct horse", hash) {
		t.Error("expected matching secret to verify")
	}
	if h.Verify("correct horsf", hash) {
		t.Error("expected near-miss secret to fail")
	}
	if h.Verify("correct horse", "") {
		t.Error("expected empty hash to fail")
	}
}

func TestBcrypt_SaltedHashesDiffer(t *testing.T) {
	h := &Bcrypt{Cost: bcrypt.MinCost}
	a, _ := h.Hash("same-secret")
	b, _ := h.Hash("same-secret")
	if a == b {
		t.Error("expected distinct hashes for the same secret")
	}
}

func TestBcrypt_RejectsLongSecret(t *testing.T) {
	h := &Bcrypt{Cost: bcrypt.MinCost}
	if _, err := h.Hash(strings.Repeat("x", MaxSecretLen+1)); err == nil {
		t.Error("expected error for secret over the bcrypt limit")
	}
}

func TestNewBcrypt_CostRange(t *testing.T) {
	cases := []struct {
		cost    int
		wantErr bool
	}{
		{bcrypt.MinCost - 1, true},
		{bcrypt.MinCost, false},
		{bcrypt.DefaultCost, false},
		{bcrypt.MaxCost + 1, true},
	}
	for _, tc := range cases {
		_, err := NewBcrypt(tc.cost)
		if (err != nil) != tc.wantErr {
			t.Errorf("NewBcrypt(%d): err=%v, wantErr=%v", tc.cost, err, tc.wantErr)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"too short", "short", false},
		{"min length", "12345678", true},
		{"max length", strings.Repeat("a", MaxSecretLen), true},
		{"too long", strings.Repeat("a", MaxSecretLen+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.pw)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidPassword) {
				t.Errorf("got %v, want ErrInvalidPassword", err)
			}
		})
	}
}
