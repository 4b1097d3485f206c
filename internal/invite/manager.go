// Package invite issues single-use invite tokens and redeems them into
// active accounts.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/config"
	"github.com/ldsaas/backend/internal/credential"
	"github.com/ldsaas/backend/internal/jobs"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
	"github.com/ldsaas/backend/internal/status"
)

// tokenBytes is the amount of randomness in an invite token. Hex encoding
// keeps the token under the bcrypt input limit.
const tokenBytes = 32

var (
	ErrNotFound      = errors.New("no outstanding invite for this account")
	ErrExpired       = errors.New("invite expired")
	ErrInvalidToken  = errors.New("invite token does not match")
	ErrAlreadyActive = errors.New("account is already active")
	ErrInvalidEmail  = errors.New("email is required")
	ErrInvalidRole   = errors.New("invalid role")
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore is the subset of the account repository the manager needs.
// Lookups return repository.ErrNotFound when no row matches.
type AccountStore interface {
	GetByEmailForUpdate(ctx context.Context, tx pgx.Tx, email string) (*models.Account, error)
	CreateInvited(ctx context.Context, tx pgx.Tx, a *models.Account) (bool, error)
	SetInvite(ctx context.Context, tx pgx.Tx, a *models.Account) error
	Activate(ctx context.Context, tx pgx.Tx, id uuid.UUID, expectTokenHash, passwordHash string, now time.Time) (bool, error)
}

type AuditRecorder interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.AccountEvent) error
}

// InsertActivatedTxFunc enqueues an AccountActivated job within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertActivatedTxFunc func(ctx context.Context, tx pgx.Tx, args jobs.AccountActivatedArgs) error

type Config struct {
	TTL      time.Duration
	HashCost int
}

// ConfigFrom converts the environment-level invite settings.
func ConfigFrom(c config.InviteConfig) Config {
	return Config{TTL: c.TTL(), HashCost: c.HashCost}
}

type Deps struct {
	Pool     TxBeginner
	Accounts AccountStore
	Audit    AuditRecorder
	// Hasher defaults to bcrypt at Config.HashCost.
	Hasher credential.Hasher
	// Clock defaults to the system clock.
	Clock clock.Clock
	// InsertActivated is optional; nil skips the activation job.
	InsertActivated InsertActivatedTxFunc
}

type IssueRequest struct {
	Email string
	Name  string
	// Role defaults to employee for new accounts and is left unchanged on re-issue when empty.
	Role      string
	InvitedBy *uuid.UUID
	// TTL overrides the configured lifetime when positive.
	TTL time.Duration
}

// Issued carries the plaintext token. It is the only place the token exists.
type Issued struct {
	AccountID uuid.UUID
	Email     string
	Name      string
	Token     string
	ExpiresAt time.Time
	TTL       time.Duration
}

type RedeemRequest struct {
	Email    string
	Token    string
	Password string
}

type Manager struct {
	pool            TxBeginner
	accounts        AccountStore
	audit           AuditRecorder
	hasher          credential.Hasher
	clock           clock.Clock
	insertActivated InsertActivatedTxFunc
	ttl             time.Duration
}

func NewManager(d Deps, cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("invite ttl must be positive, got %s", cfg.TTL)
	}
	hasher := d.Hasher
	if hasher == nil {
		b, err := credential.NewBcrypt(cfg.HashCost)
		if err != nil {
			return nil, err
		}
		hasher = b
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{
		pool:            d.Pool,
		accounts:        d.Accounts,
		audit:           d.Audit,
		hasher:          hasher,
		clock:           clk,
		insertActivated: d.InsertActivated,
		ttl:             cfg.TTL,
	}, nil
}

// NormalizeEmail is the canonical form used as the account identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue creates or refreshes the invite for email. Any earlier token for the
// same account stops working once this commits.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	email := NormalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	if req.Role != "" && !models.ValidRole(req.Role) {
		return nil, ErrInvalidRole
	}
	ttl := m.ttl
	if req.TTL > 0 {
		ttl = req.TTL
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	tokenHash, err := m.hasher.Hash(token)
	if err != nil {
		return nil, fmt.Errorf("hash invite token: %w", err)
	}
	now := m.clock.Now()
	expiresAt := now.Add(ttl)

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acc, err := m.accounts.GetByEmailForUpdate(ctx, tx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		acc = &models.Account{
			ID:              uuid.New(),
			Email:           email,
			Name:            strings.TrimSpace(req.Name),
			Role:            models.RoleEmployee,
			InvitedAt:       &now,
			InvitedBy:       req.InvitedBy,
			InviteTokenHash: &tokenHash,
			InviteExpiresAt: &expiresAt,
		}
		if req.Role != "" {
			acc.Role = req.Role
		}
		acc.Status = string(status.Of(acc, now))
		created, err := m.accounts.CreateInvited(ctx, tx, acc)
		if err != nil {
			return nil, fmt.Errorf("create invited account: %w", err)
		}
		if created {
			break
		}
		// Lost the insert race; the row exists now, so lock it and update.
		acc, err = m.accounts.GetByEmailForUpdate(ctx, tx, email)
		if err != nil {
			return nil, fmt.Errorf("lock account: %w", err)
		}
		if err := m.reissue(ctx, tx, acc, req, tokenHash, now, expiresAt); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("lock account: %w", err)
	default:
		if err := m.reissue(ctx, tx, acc, req, tokenHash, now, expiresAt); err != nil {
			return nil, err
		}
	}

	if err := m.audit.CreateTx(ctx, tx, &models.AccountEvent{
		AccountID: acc.ID,
		ActorID:   req.InvitedBy,
		EventType: models.EventInviteIssued,
	}); err != nil {
		return nil, fmt.Errorf("record invite event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &Issued{
		AccountID: acc.ID,
		Email:     acc.Email,
		Name:      acc.Name,
		Token:     token,
		ExpiresAt: expiresAt,
		TTL:       ttl,
	}, nil
}

func (m *Manager) reissue(ctx context.Context, tx pgx.Tx, acc *models.Account, req IssueRequest, tokenHash string, now, expiresAt time.Time) error {
	if acc.HasCredential() && acc.IsEnabled {
		return ErrAlreadyActive
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		acc.Name = name
	}
	if req.Role != "" {
		acc.Role = req.Role
	}
	acc.IsEnabled = false
	acc.InvitedAt = &now
	acc.InvitedBy = req.InvitedBy
	acc.InviteTokenHash = &tokenHash
	acc.InviteExpiresAt = &expiresAt
	acc.Status = string(status.Of(acc, now))
	if err := m.accounts.SetInvite(ctx, tx, acc); err != nil {
		return fmt.Errorf("store invite: %w", err)
	}
	return nil
}

// Redeem checks the token for email and, on success, sets the password and
// enables the account. A token can be redeemed at most once.
func (m *Manager) Redeem(ctx context.Context, req RedeemRequest) (uuid.UUID, error) {
	if err := credential.ValidatePassword(req.Password); err != nil {
		return uuid.Nil, err
	}
	email := NormalizeEmail(req.Email)
	if email == "" {
		return uuid.Nil, ErrNotFound
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	acc, err := m.accounts.GetByEmailForUpdate(ctx, tx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lock account: %w", err)
	}
	if !acc.HasOutstandingInvite() {
		return uuid.Nil, ErrNotFound
	}
	now := m.clock.Now()
	if now.After(*acc.InviteExpiresAt) {
		return uuid.Nil, ErrExpired
	}
	if !m.hasher.Verify(req.Token, *acc.InviteTokenHash) {
		return uuid.Nil, ErrInvalidToken
	}

	passwordHash, err := m.hasher.Hash(req.Password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}
	ok, err := m.accounts.Activate(ctx, tx, acc.ID, *acc.InviteTokenHash, passwordHash, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("activate account: %w", err)
	}
	if !ok {
		return uuid.Nil, ErrNotFound
	}

	if err := m.audit.CreateTx(ctx, tx, &models.AccountEvent{
		AccountID: acc.ID,
		ActorID:   &acc.ID,
		EventType: models.EventInviteRedeemed,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("record redeem event: %w", err)
	}
	if m.insertActivated != nil {
		if err := m.insertActivated(ctx, tx, jobs.AccountActivatedArgs{AccountID: acc.ID}); err != nil {
			return uuid.Nil, fmt.Errorf("enqueue activation job: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return acc.ID, nil
}
