package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/status"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when an insert collides on users.email.
	ErrDuplicateEmail = errors.New("email already registered")
)

const accountColumns = `id, email, name, role, password_hash, is_enabled, status, invited_at, invited_by,
	invite_token_hash, invite_expires_at, credential_verified_at, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.PasswordHash, &a.IsEnabled, &a.Status, &a.InvitedAt, &a.InvitedBy,
		&a.InviteTokenHash, &a.InviteExpiresAt, &a.CredentialVerifiedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id))
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE email = $1`, email))
}

func (r *AccountRepo) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// GetByEmailForUpdate locks the user row for update. Call within a transaction.
func (r *AccountRepo) GetByEmailForUpdate(ctx context.Context, tx pgx.Tx, email string) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE email = $1 FOR UPDATE`, email))
}

// GetByIDForUpdate locks the user row for update. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

// CreateInvited inserts a user in the invited shape: no password, disabled,
// with an outstanding invite. Returns false when another transaction already
// holds the email.
func (r *AccountRepo) CreateInvited(ctx context.Context, tx pgx.Tx, a *models.Account) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO users (id, email, name, role, is_enabled, status, invited_at, invited_by, invite_token_hash, invite_expires_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO NOTHING
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.Name, a.Role, a.Status, a.InvitedAt, a.InvitedBy, a.InviteTokenHash, a.InviteExpiresAt).Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetInvite writes a fresh invite onto an existing user. The token hash and
// expiry are replaced in the same statement.
func (r *AccountRepo) SetInvite(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users SET name = $2, role = $3, is_enabled = $4, status = $5, invited_at = $6, invited_by = $7,
			invite_token_hash = $8, invite_expires_at = $9, updated_at = now()
		WHERE id = $1
	`, a.ID, a.Name, a.Role, a.IsEnabled, a.Status, a.InvitedAt, a.InvitedBy, a.InviteTokenHash, a.InviteExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Activate stores the password and clears the invite, but only while the
// row still carries expectTokenHash. Returns false when the invite changed
// or was already consumed.
func (r *AccountRepo) Activate(ctx context.Context, tx pgx.Tx, id uuid.UUID, expectTokenHash, passwordHash string, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE users SET password_hash = $3, is_enabled = TRUE, status = $4,
			invite_token_hash = NULL, invite_expires_at = NULL,
			credential_verified_at = COALESCE(credential_verified_at, $5), updated_at = now()
		WHERE id = $1 AND invite_token_hash = $2
	`, id, expectTokenHash, passwordHash, string(status.Active), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateActive inserts an enabled user that already has a password.
func (r *AccountRepo) CreateActive(ctx context.Context, a *models.Account) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, is_enabled, status, credential_verified_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.Name, a.Role, a.PasswordHash, a.Status, a.CredentialVerifiedAt).Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

// SetEnabled flips the kill-switch and rewrites the cached status. Call after GetByIDForUpdate in the same tx.
func (r *AccountRepo) SetEnabled(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET is_enabled = $2, status = $3, updated_at = now() WHERE id = $1
	`, a.ID, a.IsEnabled, a.Status)
	return err
}

func (r *AccountRepo) Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	return err
}

// adminSetLockKey names the advisory lock serializing changes that can
// remove an enabled admin.
const adminSetLockKey int64 = 0x6c64_6164_6d69_6e73

// LockAdminSet takes a transaction-scoped advisory lock shared by every
// disable or delete of an admin. Take it after locking the target row and
// before CountEnabledAdmins; it is released on commit or rollback.
func (r *AccountRepo) LockAdminSet(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, adminSetLockKey)
	return err
}

// CountEnabledAdmins counts admins that can still sign in.
func (r *AccountRepo) CountEnabledAdmins(ctx context.Context, tx pgx.Tx) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM users WHERE role = 'admin' AND is_enabled AND password_hash IS NOT NULL
	`).Scan(&n)
	return n, err
}

func (r *AccountRepo) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpirePendingStatus rewrites the cached status of users whose invite
// lapsed without being redeemed.
func (r *AccountRepo) ExpirePendingStatus(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET status = $1, updated_at = now()
		WHERE status = $2 AND invite_expires_at IS NOT NULL AND invite_expires_at <= $3
	`, string(status.Inactive), string(status.Pending), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
