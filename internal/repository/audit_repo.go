package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ldsaas/backend/internal/models"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// CreateTx inserts an account event inside the given transaction.
func (r *AuditRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.AccountEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO account_events (id, account_id, actor_id, event_type)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, e.ID, e.AccountID, e.ActorID, e.EventType).Scan(&e.CreatedAt)
}

func (r *AuditRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.AccountEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, actor_id, event_type, created_at
		FROM account_events WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AccountEvent
	for rows.Next() {
		var e models.AccountEvent
		if err := rows.Scan(&e.ID, &e.AccountID, &e.ActorID, &e.EventType, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
