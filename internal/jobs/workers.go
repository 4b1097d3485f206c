package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/mailer"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
)

// AccountReader loads the account an activation job refers to.
type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// ActivationEmailWorker sends the welcome email after an invite is redeemed.
type ActivationEmailWorker struct {
	river.WorkerDefaults[AccountActivatedArgs]
	accounts AccountReader
	mail     mailer.Sender
	loginURL string
	log      *slog.Logger
}

func NewActivationEmailWorker(accounts AccountReader, mail mailer.Sender, frontendBaseURL string, log *slog.Logger) *ActivationEmailWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ActivationEmailWorker{
		accounts: accounts,
		mail:     mail,
		loginURL: strings.TrimRight(frontendBaseURL, "/") + "/login",
		log:      log,
	}
}

func (w *ActivationEmailWorker) Work(ctx context.Context, job *river.Job[AccountActivatedArgs]) error {
	acc, err := w.accounts.GetByID(ctx, job.Args.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		// Deleted between redeem and delivery; nothing to send.
		w.log.Warn("activation email skipped, account gone", "account_id", job.Args.AccountID)
		return river.JobCancel(err)
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if err := w.mail.Send(ctx, mailer.ActivationMessage(acc.Email, acc.Name, w.loginURL)); err != nil {
		return fmt.Errorf("send activation email: %w", err)
	}
	w.log.Info("activation email sent", "account_id", acc.ID, "attempt", job.Attempt)
	return nil
}

func (w *ActivationEmailWorker) Timeout(*river.Job[AccountActivatedArgs]) time.Duration {
	return 30 * time.Second
}

// StatusExpirer rewrites the cached status of accounts whose invite lapsed.
type StatusExpirer interface {
	ExpirePendingStatus(ctx context.Context, now time.Time) (int64, error)
}

// StatusSweepWorker runs periodically so list queries filtering on the
// status column stay close to the derived value.
type StatusSweepWorker struct {
	river.WorkerDefaults[StatusSweepArgs]
	accounts StatusExpirer
	clock    clock.Clock
	log      *slog.Logger
}

func NewStatusSweepWorker(accounts StatusExpirer, clk clock.Clock, log *slog.Logger) *StatusSweepWorker {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &StatusSweepWorker{accounts: accounts, clock: clk, log: log}
}

func (w *StatusSweepWorker) Work(ctx context.Context, _ *river.Job[StatusSweepArgs]) error {
	n, err := w.accounts.ExpirePendingStatus(ctx, w.clock.Now())
	if err != nil {
		return fmt.Errorf("expire pending status: %w", err)
	}
	if n > 0 {
		w.log.Info("status sweep", "expired", n)
	}
	return nil
}
