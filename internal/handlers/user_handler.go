package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/dashboard"
	"github.com/ldsaas/backend/internal/middleware"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
	"github.com/ldsaas/backend/internal/status"
)

var (
	errSelf      = errors.New("cannot disable or delete yourself")
	errLastAdmin = errors.New("cannot remove the last active admin")
)

// UserRepo is the subset of the account repository needed by the handler.
type UserRepo interface {
	List(ctx context.Context) ([]*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	SetEnabled(ctx context.Context, tx pgx.Tx, a *models.Account) error
	Delete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	LockAdminSet(ctx context.Context, tx pgx.Tx) error
	CountEnabledAdmins(ctx context.Context, tx pgx.Tx) (int, error)
}

// EventRepo records and lists account events.
type EventRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.AccountEvent) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.AccountEvent, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserHandler serves the admin /api/v1/users endpoints.
type UserHandler struct {
	Pool   TxBeginner
	Users  UserRepo
	Audit  EventRepo
	Clock  clock.Clock
	Logger *slog.Logger
}

func (h *UserHandler) now() clock.Clock {
	if h.Clock == nil {
		return clock.System{}
	}
	return h.Clock
}

func (h *UserHandler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// --- GET /api/v1/users ---

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		h.log().Error("list users", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	now := h.now().Now()
	out := make([]dashboard.AccountView, 0, len(users))
	for _, u := range users {
		out = append(out, dashboard.View(u, now))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- GET /api/v1/users/{id} ---

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
		return
	}
	u, err := h.Users.GetByID(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard.View(u, h.now().Now()))
}

// --- GET /api/v1/users/{id}/events ---

func (h *UserHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
		return
	}
	events, err := h.Audit.ListByAccountID(r.Context(), id)
	if err != nil {
		h.log().Error("list account events", "account_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*models.AccountEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- DELETE /api/v1/users/{id} ---

// Disable turns the account off without removing it. Already-disabled
// accounts are left as they are.
func (h *UserHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, tx pgx.Tx, actor, target *models.Account) error {
		if !target.IsEnabled {
			return nil
		}
		if err := h.guardRemoval(ctx, tx, actor, target); err != nil {
			return err
		}
		return h.setEnabled(ctx, tx, actor, target, false)
	})
}

// --- POST /api/v1/users/{id}/enable ---

func (h *UserHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, tx pgx.Tx, actor, target *models.Account) error {
		if target.IsEnabled {
			return nil
		}
		return h.setEnabled(ctx, tx, actor, target, true)
	})
}

// --- DELETE /api/v1/users/{id}/hard ---

func (h *UserHandler) HardDelete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, tx pgx.Tx, actor, target *models.Account) error {
		if err := h.guardRemoval(ctx, tx, actor, target); err != nil {
			return err
		}
		return h.Users.Delete(ctx, tx, target.ID)
	})
}

// mutate locks the target row, applies fn and commits. Responds 204 on success.
func (h *UserHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tx pgx.Tx, actor, target *models.Account) error) {
	actor := middleware.AccountFromCtx(r.Context())
	if actor == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.Pool.Begin(ctx)
	if err != nil {
		h.log().Error("begin tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	defer tx.Rollback(ctx)

	target, err := h.Users.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if err := fn(ctx, tx, actor, target); err != nil {
		if errors.Is(err, errSelf) || errors.Is(err, errLastAdmin) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.log().Error("update user", "user_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.log().Error("commit tx", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	h.log().Info("user updated", "user_id", id, "actor_id", actor.ID, "method", r.Method, "path", r.URL.Path)
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) guardRemoval(ctx context.Context, tx pgx.Tx, actor, target *models.Account) error {
	if actor.ID == target.ID {
		return errSelf
	}
	if target.Role == models.RoleAdmin && target.IsEnabled && target.HasCredential() {
		// Held until commit so concurrent removals of different admins see each other.
		if err := h.Users.LockAdminSet(ctx, tx); err != nil {
			return err
		}
		n, err := h.Users.CountEnabledAdmins(ctx, tx)
		if err != nil {
			return err
		}
		if n <= 1 {
			return errLastAdmin
		}
	}
	return nil
}

func (h *UserHandler) setEnabled(ctx context.Context, tx pgx.Tx, actor, target *models.Account, enabled bool) error {
	target.IsEnabled = enabled
	target.Status = string(status.Of(target, h.now().Now()))
	if err := h.Users.SetEnabled(ctx, tx, target); err != nil {
		return err
	}
	event := models.EventAccountDisabled
	if enabled {
		event = models.EventAccountEnabled
	}
	return h.Audit.CreateTx(ctx, tx, &models.AccountEvent{AccountID: target.ID, ActorID: &actor.ID, EventType: event})
}

func (h *UserHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}
	h.log().Error("load user", "error", err)
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
