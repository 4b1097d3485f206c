package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/middleware"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
	"github.com/ldsaas/backend/internal/status"
	"github.com/ldsaas/backend/internal/validate"
)

// AccountRepo is the subset of the account repository used for self-service.
type AccountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
}

type Handler struct {
	accounts  AccountRepo
	validator *validate.Validator
	clock     clock.Clock
	log       *slog.Logger
}

func NewHandler(accounts AccountRepo, validator *validate.Validator, clk clock.Clock, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Handler{accounts: accounts, validator: validator, clock: clk, log: log}
}

// AccountView is the public shape of an account. Status is derived at read time.
type AccountView struct {
	ID                   uuid.UUID  `json:"id"`
	Email                string     `json:"email"`
	Name                 string     `json:"name"`
	Role                 string     `json:"role"`
	IsEnabled            bool       `json:"is_enabled"`
	Status               string     `json:"status"`
	InvitedAt            *time.Time `json:"invited_at,omitempty"`
	InviteExpiresAt      *time.Time `json:"invite_expires_at,omitempty"`
	CredentialVerifiedAt *time.Time `json:"credential_verified_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func View(a *models.Account, now time.Time) AccountView {
	return AccountView{
		ID:                   a.ID,
		Email:                a.Email,
		Name:                 a.Name,
		Role:                 a.Role,
		IsEnabled:            a.IsEnabled,
		Status:               string(status.Of(a, now)),
		InvitedAt:            a.InvitedAt,
		InviteExpiresAt:      a.InviteExpiresAt,
		CredentialVerifiedAt: a.CredentialVerifiedAt,
		CreatedAt:            a.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, View(acc, h.clock.Now()))
}

// PATCH /api/v1/account/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := h.validator.Decode(validate.AccountSettings, raw, &body); err != nil {
		if errors.Is(err, validate.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("decode settings", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		http.Error(w, "name must not be blank", http.StatusBadRequest)
		return
	}
	if err := h.accounts.UpdateName(r.Context(), acc.ID, name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		h.log.Error("update settings failed", "error", err)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	updated, err := h.accounts.GetByID(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("reload account failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, View(updated, h.clock.Now()))
}
