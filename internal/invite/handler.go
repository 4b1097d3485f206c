package invite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ldsaas/backend/internal/credential"
	"github.com/ldsaas/backend/internal/mailer"
	"github.com/ldsaas/backend/internal/middleware"
	"github.com/ldsaas/backend/internal/validate"
)

// Service is what the handler needs from Manager.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*Issued, error)
	Redeem(ctx context.Context, req RedeemRequest) (uuid.UUID, error)
}

var _ Service = (*Manager)(nil)

type issueRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type issueResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	EmailSent bool      `json:"email_sent"`
}

type acceptRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type Handler struct {
	svc         Service
	validator   *validate.Validator
	mail        mailer.Sender
	frontendURL string
	log         *slog.Logger
}

func NewHandler(svc Service, validator *validate.Validator, mail mailer.Sender, frontendURL string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, mail: mail, frontendURL: frontendURL, log: log}
}

// Issue handles POST /api/v1/auth/invite. Admin only.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	actor := middleware.AccountFromCtx(r.Context())
	if actor == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req issueRequest
	if !h.decode(w, r, validate.Invite, &req) {
		return
	}

	iss, err := h.svc.Issue(r.Context(), IssueRequest{
		Email:     req.Email,
		Name:      req.Name,
		Role:      req.Role,
		InvitedBy: &actor.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyActive):
			http.Error(w, `{"error":"user is already active"}`, http.StatusConflict)
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidRole):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			h.log.Error("issue invite", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	sent := true
	link := mailer.InviteURL(h.frontendURL, iss.Email, iss.Token)
	msg := mailer.InviteMessage(iss.Email, iss.Name, link, iss.TTL)
	if err := h.mail.Send(r.Context(), msg); err != nil {
		sent = false
		h.log.Error("send invite email", "account_id", iss.AccountID, "error", err)
	}

	h.log.Info("invite issued", "account_id", iss.AccountID, "invited_by", actor.ID, "expires_at", iss.ExpiresAt)
	writeJSON(w, http.StatusCreated, issueResponse{
		ID:        iss.AccountID.String(),
		Email:     iss.Email,
		Token:     iss.Token,
		ExpiresAt: iss.ExpiresAt,
		EmailSent: sent,
	})
}

// Accept handles POST /api/v1/auth/accept-invite. Public.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if !h.decode(w, r, validate.AcceptInvite, &req) {
		return
	}
	id, err := h.svc.Redeem(r.Context(), RedeemRequest{Email: req.Email, Token: req.Token, Password: req.Password})
	if err != nil {
		switch {
		case errors.Is(err, ErrExpired):
			http.Error(w, `{"error":"invite expired"}`, http.StatusGone)
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidToken):
			http.Error(w, `{"error":"invalid or expired invite"}`, http.StatusBadRequest)
		case errors.Is(err, credential.ErrInvalidPassword):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			h.log.Error("redeem invite", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	h.log.Info("invite redeemed", "account_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": id.String()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, kind string, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return false
	}
	if err := h.validator.Decode(kind, body, dst); err != nil {
		if errors.Is(err, validate.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return false
		}
		h.log.Error("decode request", "kind", kind, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
