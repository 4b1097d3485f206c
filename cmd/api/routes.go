package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/handlers"
	"github.com/ldsaas/backend/internal/middleware"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
	"github.com/ldsaas/backend/internal/router"
)

// RegisterUserRoutes adds the admin user-management endpoints to mux.
// Middleware chain: BearerAuth -> RequireRole(admin) -> handler.
func RegisterUserRoutes(
	mux *http.ServeMux,
	pool *pgxpool.Pool,
	accountRepo *repository.AccountRepo,
	auditRepo *repository.AuditRepo,
	authenticated router.Middleware,
	clk clock.Clock,
	logger *slog.Logger,
) {
	uh := &handlers.UserHandler{
		Pool:   pool,
		Users:  accountRepo,
		Audit:  auditRepo,
		Clock:  clk,
		Logger: logger,
	}

	adminOnly := middleware.RequireRole(models.RoleAdmin)
	admin := func(h http.HandlerFunc) http.Handler { return authenticated(adminOnly(h)) }

	mux.Handle("GET /api/v1/users", admin(uh.List))
	mux.Handle("GET /api/v1/users/{id}", admin(uh.Get))
	mux.Handle("GET /api/v1/users/{id}/events", admin(uh.Events))

	// DELETE /api/v1/users/{id} disables; /hard removes the row.
	mux.Handle("DELETE /api/v1/users/{id}", admin(uh.Disable))
	mux.Handle("POST /api/v1/users/{id}/enable", admin(uh.Enable))
	mux.Handle("DELETE /api/v1/users/{id}/hard", admin(uh.HardDelete))
}
