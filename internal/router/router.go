package router

import (
	"net/http"

	"github.com/ldsaas/backend/internal/auth"
	"github.com/ldsaas/backend/internal/dashboard"
	"github.com/ldsaas/backend/internal/invite"
)

type Middleware func(http.Handler) http.Handler

// Deps groups the handlers and middleware mounted under /api/v1.
type Deps struct {
	Auth      *auth.Handler
	Invite    *invite.Handler
	Dashboard *dashboard.Handler
	// Authenticated resolves the bearer token into an account.
	Authenticated Middleware
	// AdminOnly runs after Authenticated.
	AdminOnly Middleware
	// Limited throttles unauthenticated credential endpoints. Optional.
	Limited Middleware
}

// New returns an http.Handler that serves API under /api/v1.
func New(d Deps) http.Handler {
	limited := d.Limited
	if limited == nil {
		limited = func(h http.Handler) http.Handler { return h }
	}
	authed := func(h http.HandlerFunc) http.Handler { return d.Authenticated(h) }
	admin := func(h http.HandlerFunc) http.Handler { return d.Authenticated(d.AdminOnly(h)) }

	mux := http.NewServeMux()
	base := "/api/v1"
	mux.Handle(base+"/auth/login", limited(methodPOST(d.Auth.Login)))
	mux.Handle(base+"/auth/refresh", limited(methodPOST(d.Auth.Refresh)))
	mux.Handle(base+"/auth/accept-invite", limited(methodPOST(d.Invite.Accept)))
	mux.Handle(base+"/auth/invite", admin(methodPOST(d.Invite.Issue)))

	mux.Handle(base+"/account/me", authed(methodGET(d.Dashboard.GetMe)))
	mux.Handle(base+"/account/settings", authed(methodPATCH(d.Dashboard.UpdateSettings)))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPATCH(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
