package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/dashboard"
	"github.com/ldsaas/backend/internal/middleware"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// --- lockTx releases locks taken through it on Commit or Rollback, like a
// transaction-scoped advisory lock. ---

type lockTx struct {
	noopTx
	release []func()
}

func (t *lockTx) end() {
	for _, fn := range t.release {
		fn()
	}
	t.release = nil
}

func (t *lockTx) Commit(context.Context) error   { t.end(); return nil }
func (t *lockTx) Rollback(context.Context) error { t.end(); return nil }

// --- TxBeginner mock ---

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return &lockTx{}, nil }

// --- UserRepo mock ---

type mockUsers struct {
	mu        sync.Mutex
	adminLock sync.Mutex
	accounts  map[uuid.UUID]*models.Account
}

func newMockUsers(accs ...*models.Account) *mockUsers {
	m := &mockUsers{accounts: make(map[uuid.UUID]*models.Account)}
	for _, a := range accs {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *mockUsers) List(context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockUsers) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockUsers) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return m.GetByID(ctx, id)
}

func (m *mockUsers) SetEnabled(_ context.Context, _ pgx.Tx, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accounts[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.IsEnabled = a.IsEnabled
	stored.Status = a.Status
	return nil
}

func (m *mockUsers) Delete(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	return nil
}

func (m *mockUsers) LockAdminSet(_ context.Context, tx pgx.Tx) error {
	lt, ok := tx.(*lockTx)
	if !ok {
		return errors.New("admin set lock needs a lockTx")
	}
	m.adminLock.Lock()
	lt.release = append(lt.release, m.adminLock.Unlock)
	return nil
}

func (m *mockUsers) CountEnabledAdmins(context.Context, pgx.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.accounts {
		if a.Role == models.RoleAdmin && a.IsEnabled && a.HasCredential() {
			n++
		}
	}
	return n, nil
}

// --- EventRepo mock ---

type mockEvents struct {
	mu     sync.Mutex
	events []*models.AccountEvent
}

func (m *mockEvents) CreateTx(_ context.Context, _ pgx.Tx, e *models.AccountEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockEvents) ListByAccountID(_ context.Context, id uuid.UUID) ([]*models.AccountEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AccountEvent
	for _, e := range m.events {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func activeUser(role string) *models.Account {
	hash := "$2a$04$x"
	return &models.Account{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: role, PasswordHash: &hash, IsEnabled: true}
}

func pendingUser() *models.Account {
	hash := "$2a$04$t"
	exp := testNow.Add(24 * time.Hour)
	return &models.Account{ID: uuid.New(), Email: "pending@example.com", Role: models.RoleEmployee, InviteTokenHash: &hash, InviteExpiresAt: &exp}
}

func newUserHandler(users *mockUsers, events *mockEvents) *UserHandler {
	return &UserHandler{
		Pool:   mockPool{},
		Users:  users,
		Audit:  events,
		Clock:  clock.NewFake(testNow),
		Logger: slog.Default(),
	}
}

func do(h http.HandlerFunc, method, path, id string, actor *models.Account) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if id != "" {
		req.SetPathValue("id", id)
	}
	if actor != nil {
		req = req.WithContext(middleware.WithAccount(req.Context(), actor))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestList_DerivesStatus(t *testing.T) {
	admin := activeUser(models.RoleAdmin)
	pending := pendingUser()
	h := newUserHandler(newMockUsers(admin, pending), &mockEvents{})

	rec := do(h.List, http.MethodGet, "/api/v1/users", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []dashboard.AccountView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 users, got %d", len(got))
	}
	for _, v := range got {
		want := "active"
		if v.ID == pending.ID {
			want = "pending"
		}
		if v.Status != want {
			t.Errorf("%s: status %q, want %q", v.Email, v.Status, want)
		}
	}
}

func TestGet(t *testing.T) {
	admin := activeUser(models.RoleAdmin)
	h := newUserHandler(newMockUsers(admin), &mockEvents{})

	cases := []struct {
		name string
		id   string
		want int
	}{
		{"found", admin.ID.String(), http.StatusOK},
		{"missing", uuid.NewString(), http.StatusNotFound},
		{"malformed", "not-a-uuid", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(h.Get, http.MethodGet, "/api/v1/users/"+tc.id, tc.id, admin)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestDisable_RecordsEventAndIsIdempotent(t *testing.T) {
	admin := activeUser(models.RoleAdmin)
	target := activeUser(models.RoleEmployee)
	users := newMockUsers(admin, target)
	events := &mockEvents{}
	h := newUserHandler(users, events)

	for i := 0; i < 2; i++ {
		rec := do(h.Disable, http.MethodDelete, "/api/v1/users/x", target.ID.String(), admin)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("call %d: expected 204, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
	if users.accounts[target.ID].IsEnabled {
		t.Error("target should be disabled")
	}
	if users.accounts[target.ID].Status != "inactive" {
		t.Errorf("status cache: got %q", users.accounts[target.ID].Status)
	}
	if len(events.events) != 1 || events.events[0].EventType != models.EventAccountDisabled {
		t.Fatalf("expected one disable event, got %+v", events.events)
	}
	if *events.events[0].ActorID != admin.ID {
		t.Error("event actor should be the admin")
	}
}

func TestDisable_Guards(t *testing.T) {
	admin := activeUser(models.RoleAdmin)

	t.Run("self", func(t *testing.T) {
		other := activeUser(models.RoleAdmin)
		h := newUserHandler(newMockUsers(admin, other), &mockEvents{})
		rec := do(h.Disable, http.MethodDelete, "/", admin.ID.String(), admin)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("last admin", func(t *testing.T) {
		// A manager acting on the sole admin is still refused.
		target := activeUser(models.RoleAdmin)
		actor := activeUser(models.RoleManager)
		users := newMockUsers(target, actor)
		h := newUserHandler(users, &mockEvents{})
		rec := do(h.Disable, http.MethodDelete, "/", target.ID.String(), actor)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if !users.accounts[target.ID].IsEnabled {
			t.Error("last admin must stay enabled")
		}
	})

	t.Run("second admin", func(t *testing.T) {
		other := activeUser(models.RoleAdmin)
		h := newUserHandler(newMockUsers(admin, other), &mockEvents{})
		rec := do(h.Disable, http.MethodDelete, "/", other.ID.String(), admin)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
	})

	t.Run("missing", func(t *testing.T) {
		h := newUserHandler(newMockUsers(admin), &mockEvents{})
		rec := do(h.Disable, http.MethodDelete, "/", uuid.NewString(), admin)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		h := newUserHandler(newMockUsers(admin), &mockEvents{})
		rec := do(h.Disable, http.MethodDelete, "/", admin.ID.String(), nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestEnable(t *testing.T) {
	admin := activeUser(models.RoleAdmin)
	target := activeUser(models.RoleEmployee)
	target.IsEnabled = false
	users := newMockUsers(admin, target)
	events := &mockEvents{}
	h := newUserHandler(users, events)

	rec := do(h.Enable, http.MethodPost, "/", target.ID.String(), admin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !users.accounts[target.ID].IsEnabled || users.accounts[target.ID].Status != "active" {
		t.Errorf("target not re-enabled: %+v", users.accounts[target.ID])
	}

	rec = do(h.Events, http.MethodGet, "/", target.ID.String(), admin)
	var got []models.AccountEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(got) != 1 || got[0].EventType != models.EventAccountEnabled {
		t.Fatalf("events: %+v", got)
	}
}

func TestEvents_EmptyIsArray(t *testing.T) {
	admin := activeUser(models.RoleAdmin)
	h := newUserHandler(newMockUsers(admin), &mockEvents{})
	rec := do(h.Events, http.MethodGet, "/", admin.ID.String(), admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body: %q", got)
	}
}

func TestHardDelete(t *testing.T) {
	admin := activeUser(models.RoleAdmin)
	target := pendingUser()
	users := newMockUsers(admin, target)
	h := newUserHandler(users, &mockEvents{})

	rec := do(h.HardDelete, http.MethodDelete, "/", target.ID.String(), admin)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := users.accounts[target.ID]; ok {
		t.Error("target should be removed")
	}

	rec = do(h.HardDelete, http.MethodDelete, "/", admin.ID.String(), admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self delete: expected 400, got %d", rec.Code)
	}
}

func TestDisable_ConcurrentAdminsCannotRemoveEachOther(t *testing.T) {
	a := activeUser(models.RoleAdmin)
	b := activeUser(models.RoleAdmin)
	users := newMockUsers(a, b)
	h := newUserHandler(users, &mockEvents{})

	// Each admin disables the other at the same time.
	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for _, pair := range [][2]*models.Account{{a, b}, {b, a}} {
		actor, target := pair[0], pair[1]
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- do(h.Disable, http.MethodDelete, "/", target.ID.String(), actor).Code
		}()
	}
	wg.Wait()
	close(codes)

	var ok, refused int
	for c := range codes {
		switch c {
		case http.StatusNoContent:
			ok++
		case http.StatusBadRequest:
			refused++
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	if ok != 1 || refused != 1 {
		t.Fatalf("expected one success and one refusal, got %d and %d", ok, refused)
	}
	if n, _ := users.CountEnabledAdmins(context.Background(), nil); n != 1 {
		t.Fatalf("expected one enabled admin left, got %d", n)
	}
}

func TestUserHandler_NilLoggerFallsBack(t *testing.T) {
	h := &UserHandler{Pool: mockPool{}, Users: failingUsers{newMockUsers()}, Audit: &mockEvents{}}
	rec := do(h.List, http.MethodGet, "/api/v1/users", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

type failingUsers struct{ *mockUsers }

func (failingUsers) List(context.Context) ([]*models.Account, error) {
	return nil, errors.New("db down")
}
