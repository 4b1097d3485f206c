package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/ldsaas/backend/internal/auth"
	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/config"
	"github.com/ldsaas/backend/internal/credential"
	"github.com/ldsaas/backend/internal/dashboard"
	"github.com/ldsaas/backend/internal/invite"
	"github.com/ldsaas/backend/internal/jobs"
	"github.com/ldsaas/backend/internal/mailer"
	"github.com/ldsaas/backend/internal/middleware"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
	"github.com/ldsaas/backend/internal/router"
	"github.com/ldsaas/backend/internal/validate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not read .env", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.UsingDevSecret() {
		slog.Warn("JWT_SECRET not set, using the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := repository.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	clk := clock.System{}
	accountRepo := repository.NewAccountRepo(pool)
	auditRepo := repository.NewAuditRepo(pool)
	mail := mailer.New(cfg.Mail, logger)

	validator, err := validate.New()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}
	hasher, err := credential.NewBcrypt(cfg.Invite.HashCost)
	if err != nil {
		slog.Error("Invalid hash cost", "error", err)
		os.Exit(1)
	}

	// Jobs: insert func is set after River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn invite.InsertActivatedTxFunc
	insertActivated := func(ctx context.Context, tx pgx.Tx, args jobs.AccountActivatedArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewActivationEmailWorker(accountRepo, mail, cfg.FrontendBaseURL, logger))
	river.AddWorker(workers, jobs.NewStatusSweepWorker(accountRepo, clk, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.StatusSweepInterval),
				func() (river.JobArgs, *river.InsertOpts) { return jobs.StatusSweepArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args jobs.AccountActivatedArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Invites
	inviteMgr, err := invite.NewManager(invite.Deps{
		Pool:            pool,
		Accounts:        accountRepo,
		Audit:           auditRepo,
		Hasher:          hasher,
		Clock:           clk,
		InsertActivated: insertActivated,
	}, invite.ConfigFrom(cfg.Invite))
	if err != nil {
		slog.Error("Failed to create invite manager", "error", err)
		os.Exit(1)
	}
	inviteHandler := invite.NewHandler(inviteMgr, validator, mail, cfg.FrontendBaseURL, logger)

	// Auth
	authSvc := auth.NewService(accountRepo, hasher, clk, cfg.JWT)
	authHandler := auth.NewHandler(authSvc, validator, logger)
	authenticated := router.Middleware(middleware.BearerAuth(authSvc, accountRepo))

	// Rate limiting needs Redis; without it the credential endpoints are unthrottled.
	// RATE_LIMIT_PER_MINUTE=0 turns it off.
	var limited router.Middleware
	if cfg.RedisAddr != "" && cfg.RateLimitPerMinute > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, rate limiter will fail open", "error", err)
		}
		limited = middleware.RateLimit(middleware.NewRedisCounter(rdb), cfg.RateLimitPerMinute, time.Minute, "auth", cfg.TrustProxy, logger)
	} else {
		slog.Warn("Auth endpoints are not rate limited", "redis_addr_set", cfg.RedisAddr != "")
	}

	dashHandler := dashboard.NewHandler(accountRepo, validator, clk, logger)

	apiV1Router := router.New(router.Deps{
		Auth:          authHandler,
		Invite:        inviteHandler,
		Dashboard:     dashHandler,
		Authenticated: authenticated,
		AdminOnly:     middleware.RequireRole(models.RoleAdmin),
		Limited:       limited,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)
	RegisterUserRoutes(mux, pool, accountRepo, auditRepo, authenticated, clk, logger)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River stop", "error", err)
	}
}
