// Command ldsaasctl runs operator tasks against the database: migrations,
// creating the first admin, issuing invites and inspecting account status.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ldsaas/backend/internal/config"
)

func main() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds state shared by subcommands once PersistentPreRunE has run.
type app struct {
	cfg         config.Config
	databaseURL string
	pool        *pgxpool.Pool
	log         *slog.Logger
}

func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	url := a.databaseURL
	if url == "" {
		url = a.cfg.DatabaseURL
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach database: %w", err)
	}
	a.pool = pool
	return pool, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func NewRootCmd() *cobra.Command {
	var (
		a           = &app{}
		logLevelStr = "info"
	)
	c := cobra.Command{
		Use:           "ldsaasctl",
		Short:         "Operator tools for the L&D SaaS backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(logLevelStr)); err != nil {
				return err
			}
			a.log = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
			slog.SetDefault(a.log)

			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				a.log.Warn("could not read .env", "error", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	c.AddCommand(
		newMigrateCmd(a),
		newBootstrapAdminCmd(a),
		newInviteCmd(a),
		newStatusCmd(a),
	)
	c.PersistentFlags().StringVar(&a.databaseURL, "database-url", "", "postgres connection string (defaults to DATABASE_URL)")
	c.PersistentFlags().StringVarP(&logLevelStr, "log-level", "l", logLevelStr, "set the log level (debug|info|warn|error)")
	return &c
}
