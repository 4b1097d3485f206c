package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/spf13/cobra"

	"github.com/ldsaas/backend/internal/clock"
	"github.com/ldsaas/backend/internal/credential"
	"github.com/ldsaas/backend/internal/invite"
	"github.com/ldsaas/backend/internal/mailer"
	"github.com/ldsaas/backend/internal/models"
	"github.com/ldsaas/backend/internal/repository"
	"github.com/ldsaas/backend/internal/status"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the application schema and River migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			if err := repository.Migrate(ctx, pool); err != nil {
				return err
			}
			migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
			if err != nil {
				return fmt.Errorf("create river migrator: %w", err)
			}
			res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
			if err != nil {
				return fmt.Errorf("river migrate: %w", err)
			}
			a.log.Info("migrations applied", "river_versions", len(res.Versions))
			return nil
		},
	}
}

func newBootstrapAdminCmd(a *app) *cobra.Command {
	var email, name string
	c := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create an active admin account",
		Long: "Create an active admin account with a password. The password is read from\n" +
			"LDSAAS_ADMIN_PASSWORD so it stays out of shell history.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := os.Getenv("LDSAAS_ADMIN_PASSWORD")
			if err := credential.ValidatePassword(password); err != nil {
				return fmt.Errorf("LDSAAS_ADMIN_PASSWORD: %w", err)
			}
			email = invite.NormalizeEmail(email)
			if email == "" {
				return errors.New("--email is required")
			}
			hasher, err := credential.NewBcrypt(a.cfg.Invite.HashCost)
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(password)
			if err != nil {
				return err
			}
			pool, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			now := clock.System{}.Now()
			acc := &models.Account{
				ID:                   uuid.New(),
				Email:                email,
				Name:                 name,
				Role:                 models.RoleAdmin,
				PasswordHash:         &hash,
				IsEnabled:            true,
				CredentialVerifiedAt: &now,
			}
			acc.Status = string(status.Of(acc, now))
			if err := repository.NewAccountRepo(pool).CreateActive(cmd.Context(), acc); err != nil {
				if errors.Is(err, repository.ErrDuplicateEmail) {
					return fmt.Errorf("an account for %s already exists", email)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", acc.Email, acc.ID)
			return nil
		},
	}
	c.Flags().StringVar(&email, "email", "", "admin email")
	c.Flags().StringVar(&name, "name", "", "display name")
	return c
}

func newInviteCmd(a *app) *cobra.Command {
	var (
		name, role string
		ttl        time.Duration
		send       bool
	)
	c := &cobra.Command{
		Use:   "invite <email>",
		Short: "Issue or re-issue an invite and print the token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			mgr, err := invite.NewManager(invite.Deps{
				Pool:     pool,
				Accounts: repository.NewAccountRepo(pool),
				Audit:    repository.NewAuditRepo(pool),
			}, invite.ConfigFrom(a.cfg.Invite))
			if err != nil {
				return err
			}
			iss, err := mgr.Issue(ctx, invite.IssueRequest{Email: args[0], Name: name, Role: role, TTL: ttl})
			if err != nil {
				return err
			}
			link := mailer.InviteURL(a.cfg.FrontendBaseURL, iss.Email, iss.Token)
			if send {
				msg := mailer.InviteMessage(iss.Email, iss.Name, link, iss.TTL)
				if err := mailer.New(a.cfg.Mail, a.log).Send(ctx, msg); err != nil {
					a.log.Warn("invite email not sent", "email", iss.Email, "error", err)
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account:  %s\n", iss.AccountID)
			fmt.Fprintf(out, "token:    %s\n", iss.Token)
			fmt.Fprintf(out, "expires:  %s\n", iss.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintf(out, "link:     %s\n", link)
			return nil
		},
	}
	c.Flags().StringVar(&name, "name", "", "display name")
	c.Flags().StringVar(&role, "role", "", "admin|manager|employee (default employee for new accounts)")
	c.Flags().DurationVar(&ttl, "ttl", 0, "invite lifetime (defaults to INVITE_TTL_HOURS)")
	c.Flags().BoolVar(&send, "send", false, "also email the invite")
	return c
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [email]",
		Short: "Show the derived status of one or all accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := a.connect(ctx)
			if err != nil {
				return err
			}
			repo := repository.NewAccountRepo(pool)
			var accounts []*models.Account
			if len(args) == 1 {
				acc, err := repo.GetByEmail(ctx, invite.NormalizeEmail(args[0]))
				if err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return fmt.Errorf("no account for %s", args[0])
					}
					return err
				}
				accounts = append(accounts, acc)
			} else if accounts, err = repo.List(ctx); err != nil {
				return err
			}

			now := clock.System{}.Now()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EMAIL\tROLE\tSTATUS\tCACHED\tINVITE EXPIRES")
			for _, acc := range accounts {
				expires := "-"
				if acc.InviteExpiresAt != nil {
					expires = acc.InviteExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", acc.Email, acc.Role, status.Of(acc, now), acc.Status, expires)
			}
			return tw.Flush()
		},
	}
}
