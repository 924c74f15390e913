package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with analysis workers and maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, generated, err := prepareConfig(opts)
	if err != nil {
		return err
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Info("generated runtime secret", zap.String("key", key))
	}

	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed roles and defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := prepareConfig(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort

			db, err := initialiseDatabase(cfg)
			if err != nil {
				return err
			}
			closeDatabase(db, logger.WithModule("database"))
			fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			return nil
		},
	}
}

type inviteOptions struct {
	email string
	role  string
	team  string
	hours int
}

func newInviteCommand(opts *rootOptions) *cobra.Command {
	inv := &inviteOptions{}

	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Invite an email address with a pre-assigned role",
		Long: `Create an invitation and print its link.

Use this to bootstrap the first Admin: the invited address receives the
role once it signs in with a magic link.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := prepareConfig(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort

			log := logger.WithModule("cli")
			stack, err := bootstrapCore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer stack.Shutdown(context.Background(), log)

			issued, err := createInvitation(cmd.Context(), stack.Services.Invitations, stack.Services.Teams, inv)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invited %s as %s\n%s\n", issued.Invitation.Email, issued.Invitation.RoleID, issued.Link)
			return nil
		},
	}

	cmd.Flags().StringVar(&inv.email, "email", "", "Email address to invite")
	cmd.Flags().StringVar(&inv.role, "role", "Staff", "Role to assign: Staff, Leadership or Admin")
	cmd.Flags().StringVar(&inv.team, "team", "", "Team name or id to assign")
	cmd.Flags().IntVar(&inv.hours, "expires-in-hours", 0, "Override the invitation lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func createInvitation(ctx context.Context, invitations *services.InvitationService, teams *services.TeamService, inv *inviteOptions) (*services.IssuedInvitation, error) {
	ctx = services.WithActor(ctx, services.Actor{Email: "cli", UserAgent: "candor-cli"})

	input := services.CreateInvitationInput{
		Email:          inv.email,
		Role:           inv.role,
		ExpiresInHours: inv.hours,
	}

	if team := strings.TrimSpace(inv.team); team != "" {
		teamID, err := resolveTeam(ctx, teams, team)
		if err != nil {
			return nil, err
		}
		input.TeamID = &teamID
	}

	return invitations.Create(ctx, input)
}

func resolveTeam(ctx context.Context, teams *services.TeamService, ref string) (string, error) {
	list, err := teams.List(ctx)
	if err != nil {
		return "", err
	}
	for _, team := range list {
		if team.ID == ref || strings.EqualFold(team.Name, ref) {
			return team.ID, nil
		}
	}
	return "", fmt.Errorf("team %q not found", ref)
}

func newReanalyzeCommand(opts *rootOptions) *cobra.Command {
	var failed bool

	cmd := &cobra.Command{
		Use:   "reanalyze [feedback-id...]",
		Short: "Queue feedback for another analysis pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !failed && len(args) == 0 {
				return errors.New("pass feedback ids or --failed")
			}

			cfg, _, err := prepareConfig(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort

			log := logger.WithModule("cli")
			stack, err := bootstrapCore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer stack.Shutdown(context.Background(), log)

			count, err := requeueFeedback(cmd.Context(), stack.Services.Analysis, failed, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d feedback item(s) for analysis\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "Requeue every job that exhausted its retries")
	return cmd
}

func requeueFeedback(ctx context.Context, processor *services.AnalysisProcessor, failed bool, ids []string) (int64, error) {
	var count int64
	if failed {
		n, err := processor.RequeueFailed(ctx)
		if err != nil {
			return n, err
		}
		count += n
	}
	for _, id := range ids {
		if err := processor.Requeue(ctx, id); err != nil {
			return count, fmt.Errorf("requeue %s: %w", id, err)
		}
		count++
	}
	return count, nil
}
