// Package cmd defines and implements the CLI commands for the pagevault
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sysclock "github.com/pagevault/pagevault/internal/clock/system"
	"github.com/pagevault/pagevault/internal/config"
	"github.com/pagevault/pagevault/internal/logging"
	"github.com/pagevault/pagevault/internal/storage/postgres"
)

var cfgFile string

// servicesKeyType is the key for storing Services in the context.
type servicesKeyType string

const servicesKey servicesKeyType = "services"

// Services bundles the shared collaborators every subcommand needs.
type Services struct {
	Cfg    config.Config
	Logger *zap.Logger
	Store  *postgres.Store
}

// Close releases the database pool and flushes the logger.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Store != nil {
		s.Store.Close()
	}
	if s.Logger != nil {
		_ = s.Logger.Sync()
	}
}

// newServices is the factory behind every subcommand. It is a variable
// so tests can replace it with an in-memory wiring.
var newServices = func(ctx context.Context) (*Services, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	}, sysclock.New())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &Services{Cfg: cfg, Logger: logger, Store: store}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagevault",
		Short: "A polite, resumable crawl bot with a deduplicated content store.",
		Long: `pagevault maintains a durable queue of crawl tasks and a
deduplicated, versioned store of everything it fetches. Workers claim
tasks under a lease, fetch or render the page, and commit the result
atomically so a crash never leaves half-stored content behind.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newServices(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), servicesKey, svc))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if svc, ok := cmd.Context().Value(servicesKey).(*Services); ok {
				svc.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default reads PAGEVAULT_* environment variables)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newBlockCmd())
	cmd.AddCommand(newUnblockCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

func resolveServices(ctx context.Context) (*Services, error) {
	svc, ok := ctx.Value(servicesKey).(*Services)
	if !ok || svc == nil {
		return nil, errors.New("services not initialized")
	}
	return svc, nil
}

// Execute is the main entry point.
func Execute() error {
	return newRootCmd().Execute()
}
