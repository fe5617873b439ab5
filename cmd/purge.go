package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/urlkey"
)

// newPurgeCmd creates the 'purge' subcommand. It removes an identity,
// all of its versions, and the external payloads behind them.
func newPurgeCmd() *cobra.Command {
	var byKey bool
	cmd := &cobra.Command{
		Use:   "purge URL",
		Short: "Deletes all stored content for a URL",
		Long: `Deletes the content identity for a URL along with every stored
version. Payloads stored outside the database are deleted from their
sink as well. Pass --key to address content by its url key directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd, args[0], byKey)
		},
	}
	cmd.Flags().BoolVar(&byKey, "key", false, "treat the argument as a url key instead of a URL")
	return cmd
}

func runPurge(cmd *cobra.Command, target string, byKey bool) error {
	svc, err := resolveServices(cmd.Context())
	if err != nil {
		return err
	}

	key := target
	if !byKey {
		normalized, err := urlkey.Normalize(target)
		if err != nil {
			return fmt.Errorf("normalize url: %w", err)
		}
		key = urlkey.URLKey(normalized)
	}

	identity, err := svc.Store.IdentityByURLKey(cmd.Context(), key)
	if err != nil {
		if errors.Is(err, bot.ErrUnknownIdentity) {
			return fmt.Errorf("no stored content for %s", target)
		}
		return err
	}

	locations, err := svc.Store.RemoveAllVersions(cmd.Context(), identity.ID)
	if err != nil {
		return fmt.Errorf("remove versions: %w", err)
	}

	sink, closeSink, err := buildSink(cmd.Context(), svc.Cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	for _, loc := range locations {
		if sink == nil {
			break
		}
		if err := sink.Delete(cmd.Context(), loc); err != nil {
			svc.Logger.Warn("delete payload", zap.String("location", loc), zap.Error(err))
		}
	}

	cmd.Printf("purged %s (%d versions)\n", identity.URL, identity.VersionCount)
	return nil
}
