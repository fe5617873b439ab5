package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/id/uuid"
	"github.com/pagevault/pagevault/internal/urlkey"
)

// newAddCmd creates the 'add' subcommand, the producer side of the
// queue.
func newAddCmd() *cobra.Command {
	var (
		action   string
		prettify bool
	)
	cmd := &cobra.Command{
		Use:   "add URL [URL...]",
		Short: "Enqueues crawl tasks for one or more URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, args, bot.Action(action), prettify)
		},
	}
	cmd.Flags().StringVar(&action, "action", string(bot.ActionSaveText), "what to do with each page: download, save-text, or page-to-pdf")
	cmd.Flags().BoolVar(&prettify, "prettify", false, "normalize whitespace in extracted text")
	return cmd
}

func runAdd(cmd *cobra.Command, urls []string, action bot.Action, prettify bool) error {
	svc, err := resolveServices(cmd.Context())
	if err != nil {
		return err
	}
	if !bot.KnownAction(action) {
		return fmt.Errorf("unsupported action %q", action)
	}

	idGen := uuid.NewGenerator()

	var failed int
	for _, raw := range urls {
		task, err := buildTask(idGen, raw, action, prettify)
		if err != nil {
			svc.Logger.Warn("skipping URL", zap.String("url", raw), zap.Error(err))
			failed++
			continue
		}
		if err := svc.Store.Enqueue(cmd.Context(), task); err != nil {
			if errors.Is(err, bot.ErrBlockedHost) {
				svc.Logger.Warn("host is blocked", zap.String("url", raw))
			} else {
				svc.Logger.Error("enqueue failed", zap.String("url", raw), zap.Error(err))
			}
			failed++
			continue
		}
		cmd.Printf("%s\t%s\n", task.ID, task.URL)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d URLs not enqueued", failed, len(urls))
	}
	return nil
}

func buildTask(idGen bot.IDGenerator, raw string, action bot.Action, prettify bool) (bot.Task, error) {
	normalized, err := urlkey.Normalize(raw)
	if err != nil {
		return bot.Task{}, err
	}
	host, err := urlkey.HostOf(normalized)
	if err != nil {
		return bot.Task{}, err
	}
	id, err := idGen.NewID()
	if err != nil {
		return bot.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	return bot.Task{
		ID:       id,
		Action:   action,
		URL:      normalized,
		URLKey:   urlkey.URLKey(normalized),
		Host:     host,
		HostKey:  urlkey.HostKey(host),
		Prettify: prettify,
	}, nil
}
