package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagevault/pagevault/internal/api"
	"github.com/pagevault/pagevault/internal/bot"
	sysclock "github.com/pagevault/pagevault/internal/clock/system"
	"github.com/pagevault/pagevault/internal/config"
	"github.com/pagevault/pagevault/internal/fetch"
	"github.com/pagevault/pagevault/internal/id/uuid"
	"github.com/pagevault/pagevault/internal/logging"
	"github.com/pagevault/pagevault/internal/metrics"
	"github.com/pagevault/pagevault/internal/policy/ratelimit"
	pubmemory "github.com/pagevault/pagevault/internal/publisher/memory"
	pubgcp "github.com/pagevault/pagevault/internal/publisher/pubsub"
	"github.com/pagevault/pagevault/internal/render"
	"github.com/pagevault/pagevault/internal/storage/gcs"
	"github.com/pagevault/pagevault/internal/storage/local"
	"github.com/pagevault/pagevault/internal/worker"
)

// newRunCmd creates the 'run' subcommand. It hosts the worker pool and
// the admin HTTP server in one process.
func newRunCmd() *cobra.Command {
	var drain bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Starts the worker pool and admin server",
		Long: `Runs database migrations, then starts the configured number of
workers claiming tasks from the queue alongside the admin HTTP server.
With --drain the process exits once the queue is empty instead of
polling forever.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd, drain)
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "exit once no claimable work remains")
	return cmd
}

func runService(cmd *cobra.Command, drain bool) error {
	svc, err := resolveServices(cmd.Context())
	if err != nil {
		return err
	}
	cfg := svc.Cfg
	logger := svc.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if err := svc.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	if err := svc.Store.Seed(ctx); err != nil {
		return fmt.Errorf("seed reference data: %w", err)
	}

	sink, closeSink, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	fetcher := fetch.New(fetch.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})

	var renderer bot.Renderer
	if cfg.Render.Enabled {
		r, err := render.New(render.Config{
			MaxParallel:       cfg.Render.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		if err != nil {
			return fmt.Errorf("init renderer: %w", err)
		}
		defer r.Close()
		renderer = r
	}

	pool, err := worker.NewPool(cfg.Queue.Workers, worker.Config{
		ID:           "pagevault",
		Lease:        cfg.Lease(),
		PollInterval: cfg.PollInterval(),
		Backend:      bot.Backend(cfg.Storage.Backend),
		Topic:        cfg.PubSub.TopicName,
		DrainAndExit: drain || cfg.Queue.DrainAndExit,
	}, worker.Deps{
		Queue:     svc.Store,
		Committer: svc.Store,
		Hosts:     svc.Store,
		Fetcher:   fetcher,
		Renderer:  renderer,
		Sink:      sink,
		Publisher: publisher,
		Limiter: ratelimit.New(ratelimit.Config{
			PerHostRPS: cfg.Fetch.PerHostRPS,
			Burst:      cfg.Fetch.Burst,
		}),
		Clock:     sysclock.New(),
		Logger:    logging.Named(logger, "worker"),
	})
	if err != nil {
		return fmt.Errorf("build worker pool: %w", err)
	}

	server := api.NewServer(api.Stores{
		Queue:     svc.Store,
		Content:   svc.Store,
		Labels:    svc.Store,
		Hosts:     svc.Store,
		Blocklist: svc.Store,
		Sink:      sink,
	}, uuid.NewGenerator(), sysclock.New(), logging.Named(logger, "api"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("admin server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := pool.Run(gctx)
		// A fully drained queue shuts the whole process down.
		if err == nil && (drain || cfg.Queue.DrainAndExit) {
			stop()
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildSink returns the payload sink for the configured backend, or nil
// when payloads are stored inline in the database.
func buildSink(ctx context.Context, cfg config.Config) (bot.PayloadSink, func(), error) {
	noop := func() {}
	switch bot.Backend(cfg.Storage.Backend) {
	case bot.BackendDatabase:
		return nil, noop, nil
	case bot.BackendFilesystem:
		sink, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("init filesystem sink: %w", err)
		}
		return sink, noop, nil
	case bot.BackendBucket:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("init GCS client: %w", err)
		}
		sink, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("init bucket sink: %w", err)
		}
		return sink, func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// buildPublisher returns the Pub/Sub publisher when enabled, otherwise
// an in-memory one so commit notices still have somewhere to go.
func buildPublisher(ctx context.Context, cfg config.Config) (bot.Publisher, func(), error) {
	noop := func() {}
	if !cfg.PubSub.Enabled {
		return pubmemory.New(), noop, nil
	}
	client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, noop, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubgcp.New(client)
	return pub, func() { _ = pub.Close() }, nil
}
