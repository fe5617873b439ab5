// Package worker runs the claim/execute/commit loop that drains the
// crawl queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/fetch"
	"github.com/pagevault/pagevault/internal/hash/sha256"
	"github.com/pagevault/pagevault/internal/metrics"
)

// Config controls one worker's loop.
type Config struct {
	ID           string
	Lease        time.Duration
	PollInterval time.Duration
	Backend      bot.Backend
	Topic        string
	// DrainAndExit stops the loop once no claimable work remains and no
	// transient retries are pending. Long-running deployments leave it
	// off and keep polling.
	DrainAndExit bool
}

// HostLimiter spaces out requests per host. The worker waits for a
// token before every fetch or render.
type HostLimiter interface {
	Wait(ctx context.Context, host string) error
}

// Deps are the collaborators a worker drives.
type Deps struct {
	Queue     bot.TaskQueue
	Committer bot.Committer
	Hosts     bot.HostLedger
	Fetcher   bot.Fetcher
	Renderer  bot.Renderer
	Sink      bot.PayloadSink
	Publisher bot.Publisher
	Limiter   HostLimiter
	Clock     bot.Clock
	Logger    *zap.Logger
}

// Worker claims tasks one at a time, executes the action, and commits
// the result.
type Worker struct {
	cfg     Config
	deps    Deps
	backoff Backoff
	hasher  *sha256.Hasher
}

// New validates the wiring and builds a Worker.
func New(cfg Config, deps Deps) (*Worker, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if deps.Queue == nil || deps.Committer == nil || deps.Fetcher == nil {
		return nil, fmt.Errorf("queue, committer, and fetcher are required")
	}
	if cfg.Backend != bot.BackendDatabase && deps.Sink == nil {
		return nil, fmt.Errorf("payload sink is required for backend %q", cfg.Backend)
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		cfg:     cfg,
		deps:    deps,
		backoff: NewBackoff(),
		hasher:  sha256.New(),
	}, nil
}

// CommitNotice is the payload published after every successful commit.
type CommitNotice struct {
	VersionID string    `json:"versionId"`
	URL       string    `json:"url"`
	URLKey    string    `json:"urlKey"`
	Action    string    `json:"action"`
	Backend   string    `json:"backend"`
	Location  string    `json:"location,omitempty"`
	Size      int64     `json:"size"`
	HashValue string    `json:"hashValue"`
	Committed time.Time `json:"committed"`
}

// Run drives the loop until the context is canceled, or, with
// DrainAndExit set, until the queue holds nothing claimable.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, err := w.deps.Queue.ClaimNext(ctx, w.cfg.ID, w.cfg.Lease)
		switch {
		case errors.Is(err, bot.ErrNoTask):
			counts, countErr := w.deps.Queue.Counts(ctx)
			if countErr == nil {
				metrics.SetQueueDepth(counts.Pending, counts.Transient, counts.Permanent)
				if w.cfg.DrainAndExit && counts.Pending == 0 {
					w.deps.Logger.Info("queue drained", zap.Int("permanent_failures", counts.Permanent))
					return nil
				}
			}
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		case err != nil:
			w.deps.Logger.Error("claim failed", zap.Error(err))
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		w.process(ctx, task)
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.cfg.PollInterval):
		return true
	}
}

func (w *Worker) now() time.Time {
	if w.deps.Clock != nil {
		return w.deps.Clock.Now()
	}
	return time.Now().UTC()
}

func (w *Worker) process(ctx context.Context, task bot.Task) {
	metrics.ObserveClaim(string(task.Action))
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log := w.deps.Logger.With(
		zap.String("task_id", task.ID),
		zap.String("action", string(task.Action)),
		zap.String("url", task.URL),
	)

	result, headers, err := w.execute(ctx, task)
	if err != nil {
		w.fail(ctx, log, task, err, headers)
		return
	}

	if err := w.deps.Committer.Commit(ctx, task, result); err != nil {
		if errors.Is(err, bot.ErrDuplicateVersion) {
			// The version already exists under this task's id, so the
			// content is durable. Drop the task instead of retrying into
			// the same collision forever.
			log.Warn("version already committed, removing task", zap.Error(err))
			if rmErr := w.deps.Queue.RemoveTask(ctx, task.ID); rmErr != nil {
				log.Error("remove duplicate task failed", zap.Error(rmErr))
			}
			return
		}
		retryAt := w.now().Add(w.backoff.Delay(task.TryCount))
		log.Error("commit failed, task stays queued", zap.Error(err), zap.Time("retry_at", retryAt))
		metrics.ObserveFailure(string(bot.FailureTransaction))
		if recErr := w.deps.Queue.RecordFailure(ctx, task.ID, bot.FailureTransaction, &retryAt); recErr != nil {
			log.Error("record commit failure", zap.Error(recErr))
		}
		return
	}

	metrics.ObserveCommit(string(task.Action), string(result.Backend))
	if w.deps.Hosts != nil {
		if err := w.deps.Hosts.RecordOutcome(ctx, task.Host, true); err != nil {
			log.Warn("record host outcome", zap.Error(err))
		}
	}
	w.publish(ctx, log, task, result)
	log.Info("task committed",
		zap.String("backend", string(result.Backend)),
		zap.String("location", result.Location),
		zap.Int64("size", result.Size),
	)
}

// execute runs the task's action and routes the payload to the
// configured backend. The returned headers come from the final HTTP
// response and feed Retry-After handling on failure.
func (w *Worker) execute(ctx context.Context, task bot.Task) (bot.CommitResult, http.Header, error) {
	var (
		payload []byte
		mime    string
		headers http.Header
	)

	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, task.Host); err != nil {
			return bot.CommitResult{}, nil, err
		}
	}

	switch task.Action {
	case bot.ActionDownload, bot.ActionSaveText:
		resp, err := w.deps.Fetcher.Fetch(ctx, task.URL)
		if err != nil {
			return bot.CommitResult{}, resp.Headers, err
		}
		headers = resp.Headers
		metrics.ObserveFetch(task.Host, string(task.Action), len(resp.Body), resp.Duration)
		if task.Action == bot.ActionDownload {
			payload = resp.Body
			mime = resp.MimeType
			if mime == "" {
				mime = "application/octet-stream"
			}
		} else {
			text, err := fetch.ExtractText(resp.Body, task.Prettify)
			if err != nil {
				return bot.CommitResult{}, headers, err
			}
			payload = []byte(text)
			mime = "text/plain"
		}
	case bot.ActionPageToPDF:
		if w.deps.Renderer == nil {
			return bot.CommitResult{}, nil, fmt.Errorf("no renderer configured for %s", task.Action)
		}
		pdf, err := w.deps.Renderer.RenderPDF(ctx, task.URL)
		if err != nil {
			return bot.CommitResult{}, nil, err
		}
		payload = pdf
		mime = "application/pdf"
	default:
		return bot.CommitResult{}, nil, fmt.Errorf("unsupported action %q", task.Action)
	}

	digest, err := w.hasher.Hash(payload)
	if err != nil {
		return bot.CommitResult{}, headers, err
	}

	result := bot.CommitResult{
		Backend:    w.cfg.Backend,
		FileName:   fileName(task),
		MimeType:   mime,
		Size:       int64(len(payload)),
		HashMethod: sha256.Method,
		HashValue:  digest,
	}
	if w.cfg.Backend == bot.BackendDatabase {
		result.Payload = payload
		return result, headers, nil
	}

	// The task id in the path keeps successive versions of the same url
	// from overwriting each other in the sink.
	location, err := w.deps.Sink.Put(ctx, task.URLKey+"/"+task.ID+"/"+result.FileName, mime, payload)
	if err != nil {
		return bot.CommitResult{}, headers, err
	}
	result.Location = location
	return result, headers, nil
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, task bot.Task, err error, headers http.Header) {
	kind := bot.FailureNetwork
	var httpErr *bot.HTTPError
	if errors.As(err, &httpErr) {
		if k, ok := bot.HTTPFailureKind(httpErr.StatusCode); ok {
			kind = k
		}
	}

	var retryAt *time.Time
	if !kind.Permanent() {
		at, ok := time.Time{}, false
		if headers != nil {
			at, ok = retryAfter(headers, w.now())
		}
		if !ok {
			at = w.now().Add(w.backoff.Delay(task.TryCount))
		}
		retryAt = &at
	}

	log.Warn("task failed",
		zap.Error(err),
		zap.String("kind", string(kind)),
		zap.Bool("permanent", kind.Permanent()),
	)
	metrics.ObserveFailure(string(kind))

	if recErr := w.deps.Queue.RecordFailure(ctx, task.ID, kind, retryAt); recErr != nil {
		log.Error("record failure", zap.Error(recErr))
	}
	if w.deps.Hosts != nil {
		if hostErr := w.deps.Hosts.RecordOutcome(ctx, task.Host, false); hostErr != nil {
			log.Warn("record host outcome", zap.Error(hostErr))
		}
	}
}

// publish is best effort: a lost notification never fails a committed
// task.
func (w *Worker) publish(ctx context.Context, log *zap.Logger, task bot.Task, result bot.CommitResult) {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return
	}
	notice := CommitNotice{
		VersionID: task.ID,
		URL:       task.URL,
		URLKey:    task.URLKey,
		Action:    string(task.Action),
		Backend:   string(result.Backend),
		Location:  result.Location,
		Size:      result.Size,
		HashValue: result.HashValue,
		Committed: w.now(),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, notice); err != nil {
		log.Warn("publish commit notice", zap.Error(err))
	}
}

// fileName derives a stored file name from the task URL and action.
func fileName(task bot.Task) string {
	base := "index"
	if u, err := url.Parse(task.URL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			base = b
		}
	}
	switch task.Action {
	case bot.ActionSaveText:
		return strings.TrimSuffix(base, path.Ext(base)) + ".txt"
	case bot.ActionPageToPDF:
		return strings.TrimSuffix(base, path.Ext(base)) + ".pdf"
	default:
		if path.Ext(base) == "" {
			return base + ".html"
		}
		return base
	}
}
