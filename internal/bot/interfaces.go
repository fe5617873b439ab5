package bot

import (
	"context"
	"time"
)

// TaskQueue holds pending tasks and the retry/error bookkeeping around
// them. Claiming is atomic: at most one worker holds a live lease on a
// task at any time, and an expired lease makes the task claimable again.
type TaskQueue interface {
	// Enqueue adds a producer-built task. Blocked hosts are rejected
	// with ErrBlockedHost.
	Enqueue(ctx context.Context, task Task) error
	// ClaimNext atomically selects the oldest eligible task and stamps
	// it with the worker's lease. Returns ErrNoTask when nothing is
	// eligible.
	ClaimNext(ctx context.Context, workerID string, lease time.Duration) (Task, error)
	// RecordFailure increments the try count and stamps the failure
	// kind. Transient kinds with a retryAfter become eligible again once
	// the delay elapses; permanent kinds exclude the task from selection
	// forever but retain it for audit.
	RecordFailure(ctx context.Context, taskID string, kind FailureKind, retryAfter *time.Time) error
	// RemoveTask deletes unconditionally and purges identity-level
	// labels for the task's url key when neither an identity nor another
	// pending task still references that key.
	RemoveTask(ctx context.Context, taskID string) error
	// Counts reports pending tasks plus transient and permanent
	// failures, driving the run loop's keep-polling/stop decision.
	Counts(ctx context.Context) (QueueCounts, error)
}

// ContentStore is the deduplicated, reference-counted store of fetched
// artifacts. It manages metadata only; payloads for non-inline backends
// live with a PayloadSink.
type ContentStore interface {
	FindOrCreateIdentity(ctx context.Context, url, urlKey string) (ContentIdentity, error)
	// AddVersion inserts a version, increments the identity's version
	// count, and stores payload inline when the backend is "database".
	// ErrDuplicateVersion if the version id is taken.
	AddVersion(ctx context.Context, identityID int64, version ContentVersion, payload []byte) error
	// RemoveVersion deletes the version (and inline payload), decrements
	// the count, and deletes the identity at zero. Idempotent: removing
	// an absent version is a no-op.
	RemoveVersion(ctx context.Context, versionID string) error
	// RemoveAllVersions purges the identity and every version, returning
	// the locations of externally stored payloads for the caller to hand
	// to the payload sink.
	RemoveAllVersions(ctx context.Context, identityID int64) ([]string, error)
	IdentityByURLKey(ctx context.Context, urlKey string) (ContentIdentity, error)
	VersionsByURLKey(ctx context.Context, urlKey string) ([]ContentVersion, error)
	InlinePayload(ctx context.Context, versionID string) ([]byte, error)
}

// Committer runs the commit protocol: identity find-or-create, version
// insert, inline payload, and task removal as one atomic unit. On any
// failure nothing is durable and the task stays queued; the caller then
// records a transient transaction failure so the task is retried.
type Committer interface {
	Commit(ctx context.Context, task Task, result CommitResult) error
}

// LabelStore binds labels to url keys (identity level, attachable before
// any fetch exists) or to version ids.
type LabelStore interface {
	EnsureLabel(ctx context.Context, shortName, description string) (Label, error)
	AttachToURLKey(ctx context.Context, shortName, urlKey string) error
	DetachFromURLKey(ctx context.Context, shortName, urlKey string) error
	AttachToVersion(ctx context.Context, shortName, versionID string) error
	DetachFromVersion(ctx context.Context, shortName, versionID string) error
	LabelsForURLKey(ctx context.Context, urlKey string) ([]Label, error)
	LabelsForVersion(ctx context.Context, versionID string) ([]Label, error)
	// SweepOrphans removes identity-level associations whose url key
	// matches neither a content identity nor a pending task. Returns the
	// number removed.
	SweepOrphans(ctx context.Context) (int, error)
}

// HostLedger records per-host fetch outcomes.
type HostLedger interface {
	RecordOutcome(ctx context.Context, host string, success bool) error
	Stats(ctx context.Context, host string) (HostStats, error)
}

// Blocklist suppresses hosts. Checked at enqueue and again at claim time
// so entries added after enqueue still take effect.
type Blocklist interface {
	IsBlocked(ctx context.Context, host string) (bool, error)
	Block(ctx context.Context, host, comment string) error
	Unblock(ctx context.Context, host string) error
}

// PayloadSink writes externally stored payloads and deletes them when an
// identity is purged.
type PayloadSink interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, location string) error
}

// Publisher pushes commit notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves a URL over plain HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Renderer produces a PDF snapshot of a page.
type Renderer interface {
	RenderPDF(ctx context.Context, url string) ([]byte, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task ids (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
