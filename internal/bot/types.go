// Package bot defines core types shared across subsystems.
package bot

import (
	"net/http"
	"time"
)

// Action identifies what the bot does with a fetched URL.
type Action string

// Supported action codes. These are seeded as reference data and are
// never mutated at runtime.
const (
	ActionDownload  Action = "download"
	ActionSaveText  Action = "save-text"
	ActionPageToPDF Action = "page-to-pdf"
)

// Actions lists every supported action code in seed order.
func Actions() []Action {
	return []Action{ActionDownload, ActionSaveText, ActionPageToPDF}
}

// KnownAction reports whether code is a supported action.
func KnownAction(code Action) bool {
	switch code {
	case ActionDownload, ActionSaveText, ActionPageToPDF:
		return true
	default:
		return false
	}
}

// Backend identifies where a version's payload lives.
type Backend string

// Supported storage backend codes.
const (
	BackendDatabase   Backend = "database"
	BackendFilesystem Backend = "filesystem"
	BackendBucket     Backend = "bucket"
)

// Backends lists every supported backend code in seed order.
func Backends() []Backend {
	return []Backend{BackendDatabase, BackendFilesystem, BackendBucket}
}

// Task is one unit of crawl work awaiting execution. The id is assigned
// by the producer and doubles as the version id on commit, so it must be
// globally unique and stable across restarts (UUIDs, never a counter).
type Task struct {
	ID          string
	Action      Action
	URL         string
	URLKey      string
	Host        string
	HostKey     string
	Prettify    bool
	EnqueuedAt  time.Time
	TryCount    int
	FailureKind FailureKind
	DelayUntil  *time.Time
	ClaimedBy   string
	LeaseUntil  *time.Time
}

// ContentIdentity is the durable record for "this URL's content",
// independent of how many times it has been fetched. VersionCount always
// equals the number of versions referencing the identity; the identity is
// deleted the moment the count reaches zero.
type ContentIdentity struct {
	ID           int64
	URL          string
	URLKey       string
	VersionCount int
}

// ContentVersion is one fetched or rendered snapshot of an identity.
// Its id carries over the originating task's id.
type ContentVersion struct {
	ID         string
	IdentityID int64
	Backend    Backend
	Action     Action
	FileName   string
	MimeType   string
	Location   string
	Size       int64
	HashMethod string
	HashValue  string
	Comment    string
	CreatedAt  time.Time
}

// CommitResult carries everything a worker hands to the commit protocol
// after a successful fetch or render. Payload is set only for the
// database backend; other backends carry the sink location instead.
type CommitResult struct {
	Backend    Backend
	FileName   string
	MimeType   string
	Location   string
	Payload    []byte
	Size       int64
	HashMethod string
	HashValue  string
	Comment    string
}

// Label is an operator-defined tag.
type Label struct {
	ID          int64
	ShortName   string
	Description string
}

// HostStats tracks fetch outcomes per host. It is pure bookkeeping; the
// backoff decision itself lives with the caller.
type HostStats struct {
	HostKey      string
	Host         string
	FirstSeen    time.Time
	LastSeen     time.Time
	SuccessCount int64
	ProblemCount int64
}

// BlocklistEntry suppresses every task targeting a host.
type BlocklistEntry struct {
	HostKey string
	Host    string
	Comment string
}

// QueueCounts summarizes queue state for the run loop and operators.
type QueueCounts struct {
	Pending   int `json:"pending"`
	Transient int `json:"transient_failures"`
	Permanent int `json:"permanent_failures"`
}

// FetchResponse is what a fetcher returns for a single URL.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	MimeType   string
	Duration   time.Duration
}
