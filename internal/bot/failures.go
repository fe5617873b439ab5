package bot

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by queue and content store operations.
var (
	// ErrNoTask means no eligible task exists right now.
	ErrNoTask = errors.New("no eligible task")
	// ErrUnknownTask means the task id does not exist.
	ErrUnknownTask = errors.New("unknown task")
	// ErrDuplicateVersion means a version with that id already exists.
	// Task ids and version ids share one id space, so this also guards
	// against double-commit of the same task.
	ErrDuplicateVersion = errors.New("duplicate version id")
	// ErrUnknownFailureKind means the failure code is not in the taxonomy.
	ErrUnknownFailureKind = errors.New("unknown failure kind")
	// ErrBlockedHost rejects enqueues for hosts on the blocklist.
	ErrBlockedHost = errors.New("host is blocked")
	// ErrUnknownIdentity means no content identity exists for the key.
	ErrUnknownIdentity = errors.New("unknown content identity")
	// ErrUnknownLabel means the label short name does not exist.
	ErrUnknownLabel = errors.New("unknown label")
)

// FailureKind classifies why a task failed. Kinds are reference data:
// seeded once, immutable afterwards.
type FailureKind string

// Non-HTTP failure kinds.
const (
	FailureMalformedURL FailureKind = "malformed-url"
	FailureTransaction  FailureKind = "transaction-failure"
	FailureNetwork      FailureKind = "network"
)

// failureKinds maps every known kind to its permanence. HTTP statuses
// follow the default taxonomy: client errors that will not heal on retry
// are permanent, throttling and server-side trouble are transient.
var failureKinds = map[FailureKind]bool{
	FailureMalformedURL: true,
	FailureTransaction:  false,
	FailureNetwork:      false,
	"http-400":          true,
	"http-401":          true,
	"http-402":          true,
	"http-403":          true,
	"http-404":          true,
	"http-405":          true,
	"http-406":          true,
	"http-408":          false,
	"http-410":          true,
	"http-414":          true,
	"http-429":          false,
	"http-451":          true,
	"http-500":          false,
	"http-502":          false,
	"http-503":          false,
	"http-504":          false,
}

// FailureKinds returns the full taxonomy for reference-data seeding.
func FailureKinds() map[FailureKind]bool {
	out := make(map[FailureKind]bool, len(failureKinds))
	for k, permanent := range failureKinds {
		out[k] = permanent
	}
	return out
}

// KnownFailureKind reports whether kind is part of the taxonomy.
func KnownFailureKind(kind FailureKind) bool {
	_, ok := failureKinds[kind]
	return ok
}

// Permanent reports whether the kind will never heal on retry.
// Unknown kinds are treated as permanent so a typo cannot cause a
// retry storm.
func (k FailureKind) Permanent() bool {
	permanent, ok := failureKinds[k]
	if !ok {
		return true
	}
	return permanent
}

// HTTPFailureKind maps an HTTP status to its failure kind. The second
// return is false for statuses below 400 or outside the taxonomy.
func HTTPFailureKind(status int) (FailureKind, bool) {
	if status < 400 {
		return "", false
	}
	kind := FailureKind(fmt.Sprintf("http-%d", status))
	if _, ok := failureKinds[kind]; ok {
		return kind, true
	}
	// Uncatalogued statuses still classify: 4xx permanent, 5xx transient.
	if status < 500 {
		return FailureMalformedURL, true
	}
	return FailureNetwork, true
}

// HTTPError carries a failed response's status so callers can classify
// it without parsing error strings.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d fetching %s", e.StatusCode, e.URL)
}
