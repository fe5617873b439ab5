// Package memory provides in-memory store implementations for tests and
// dry-run mode. A single mutex guards all state, so every multi-record
// operation (claim, commit, version removal) is atomic by construction,
// matching the transactional guarantees of the Postgres implementation.
package memory

import (
	"sync"
	"time"

	"github.com/pagevault/pagevault/internal/bot"
)

// Store implements the bot's queue, content store, commit protocol,
// label store, host ledger, and blocklist in memory.
type Store struct {
	mu sync.Mutex

	clock bot.Clock

	tasks map[string]*bot.Task

	nextIdentityID int64
	identities     map[string]*bot.ContentIdentity // by url key
	identityByID   map[int64]*bot.ContentIdentity
	versions       map[string]*bot.ContentVersion
	inline         map[string][]byte

	nextLabelID   int64
	labels        map[string]*bot.Label           // by short name
	urlKeyLabels  map[string]map[int64]struct{}   // url key -> label ids
	versionLabels map[string]map[int64]struct{}   // version id -> label ids

	hosts   map[string]*bot.HostStats // by host key
	blocked map[string]bot.BlocklistEntry
}

// New constructs an empty Store using the provided clock.
func New(clock bot.Clock) *Store {
	return &Store{
		clock:         clock,
		tasks:         make(map[string]*bot.Task),
		identities:    make(map[string]*bot.ContentIdentity),
		identityByID:  make(map[int64]*bot.ContentIdentity),
		versions:      make(map[string]*bot.ContentVersion),
		inline:        make(map[string][]byte),
		labels:        make(map[string]*bot.Label),
		urlKeyLabels:  make(map[string]map[int64]struct{}),
		versionLabels: make(map[string]map[int64]struct{}),
		hosts:         make(map[string]*bot.HostStats),
		blocked:       make(map[string]bot.BlocklistEntry),
	}
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

func copyTask(t *bot.Task) bot.Task {
	out := *t
	if t.DelayUntil != nil {
		d := *t.DelayUntil
		out.DelayUntil = &d
	}
	if t.LeaseUntil != nil {
		l := *t.LeaseUntil
		out.LeaseUntil = &l
	}
	return out
}
