package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/urlkey"
)

// fakeClock is a settable clock for deterministic eligibility tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTask(id, rawURL string, action bot.Action, enqueuedAt time.Time) bot.Task {
	normalized, err := urlkey.Normalize(rawURL)
	if err != nil {
		panic(fmt.Sprintf("bad test url %q: %v", rawURL, err))
	}
	host, _ := urlkey.HostOf(normalized)
	return bot.Task{
		ID:         id,
		Action:     action,
		URL:        normalized,
		URLKey:     urlkey.URLKey(normalized),
		Host:       host,
		HostKey:    urlkey.HostKey(host),
		EnqueuedAt: enqueuedAt,
	}
}

func TestClaimNextFIFO(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()

	base := clock.Now()
	require.NoError(t, s.Enqueue(ctx, newTask("t-2", "http://example.com/b", bot.ActionDownload, base.Add(time.Second))))
	require.NoError(t, s.Enqueue(ctx, newTask("t-1", "http://example.com/a", bot.ActionDownload, base)))

	first, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "t-1", first.ID, "oldest enqueued task wins")

	second, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "t-2", second.ID)

	_, err = s.ClaimNext(ctx, "w1", time.Minute)
	require.ErrorIs(t, err, bot.ErrNoTask)
}

func TestClaimNextTiesBreakByID(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()
	at := clock.Now()

	require.NoError(t, s.Enqueue(ctx, newTask("bbb", "http://example.com/b", bot.ActionDownload, at)))
	require.NoError(t, s.Enqueue(ctx, newTask("aaa", "http://example.com/a", bot.ActionDownload, at)))

	got, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "aaa", got.ID)
}

func TestClaimIsExclusiveUntilLeaseExpires(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, newTask("t-1", "http://example.com/a", bot.ActionDownload, clock.Now())))

	_, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, "w2", time.Minute)
	require.ErrorIs(t, err, bot.ErrNoTask, "leased task must not be claimable")

	clock.Advance(2 * time.Minute)
	reclaimed, err := s.ClaimNext(ctx, "w2", time.Minute)
	require.NoError(t, err, "expired lease makes the task reclaimable")
	require.Equal(t, "t-1", reclaimed.ID)
	require.Equal(t, "w2", func() string {
		task, err := s.TaskByID(ctx, "t-1")
		require.NoError(t, err)
		return task.ClaimedBy
	}())
}

func TestConcurrentClaimsNeverShareATask(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()

	const available = 5
	const workers = 20
	for i := 0; i < available; i++ {
		task := newTask(
			fmt.Sprintf("t-%d", i),
			fmt.Sprintf("http://example.com/p%d", i),
			bot.ActionDownload,
			clock.Now().Add(time.Duration(i)*time.Second),
		)
		require.NoError(t, s.Enqueue(ctx, task))
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			task, err := s.ClaimNext(ctx, fmt.Sprintf("w%d", worker), time.Minute)
			if err != nil {
				return
			}
			mu.Lock()
			claimed[task.ID]++
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	require.Len(t, claimed, available, "every available task claimed exactly once")
	for id, n := range claimed {
		require.Equal(t, 1, n, "task %s claimed more than once", id)
	}
}

func TestRecordFailureTransientDelaysSelection(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, newTask("t-3", "http://example.com/a", bot.ActionDownload, clock.Now())))
	_, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)

	retryAt := clock.Now().Add(60 * time.Second)
	require.NoError(t, s.RecordFailure(ctx, "t-3", "http-503", &retryAt))

	_, err = s.ClaimNext(ctx, "w1", time.Minute)
	require.ErrorIs(t, err, bot.ErrNoTask, "delayed task must not be selectable")

	clock.Advance(61 * time.Second)
	task, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err, "task becomes selectable after the delay elapses")
	require.Equal(t, "t-3", task.ID)
	require.Equal(t, 1, task.TryCount)
}

func TestRecordFailurePermanentExcludesForever(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, newTask("t-4", "http://example.com/a", bot.ActionDownload, clock.Now())))
	require.NoError(t, s.RecordFailure(ctx, "t-4", "http-404", nil))

	clock.Advance(24 * time.Hour)
	_, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.ErrorIs(t, err, bot.ErrNoTask)

	// Retained for audit, not deleted.
	task, err := s.TaskByID(ctx, "t-4")
	require.NoError(t, err)
	require.Equal(t, bot.FailureKind("http-404"), task.FailureKind)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, counts.Pending)
	require.Equal(t, 0, counts.Transient)
	require.Equal(t, 1, counts.Permanent)
}

func TestRecordFailureUnknownTask(t *testing.T) {
	t.Parallel()

	s := New(newFakeClock(time.Unix(1700000000, 0).UTC()))
	err := s.RecordFailure(context.Background(), "missing", "http-503", nil)
	require.ErrorIs(t, err, bot.ErrUnknownTask)
}

func TestRecordFailureRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, newTask("t-5", "http://example.com/a", bot.ActionDownload, clock.Now())))

	err := s.RecordFailure(ctx, "t-5", "no-such-kind", nil)
	require.ErrorIs(t, err, bot.ErrUnknownFailureKind)
}

func TestBlockedHostNeverClaimed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()

	// Enqueued before the block, still suppressed at claim time.
	require.NoError(t, s.Enqueue(ctx, newTask("t-2", "http://badhost.example/a", bot.ActionDownload, clock.Now())))
	require.NoError(t, s.Block(ctx, "badhost.example", "operator request"))

	_, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.ErrorIs(t, err, bot.ErrNoTask)

	blocked, err := s.IsBlocked(ctx, "badhost.example")
	require.NoError(t, err)
	require.True(t, blocked)

	// New enqueues for the host are rejected outright.
	err = s.Enqueue(ctx, newTask("t-6", "http://badhost.example/b", bot.ActionDownload, clock.Now()))
	require.ErrorIs(t, err, bot.ErrBlockedHost)

	require.NoError(t, s.Unblock(ctx, "badhost.example"))
	task, err := s.ClaimNext(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "t-2", task.ID)
}

func TestRemoveTaskSweepsOrphanedLabels(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()

	task := newTask("t-7", "http://example.com/tagged", bot.ActionDownload, clock.Now())
	require.NoError(t, s.Enqueue(ctx, task))
	_, err := s.EnsureLabel(ctx, "econ", "economics sources")
	require.NoError(t, err)
	require.NoError(t, s.AttachToURLKey(ctx, "econ", task.URLKey))

	require.NoError(t, s.RemoveTask(ctx, task.ID))

	labels, err := s.LabelsForURLKey(ctx, task.URLKey)
	require.NoError(t, err)
	require.Empty(t, labels, "no identity and no pending task left for the key")
}

func TestRemoveTaskKeepsLabelsForSurvivors(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	s := New(clock)
	ctx := context.Background()

	a := newTask("t-8", "http://example.com/shared", bot.ActionDownload, clock.Now())
	b := newTask("t-9", "http://example.com/shared", bot.ActionSaveText, clock.Now().Add(time.Second))
	require.NoError(t, s.Enqueue(ctx, a))
	require.NoError(t, s.Enqueue(ctx, b))

	_, err := s.EnsureLabel(ctx, "econ", "")
	require.NoError(t, err)
	require.NoError(t, s.AttachToURLKey(ctx, "econ", a.URLKey))

	require.NoError(t, s.RemoveTask(ctx, a.ID))

	labels, err := s.LabelsForURLKey(ctx, a.URLKey)
	require.NoError(t, err)
	require.Len(t, labels, 1, "another pending task still shares the url key")
}
