package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pagevault/pagevault/internal/bot"
)

// Enqueue adds a task. Hosts on the blocklist are rejected.
func (s *Store) Enqueue(_ context.Context, task bot.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if !bot.KnownAction(task.Action) {
		return fmt.Errorf("unsupported action %q", task.Action)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocked[task.HostKey]; ok {
		return bot.ErrBlockedHost
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already enqueued", task.ID)
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = s.now()
	}
	t := copyTask(&task)
	s.tasks[task.ID] = &t
	return nil
}

// ClaimNext selects the oldest eligible task and stamps the lease, all
// under the store lock so two workers can never claim the same task.
func (s *Store) ClaimNext(_ context.Context, workerID string, lease time.Duration) (bot.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidates []*bot.Task
	for _, t := range s.tasks {
		if s.eligible(t, now) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return bot.Task{}, bot.ErrNoTask
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].EnqueuedAt.Equal(candidates[j].EnqueuedAt) {
			return candidates[i].EnqueuedAt.Before(candidates[j].EnqueuedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	t := candidates[0]
	until := now.Add(lease)
	t.ClaimedBy = workerID
	t.LeaseUntil = &until
	return copyTask(t), nil
}

func (s *Store) eligible(t *bot.Task, now time.Time) bool {
	if t.FailureKind != "" && t.FailureKind.Permanent() {
		return false
	}
	if t.DelayUntil != nil && t.DelayUntil.After(now) {
		return false
	}
	if t.ClaimedBy != "" && t.LeaseUntil != nil && t.LeaseUntil.After(now) {
		return false
	}
	if !bot.KnownAction(t.Action) {
		return false
	}
	if _, blocked := s.blocked[t.HostKey]; blocked {
		return false
	}
	return true
}

// RecordFailure stamps the failure kind and optional retry delay, and
// releases any lease so the task can be retried or audited.
func (s *Store) RecordFailure(_ context.Context, taskID string, kind bot.FailureKind, retryAfter *time.Time) error {
	if !bot.KnownFailureKind(kind) {
		return fmt.Errorf("%w: %q", bot.ErrUnknownFailureKind, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", bot.ErrUnknownTask, taskID)
	}
	t.TryCount++
	t.FailureKind = kind
	t.ClaimedBy = ""
	t.LeaseUntil = nil
	if !kind.Permanent() && retryAfter != nil {
		d := *retryAfter
		t.DelayUntil = &d
	} else {
		t.DelayUntil = nil
	}
	return nil
}

// RemoveTask deletes unconditionally and sweeps identity-level labels
// for the url key when nothing else references it.
func (s *Store) RemoveTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", bot.ErrUnknownTask, taskID)
	}
	delete(s.tasks, taskID)
	s.cleanOrphanedURLKeyLabels(t.URLKey)
	return nil
}

// cleanOrphanedURLKeyLabels drops identity-level associations for a url
// key only when no identity and no other pending task still carries it.
// Callers hold s.mu.
func (s *Store) cleanOrphanedURLKeyLabels(urlKey string) {
	if _, ok := s.identities[urlKey]; ok {
		return
	}
	for _, other := range s.tasks {
		if other.URLKey == urlKey {
			return
		}
	}
	delete(s.urlKeyLabels, urlKey)
}

// Counts reports pending tasks and failure totals.
func (s *Store) Counts(_ context.Context) (bot.QueueCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c bot.QueueCounts
	for _, t := range s.tasks {
		switch {
		case t.FailureKind == "":
			c.Pending++
		case t.FailureKind.Permanent():
			c.Permanent++
		default:
			c.Transient++
			c.Pending++
		}
	}
	return c, nil
}

// TaskByID returns a copy of a task for inspection in tests and tooling.
func (s *Store) TaskByID(_ context.Context, taskID string) (bot.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return bot.Task{}, fmt.Errorf("%w: %s", bot.ErrUnknownTask, taskID)
	}
	return copyTask(t), nil
}
