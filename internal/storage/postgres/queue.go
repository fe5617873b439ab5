package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pagevault/pagevault/internal/bot"
)

// Enqueue inserts a producer-built task. Blocked hosts are rejected up
// front; the claim query checks again for entries added later.
func (s *Store) Enqueue(ctx context.Context, task bot.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if !bot.KnownAction(task.Action) {
		return fmt.Errorf("unsupported action %q", task.Action)
	}
	blocked, err := s.IsBlocked(ctx, task.Host)
	if err != nil {
		return err
	}
	if blocked {
		return bot.ErrBlockedHost
	}
	enqueuedAt := task.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = s.now()
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO crawl_queue (id, action, url, url_key, host, host_key, prettify, enqueued_at, delay_until)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, string(task.Action), task.URL, task.URLKey,
		task.Host, task.HostKey, task.Prettify, enqueuedAt, task.DelayUntil,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s already enqueued", task.ID)
		}
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// claimSQL combines selection and claiming into one atomic statement:
// the inner SELECT picks the oldest eligible row under FOR UPDATE SKIP
// LOCKED and the UPDATE stamps the lease before any other worker can see
// it. Eligibility excludes permanent failures, pending delays, live
// leases, unsupported actions, and blocked hosts.
const claimSQL = `
UPDATE crawl_queue SET claimed_by = $1, lease_until = $2
WHERE id = (
	SELECT q.id FROM crawl_queue q
	WHERE (q.failure_kind IS NULL OR EXISTS (
			SELECT 1 FROM failure_kinds f WHERE f.code = q.failure_kind AND NOT f.permanent))
		AND (q.delay_until IS NULL OR q.delay_until <= $3)
		AND (q.claimed_by IS NULL OR q.lease_until IS NULL OR q.lease_until <= $3)
		AND q.action = ANY($4)
		AND NOT EXISTS (SELECT 1 FROM blocklist b WHERE b.host_key = q.host_key)
	ORDER BY q.enqueued_at, q.id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, action, url, url_key, host, host_key, prettify, enqueued_at, try_count, failure_kind, delay_until`

// ClaimNext atomically claims the oldest eligible task for workerID.
func (s *Store) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (bot.Task, error) {
	now := s.now()
	actions := make([]string, 0, len(bot.Actions()))
	for _, a := range bot.Actions() {
		actions = append(actions, string(a))
	}

	var (
		task        bot.Task
		action      string
		failureKind *string
	)
	err := s.db.QueryRow(ctx, claimSQL, workerID, now.Add(lease), now, actions).Scan(
		&task.ID, &action, &task.URL, &task.URLKey, &task.Host, &task.HostKey,
		&task.Prettify, &task.EnqueuedAt, &task.TryCount, &failureKind, &task.DelayUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return bot.Task{}, bot.ErrNoTask
	}
	if err != nil {
		return bot.Task{}, fmt.Errorf("claim next task: %w", err)
	}
	task.Action = bot.Action(action)
	if failureKind != nil {
		task.FailureKind = bot.FailureKind(*failureKind)
	}
	task.ClaimedBy = workerID
	until := now.Add(lease)
	task.LeaseUntil = &until
	return task, nil
}

// RecordFailure stamps the failure kind and optional retry delay and
// releases the lease. Permanent kinds never carry a delay.
func (s *Store) RecordFailure(ctx context.Context, taskID string, kind bot.FailureKind, retryAfter *time.Time) error {
	if !bot.KnownFailureKind(kind) {
		return fmt.Errorf("%w: %q", bot.ErrUnknownFailureKind, kind)
	}
	var delay *time.Time
	if !kind.Permanent() && retryAfter != nil {
		delay = retryAfter
	}
	tag, err := s.db.Exec(ctx, `
UPDATE crawl_queue
SET try_count = try_count + 1, failure_kind = $2, delay_until = $3,
	claimed_by = NULL, lease_until = NULL
WHERE id = $1`,
		taskID, string(kind), delay,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", bot.ErrUnknownTask, taskID)
	}
	return nil
}

// RemoveTask deletes unconditionally. Identity-level labels for the
// task's url key are swept in the same transaction when neither a
// content identity nor another pending task still references the key.
func (s *Store) RemoveTask(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin remove task: %w", err)
	}

	var urlKey string
	err = tx.QueryRow(ctx,
		`DELETE FROM crawl_queue WHERE id = $1 RETURNING url_key`, taskID,
	).Scan(&urlKey)
	if errors.Is(err, pgx.ErrNoRows) {
		rollback(ctx, tx)
		return fmt.Errorf("%w: %s", bot.ErrUnknownTask, taskID)
	}
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("remove task: %w", err)
	}

	var referenced bool
	err = tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM content_identities WHERE url_key = $1)
	OR EXISTS (SELECT 1 FROM crawl_queue WHERE url_key = $1)`,
		urlKey,
	).Scan(&referenced)
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("check url key references: %w", err)
	}
	if !referenced {
		if _, err := tx.Exec(ctx,
			`DELETE FROM label_to_identity WHERE url_key = $1`, urlKey,
		); err != nil {
			rollback(ctx, tx)
			return fmt.Errorf("sweep orphaned labels: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove task: %w", err)
	}
	return nil
}

// Counts reports pending tasks plus transient and permanent failures.
func (s *Store) Counts(ctx context.Context) (bot.QueueCounts, error) {
	var c bot.QueueCounts
	err := s.db.QueryRow(ctx, `
SELECT
	count(*) FILTER (WHERE q.failure_kind IS NULL OR NOT f.permanent),
	count(*) FILTER (WHERE f.code IS NOT NULL AND NOT f.permanent),
	count(*) FILTER (WHERE f.permanent)
FROM crawl_queue q
LEFT JOIN failure_kinds f ON f.code = q.failure_kind`,
	).Scan(&c.Pending, &c.Transient, &c.Permanent)
	if err != nil {
		return bot.QueueCounts{}, fmt.Errorf("count queue: %w", err)
	}
	return c, nil
}
