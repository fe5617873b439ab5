package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/urlkey"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewWithDB(mock, fixedClock{now: now})
	require.NoError(t, err)
	return store, mock, now
}

func TestClaimNextStampsLease(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	lease := 2 * time.Minute

	rows := pgxmock.NewRows([]string{
		"id", "action", "url", "url_key", "host", "host_key", "prettify",
		"enqueued_at", "try_count", "failure_kind", "delay_until",
	}).AddRow(
		"task-1", "download", "https://example.com/report", "key-1",
		"example.com", "example.com", false, now.Add(-time.Hour), 0, nil, nil,
	)
	mock.ExpectQuery("UPDATE crawl_queue SET claimed_by").
		WithArgs("worker-a", now.Add(lease), now, pgxmock.AnyArg()).
		WillReturnRows(rows)

	task, err := store.ClaimNext(context.Background(), "worker-a", lease)
	require.NoError(t, err)
	require.Equal(t, "task-1", task.ID)
	require.Equal(t, bot.ActionDownload, task.Action)
	require.Equal(t, "worker-a", task.ClaimedBy)
	require.NotNil(t, task.LeaseUntil)
	require.Equal(t, now.Add(lease), *task.LeaseUntil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextEmptyQueue(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("UPDATE crawl_queue SET claimed_by").
		WithArgs("worker-a", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.ClaimNext(context.Background(), "worker-a", time.Minute)
	require.ErrorIs(t, err, bot.ErrNoTask)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureTransientKeepsDelay(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	retryAfter := now.Add(90 * time.Second)

	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs("task-1", "http-503", &retryAfter).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.RecordFailure(context.Background(), "task-1", bot.FailureKind("http-503"), &retryAfter)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailurePermanentDropsDelay(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	retryAfter := now.Add(time.Minute)

	// A permanent kind never schedules a retry, even when the caller
	// passes a delay.
	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs("task-1", "http-404", (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.RecordFailure(context.Background(), "task-1", bot.FailureKind("http-404"), &retryAfter)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureUnknownTask(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs("ghost", "network", (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.RecordFailure(context.Background(), "ghost", bot.FailureNetwork, nil)
	require.ErrorIs(t, err, bot.ErrUnknownTask)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	store, _, _ := newMockStore(t)

	err := store.RecordFailure(context.Background(), "task-1", bot.FailureKind("made-up"), nil)
	require.ErrorIs(t, err, bot.ErrUnknownFailureKind)
}

func TestEnqueueRejectsBlockedHost(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(urlkey.HostKey("badhost.example")).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := store.Enqueue(context.Background(), bot.Task{
		ID:      "task-1",
		Action:  bot.ActionDownload,
		URL:     "https://badhost.example/a",
		URLKey:  "key-1",
		Host:    "badhost.example",
		HostKey: "badhost.example",
	})
	require.ErrorIs(t, err, bot.ErrBlockedHost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveTaskSweepsOrphanedLabels(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM crawl_queue").
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"url_key"}).AddRow("key-1"))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("key-1").
		WillReturnRows(pgxmock.NewRows([]string{"referenced"}).AddRow(false))
	mock.ExpectExec("DELETE FROM label_to_identity").
		WithArgs("key-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	require.NoError(t, store.RemoveTask(context.Background(), "task-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveTaskKeepsReferencedLabels(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM crawl_queue").
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"url_key"}).AddRow("key-1"))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("key-1").
		WillReturnRows(pgxmock.NewRows([]string{"referenced"}).AddRow(true))
	mock.ExpectCommit()

	require.NoError(t, store.RemoveTask(context.Background(), "task-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveTaskUnknownID(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM crawl_queue").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := store.RemoveTask(context.Background(), "ghost")
	require.ErrorIs(t, err, bot.ErrUnknownTask)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountsSplitsFailureClasses(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("FROM crawl_queue q").
		WillReturnRows(pgxmock.NewRows([]string{"pending", "transient", "permanent"}).
			AddRow(int64(7), int64(2), int64(3)))

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, bot.QueueCounts{Pending: 7, Transient: 2, Permanent: 3}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}
