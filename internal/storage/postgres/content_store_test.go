package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagevault/pagevault/internal/bot"
)

func TestCommitFilesystemVersion(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	task := bot.Task{
		ID:     "task-1",
		Action: bot.ActionDownload,
		URL:    "https://example.com/report.pdf",
		URLKey: "key-1",
	}
	result := bot.CommitResult{
		Backend:    bot.BackendFilesystem,
		FileName:   "report.pdf",
		MimeType:   "application/pdf",
		Location:   "file:///var/crawl/key-1/task-1",
		Size:       2048,
		HashMethod: "sha256",
		HashValue:  "deadbeef",
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO content_identities").
		WithArgs(task.URL, task.URLKey).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec("INSERT INTO content_versions").
		WithArgs(
			task.ID, int64(42), "filesystem", "download", result.FileName,
			result.MimeType, result.Location, result.Size, result.HashMethod,
			result.HashValue, result.Comment, now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE content_identities SET version_count").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM crawl_queue").
		WithArgs(task.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Commit(context.Background(), task, result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDatabaseBackendStoresInlinePayload(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	task := bot.Task{ID: "task-2", Action: bot.ActionSaveText, URL: "https://example.com/a", URLKey: "key-2"}
	payload := []byte("extracted text")
	result := bot.CommitResult{
		Backend:    bot.BackendDatabase,
		FileName:   "a.txt",
		MimeType:   "text/plain",
		Size:       int64(len(payload)),
		HashMethod: "sha256",
		HashValue:  "cafe",
		Payload:    payload,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO content_identities").
		WithArgs(task.URL, task.URLKey).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO content_versions").
		WithArgs(
			task.ID, int64(7), "database", "save-text", result.FileName,
			result.MimeType, result.Location, result.Size, result.HashMethod,
			result.HashValue, result.Comment, pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE content_identities SET version_count").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO inline_content").
		WithArgs(task.ID, payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM crawl_queue").
		WithArgs(task.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.Commit(context.Background(), task, result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDuplicateVersionRollsBack(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	task := bot.Task{ID: "task-3", Action: bot.ActionDownload, URL: "https://example.com/b", URLKey: "key-3"}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO content_identities").
		WithArgs(task.URL, task.URLKey).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec("INSERT INTO content_versions").
		WithArgs(
			task.ID, int64(9), "filesystem", "download", "", "", "", int64(0),
			"", "", "", pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := store.Commit(context.Background(), task, bot.CommitResult{Backend: bot.BackendFilesystem})
	require.ErrorIs(t, err, bot.ErrDuplicateVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitMissingTaskRollsBack(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	task := bot.Task{ID: "ghost", Action: bot.ActionDownload, URL: "https://example.com/c", URLKey: "key-4"}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO content_identities").
		WithArgs(task.URL, task.URLKey).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("INSERT INTO content_versions").
		WithArgs(
			task.ID, int64(11), "filesystem", "download", "", "", "", int64(0),
			"", "", "", pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE content_identities SET version_count").
		WithArgs(int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM crawl_queue").
		WithArgs(task.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := store.Commit(context.Background(), task, bot.CommitResult{Backend: bot.BackendFilesystem})
	require.ErrorIs(t, err, bot.ErrUnknownTask)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveVersionAbsentIsNoOp(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM inline_content").
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM label_to_version").
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("DELETE FROM content_versions").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	require.NoError(t, store.RemoveVersion(context.Background(), "ghost"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveVersionDeletesEmptyIdentity(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM inline_content").
		WithArgs("task-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM label_to_version").
		WithArgs("task-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("DELETE FROM content_versions").
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"identity_id"}).AddRow(int64(42)))
	mock.ExpectExec("UPDATE content_identities SET version_count").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM content_identities").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.RemoveVersion(context.Background(), "task-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveAllVersionsReturnsExternalLocations(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT location FROM content_versions").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"location"}).
			AddRow("file:///var/crawl/a").
			AddRow("gs://bucket/b"))
	mock.ExpectExec("DELETE FROM inline_content").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM label_to_version").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM content_versions").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM content_identities").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	locations, err := store.RemoveAllVersions(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, []string{"file:///var/crawl/a", "gs://bucket/b"}, locations)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrCreateIdentityUpserts(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("INSERT INTO content_identities").
		WithArgs("https://example.com/a", "key-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "url_key", "version_count"}).
			AddRow(int64(5), "https://example.com/a", "key-1", 0))

	identity, err := store.FindOrCreateIdentity(context.Background(), "https://example.com/a", "key-1")
	require.NoError(t, err)
	require.Equal(t, int64(5), identity.ID)
	require.Equal(t, 0, identity.VersionCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityByURLKeyUnknown(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT id, url, url_key, version_count").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.IdentityByURLKey(context.Background(), "missing")
	require.ErrorIs(t, err, bot.ErrUnknownIdentity)
	require.NoError(t, mock.ExpectationsWereMet())
}
