package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pagevault/pagevault/internal/bot"
)

// findOrCreateIdentitySQL upserts in one statement so concurrent callers
// for the same url key always converge on a single row.
const findOrCreateIdentitySQL = `
INSERT INTO content_identities (url, url_key, version_count)
VALUES ($1, $2, 0)
ON CONFLICT (url_key) DO UPDATE SET url = EXCLUDED.url
RETURNING id, url, url_key, version_count`

// FindOrCreateIdentity returns the identity for urlKey, creating it with
// a zero version count on first sight.
func (s *Store) FindOrCreateIdentity(ctx context.Context, url, urlKey string) (bot.ContentIdentity, error) {
	var identity bot.ContentIdentity
	err := s.db.QueryRow(ctx, findOrCreateIdentitySQL, url, urlKey).Scan(
		&identity.ID, &identity.URL, &identity.URLKey, &identity.VersionCount,
	)
	if err != nil {
		return bot.ContentIdentity{}, fmt.Errorf("find or create identity: %w", err)
	}
	return identity, nil
}

const insertVersionSQL = `
INSERT INTO content_versions (id, identity_id, backend, action, file_name, mime_type,
	location, size, hash_method, hash_value, comment, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const bumpVersionCountSQL = `
UPDATE content_identities SET version_count = version_count + 1 WHERE id = $1`

// AddVersion inserts a version, increments the identity's version count,
// and stores the payload inline for the database backend. The three
// writes run in one transaction so the count invariant cannot drift.
func (s *Store) AddVersion(ctx context.Context, identityID int64, version bot.ContentVersion, payload []byte) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin add version: %w", err)
	}
	if err := addVersionInTx(ctx, tx, identityID, version, payload); err != nil {
		rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add version: %w", err)
	}
	return nil
}

// addVersionInTx is shared by AddVersion and the commit protocol.
func addVersionInTx(ctx context.Context, tx pgx.Tx, identityID int64, version bot.ContentVersion, payload []byte) error {
	if _, err := tx.Exec(ctx, insertVersionSQL,
		version.ID, identityID, string(version.Backend), string(version.Action),
		version.FileName, version.MimeType, version.Location, version.Size,
		version.HashMethod, version.HashValue, version.Comment, version.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", bot.ErrDuplicateVersion, version.ID)
		}
		return fmt.Errorf("insert version: %w", err)
	}
	tag, err := tx.Exec(ctx, bumpVersionCountSQL, identityID)
	if err != nil {
		return fmt.Errorf("bump version count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", bot.ErrUnknownIdentity, identityID)
	}
	if version.Backend == bot.BackendDatabase {
		if _, err := tx.Exec(ctx,
			`INSERT INTO inline_content (version_id, payload) VALUES ($1, $2)`,
			version.ID, payload,
		); err != nil {
			return fmt.Errorf("insert inline payload: %w", err)
		}
	}
	return nil
}

// RemoveVersion deletes the version, its inline payload and version
// labels, decrements the count, and deletes the identity at zero, all in
// one transaction, so the operation cannot double-decrement no matter
// which direction triggered it. Removing an absent version is a no-op.
func (s *Store) RemoveVersion(ctx context.Context, versionID string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin remove version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM inline_content WHERE version_id = $1`, versionID,
	); err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("delete inline payload: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM label_to_version WHERE version_id = $1`, versionID,
	); err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("delete version labels: %w", err)
	}

	var identityID int64
	err = tx.QueryRow(ctx,
		`DELETE FROM content_versions WHERE id = $1 RETURNING identity_id`, versionID,
	).Scan(&identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		rollback(ctx, tx)
		return nil
	}
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("delete version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE content_identities SET version_count = version_count - 1 WHERE id = $1`,
		identityID,
	); err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("decrement version count: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM content_identities WHERE id = $1 AND version_count <= 0`,
		identityID,
	); err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("delete empty identity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove version: %w", err)
	}
	return nil
}

// RemoveAllVersions purges the identity and every version. The content
// store manages metadata only: external payload locations are returned
// so the caller can hand them to the payload sink for deletion.
func (s *Store) RemoveAllVersions(ctx context.Context, identityID int64) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin purge identity: %w", err)
	}

	rows, err := tx.Query(ctx, `
SELECT location FROM content_versions
WHERE identity_id = $1 AND backend <> 'database' AND location <> ''
ORDER BY location`,
		identityID,
	)
	if err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("list external locations: %w", err)
	}
	var locations []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			rows.Close()
			rollback(ctx, tx)
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, loc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("read locations: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM inline_content WHERE version_id IN
			(SELECT id FROM content_versions WHERE identity_id = $1)`,
		`DELETE FROM label_to_version WHERE version_id IN
			(SELECT id FROM content_versions WHERE identity_id = $1)`,
		`DELETE FROM content_versions WHERE identity_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, identityID); err != nil {
			rollback(ctx, tx)
			return nil, fmt.Errorf("purge versions: %w", err)
		}
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM content_identities WHERE id = $1`, identityID,
	)
	if err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("delete identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		rollback(ctx, tx)
		return nil, fmt.Errorf("%w: id %d", bot.ErrUnknownIdentity, identityID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purge identity: %w", err)
	}
	return locations, nil
}

// IdentityByURLKey looks up an identity without creating one.
func (s *Store) IdentityByURLKey(ctx context.Context, urlKey string) (bot.ContentIdentity, error) {
	var identity bot.ContentIdentity
	err := s.db.QueryRow(ctx,
		`SELECT id, url, url_key, version_count FROM content_identities WHERE url_key = $1`,
		urlKey,
	).Scan(&identity.ID, &identity.URL, &identity.URLKey, &identity.VersionCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return bot.ContentIdentity{}, fmt.Errorf("%w: %s", bot.ErrUnknownIdentity, urlKey)
	}
	if err != nil {
		return bot.ContentIdentity{}, fmt.Errorf("lookup identity: %w", err)
	}
	return identity, nil
}

// VersionsByURLKey returns every version of the identity, oldest first.
func (s *Store) VersionsByURLKey(ctx context.Context, urlKey string) ([]bot.ContentVersion, error) {
	rows, err := s.db.Query(ctx, `
SELECT v.id, v.identity_id, v.backend, v.action, v.file_name, v.mime_type,
	v.location, v.size, v.hash_method, v.hash_value, v.comment, v.created_at
FROM content_versions v
JOIN content_identities i ON i.id = v.identity_id
WHERE i.url_key = $1
ORDER BY v.created_at, v.id`,
		urlKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []bot.ContentVersion
	for rows.Next() {
		var (
			v       bot.ContentVersion
			backend string
			action  string
		)
		if err := rows.Scan(
			&v.ID, &v.IdentityID, &backend, &action, &v.FileName, &v.MimeType,
			&v.Location, &v.Size, &v.HashMethod, &v.HashValue, &v.Comment, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v.Backend = bot.Backend(backend)
		v.Action = bot.Action(action)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read versions: %w", err)
	}
	return out, nil
}

// InlinePayload returns the payload body for a database-backed version.
func (s *Store) InlinePayload(ctx context.Context, versionID string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM inline_content WHERE version_id = $1`, versionID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no inline payload for version %s", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("read inline payload: %w", err)
	}
	return payload, nil
}

// Commit runs the commit protocol as a single serializable transaction:
// identity find-or-create, version insert with the task's id, inline
// payload when applicable, and task removal. Serializable isolation
// keeps the version-id uniqueness check race-free under concurrent
// commits for the same url key. On any failure the transaction rolls
// back whole and the task stays queued for the caller to mark as a
// transient transaction failure.
func (s *Store) Commit(ctx context.Context, task bot.Task, result bot.CommitResult) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}

	var identityID int64
	err = tx.QueryRow(ctx, `
INSERT INTO content_identities (url, url_key, version_count)
VALUES ($1, $2, 0)
ON CONFLICT (url_key) DO UPDATE SET url = EXCLUDED.url
RETURNING id`,
		task.URL, task.URLKey,
	).Scan(&identityID)
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("upsert identity: %w", err)
	}

	version := bot.ContentVersion{
		ID:         task.ID,
		Backend:    result.Backend,
		Action:     task.Action,
		FileName:   result.FileName,
		MimeType:   result.MimeType,
		Location:   result.Location,
		Size:       result.Size,
		HashMethod: result.HashMethod,
		HashValue:  result.HashValue,
		Comment:    result.Comment,
		CreatedAt:  s.now(),
	}
	if err := addVersionInTx(ctx, tx, identityID, version, result.Payload); err != nil {
		rollback(ctx, tx)
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM crawl_queue WHERE id = $1`, task.ID)
	if err != nil {
		rollback(ctx, tx)
		return fmt.Errorf("dequeue committed task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		rollback(ctx, tx)
		return fmt.Errorf("%w: %s", bot.ErrUnknownTask, task.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
