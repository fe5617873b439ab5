package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/pagevault/pagevault/internal/bot"
)

// schemaStatements creates every table the bot needs. Reference counting
// is maintained by application logic inside the commit and removal
// transactions, never by triggers, so there is exactly one mutation path
// for version_count.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS actions (
		code        TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS storage_backends (
		code        TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS failure_kinds (
		code      TEXT PRIMARY KEY,
		permanent BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS crawl_queue (
		id            UUID PRIMARY KEY,
		action        TEXT NOT NULL REFERENCES actions(code),
		url           TEXT NOT NULL,
		url_key       CHAR(64) NOT NULL,
		host          TEXT NOT NULL,
		host_key      CHAR(64) NOT NULL,
		prettify      BOOLEAN NOT NULL DEFAULT FALSE,
		enqueued_at   TIMESTAMPTZ NOT NULL,
		try_count     INT NOT NULL DEFAULT 0,
		failure_kind  TEXT REFERENCES failure_kinds(code),
		delay_until   TIMESTAMPTZ,
		claimed_by    TEXT,
		lease_until   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS crawl_queue_fifo_idx
		ON crawl_queue (enqueued_at, id)`,
	`CREATE INDEX IF NOT EXISTS crawl_queue_url_key_idx
		ON crawl_queue (url_key)`,
	`CREATE TABLE IF NOT EXISTS content_identities (
		id            BIGSERIAL PRIMARY KEY,
		url           TEXT NOT NULL,
		url_key       CHAR(64) NOT NULL UNIQUE,
		version_count INT NOT NULL DEFAULT 0 CHECK (version_count >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS content_versions (
		id          UUID PRIMARY KEY,
		identity_id BIGINT NOT NULL REFERENCES content_identities(id),
		backend     TEXT NOT NULL REFERENCES storage_backends(code),
		action      TEXT NOT NULL REFERENCES actions(code),
		file_name   TEXT NOT NULL DEFAULT '',
		mime_type   TEXT NOT NULL DEFAULT '',
		location    TEXT NOT NULL DEFAULT '',
		size        BIGINT NOT NULL DEFAULT 0,
		hash_method TEXT NOT NULL DEFAULT '',
		hash_value  TEXT NOT NULL DEFAULT '',
		comment     TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS content_versions_identity_idx
		ON content_versions (identity_id)`,
	`CREATE TABLE IF NOT EXISTS inline_content (
		version_id UUID PRIMARY KEY REFERENCES content_versions(id),
		payload    BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS labels (
		id          BIGSERIAL PRIMARY KEY,
		short_name  TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS label_to_identity (
		label_id BIGINT NOT NULL REFERENCES labels(id),
		url_key  CHAR(64) NOT NULL,
		PRIMARY KEY (label_id, url_key)
	)`,
	`CREATE TABLE IF NOT EXISTS label_to_version (
		label_id   BIGINT NOT NULL REFERENCES labels(id),
		version_id UUID NOT NULL,
		PRIMARY KEY (label_id, version_id)
	)`,
	`CREATE TABLE IF NOT EXISTS host_stats (
		host_key      CHAR(64) PRIMARY KEY,
		host          TEXT NOT NULL,
		first_seen    TIMESTAMPTZ NOT NULL,
		last_seen     TIMESTAMPTZ NOT NULL,
		success_count BIGINT NOT NULL DEFAULT 0,
		problem_count BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS blocklist (
		host_key CHAR(64) PRIMARY KEY,
		host     TEXT NOT NULL,
		comment  TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Seed inserts the reference data: action codes, storage backends, and
// the failure taxonomy. Seeding is idempotent and existing rows are left
// untouched, so the enumerations stay immutable after first boot.
func (s *Store) Seed(ctx context.Context) error {
	for _, action := range bot.Actions() {
		if _, err := s.db.Exec(ctx,
			`INSERT INTO actions (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`,
			string(action),
		); err != nil {
			return fmt.Errorf("seed action %s: %w", action, err)
		}
	}
	for _, backend := range bot.Backends() {
		if _, err := s.db.Exec(ctx,
			`INSERT INTO storage_backends (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`,
			string(backend),
		); err != nil {
			return fmt.Errorf("seed backend %s: %w", backend, err)
		}
	}
	kinds := bot.FailureKinds()
	codes := make([]string, 0, len(kinds))
	for kind := range kinds {
		codes = append(codes, string(kind))
	}
	// Deterministic order keeps the seed reproducible.
	sort.Strings(codes)
	for _, code := range codes {
		if _, err := s.db.Exec(ctx,
			`INSERT INTO failure_kinds (code, permanent) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`,
			code, kinds[bot.FailureKind(code)],
		); err != nil {
			return fmt.Errorf("seed failure kind %s: %w", code, err)
		}
	}
	return nil
}
