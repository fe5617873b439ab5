package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pagevault/pagevault/internal/bot"
)

// EnsureLabel creates a label or refreshes its description.
func (s *Store) EnsureLabel(ctx context.Context, shortName, description string) (bot.Label, error) {
	if shortName == "" {
		return bot.Label{}, fmt.Errorf("label short name is required")
	}
	var label bot.Label
	err := s.db.QueryRow(ctx, `
INSERT INTO labels (short_name, description)
VALUES ($1, $2)
ON CONFLICT (short_name) DO UPDATE SET description = CASE
	WHEN EXCLUDED.description <> '' THEN EXCLUDED.description
	ELSE labels.description END
RETURNING id, short_name, description`,
		shortName, description,
	).Scan(&label.ID, &label.ShortName, &label.Description)
	if err != nil {
		return bot.Label{}, fmt.Errorf("ensure label: %w", err)
	}
	return label, nil
}

func (s *Store) labelID(ctx context.Context, shortName string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`SELECT id FROM labels WHERE short_name = $1`, shortName,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", bot.ErrUnknownLabel, shortName)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup label: %w", err)
	}
	return id, nil
}

// AttachToURLKey binds a label to a url key; the identity may not exist
// yet. Attaching twice is a no-op.
func (s *Store) AttachToURLKey(ctx context.Context, shortName, urlKey string) error {
	id, err := s.labelID(ctx, shortName)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO label_to_identity (label_id, url_key)
VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		id, urlKey,
	); err != nil {
		return fmt.Errorf("attach label to url key: %w", err)
	}
	return nil
}

// DetachFromURLKey removes an identity-level association.
func (s *Store) DetachFromURLKey(ctx context.Context, shortName, urlKey string) error {
	id, err := s.labelID(ctx, shortName)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`DELETE FROM label_to_identity WHERE label_id = $1 AND url_key = $2`,
		id, urlKey,
	); err != nil {
		return fmt.Errorf("detach label from url key: %w", err)
	}
	return nil
}

// AttachToVersion binds a label to an existing content version.
func (s *Store) AttachToVersion(ctx context.Context, shortName, versionID string) error {
	id, err := s.labelID(ctx, shortName)
	if err != nil {
		return err
	}
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM content_versions WHERE id = $1)`, versionID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if !exists {
		return fmt.Errorf("no version %s to label", versionID)
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO label_to_version (label_id, version_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		id, versionID,
	); err != nil {
		return fmt.Errorf("attach label to version: %w", err)
	}
	return nil
}

// DetachFromVersion removes a version-level association.
func (s *Store) DetachFromVersion(ctx context.Context, shortName, versionID string) error {
	id, err := s.labelID(ctx, shortName)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`DELETE FROM label_to_version WHERE label_id = $1 AND version_id = $2`,
		id, versionID,
	); err != nil {
		return fmt.Errorf("detach label from version: %w", err)
	}
	return nil
}

// LabelsForURLKey returns the identity-level labels for a url key.
func (s *Store) LabelsForURLKey(ctx context.Context, urlKey string) ([]bot.Label, error) {
	return s.listLabels(ctx, `
SELECT l.id, l.short_name, l.description
FROM labels l
JOIN label_to_identity li ON li.label_id = l.id
WHERE li.url_key = $1
ORDER BY l.short_name`, urlKey)
}

// LabelsForVersion returns the version-level labels for a version id.
func (s *Store) LabelsForVersion(ctx context.Context, versionID string) ([]bot.Label, error) {
	return s.listLabels(ctx, `
SELECT l.id, l.short_name, l.description
FROM labels l
JOIN label_to_version lv ON lv.label_id = l.id
WHERE lv.version_id = $1
ORDER BY l.short_name`, versionID)
}

func (s *Store) listLabels(ctx context.Context, query string, arg any) ([]bot.Label, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()
	var out []bot.Label
	for rows.Next() {
		var l bot.Label
		if err := rows.Scan(&l.ID, &l.ShortName, &l.Description); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return out, nil
}

// SweepOrphans removes identity-level associations whose url key matches
// neither a content identity nor a pending task.
func (s *Store) SweepOrphans(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `
DELETE FROM label_to_identity li
WHERE NOT EXISTS (SELECT 1 FROM content_identities i WHERE i.url_key = li.url_key)
	AND NOT EXISTS (SELECT 1 FROM crawl_queue q WHERE q.url_key = li.url_key)`)
	if err != nil {
		return 0, fmt.Errorf("sweep orphaned labels: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
