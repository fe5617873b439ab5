package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/urlkey"
)

// RecordOutcome upserts the ledger row for a host and bumps the
// appropriate counter.
func (s *Store) RecordOutcome(ctx context.Context, host string, success bool) error {
	now := s.now()
	successInc, problemInc := 0, 1
	if success {
		successInc, problemInc = 1, 0
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO host_stats (host_key, host, first_seen, last_seen, success_count, problem_count)
VALUES ($1, $2, $3, $3, $4, $5)
ON CONFLICT (host_key) DO UPDATE SET
	last_seen = EXCLUDED.last_seen,
	success_count = host_stats.success_count + EXCLUDED.success_count,
	problem_count = host_stats.problem_count + EXCLUDED.problem_count`,
		urlkey.HostKey(host), host, now, successInc, problemInc,
	); err != nil {
		return fmt.Errorf("record host outcome: %w", err)
	}
	return nil
}

// Stats returns the ledger row for a host.
func (s *Store) Stats(ctx context.Context, host string) (bot.HostStats, error) {
	var st bot.HostStats
	err := s.db.QueryRow(ctx, `
SELECT host_key, host, first_seen, last_seen, success_count, problem_count
FROM host_stats WHERE host_key = $1`, urlkey.HostKey(host),
	).Scan(&st.HostKey, &st.Host, &st.FirstSeen, &st.LastSeen, &st.SuccessCount, &st.ProblemCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return bot.HostStats{}, fmt.Errorf("no stats for host %q", host)
	}
	if err != nil {
		return bot.HostStats{}, fmt.Errorf("host stats: %w", err)
	}
	return st, nil
}

// IsBlocked reports whether crawling the host is disallowed.
func (s *Store) IsBlocked(ctx context.Context, host string) (bool, error) {
	var blocked bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocklist WHERE host_key = $1)`,
		urlkey.HostKey(host),
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check blocklist: %w", err)
	}
	return blocked, nil
}

// Block adds a host to the blocklist. Blocking twice updates the
// comment.
func (s *Store) Block(ctx context.Context, host, comment string) error {
	if _, err := s.db.Exec(ctx, `
INSERT INTO blocklist (host_key, host, comment)
VALUES ($1, $2, $3)
ON CONFLICT (host_key) DO UPDATE SET comment = EXCLUDED.comment`,
		urlkey.HostKey(host), host, comment,
	); err != nil {
		return fmt.Errorf("block host: %w", err)
	}
	return nil
}

// Unblock removes a host from the blocklist.
func (s *Store) Unblock(ctx context.Context, host string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM blocklist WHERE host_key = $1`, urlkey.HostKey(host),
	); err != nil {
		return fmt.Errorf("unblock host: %w", err)
	}
	return nil
}
