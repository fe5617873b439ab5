package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/urlkey"
)

// RecordOutcome upserts host statistics after a fetch attempt.
func (s *Store) RecordOutcome(_ context.Context, host string, success bool) error {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return fmt.Errorf("host is required")
	}
	key := urlkey.HostKey(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	stats, ok := s.hosts[key]
	if !ok {
		stats = &bot.HostStats{HostKey: key, Host: host, FirstSeen: now}
		s.hosts[key] = stats
	}
	stats.LastSeen = now
	if success {
		stats.SuccessCount++
	} else {
		stats.ProblemCount++
	}
	return nil
}

// Stats returns the ledger entry for a host.
func (s *Store) Stats(_ context.Context, host string) (bot.HostStats, error) {
	key := urlkey.HostKey(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.hosts[key]
	if !ok {
		return bot.HostStats{}, fmt.Errorf("no stats for host %q", host)
	}
	return *stats, nil
}
