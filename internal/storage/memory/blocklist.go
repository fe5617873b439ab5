package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/pagevault/pagevault/internal/bot"
	"github.com/pagevault/pagevault/internal/urlkey"
)

// IsBlocked checks the blocklist by exact host match.
func (s *Store) IsBlocked(_ context.Context, host string) (bool, error) {
	key := urlkey.HostKey(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[key]
	return ok, nil
}

// Block suppresses a host. Tasks already enqueued for it stop being
// claimable immediately.
func (s *Store) Block(_ context.Context, host, comment string) error {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return fmt.Errorf("host is required")
	}
	key := urlkey.HostKey(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[key] = bot.BlocklistEntry{HostKey: key, Host: host, Comment: comment}
	return nil
}

// Unblock removes a host from the blocklist.
func (s *Store) Unblock(_ context.Context, host string) error {
	key := urlkey.HostKey(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocked, key)
	return nil
}
