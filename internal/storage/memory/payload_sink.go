package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// PayloadSink stores payloads in-memory and returns pseudo locations.
type PayloadSink struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewPayloadSink creates an in-memory payload sink.
func NewPayloadSink() *PayloadSink {
	return &PayloadSink{data: make(map[string][]byte)}
}

// Put persists the payload and returns a memory:// location.
func (s *PayloadSink) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Delete removes a previously stored payload. Unknown locations are a
// no-op so identity purges stay idempotent.
func (s *PayloadSink) Delete(_ context.Context, location string) error {
	path := strings.TrimPrefix(location, "memory://")
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, path)
	return nil
}

// Get returns a stored payload for inspection in tests.
func (s *PayloadSink) Get(location string) ([]byte, bool) {
	path := strings.TrimPrefix(location, "memory://")
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
