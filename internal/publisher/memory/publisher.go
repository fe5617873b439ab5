// Package memory contains an in-memory publisher used by tests and by
// runs configured without Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher records commit notifications instead of sending them.
type Publisher struct {
	mu       sync.RWMutex
	messages []Notification
}

// Notification captures one publish call.
type Notification struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the notification and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Notification{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Notifications returns the recorded publishes, oldest first.
func (p *Publisher) Notifications() []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Notification, len(p.messages))
	copy(out, p.messages)
	return out
}
