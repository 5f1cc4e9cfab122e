// Package memory contains an in-memory check event publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// Publisher keeps published check events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	topic  string
	events []PublishedEvent
}

// PublishedEvent captures one publish call.
type PublishedEvent struct {
	ID    string
	Topic string
	Event allotment.CheckEvent
}

// New returns a memory Publisher bound to topic.
func New(topic string) *Publisher {
	return &Publisher{topic: topic}
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, event allotment.CheckEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish check event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.events)+1)
	p.events = append(p.events, PublishedEvent{ID: id, Topic: p.topic, Event: event})
	return id, nil
}

// Events returns a copy of the recorded publishes.
func (p *Publisher) Events() []PublishedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}
