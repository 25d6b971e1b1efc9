// Package memory records published events in memory for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

var _ ingest.Publisher = (*Publisher)(nil)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent Publish calls return err. A nil err restores
// normal behavior.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// StagedEvents returns the recorded ingest.StagedEvent payloads for topic.
func (p *Publisher) StagedEvents(topic string) []ingest.StagedEvent {
	var out []ingest.StagedEvent
	for _, msg := range p.Messages() {
		if evt, ok := msg.Payload.(ingest.StagedEvent); ok && msg.Topic == topic {
			out = append(out, evt)
		}
	}
	return out
}
