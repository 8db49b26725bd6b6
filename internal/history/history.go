// Package history offers accepted room events to a durable sink for
// chat history and analytics. The realtime core never waits on it: an
// offer that cannot be buffered is dropped.
package history

import (
	"context"
	"encoding/json"
	"time"
)

type Event struct {
	PartyId   string          `json:"party_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	UserId    int             `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// Sink accepts events fire-and-forget. Offer must never block.
type Sink interface {
	Offer(e Event)
	Close() error
}

// Store reads back recorded events for the history API.
type Store interface {
	Recent(ctx context.Context, partyId string, limit int) ([]Event, error)
}

// NopSink discards everything. Used when no Redis address is configured
// and in tests that don't care about history.
type NopSink struct{}

func (NopSink) Offer(Event) {}

func (NopSink) Close() error { return nil }

func (NopSink) Recent(context.Context, string, int) ([]Event, error) {
	return nil, nil
}
