package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultTTL     = 24 * time.Hour
	defaultKeep    = 1000
	offerQueueSize = 1024
	writeTimeout   = 2 * time.Second
)

type RedisSink struct {
	client *redis.Client
	log    *log.Logger
	events chan Event
	keep   int
	ttl    time.Duration
	done   chan struct{}
}

func NewRedisSink(client *redis.Client, logger *log.Logger) *RedisSink {
	s := &RedisSink{
		client: client,
		log:    logger,
		events: make(chan Event, offerQueueSize),
		keep:   defaultKeep,
		ttl:    defaultTTL,
		done:   make(chan struct{}),
	}

	go s.run()
	return s
}

func (s *RedisSink) eventsKey(partyId string) string {
	return fmt.Sprintf("party:%s:events", partyId)
}

// Offer enqueues an event for the background writer. Drops the event if
// the queue is full so a slow Redis never backpressures a room.
func (s *RedisSink) Offer(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Printf("history: dropping event seq %d for party %q, queue full", e.Seq, e.PartyId)
	}
}

func (s *RedisSink) run() {
	defer close(s.done)

	for e := range s.events {
		data, err := json.Marshal(e)
		if err != nil {
			s.log.Println("history: marshal event:", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		key := s.eventsKey(e.PartyId)

		pipe := s.client.Pipeline()
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(s.keep-1))
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			s.log.Printf("history: write event for party %q: %v", e.PartyId, err)
		}
		cancel()
	}
}

// Recent returns up to limit of the most recently recorded events for a
// party, newest first.
func (s *RedisSink) Recent(ctx context.Context, partyId string, limit int) ([]Event, error) {
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}

	raw, err := s.client.LRange(ctx, s.eventsKey(partyId), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var e Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.log.Println("history: unmarshal event:", err)
			continue
		}
		events = append(events, e)
	}

	return events, nil
}

func (s *RedisSink) Close() error {
	close(s.events)
	<-s.done
	return s.client.Close()
}
