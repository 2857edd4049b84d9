package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// EventStore implements ports.EventStore: a TTL'd set of processed
// webhook event ids.
type EventStore struct {
	client *goredis.Client
	prefix string
}

// NewEventStore creates a Redis-backed webhook event store.
func NewEventStore(client *goredis.Client) *EventStore {
	return &EventStore{
		client: client,
		prefix: keyPrefix + "webhook_event:",
	}
}

// Seen reports whether eventID was already processed.
func (s *EventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis event lookup: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records eventID as processed for ttl.
func (s *EventStore) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+eventID, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("redis event mark: %w", err)
	}
	return nil
}
