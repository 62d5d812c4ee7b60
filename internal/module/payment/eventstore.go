package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventStore answers the webhook dedup question: has this event already
// been fully processed? Events are marked only after processing
// succeeds, so a delivery that failed mid-flight is reprocessed when
// the gateway redelivers it.
type EventStore interface {
	Seen(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) error
}

// RedisEventStore keeps processed-event markers in Redis with a TTL.
// PayPal redelivers undelivered webhooks for up to three days, so the
// TTL only needs to outlive that window.
type RedisEventStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisEventStore creates a Redis-backed event store.
func NewRedisEventStore(client redis.UniversalClient, ttl time.Duration) *RedisEventStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisEventStore{client: client, ttl: ttl}
}

func eventKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:events:%s:%s", provider, eventID)
}

func (s *RedisEventStore) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, eventKey(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return n > 0, nil
}

func (s *RedisEventStore) MarkProcessed(ctx context.Context, provider, eventID string) error {
	err := s.client.Set(ctx, eventKey(provider, eventID), "1", s.ttl).Err()
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}

// MemoryEventStore is an in-process event store for tests and
// single-node development setups.
type MemoryEventStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryEventStore creates an in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{seen: make(map[string]struct{})}
}

func (s *MemoryEventStore) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventKey(provider, eventID)]
	return ok, nil
}

func (s *MemoryEventStore) MarkProcessed(ctx context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[eventKey(provider, eventID)] = struct{}{}
	return nil
}
