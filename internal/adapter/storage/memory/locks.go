package memory

import (
	"context"
	"sync"
	"time"
)

// ttlSet is a set of keys that expire. It backs the in-process lock and
// event store used when Redis is not configured.
type ttlSet struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func newTTLSet() *ttlSet {
	return &ttlSet{keys: make(map[string]time.Time), now: time.Now}
}

func (s *ttlSet) liveLocked(key string) bool {
	exp, ok := s.keys[key]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.keys, key)
		return false
	}
	return true
}

// InitiationLock implements ports.InitiationLock for a single process.
type InitiationLock struct {
	set *ttlSet
}

func NewInitiationLock() *InitiationLock {
	return &InitiationLock{set: newTTLSet()}
}

func (l *InitiationLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.set.mu.Lock()
	defer l.set.mu.Unlock()
	if l.set.liveLocked(key) {
		return false, nil
	}
	l.set.keys[key] = l.set.now().Add(ttl)
	return true, nil
}

func (l *InitiationLock) Release(ctx context.Context, key string) error {
	l.set.mu.Lock()
	defer l.set.mu.Unlock()
	delete(l.set.keys, key)
	return nil
}

// EventStore implements ports.EventStore for a single process.
type EventStore struct {
	set *ttlSet
}

func NewEventStore() *EventStore {
	return &EventStore{set: newTTLSet()}
}

func (s *EventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	return s.set.liveLocked(eventID), nil
}

func (s *EventStore) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	s.set.mu.Lock()
	defer s.set.mu.Unlock()
	s.set.keys[eventID] = s.set.now().Add(ttl)
	return nil
}
