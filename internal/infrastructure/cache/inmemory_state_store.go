package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stateEntry represents a stored nonce with expiration
type stateEntry struct {
	expiresAt time.Time
}

// InMemoryStateStore implements accounting.StateStore with an in-memory map.
// Suitable for single-instance deployments and testing.
type InMemoryStateStore struct {
	mu        sync.Mutex
	entries   map[string]stateEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryStateStore creates a new in-memory OAuth state store.
// It starts a background goroutine to clean up expired nonces.
func NewInMemoryStateStore() *InMemoryStateStore {
	store := &InMemoryStateStore{
		entries:  make(map[string]stateEntry),
		stopChan: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.cleanupLoop()

	return store
}

func stateKey(tenantID uuid.UUID, state string) string {
	return tenantID.String() + ":" + state
}

// Put stores a nonce for a tenant with the given TTL
func (s *InMemoryStateStore) Put(_ context.Context, tenantID uuid.UUID, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[stateKey(tenantID, state)] = stateEntry{expiresAt: time.Now().Add(ttl)}
	return nil
}

// Consume atomically checks and deletes a nonce
func (s *InMemoryStateStore) Consume(_ context.Context, tenantID uuid.UUID, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(tenantID, state)
	e, exists := s.entries[key]
	if !exists {
		return false, nil
	}
	delete(s.entries, key)
	if time.Now().After(e.expiresAt) {
		return false, nil
	}
	return true, nil
}

// cleanupLoop periodically removes expired nonces
func (s *InMemoryStateStore) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine
func (s *InMemoryStateStore) Close() {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
}
