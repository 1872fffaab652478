package syncrun

import (
	"sync"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// KeyLockRegistry
// ---------------------------------------------------------------------------

// KeyLockRegistry hands out mutexes keyed by (tenant, string key). It backs
// the first-writer-wins vendor creation path: callers racing on the same
// vendor key serialize, while different keys proceed in parallel. Entries
// are reference counted and removed once idle.
type KeyLockRegistry struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLockRegistry creates a new KeyLockRegistry
func NewKeyLockRegistry() *KeyLockRegistry {
	return &KeyLockRegistry{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for a tenant-scoped key and returns its release
// function.
func (r *KeyLockRegistry) Lock(tenantID uuid.UUID, key string) func() {
	id := tenantID.String() + "/" + key

	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &refLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}
