package samlsp

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RequestIDStore tracks the IDs of requests this SP has issued and not yet
// seen answered. It is the only mutable state shared across requests, so
// implementations must be safe for concurrent use; two overlapping login
// attempts from the same session must not corrupt the set.
type RequestIDStore interface {
	// Store records an issued request ID until it is consumed or expires.
	Store(id string, expireIn time.Duration) error

	// Has reports whether the ID is outstanding. It never mutates the set.
	Has(id string) bool

	// Consume removes the ID from the outstanding set, reporting whether it
	// was present. A consumed ID can never match again, which is what makes
	// a replayed response detectable.
	Consume(id string) bool
}

// MemoryRequestIDStore is an in-process RequestIDStore guarded by a mutex.
// Expired entries are dropped lazily on access.
type MemoryRequestIDStore struct {
	mu    sync.Mutex
	ids   map[string]time.Time
	clock clockwork.Clock
}

var _ RequestIDStore = (*MemoryRequestIDStore)(nil)

// NewMemoryRequestIDStore creates an empty store using the given clock.
func NewMemoryRequestIDStore(clock clockwork.Clock) *MemoryRequestIDStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRequestIDStore{
		ids:   map[string]time.Time{},
		clock: clock,
	}
}

func (s *MemoryRequestIDStore) Store(id string, expireIn time.Duration) error {
	if expireIn <= 0 {
		expireIn = DefaultRequestIDExpiry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	s.ids[id] = s.clock.Now().Add(expireIn)

	return nil
}

func (s *MemoryRequestIDStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	_, ok := s.ids[id]

	return ok
}

func (s *MemoryRequestIDStore) Consume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	_, ok := s.ids[id]
	if ok {
		delete(s.ids, id)
	}

	return ok
}

func (s *MemoryRequestIDStore) expireLocked() {
	now := s.clock.Now()
	for id, deadline := range s.ids {
		if now.After(deadline) {
			delete(s.ids, id)
		}
	}
}
