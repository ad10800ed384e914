package loginstate

import (
	"context"
	"sync"
	"time"

	"github.com/campus-carpool/rides-api/internal/ports/out/loginstate"
)

type entry struct {
	rec       loginstate.Record
	expiresAt time.Time
}

// Store is an in-memory implementation of loginstate.Store.
// It is safe for concurrent use. Expired entries are dropped lazily on access.
type Store struct {
	mu  sync.Mutex
	m   map[loginstate.State]entry
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		m:   make(map[loginstate.State]entry),
		now: time.Now,
	}
}

func (s *Store) Put(ctx context.Context, st loginstate.State, rec loginstate.Record, ttl time.Duration) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[st] = entry{rec: rec, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) Take(ctx context.Context, st loginstate.State) (loginstate.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[st]
	if !ok {
		return loginstate.Record{}, loginstate.ErrNotFound
	}
	delete(s.m, st)
	if !s.now().Before(e.expiresAt) {
		return loginstate.Record{}, loginstate.ErrNotFound
	}
	return e.rec, nil
}

// SetNowForTest overrides the time source for deterministic expiry tests.
// It should not be used in production code.
func (s *Store) SetNowForTest(fn func() time.Time) {
	if fn != nil {
		s.mu.Lock()
		s.now = fn
		s.mu.Unlock()
	}
}
