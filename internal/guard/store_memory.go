package guard

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Limits are per process and
// reset on restart.
type MemoryStore[T any] struct {
	mu   sync.Mutex
	recs map[int64]*T
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{recs: map[int64]*T{}}
}

func (s *MemoryStore[T]) Update(_ context.Context, userID int64, fn func(rec *T)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[userID]
	if !ok {
		rec = new(T)
		s.recs[userID] = rec
	}
	fn(rec)
	return nil
}

func (s *MemoryStore[T]) Sweep(_ context.Context, expired func(rec *T) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.recs {
		if expired(rec) {
			delete(s.recs, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live records.
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}
