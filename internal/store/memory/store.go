// Package memory is the run store used when no database is configured. The lock
// only guards runs inside this process.
package memory

import (
	"context"
	"sync"

	"trendcast/internal/store"
)

type Store struct {
	lock sync.Mutex

	mu   sync.RWMutex
	runs []store.RunRecord
	// keep is the number of runs retained; 0 means 100
	keep int
}

var _ store.RunStore = (*Store)(nil)

func New() *Store { return &Store{keep: 100} }

func (s *Store) TryLock(ctx context.Context) (func(), bool, error) {
	if !s.lock.TryLock() {
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(s.lock.Unlock) }, true, nil
}

func (s *Store) StartRun(ctx context.Context, rec store.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Status = store.RunRunning
	s.runs = append(s.runs, rec)
	if keep := s.limit(); len(s.runs) > keep {
		s.runs = append([]store.RunRecord(nil), s.runs[len(s.runs)-keep:]...)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, rec store.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].RunID == rec.RunID {
			s.runs[i] = rec
			return nil
		}
	}
	s.runs = append(s.runs, rec)
	return nil
}

func (s *Store) LastRun(ctx context.Context) (store.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return store.RunRecord{}, false, nil
	}
	return s.runs[len(s.runs)-1], true, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) limit() int {
	if s.keep <= 0 {
		return 100
	}
	return s.keep
}
