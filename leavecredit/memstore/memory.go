// Package memstore provides an in-memory leavecredit.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-credits/leavecredit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu          sync.RWMutex
	rows        []leavecredit.Entry // write order
	byID        map[string]int      // entry ID -> index in rows
	current     map[leavecredit.BucketKey]int
	idempotency map[string]bool
	runs        map[leavecredit.PeriodToken]leavecredit.Run
}

func New() *Store {
	return &Store{
		byID:        make(map[string]int),
		current:     make(map[leavecredit.BucketKey]int),
		idempotency: make(map[string]bool),
		runs:        make(map[leavecredit.PeriodToken]leavecredit.Run),
	}
}

func (s *Store) Current(_ context.Context, key leavecredit.BucketKey) (*leavecredit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.current[key]
	if !ok {
		return nil, &leavecredit.NotFoundError{Kind: "bucket", Key: key.String()}
	}
	e := s.rows[i]
	return &e, nil
}

func (s *Store) Get(_ context.Context, id string) (*leavecredit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, &leavecredit.NotFoundError{Kind: "entry", Key: id}
	}
	e := s.rows[i]
	return &e, nil
}

func (s *Store) Snapshot(_ context.Context, filter leavecredit.SnapshotFilter) (leavecredit.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(leavecredit.Snapshot)
	for key, i := range s.current {
		if filter.Matches(key) {
			snap[key] = s.rows[i]
		}
	}
	return snap, nil
}

func (s *Store) History(_ context.Context, key leavecredit.BucketKey) ([]leavecredit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []leavecredit.Entry
	for _, e := range s.rows {
		if e.Key() == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, e leavecredit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.IdempotencyKey != "" && s.idempotency[e.IdempotencyKey] {
		return leavecredit.ErrDuplicateIdempotencyKey
	}
	if _, exists := s.current[e.Key()]; exists && e.TransactionType == leavecredit.TxInitial {
		return &leavecredit.ConflictError{Key: e.Key().String(), Message: "bucket already exists"}
	}

	s.rows = append(s.rows, e)
	i := len(s.rows) - 1
	s.byID[e.ID] = i
	s.current[e.Key()] = i
	if e.IdempotencyKey != "" {
		s.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (s *Store) Update(_ context.Context, e leavecredit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[e.ID]
	if !ok {
		return &leavecredit.NotFoundError{Kind: "entry", Key: e.ID}
	}
	if s.current[e.Key()] != i {
		return &leavecredit.ConflictError{Key: e.ID, Message: "entry is not the current row of its bucket"}
	}
	s.rows[i] = e
	return nil
}

func (s *Store) ReferencesPolicy(_ context.Context, policyID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.rows {
		if e.PolicyID == policyID {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (s *Store) ClaimPeriod(_ context.Context, run leavecredit.Run) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.runs[run.Token]; ok && existing.Status != leavecredit.RunFailed {
		return false, nil
	}
	s.runs[run.Token] = run
	return true, nil
}

func (s *Store) FinishRun(_ context.Context, run leavecredit.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.Token]
	if !ok || existing.ID != run.ID {
		return &leavecredit.NotFoundError{Kind: "run", Key: run.ID}
	}
	s.runs[run.Token] = run
	return nil
}

func (s *Store) ListRuns(_ context.Context) ([]leavecredit.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]leavecredit.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
