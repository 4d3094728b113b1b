// Package memory provides an in-memory run ledger used for tests, dry runs
// and as the read model of the SQL backends.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"metarecon/internal/ledger/core"
)

var _ core.Store = (*Store)(nil)

// Snapshot captures every run held by the store.
type Snapshot struct {
	Runs []core.Run `json:"runs"`
}

// Store keeps runs in insertion order.
type Store struct {
	mu    sync.RWMutex
	order []uuid.UUID
	runs  map[uuid.UUID]core.Run
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{runs: make(map[uuid.UUID]core.Run)}
}

// Save inserts or replaces run.
func (s *Store) Save(ctx context.Context, run core.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == uuid.Nil {
		return fmt.Errorf("ledger: run without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(run)
	return nil
}

func (s *Store) put(run core.Run) {
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run.Clone()
}

// Get returns the run with id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (core.Run, error) {
	if err := ctx.Err(); err != nil {
		return core.Run{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return core.Run{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return run.Clone(), nil
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, opts core.ListOptions) ([]core.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return opts.Apply(s.ExportState().Runs), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Driver reports the backend kind.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// ExportState returns a copy of every run in insertion order.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Runs: make([]core.Run, 0, len(s.order))}
	for _, id := range s.order {
		out.Runs = append(out.Runs, s.runs[id].Clone())
	}
	return out
}

// ImportState replaces the store contents with snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.runs = make(map[uuid.UUID]core.Run, len(snapshot.Runs))
	for _, run := range snapshot.Runs {
		if run.ID == uuid.Nil {
			continue
		}
		s.put(run)
	}
}
