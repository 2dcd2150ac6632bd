package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/nucleus/fluxion/internal/core"
)

// MemoryStore keeps runs in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]core.ExecutionRun
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]core.ExecutionRun)}
}

func (m *MemoryStore) Create(ctx context.Context, run core.ExecutionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (core.ExecutionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return core.ExecutionRun{}, ErrNotFound
	}
	return run, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, from core.RunState, run core.ExecutionRun) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return false, ErrNotFound
	}
	if stored.State != from {
		return false, nil
	}
	m.runs[run.ID] = run
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]core.ExecutionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.ExecutionRun, 0, len(m.runs))
	for _, run := range m.runs {
		if f.LocationID != "" && run.LocationID != f.LocationID {
			continue
		}
		if f.State != "" && run.State != f.State {
			continue
		}
		if !f.Since.IsZero() && run.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
