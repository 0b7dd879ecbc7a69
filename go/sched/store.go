package sched

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists scheduled transfers.
type Store interface {
	// Save upserts |st|.
	Save(ctx context.Context, st *ScheduledTransfer) error
	// Get returns the schedule of |id|, or ErrNotFound.
	Get(ctx context.Context, id string) (*ScheduledTransfer, error)
	// Due returns ACTIVE schedules with NextRun on or before |date|.
	Due(ctx context.Context, date time.Time) ([]*ScheduledTransfer, error)
	// ByCustomer returns the schedules of |customerID|, newest first.
	ByCustomer(ctx context.Context, customerID string) ([]*ScheduledTransfer, error)
	// Close releases the store.
	Close() error
}

// MemoryStore keeps schedules in a map, for tests and ephemeral gateways.
type MemoryStore struct {
	mu     sync.RWMutex
	scheds map[string]*ScheduledTransfer
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scheds: make(map[string]*ScheduledTransfer)}
}

func (m *MemoryStore) Save(_ context.Context, st *ScheduledTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cp = *st
	m.scheds[st.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*ScheduledTransfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st, ok = m.scheds[id]
	if !ok {
		return nil, ErrNotFound
	}
	var cp = *st
	return &cp, nil
}

func (m *MemoryStore) Due(_ context.Context, date time.Time) ([]*ScheduledTransfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ScheduledTransfer
	for _, st := range m.scheds {
		if st.Status == Active && !st.NextRun.After(date) {
			var cp = *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out, nil
}

func (m *MemoryStore) ByCustomer(_ context.Context, customerID string) ([]*ScheduledTransfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ScheduledTransfer
	for _, st := range m.scheds {
		if st.CustomerID == customerID {
			var cp = *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
