package store

import (
	"context"
	"sort"
	"sync"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
)

// MemoryRepository keeps records in a map. It implements Repository for
// tests and ephemeral deployments.
type MemoryRepository struct {
	mu   sync.RWMutex
	recs map[string]*Record
}

// NewMemory returns an empty MemoryRepository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{recs: make(map[string]*Record)}
}

func (m *MemoryRepository) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cp = *rec
	cp.UpdatedAt = time.Now()
	if prev, ok := m.recs[rec.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = cp.UpdatedAt
	}
	m.recs[rec.ID] = &cp
	return nil
}

func (m *MemoryRepository) FindByID(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rec, ok = m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	var cp = *rec
	return &cp, nil
}

func (m *MemoryRepository) FindByRRN(_ context.Context, rrn string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(r *Record) bool { return r.RRN == rrn }, 0), nil
}

func (m *MemoryRepository) FindByStatus(_ context.Context, status pf.TransactionStatus, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(r *Record) bool { return r.Status == status }, limit), nil
}

func (m *MemoryRepository) filterLocked(keep func(*Record) bool, limit int) []*Record {
	var out []*Record
	for _, r := range m.recs {
		if keep(r) {
			var cp = *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id string, status pf.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rec, ok = m.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) Close() error { return nil }
