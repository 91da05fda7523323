package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hamed0406/opswatch/internal/domain"
	"github.com/hamed0406/opswatch/internal/repo"
)

// DefaultCapacity is how many records New keeps when given a non-positive capacity.
const DefaultCapacity = 1000

// Store keeps the most recent records in a ring plus the newest record per poller.
type Store struct {
	mu      sync.RWMutex
	records []domain.RunRecord
	next    int
	full    bool
	latest  map[string]domain.RunRecord
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		records: make([]domain.RunRecord, capacity),
		latest:  make(map[string]domain.RunRecord),
	}
}

func (m *Store) Append(ctx context.Context, r domain.RunRecord) error {
	r = r.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.next] = r
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}
	if cur, ok := m.latest[r.Poller]; !ok || !r.Timestamp.Before(cur.Timestamp) {
		m.latest[r.Poller] = r
	}
	return nil
}

func (m *Store) Latest(ctx context.Context) ([]domain.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RunRecord, 0, len(m.latest))
	for _, r := range m.latest {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Poller < out[j].Poller })
	return out, nil
}

func (m *Store) List(ctx context.Context, q repo.Query) ([]domain.RunRecord, error) {
	q = q.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.records)
	}
	out := make([]domain.RunRecord, 0, min(n, q.Limit))
	for i := 0; i < n && len(out) < q.Limit; i++ {
		// walk backwards from the newest slot
		idx := (m.next - 1 - i + len(m.records)) % len(m.records)
		r := m.records[idx]
		if q.Poller != "" && r.Poller != q.Poller {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// Len reports how many records are held.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.records)
	}
	return m.next
}

var _ repo.RecordStore = (*Store)(nil)
