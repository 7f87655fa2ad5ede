package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record // key: owner_id|call_id
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

func (r *MemoryRepo) Insert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := rec.OwnerID + "|" + rec.CallID
	if _, ok := r.records[k]; ok {
		return nil
	}
	r.records[k] = rec
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	out := r.owned(ownerID, func(Record) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListRange(ctx context.Context, ownerID string, from, to time.Time) ([]Record, error) {
	return r.owned(ownerID, func(rec Record) bool {
		return !rec.CreatedAt.Before(from) && rec.CreatedAt.Before(to)
	}), nil
}

func (r *MemoryRepo) owned(ownerID string, keep func(Record) bool) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.OwnerID == ownerID && keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Len returns the number of stored records across all owners.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
