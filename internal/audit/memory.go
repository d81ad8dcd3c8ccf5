package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/mama/pkg/types"
)

const defaultRingCapacity = 10000

// MemoryStore is a purely in-memory, bounded ring-buffer Store used when
// durable storage is unavailable. It preserves the same query contract as
// SQLStore.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []types.AuditEntry
	capacity int
}

// NewMemoryStore constructs an in-memory audit Store holding at most
// capacity entries (oldest evicted first). A capacity <= 0 uses the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (m *MemoryStore) Append(_ context.Context, entry types.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if len(m.entries) > m.capacity {
		m.entries = m.entries[len(m.entries)-m.capacity:]
	}
	return nil
}

func matches(e types.AuditEntry, filter types.AuditFilter) bool {
	if filter.Capability != "" && e.Capability != filter.Capability {
		return false
	}
	if filter.Action != "" && e.Action != filter.Action {
		return false
	}
	if filter.Result != "" && e.Result != filter.Result {
		return false
	}
	if filter.RequestedBy != "" && e.RequestedBy != filter.RequestedBy {
		return false
	}
	if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && e.Timestamp.After(*filter.Until) {
		return false
	}
	return true
}

func (m *MemoryStore) Query(_ context.Context, filter types.AuditFilter) ([]types.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.AuditEntry
	for _, e := range m.entries {
		if matches(e, filter) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetRecent(ctx context.Context, n int) ([]types.AuditEntry, error) {
	return m.Query(ctx, types.AuditFilter{Limit: n})
}
