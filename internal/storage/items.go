package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dharsanguruparan/indexqueue/internal/model"
)

// MemoryItems is an in-memory queue table. A single mutex serializes writers
// so every operation is atomic, matching the transactional Postgres store.
type MemoryItems struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*model.Item
}

// NewMemoryItems constructs an empty queue store.
func NewMemoryItems() *MemoryItems {
	return &MemoryItems{items: make(map[int64]*model.Item)}
}

func copyItem(it *model.Item) *model.Item {
	cp := *it
	if it.Properties != nil {
		cp.Properties = make(map[string]string, len(it.Properties))
		for k, v := range it.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

func (m *MemoryItems) match(it *model.Item, f model.ItemFilter) bool {
	switch {
	case f.ID != 0 && it.ID != f.ID:
		return false
	case f.RootPageID != 0 && it.RootPageID != f.RootPageID:
		return false
	case f.ItemType != "" && it.ItemType != f.ItemType:
		return false
	case f.ItemUID != 0 && it.ItemUID != f.ItemUID:
		return false
	case f.IndexingConfiguration != "" && it.IndexingConfiguration != f.IndexingConfiguration:
		return false
	case f.OnlyErrors && it.Errors == "":
		return false
	}
	return true
}

// InsertItems implements model.ItemStore.
func (m *MemoryItems) InsertItems(_ context.Context, items []*model.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.nextID++
		it.ID = m.nextID
		it.HasIndexingProperties = len(it.Properties) > 0
		m.items[it.ID] = copyItem(it)
	}
	return nil
}

// UpdateChanged implements model.ItemStore.
func (m *MemoryItems) UpdateChanged(_ context.Context, itemType string, uid int, changed int64, configuration string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, it := range m.items {
		if it.ItemType != itemType || it.ItemUID != uid {
			continue
		}
		if changed > it.Changed {
			it.Errors = ""
		}
		it.Changed = changed
		if configuration != "" {
			it.IndexingConfiguration = configuration
		}
		n++
	}
	return n, nil
}

// UpdateItemChanged implements model.ItemStore.
func (m *MemoryItems) UpdateItemChanged(_ context.Context, id int64, changed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %d: %w", id, model.ErrNotFound)
	}
	if changed > it.Changed {
		it.Errors = ""
	}
	it.Changed = changed
	return nil
}

// FindItems implements model.ItemStore. Results are ordered by id.
func (m *MemoryItems) FindItems(_ context.Context, f model.ItemFilter) ([]*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Item
	for _, it := range m.items {
		if m.match(it, f) {
			out = append(out, copyItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryItems) due(root int, now int64, claimable bool) []*model.Item {
	var out []*model.Item
	for _, it := range m.items {
		if it.RootPageID != root || !it.Due(now) {
			continue
		}
		if claimable && it.ClaimedBy != "" && it.ClaimedUntil > now {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Changed != b.Changed {
			return a.Changed > b.Changed
		}
		return a.ID > b.ID
	})
	return out
}

// DueItems implements model.ItemStore.
func (m *MemoryItems) DueItems(_ context.Context, root int, now int64, limit int) ([]*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := m.due(root, now, false)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*model.Item, len(due))
	for i, it := range due {
		out[i] = copyItem(it)
	}
	return out, nil
}

// ClaimDueItems implements model.ItemStore.
func (m *MemoryItems) ClaimDueItems(_ context.Context, root int, now int64, limit int, owner string, until int64) ([]*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := m.due(root, now, true)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*model.Item, len(due))
	for i, it := range due {
		it.ClaimedBy = owner
		it.ClaimedUntil = until
		out[i] = copyItem(it)
	}
	return out, nil
}

// MarkIndexed implements model.ItemStore.
func (m *MemoryItems) MarkIndexed(_ context.Context, id int64, at int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %d: %w", id, model.ErrNotFound)
	}
	if at > it.Indexed {
		it.Indexed = at
	}
	it.ClaimedBy, it.ClaimedUntil = "", 0
	return nil
}

// MarkFailed implements model.ItemStore.
func (m *MemoryItems) MarkFailed(_ context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %d: %w", id, model.ErrNotFound)
	}
	it.Errors = message
	it.ClaimedBy, it.ClaimedUntil = "", 0
	return nil
}

// ResetErrors implements model.ItemStore.
func (m *MemoryItems) ResetErrors(_ context.Context, f model.ItemFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, it := range m.items {
		if it.Errors != "" && m.match(it, f) {
			it.Errors = ""
			n++
		}
	}
	return n, nil
}

// DeleteItems implements model.ItemStore.
func (m *MemoryItems) DeleteItems(_ context.Context, f model.ItemFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, it := range m.items {
		if m.match(it, f) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

// Statistics implements model.ItemStore.
func (m *MemoryItems) Statistics(_ context.Context, root int, configuration string) (model.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st model.Statistics
	for _, it := range m.items {
		if it.RootPageID != root || (configuration != "" && it.IndexingConfiguration != configuration) {
			continue
		}
		st.Total++
		if it.Errors != "" {
			st.Failed++
		} else if it.Changed > it.Indexed {
			st.Pending++
		}
		if it.Indexed > 0 {
			st.Success++
		}
	}
	return st, nil
}

// SetProperties implements model.ItemStore.
func (m *MemoryItems) SetProperties(_ context.Context, id int64, _ int, props map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %d: %w", id, model.ErrNotFound)
	}
	it.Properties = make(map[string]string, len(props))
	for k, v := range props {
		it.Properties[k] = v
	}
	it.HasIndexingProperties = len(props) > 0
	return nil
}
