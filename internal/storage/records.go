// Package storage contains in-memory implementations of the record and queue
// stores, used by tests and single process development setups.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dharsanguruparan/indexqueue/internal/model"
)

// MemoryRecords holds content records per table. RWMutex lets concurrent
// readers (indexers) proceed while writers are rare.
type MemoryRecords struct {
	mu     sync.RWMutex
	tables map[string]map[int]model.Record
}

// NewMemoryRecords constructs an empty record store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{tables: make(map[string]map[int]model.Record)}
}

// Put inserts or replaces a record keyed by its uid.
func (m *MemoryRecords) Put(table string, rec model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[int]model.Record)
		m.tables[table] = rows
	}
	rows[rec.UID()] = rec.Clone()
}

// Update merges fields into an existing record.
func (m *MemoryRecords) Update(table string, uid int, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[table][uid]
	if !ok {
		return fmt.Errorf("%s:%d: %w", table, uid, model.ErrNotFound)
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

// Remove deletes a record for good.
func (m *MemoryRecords) Remove(table string, uid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[table], uid)
}

// Record implements model.RecordStore.
func (m *MemoryRecords) Record(_ context.Context, table string, uid int, where string) (model.Record, error) {
	conds, err := parsePredicate(where)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tables[table][uid]
	if !ok || !matches(rec, conds) {
		return nil, fmt.Errorf("%s:%d: %w", table, uid, model.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Records implements model.RecordStore.
func (m *MemoryRecords) Records(_ context.Context, table string, q model.Query) ([]model.Record, error) {
	conds, err := parsePredicate(q.Where)
	if err != nil {
		return nil, err
	}
	for col, v := range q.Eq {
		conds = append(conds, condition{column: col, op: "=", values: []string{fmt.Sprint(v)}})
	}
	for col, ids := range q.In {
		values := make([]string, len(ids))
		for i, id := range ids {
			values[i] = fmt.Sprint(id)
		}
		conds = append(conds, condition{column: col, op: "in", values: values})
	}
	m.mu.RLock()
	var out []model.Record
	for _, rec := range m.tables[table] {
		if matches(rec, conds) {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()

	orderBy, desc := "uid", false
	if q.OrderBy != "" {
		fields := strings.Fields(q.OrderBy)
		orderBy = fields[0]
		desc = len(fields) > 1 && strings.EqualFold(fields[1], "desc")
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compare(out[i].String(orderBy), out[j].String(orderBy))
		if c == 0 {
			return out[i].UID() < out[j].UID()
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
