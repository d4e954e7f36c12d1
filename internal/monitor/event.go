// Package monitor turns record mutation events into queue updates.
package monitor

import (
	"fmt"
	"sort"
)

// Kind is the lifecycle step an event reports.
type Kind string

// Event kinds.
const (
	// KindWrite follows an insert or update of a record.
	KindWrite Kind = "write"
	// KindDelete precedes the deletion of a record.
	KindDelete Kind = "delete"
	// KindPublish follows a workspace publish or swap.
	KindPublish Kind = "publish"
	// KindMove follows moving a page.
	KindMove Kind = "move"
)

// Event describes a record mutation. Fields carries the changed columns of a
// write; PID the (new) parent for inserts and moves when known.
type Event struct {
	Kind      Kind           `json:"kind"`
	Table     string         `json:"table"`
	UID       int            `json:"uid"`
	PID       int            `json:"pid,omitempty"`
	Workspace int            `json:"workspace,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Validate checks the event carries enough to be processed.
func (e Event) Validate() error {
	switch e.Kind {
	case KindWrite, KindDelete, KindPublish, KindMove:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Table == "" {
		return fmt.Errorf("event without table")
	}
	if e.UID <= 0 {
		return fmt.Errorf("event for %s without uid", e.Table)
	}
	return nil
}

// ChangedFields returns the names of the changed columns, sorted.
func (e Event) ChangedFields() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
