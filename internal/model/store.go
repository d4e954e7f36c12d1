package model

import "context"

// Query selects records from a table. Eq and In conditions are joined with
// AND; Where is an additional predicate taken from an indexing configuration.
type Query struct {
	Eq      map[string]any
	In      map[string][]int
	Where   string
	OrderBy string
	Limit   int
}

// RecordStore reads content records. Record returns ErrNotFound when no row
// matches uid and where.
type RecordStore interface {
	Record(ctx context.Context, table string, uid int, where string) (Record, error)
	Records(ctx context.Context, table string, q Query) ([]Record, error)
}

// ItemStore persists queue rows and their indexing properties.
type ItemStore interface {
	// InsertItems adds rows in one transaction and assigns their ids.
	InsertItems(ctx context.Context, items []*Item) error
	// UpdateChanged sets changed (and the configuration name when not empty)
	// on every row for itemType/uid. Errors are cleared on rows whose stored
	// changed time is older than the new one.
	UpdateChanged(ctx context.Context, itemType string, uid int, changed int64, configuration string) (int64, error)
	// UpdateItemChanged is UpdateChanged for a single row.
	UpdateItemChanged(ctx context.Context, id int64, changed int64) error
	FindItems(ctx context.Context, f ItemFilter) ([]*Item, error)
	// DueItems returns rows of root where changed > indexed, changed <= now and
	// errors is empty, ordered by priority, changed and id descending.
	DueItems(ctx context.Context, root int, now int64, limit int) ([]*Item, error)
	// ClaimDueItems is DueItems restricted to unclaimed rows (or rows with an
	// expired lease) which are atomically claimed for owner until until.
	ClaimDueItems(ctx context.Context, root int, now int64, limit int, owner string, until int64) ([]*Item, error)
	MarkIndexed(ctx context.Context, id int64, at int64) error
	MarkFailed(ctx context.Context, id int64, message string) error
	ResetErrors(ctx context.Context, f ItemFilter) (int64, error)
	// DeleteItems removes rows and their properties atomically.
	DeleteItems(ctx context.Context, f ItemFilter) (int64, error)
	Statistics(ctx context.Context, root int, configuration string) (Statistics, error)
	// SetProperties replaces all properties of an item.
	SetProperties(ctx context.Context, id int64, root int, props map[string]string) error
}
