// Package repository implements the record and queue stores on Postgres.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/indexqueue/internal/model"
)

const (
	itemTable     = "tx_solr_indexqueue_item"
	propertyTable = "tx_solr_indexqueue_indexing_property"
	itemColumns   = `uid, root, item_type, item_uid, indexing_configuration, has_indexing_properties,
		indexing_priority, changed, indexed, errors, claimed_by, claimed_until`
	dueCondition = `root = $1 AND changed > indexed AND changed <= $2 AND errors = ''`
	dueOrder     = `indexing_priority DESC, changed DESC, uid DESC`
)

// QueueRepository wraps all SQL touching the queue tables.
type QueueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository constructs a repository.
func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{pool: pool}
}

func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	err := row.Scan(&it.ID, &it.RootPageID, &it.ItemType, &it.ItemUID, &it.IndexingConfiguration,
		&it.HasIndexingProperties, &it.Priority, &it.Changed, &it.Indexed, &it.Errors,
		&it.ClaimedBy, &it.ClaimedUntil)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func collectItems(rows pgx.Rows) ([]*model.Item, error) {
	defer rows.Close()
	var out []*model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return out, nil
}

// filterSQL renders f as a WHERE clause appending to args. The clause starts
// with "WHERE" or is empty.
func filterSQL(f model.ItemFilter, args []any) (string, []any) {
	var conds []string
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ID != 0 {
		add("uid = $%d", f.ID)
	}
	if f.RootPageID != 0 {
		add("root = $%d", f.RootPageID)
	}
	if f.ItemType != "" {
		add("item_type = $%d", f.ItemType)
	}
	if f.ItemUID != 0 {
		add("item_uid = $%d", f.ItemUID)
	}
	if f.IndexingConfiguration != "" {
		add("indexing_configuration = $%d", f.IndexingConfiguration)
	}
	if f.OnlyErrors {
		conds = append(conds, "errors <> ''")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *QueueRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertProperties(ctx context.Context, tx pgx.Tx, id int64, root int, props map[string]string) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, err := tx.Exec(ctx, `INSERT INTO `+propertyTable+` (root, item_id, property_key, property_value)
			VALUES ($1,$2,$3,$4)`, root, id, k, props[k])
		if err != nil {
			return fmt.Errorf("insert property %s: %w", k, err)
		}
	}
	return nil
}

// InsertItems implements model.ItemStore.
func (r *QueueRepository) InsertItems(ctx context.Context, items []*model.Item) error {
	if len(items) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx pgx.Tx) error {
		for _, it := range items {
			it.HasIndexingProperties = len(it.Properties) > 0
			err := tx.QueryRow(ctx, `
				INSERT INTO `+itemTable+` (root, item_type, item_uid, indexing_configuration,
					has_indexing_properties, indexing_priority, changed, indexed, errors)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				RETURNING uid
			`, it.RootPageID, it.ItemType, it.ItemUID, it.IndexingConfiguration, it.HasIndexingProperties,
				it.Priority, it.Changed, it.Indexed, it.Errors).Scan(&it.ID)
			if err != nil {
				return fmt.Errorf("insert item %s:%d: %w", it.ItemType, it.ItemUID, err)
			}
			if err := insertProperties(ctx, tx, it.ID, it.RootPageID, it.Properties); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateChanged implements model.ItemStore.
func (r *QueueRepository) UpdateChanged(ctx context.Context, itemType string, uid int, changed int64, configuration string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE `+itemTable+`
		SET errors = CASE WHEN $1 > changed THEN '' ELSE errors END,
			changed = $1,
			indexing_configuration = CASE WHEN $2 <> '' THEN $2 ELSE indexing_configuration END
		WHERE item_type = $3 AND item_uid = $4
	`, changed, configuration, itemType, uid)
	if err != nil {
		return 0, fmt.Errorf("update item %s:%d: %w", itemType, uid, err)
	}
	return tag.RowsAffected(), nil
}

// UpdateItemChanged implements model.ItemStore.
func (r *QueueRepository) UpdateItemChanged(ctx context.Context, id int64, changed int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE `+itemTable+`
		SET errors = CASE WHEN $1 > changed THEN '' ELSE errors END, changed = $1
		WHERE uid = $2
	`, changed, id)
	if err != nil {
		return fmt.Errorf("update item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// FindItems implements model.ItemStore.
func (r *QueueRepository) FindItems(ctx context.Context, f model.ItemFilter) ([]*model.Item, error) {
	where, args := filterSQL(f, nil)
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM `+itemTable+where+` ORDER BY uid`, args...)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	return items, r.loadProperties(ctx, items)
}

func (r *QueueRepository) loadProperties(ctx context.Context, items []*model.Item) error {
	byID := make(map[int64]*model.Item)
	var ids []int64
	for _, it := range items {
		if it.HasIndexingProperties {
			byID[it.ID] = it
			ids = append(ids, it.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT item_id, property_key, property_value FROM `+propertyTable+`
		WHERE item_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("select properties: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id         int64
			key, value string
		)
		if err := rows.Scan(&id, &key, &value); err != nil {
			return fmt.Errorf("scan property: %w", err)
		}
		it := byID[id]
		if it.Properties == nil {
			it.Properties = make(map[string]string)
		}
		it.Properties[key] = value
	}
	return rows.Err()
}

// DueItems implements model.ItemStore.
func (r *QueueRepository) DueItems(ctx context.Context, root int, now int64, limit int) ([]*model.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM `+itemTable+`
		WHERE `+dueCondition+`
		ORDER BY `+dueOrder+`
		LIMIT NULLIF($3::int, 0)
	`, root, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due items: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	return items, r.loadProperties(ctx, items)
}

// ClaimDueItems implements model.ItemStore. SKIP LOCKED lets concurrent
// workers claim disjoint batches.
func (r *QueueRepository) ClaimDueItems(ctx context.Context, root int, now int64, limit int, owner string, until int64) ([]*model.Item, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE `+itemTable+` SET claimed_by = $4, claimed_until = $5
		WHERE uid IN (
			SELECT uid FROM `+itemTable+`
			WHERE `+dueCondition+` AND (claimed_by = '' OR claimed_until <= $2)
			ORDER BY `+dueOrder+`
			LIMIT NULLIF($3::int, 0)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemColumns, root, now, limit, owner, until)
	if err != nil {
		return nil, fmt.Errorf("claim items: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Changed != b.Changed {
			return a.Changed > b.Changed
		}
		return a.ID > b.ID
	})
	return items, r.loadProperties(ctx, items)
}

func (r *QueueRepository) updateOne(ctx context.Context, id int64, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// MarkIndexed implements model.ItemStore. indexed only moves forward.
func (r *QueueRepository) MarkIndexed(ctx context.Context, id int64, at int64) error {
	return r.updateOne(ctx, id, `
		UPDATE `+itemTable+`
		SET indexed = GREATEST(indexed, $2), claimed_by = '', claimed_until = 0
		WHERE uid = $1`, at)
}

// MarkFailed implements model.ItemStore.
func (r *QueueRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	return r.updateOne(ctx, id, `
		UPDATE `+itemTable+`
		SET errors = $2, claimed_by = '', claimed_until = 0
		WHERE uid = $1`, message)
}

// ResetErrors implements model.ItemStore.
func (r *QueueRepository) ResetErrors(ctx context.Context, f model.ItemFilter) (int64, error) {
	f.OnlyErrors = true
	where, args := filterSQL(f, nil)
	tag, err := r.pool.Exec(ctx, `UPDATE `+itemTable+` SET errors = ''`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset errors: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteItems implements model.ItemStore.
func (r *QueueRepository) DeleteItems(ctx context.Context, f model.ItemFilter) (int64, error) {
	where, args := filterSQL(f, nil)
	var n int64
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM `+propertyTable+`
			WHERE item_id IN (SELECT uid FROM `+itemTable+where+`)`, args...)
		if err != nil {
			return fmt.Errorf("delete properties: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM `+itemTable+where, args...)
		if err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// Statistics implements model.ItemStore.
func (r *QueueRepository) Statistics(ctx context.Context, root int, configuration string) (model.Statistics, error) {
	var st model.Statistics
	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE errors = '' AND changed > indexed),
			count(*) FILTER (WHERE indexed > 0),
			count(*) FILTER (WHERE errors <> '')
		FROM `+itemTable+`
		WHERE root = $1 AND ($2 = '' OR indexing_configuration = $2)
	`, root, configuration).Scan(&st.Total, &st.Pending, &st.Success, &st.Failed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return st, nil
		}
		return st, fmt.Errorf("queue statistics: %w", err)
	}
	return st, nil
}

// SetProperties implements model.ItemStore.
func (r *QueueRepository) SetProperties(ctx context.Context, id int64, root int, props map[string]string) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM `+propertyTable+` WHERE item_id = $1`, id); err != nil {
			return fmt.Errorf("delete properties: %w", err)
		}
		if err := insertProperties(ctx, tx, id, root, props); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE `+itemTable+` SET has_indexing_properties = $2 WHERE uid = $1`, id, len(props) > 0)
		if err != nil {
			return fmt.Errorf("flag properties: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("item %d: %w", id, model.ErrNotFound)
		}
		return nil
	})
}
