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

// RecordRepository reads CMS content tables. Additional where clauses come
// from trusted site configuration and are appended verbatim.
type RecordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository constructs a repository.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

func additional(where string) string {
	where = strings.TrimSpace(where)
	if len(where) >= 4 && strings.EqualFold(where[:4], "AND ") {
		where = strings.TrimSpace(where[4:])
	}
	return where
}

// Record implements model.RecordStore.
func (r *RecordRepository) Record(ctx context.Context, table string, uid int, where string) (model.Record, error) {
	sql := fmt.Sprintf("SELECT * FROM %s WHERE uid = $1", pgx.Identifier{table}.Sanitize())
	if w := additional(where); w != "" {
		sql += " AND (" + w + ")"
	}
	rows, err := r.pool.Query(ctx, sql, uid)
	if err != nil {
		return nil, fmt.Errorf("select %s:%d: %w", table, uid, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s:%d: %w", table, uid, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select %s:%d: %w", table, uid, err)
	}
	return model.Record(row), nil
}

// Records implements model.RecordStore.
func (r *RecordRepository) Records(ctx context.Context, table string, q model.Query) ([]model.Record, error) {
	var (
		conds []string
		args  []any
	)
	eqCols := make([]string, 0, len(q.Eq))
	for col := range q.Eq {
		eqCols = append(eqCols, col)
	}
	sort.Strings(eqCols)
	for _, col := range eqCols {
		args = append(args, q.Eq[col])
		conds = append(conds, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), len(args)))
	}
	inCols := make([]string, 0, len(q.In))
	for col := range q.In {
		inCols = append(inCols, col)
	}
	sort.Strings(inCols)
	for _, col := range inCols {
		args = append(args, q.In[col])
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", pgx.Identifier{col}.Sanitize(), len(args)))
	}
	if w := additional(q.Where); w != "" {
		conds = append(conds, "("+w+")")
	}
	sql := "SELECT * FROM " + pgx.Identifier{table}.Sanitize()
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY " + orderBy(q.OrderBy)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	out := make([]model.Record, len(maps))
	for i, m := range maps {
		out[i] = model.Record(m)
	}
	return out, nil
}

func orderBy(clause string) string {
	fields := strings.Fields(clause)
	if len(fields) == 0 {
		return "uid"
	}
	dir := "ASC"
	if len(fields) > 1 && strings.EqualFold(fields[1], "desc") {
		dir = "DESC"
	}
	return pgx.Identifier{fields[0]}.Sanitize() + " " + dir + ", uid"
}
