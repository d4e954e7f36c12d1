// Package model contains the types shared by the queue, the monitor and the
// indexers: content records, queue items, search documents and access rootlines.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned by stores when a record or queue item does not exist.
var ErrNotFound = errors.New("not found")

// Record is a single content row keyed by column name. Values keep whatever
// type the store produced; the accessors below normalize them.
type Record map[string]any

// Int returns the column as int, zero when missing or not numeric.
func (r Record) Int(field string) int {
	return int(r.Int64(field))
}

// Int64 returns the column as int64, zero when missing or not numeric.
func (r Record) Int64(field string) int64 {
	switch v := r[field].(type) {
	case int:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return n
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// String returns the column formatted as string, empty when missing.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Has reports whether the column is present.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// UID is shorthand for the uid column.
func (r Record) UID() int { return r.Int("uid") }

// PID is shorthand for the pid column.
func (r Record) PID() int { return r.Int("pid") }

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IntList parses a comma separated column such as fe_group into ints,
// skipping empty and non numeric parts.
func (r Record) IntList(field string) []int {
	return ParseIntList(r.String(field))
}

// ParseIntList parses "1,2, 3" into []int{1, 2, 3}.
func ParseIntList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// JoinInts formats ints as a comma separated list.
func JoinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
