package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/indexqueue/internal/model"
)

// condition is one comparison of a conjunctive predicate.
type condition struct {
	column string
	op     string
	values []string
}

var (
	andSplit = regexp.MustCompile(`(?i)\s+and\s+`)
	inTerm   = regexp.MustCompile(`(?i)^([\w.]+)\s+(not\s+in|in)\s*\((.*)\)$`)
	cmpTerm  = regexp.MustCompile(`^([\w.]+)\s*(!=|<>|>=|<=|=|>|<)\s*(.+)$`)
)

// parsePredicate understands the subset of SQL used by additional where
// clauses in tests and development setups: comparisons and IN lists joined
// with AND.
func parsePredicate(where string) ([]condition, error) {
	where = strings.TrimSpace(where)
	if strings.HasPrefix(strings.ToUpper(where), "AND ") {
		where = strings.TrimSpace(where[4:])
	}
	if where == "" {
		return nil, nil
	}
	var out []condition
	for _, term := range andSplit.Split(where, -1) {
		term = strings.TrimSpace(term)
		if m := inTerm.FindStringSubmatch(term); m != nil {
			op := "in"
			if strings.HasPrefix(strings.ToLower(m[2]), "not") {
				op = "not in"
			}
			var values []string
			for _, v := range strings.Split(m[3], ",") {
				values = append(values, unquote(v))
			}
			out = append(out, condition{column: column(m[1]), op: op, values: values})
			continue
		}
		if m := cmpTerm.FindStringSubmatch(term); m != nil {
			op := m[2]
			if op == "<>" {
				op = "!="
			}
			out = append(out, condition{column: column(m[1]), op: op, values: []string{unquote(m[3])}})
			continue
		}
		return nil, fmt.Errorf("unsupported predicate term %q", term)
	}
	return out, nil
}

func column(c string) string {
	if i := strings.LastIndex(c, "."); i >= 0 {
		return c[i+1:]
	}
	return c
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

func matches(rec model.Record, conds []condition) bool {
	for _, c := range conds {
		actual := rec.String(c.column)
		switch c.op {
		case "in", "not in":
			found := false
			for _, v := range c.values {
				if compare(actual, v) == 0 {
					found = true
					break
				}
			}
			if found != (c.op == "in") {
				return false
			}
		default:
			cmp := compare(actual, c.values[0])
			ok := false
			switch c.op {
			case "=":
				ok = cmp == 0
			case "!=":
				ok = cmp != 0
			case ">":
				ok = cmp > 0
			case ">=":
				ok = cmp >= 0
			case "<":
				ok = cmp < 0
			case "<=":
				ok = cmp <= 0
			}
			if !ok {
				return false
			}
		}
	}
	return true
}

// compare orders numerically when both sides are numbers, lexically otherwise.
// A missing column compares as 0.
func compare(a, b string) int {
	if a == "" {
		a = "0"
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
