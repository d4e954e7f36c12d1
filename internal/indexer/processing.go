package indexer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/indexqueue/internal/model"
)

const isoDateLayout = "2006-01-02T15:04:05Z"

// processor rewrites all values of a field. Returning nil drops the field.
type processor func(values []any) ([]any, error)

var processors = map[string]processor{
	"timestampToIsoDate": eachValue(func(v any) (any, error) {
		ts, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return time.Unix(ts, 0).UTC().Format(isoDateLayout), nil
	}),
	"isoDateToTimestamp": eachValue(func(v any) (any, error) {
		t, err := time.Parse(time.RFC3339, fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		return t.Unix(), nil
	}),
	"uppercase": eachValue(func(v any) (any, error) { return strings.ToUpper(fmt.Sprint(v)), nil }),
	"lowercase": eachValue(func(v any) (any, error) { return strings.ToLower(fmt.Sprint(v)), nil }),
	"pathToHierarchy": func(values []any) ([]any, error) {
		var out []any
		for _, v := range values {
			out = append(out, pathToHierarchy(fmt.Sprint(v))...)
		}
		return out, nil
	},
	"skip": func([]any) ([]any, error) { return nil, nil },
}

func eachValue(fn func(any) (any, error)) processor {
	return func(values []any) ([]any, error) {
		out := make([]any, 0, len(values))
		for _, v := range values {
			nv, err := fn(v)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return strconv.ParseInt(strings.TrimSpace(fmt.Sprint(v)), 10, 64)
	}
}

// pathToHierarchy turns "a/b/c" into the facet values "0-a/", "1-a/b/" and
// "2-a/b/c/".
func pathToHierarchy(path string) []any {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	out := make([]any, 0, len(segments))
	for i := range segments {
		out = append(out, strconv.Itoa(i)+"-"+strings.Join(segments[:i+1], "/")+"/")
	}
	return out
}

// processFields applies the processing instructions of a configuration to
// doc in field order.
func processFields(doc *model.Document, instructions map[string][]string) error {
	for _, field := range doc.Names() {
		for _, name := range instructions[field] {
			p, ok := processors[name]
			if !ok {
				return fmt.Errorf("field %s: unknown processing instruction %q: %w", field, name, ErrConfiguration)
			}
			values, err := p(doc.Field(field))
			if err != nil {
				return fmt.Errorf("field %s: %s: %w", field, name, err)
			}
			doc.ReplaceValues(field, values)
			if len(values) == 0 {
				break
			}
		}
	}
	return nil
}
