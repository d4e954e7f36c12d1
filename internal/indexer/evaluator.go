package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// Content object types understood by DefaultEvaluator.
const (
	ObjectText        = "TEXT"
	ObjectContent     = "SOLR_CONTENT"
	ObjectMultiValue  = "SOLR_MULTIVALUE"
	ObjectRelation    = "SOLR_RELATION"
	defaultLabelField = "title"
)

// Evaluator computes the value of a content object field for a record. When
// multi is true, value is a JSON array of the individual values.
type Evaluator interface {
	Evaluate(ctx context.Context, obj *site.ContentObject, rec model.Record) (value string, multi bool, err error)
}

// DefaultEvaluator implements the content objects used by stock configurations.
type DefaultEvaluator struct {
	records model.RecordStore
	strip   *bluemonday.Policy
}

// NewEvaluator makes a DefaultEvaluator resolving relations through records.
func NewEvaluator(records model.RecordStore) *DefaultEvaluator {
	return &DefaultEvaluator{records: records, strip: bluemonday.StrictPolicy()}
}

// Evaluate implements Evaluator.
func (e *DefaultEvaluator) Evaluate(ctx context.Context, obj *site.ContentObject, rec model.Record) (string, bool, error) {
	raw := obj.Value
	if raw == "" && obj.Field != "" {
		raw = rec.String(obj.Field)
	}
	switch obj.Type {
	case ObjectText, "":
		return wrap(raw, obj.Wrap), false, nil
	case ObjectContent:
		return wrap(e.CleanContent(raw), obj.Wrap), false, nil
	case ObjectMultiValue:
		sep := obj.Separator
		if sep == "" {
			sep = ","
		}
		var values []string
		for _, v := range strings.Split(raw, sep) {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		return encodeValues(values)
	case ObjectRelation:
		return e.relation(ctx, obj, rec)
	default:
		return "", false, fmt.Errorf("content object type %q: %w", obj.Type, ErrConfiguration)
	}
}

// CleanContent strips markup and collapses whitespace.
func (e *DefaultEvaluator) CleanContent(s string) string {
	s = html.UnescapeString(e.strip.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func (e *DefaultEvaluator) relation(ctx context.Context, obj *site.ContentObject, rec model.Record) (string, bool, error) {
	if obj.ForeignTable == "" {
		return "", false, fmt.Errorf("relation on %s without foreign table: %w", obj.Field, ErrConfiguration)
	}
	label := obj.ForeignLabel
	if label == "" {
		label = defaultLabelField
	}
	var labels []string
	for _, uid := range rec.IntList(obj.Field) {
		related, err := e.records.Record(ctx, obj.ForeignTable, uid, "")
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("relation %s:%d: %w", obj.ForeignTable, uid, err)
		}
		if v := related.String(label); v != "" {
			labels = append(labels, v)
		}
	}
	if obj.MultiValue {
		return encodeValues(labels)
	}
	sep := obj.Separator
	if sep == "" {
		sep = ", "
	}
	return strings.Join(labels, sep), false, nil
}

func encodeValues(values []string) (string, bool, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// wrap applies a "before|after" wrap to non empty values.
func wrap(value, w string) string {
	if w == "" || value == "" {
		return value
	}
	before, after, _ := strings.Cut(w, "|")
	return before + value + after
}
