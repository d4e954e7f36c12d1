package indexer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/dharsanguruparan/indexqueue/internal/backend"
)

// ErrPageNotIndexed is returned when the render endpoint did not confirm a
// page document. It points at a broken render pipeline, not at the item.
var ErrPageNotIndexed = errors.New("page not indexed")

// LanguageResult is the outcome for one language connection. Page items have
// one entry per discovered user group.
type LanguageResult struct {
	Language  int              `json:"language"`
	Group     *int             `json:"group,omitempty"`
	Documents int              `json:"documents"`
	Response  backend.Response `json:"response"`
	Err       error            `json:"-"`
}

// OK reports whether the documents were accepted.
func (l LanguageResult) OK() bool {
	return l.Err == nil && l.Response.OK()
}

// Result aggregates the outcome of one item pass.
type Result struct {
	Languages []LanguageResult `json:"languages"`
	// Skipped is set when there was nothing to index, e.g. the page is hidden.
	Skipped bool `json:"skipped,omitempty"`
}

// AllSucceeded reports whether at least one language was indexed and none
// failed.
func (r *Result) AllSucceeded() bool {
	if r == nil || len(r.Languages) == 0 {
		return false
	}
	for _, l := range r.Languages {
		if !l.OK() {
			return false
		}
	}
	return true
}

// Err aggregates the failed languages, nil when none failed.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	var errs *multierror.Error
	for _, l := range r.Languages {
		if l.OK() {
			continue
		}
		err := l.Err
		if err == nil {
			err = fmt.Errorf("backend status %d: %s", l.Response.Status, strings.TrimSpace(l.Response.Body))
		}
		if l.Group != nil {
			errs = multierror.Append(errs, fmt.Errorf("language %d group %d: %w", l.Language, *l.Group, err))
		} else {
			errs = multierror.Append(errs, fmt.Errorf("language %d: %w", l.Language, err))
		}
	}
	return errs.ErrorOrNil()
}

// Fatal reports whether err should stop the current indexing pass instead of
// only failing the item.
func Fatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrPageNotIndexed) || isProtocolError(err)
}
