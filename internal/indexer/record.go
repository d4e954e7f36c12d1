package indexer

import (
	"context"
	"errors"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// RecordIndexer maps a record onto one document per language.
type RecordIndexer struct {
	base
}

// NewRecordIndexer is the Factory of the default indexer.
func NewRecordIndexer(deps Deps, cfg *site.IndexingConfiguration) (Indexer, error) {
	return &RecordIndexer{base: newBase(deps, cfg)}, nil
}

// Index implements Indexer.
func (r *RecordIndexer) Index(ctx context.Context, item *model.Item) (*Result, error) {
	st, err := r.deps.Sites.Site(ctx, item.RootPageID)
	if err != nil {
		return nil, err
	}
	rec, ok, err := r.loadRecord(ctx, item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Skipped: true}, nil
	}
	pageID := rec.PID()
	if item.ItemType == model.TablePages {
		pageID = rec.UID()
	}
	conns, err := r.connections(ctx, item, pageID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, lc := range conns {
		lr := LanguageResult{Language: lc.language}
		docs, err := r.documents(ctx, st, item, rec, lc.language)
		if errors.Is(err, ErrConfiguration) {
			return result, err
		}
		if err != nil {
			lr.Err = err
			result.Languages = append(result.Languages, lr)
			continue
		}
		lr.Documents = len(docs)
		lr.Response, lr.Err = lc.conn.AddDocuments(ctx, docs)
		r.deps.Log.Record(ctx, st, item, lc.language, docs, lr.Response, lr.Err)
		result.Languages = append(result.Languages, lr)
	}
	return result, nil
}

// loadRecord returns the item's record when it still exists, is enabled and
// matches the configuration's predicate.
func (b *base) loadRecord(ctx context.Context, item *model.Item) (model.Record, bool, error) {
	rec, err := b.deps.Records.Record(ctx, item.ItemType, item.ItemUID, b.cfg.AdditionalWhereClause)
	if errors.Is(err, model.ErrNotFound) {
		log.Printf("[DEBUG] record %s:%d of item %d is gone, nothing to index", item.ItemType, item.ItemUID, item.ID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("record %s:%d: %w", item.ItemType, item.ItemUID, err)
	}
	if !b.deps.Sites.TableControl(item.ItemType).Enabled(rec) {
		log.Printf("[DEBUG] record %s:%d of item %d is disabled, nothing to index", item.ItemType, item.ItemUID, item.ID)
		return nil, false, nil
	}
	return rec, true, nil
}

func (r *RecordIndexer) documents(ctx context.Context, st *site.Site, item *model.Item, rec model.Record, language int) ([]*model.Document, error) {
	full, err := r.builder.Localize(ctx, item.ItemType, rec, language)
	if err != nil {
		return nil, err
	}
	doc, err := r.builder.RecordDocument(ctx, st, r.cfg, item.ItemType, full, language)
	if err != nil {
		return nil, err
	}
	return r.builder.Finish(ctx, st, item, language, doc)
}
