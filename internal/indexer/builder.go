package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// Builder assembles documents from records. It is shared by the indexers and
// the render endpoint so page and record documents carry the same base fields.
type Builder struct {
	sites     site.Provider
	records   model.RecordStore
	evaluator Evaluator
	registry  *Registry
}

// NewBuilder makes a Builder.
func NewBuilder(sites site.Provider, records model.RecordStore, evaluator Evaluator, registry *Registry) *Builder {
	return &Builder{sites: sites, records: records, evaluator: evaluator, registry: registry}
}

// BaseDocument sets the fields every document carries.
func (b *Builder) BaseDocument(st *site.Site, itemType string, rec model.Record, language int) *model.Document {
	tc := b.sites.TableControl(itemType)
	doc := model.NewDocument()
	doc.SetField("id", model.DocumentID(st.Hash(), itemType, rec.PID(), rec.UID()))
	doc.SetField("type", itemType)
	doc.SetField("site", st.Domain)
	doc.SetField("siteHash", st.Hash())
	doc.SetField("uid", rec.UID())
	doc.SetField("pid", rec.PID())
	doc.SetField("created", rec.Int64(tc.CrdateField))
	doc.SetField("changed", rec.Int64(tc.TstampField))

	groups := rec.IntList(tc.GroupField)
	if len(groups) == 0 {
		groups = []int{0}
	}
	doc.SetField("access", model.AccessRootline{}.WithContentGroups(groups...).String())
	if end := rec.Int64(tc.EndtimeField); end > 0 {
		doc.SetField("endtime", end)
	}
	doc.SetField("language", language)
	return doc
}

// MapFields adds the configured field mapping and applies field processing.
func (b *Builder) MapFields(ctx context.Context, doc *model.Document, cfg *site.IndexingConfiguration, rec model.Record) error {
	for _, name := range cfg.FieldNames() {
		def := cfg.Fields[name]
		if def.Object == nil {
			if v, ok := rec[def.Column]; ok && v != nil {
				doc.SetField(name, v)
			}
			continue
		}
		value, multi, err := b.evaluator.Evaluate(ctx, def.Object, rec)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		if !multi {
			if value != "" {
				doc.SetField(name, value)
			}
			continue
		}
		var values []any
		if err := json.Unmarshal([]byte(value), &values); err != nil {
			return fmt.Errorf("field %s: multi value output: %w", name, err)
		}
		doc.ReplaceValues(name, values)
	}
	return processFields(doc, cfg.FieldProcessing)
}

// RecordDocument builds the document of rec in language.
func (b *Builder) RecordDocument(ctx context.Context, st *site.Site, cfg *site.IndexingConfiguration, itemType string, rec model.Record, language int) (*model.Document, error) {
	doc := b.BaseDocument(st, itemType, rec, language)
	if err := b.MapFields(ctx, doc, cfg, rec); err != nil {
		return nil, err
	}
	return doc, nil
}

// Finish runs the additional document providers and then the document
// modifiers configured for the site.
func (b *Builder) Finish(ctx context.Context, st *site.Site, item *model.Item, language int, doc *model.Document) ([]*model.Document, error) {
	docs := []*model.Document{doc}
	providers, err := b.registry.AdditionalDocuments(st.Hooks.AdditionalDocuments)
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		extra, err := p.AdditionalDocuments(ctx, item, language, doc)
		if err != nil {
			return nil, fmt.Errorf("additional documents: %w", err)
		}
		docs = append(docs, extra...)
	}
	modifiers, err := b.registry.DocumentModifiers(st.Hooks.DocumentModifiers)
	if err != nil {
		return nil, err
	}
	for _, m := range modifiers {
		if docs, err = m.ModifyDocuments(ctx, item, language, docs); err != nil {
			return nil, fmt.Errorf("modify documents: %w", err)
		}
	}
	return docs, nil
}

// Localize returns rec as seen in language. Pages take their overlay,
// translatable tables their translation; without one the default language
// record is used.
func (b *Builder) Localize(ctx context.Context, table string, rec model.Record, language int) (model.Record, error) {
	if language == 0 {
		return rec, nil
	}
	var q model.Query
	var otc model.TableControl
	switch table {
	case model.TablePages:
		otc = b.sites.TableControl(model.TablePagesOverlay)
		q = model.Query{Eq: map[string]any{"pid": rec.UID(), otc.LanguageField: language}}
		table = model.TablePagesOverlay
	default:
		otc = b.sites.TableControl(table)
		if otc.LanguageField == "" || otc.TransOrigPointerField == "" || rec.Int(otc.LanguageField) == -1 {
			return rec, nil
		}
		q = model.Query{Eq: map[string]any{otc.TransOrigPointerField: rec.UID(), otc.LanguageField: language}}
	}
	translations, err := b.records.Records(ctx, table, q)
	if err != nil {
		return nil, fmt.Errorf("translation of %s:%d: %w", table, rec.UID(), err)
	}
	for _, tr := range translations {
		if !otc.Enabled(tr) {
			continue
		}
		out := rec.Clone()
		for k, v := range tr {
			switch k {
			case "uid", "pid", otc.TransOrigPointerField:
				continue
			}
			out[k] = v
		}
		return out, nil
	}
	return rec, nil
}
