package indexer

import (
	"context"
	"errors"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	pdfutil "github.com/dharsanguruparan/indexqueue/internal/pdf"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// FileIndexer indexes file records with the extracted text of the stored file
// as content.
type FileIndexer struct {
	base
}

// NewFileIndexer is the Factory of the file indexer.
func NewFileIndexer(deps Deps, cfg *site.IndexingConfiguration) (Indexer, error) {
	if deps.Files == nil {
		return nil, fmt.Errorf("file indexer without file storage: %w", ErrConfiguration)
	}
	return &FileIndexer{base: newBase(deps, cfg)}, nil
}

// Index implements Indexer.
func (f *FileIndexer) Index(ctx context.Context, item *model.Item) (*Result, error) {
	st, err := f.deps.Sites.Site(ctx, item.RootPageID)
	if err != nil {
		return nil, err
	}
	rec, ok, err := f.loadRecord(ctx, item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Skipped: true}, nil
	}
	if rec.Int("missing") != 0 {
		log.Printf("[DEBUG] file %d is missing in storage, nothing to index", item.ItemUID)
		return &Result{Skipped: true}, nil
	}
	content, err := f.content(ctx, rec)
	if err != nil {
		return nil, err
	}
	pageID := rec.PID()
	if pageID == 0 {
		pageID = item.RootPageID
	}
	conns, err := f.connections(ctx, item, pageID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, lc := range conns {
		lr := LanguageResult{Language: lc.language}
		doc, err := f.builder.RecordDocument(ctx, st, f.cfg, item.ItemType, rec, lc.language)
		if errors.Is(err, ErrConfiguration) {
			return result, err
		}
		if err != nil {
			lr.Err = err
			result.Languages = append(result.Languages, lr)
			continue
		}
		doc.SetField("fileName", rec.String("name"))
		doc.SetField("fileMimeType", rec.String("mime_type"))
		doc.SetField("fileSize", rec.Int64("size"))
		if content != "" {
			doc.SetField("content", content)
		}
		for k, v := range item.Properties {
			doc.SetField(k, v)
		}
		docs, err := f.builder.Finish(ctx, st, item, lc.language, doc)
		if err != nil {
			if errors.Is(err, ErrConfiguration) {
				return result, err
			}
			lr.Err = err
			result.Languages = append(result.Languages, lr)
			continue
		}
		lr.Documents = len(docs)
		lr.Response, lr.Err = lc.conn.AddDocuments(ctx, docs)
		f.deps.Log.Record(ctx, st, item, lc.language, docs, lr.Response, lr.Err)
		result.Languages = append(result.Languages, lr)
	}
	return result, nil
}

func (f *FileIndexer) content(ctx context.Context, rec model.Record) (string, error) {
	data, err := f.deps.Files.ReadFile(ctx, rec.String("identifier"))
	if err != nil {
		return "", err
	}
	text, err := pdfutil.Extract(rec.String("mime_type"), data)
	if errors.Is(err, pdfutil.ErrUnsupported) {
		log.Printf("[DEBUG] file %d: %v, indexed without content", rec.UID(), err)
		return "", nil
	}
	return text, err
}
