package backend

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/mapping"
	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/model"
)

const bleveDeleteBatch = 1000

// Bleve keeps documents in a local bleve index, for development setups
// without a search server.
type Bleve struct {
	index bleve.Index
}

func bleveMapping() mapping.IndexMapping {
	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	doc := bleve.NewDocumentMapping()
	for _, field := range []string{"id", "type", "site", "siteHash", "access"} {
		doc.AddFieldMappingsAt(field, exact)
	}
	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// NewBleve opens the index at path, creating it when missing. An empty path
// gives an in-memory index.
func NewBleve(path string) (*Bleve, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(bleveMapping())
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
		return &Bleve{index: index}, nil
	}
	st, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		log.Printf("[INFO] creating new search index %s", path)
		index, err := bleve.New(path, bleveMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		return &Bleve{index: index}, nil
	case err == nil:
		if !st.IsDir() {
			return nil, fmt.Errorf("index path %s should be a directory", path)
		}
		log.Printf("[INFO] opening existing search index %s", path)
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		return &Bleve{index: index}, nil
	default:
		return nil, fmt.Errorf("stat index: %w", err)
	}
}

// AddDocuments implements Connection. Index failures are reported as 500.
func (b *Bleve) AddDocuments(_ context.Context, docs []*model.Document) (Response, error) {
	start := time.Now()
	defer func() {
		metrics.BackendRequestDuration.WithLabelValues("bleve", "add").Observe(time.Since(start).Seconds())
	}()
	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID(), doc.Map()); err != nil {
			metrics.DocumentsSubmittedTotal.WithLabelValues("bleve", "error").Add(float64(len(docs)))
			return Response{Status: http.StatusInternalServerError, Body: err.Error()}, nil
		}
	}
	if err := b.index.Batch(batch); err != nil {
		metrics.DocumentsSubmittedTotal.WithLabelValues("bleve", "error").Add(float64(len(docs)))
		return Response{Status: http.StatusInternalServerError, Body: err.Error()}, nil
	}
	metrics.DocumentsSubmittedTotal.WithLabelValues("bleve", "ok").Add(float64(len(docs)))
	return Response{Status: http.StatusOK}, nil
}

// DeleteByItem implements Connection.
func (b *Bleve) DeleteByItem(_ context.Context, siteHash, itemType string, uid int) (Response, error) {
	hash := bleve.NewTermQuery(siteHash)
	hash.SetField("siteHash")
	typ := bleve.NewTermQuery(itemType)
	typ.SetField("type")
	value := float64(uid)
	inclusive := true
	id := bleve.NewNumericRangeInclusiveQuery(&value, &value, &inclusive, &inclusive)
	id.SetField("uid")

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(hash, typ, id), bleveDeleteBatch, 0, false)
	res, err := b.index.Search(req)
	if err != nil {
		return Response{Status: http.StatusInternalServerError, Body: err.Error()}, nil
	}
	batch := b.index.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return Response{Status: http.StatusInternalServerError, Body: err.Error()}, nil
	}
	return Response{Status: http.StatusOK, Body: fmt.Sprintf("deleted %d", len(res.Hits))}, nil
}

// Count returns the number of documents in the index.
func (b *Bleve) Count() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the index.
func (b *Bleve) Close() error {
	return b.index.Close()
}
