package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"

	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// Elastic indexes documents into an Elasticsearch index with the bulk API.
type Elastic struct {
	client *elasticsearch.Client
	index  string
}

// NewElastic builds an Elasticsearch connection. transport may be nil.
func NewElastic(settings site.ConnectionSettings, transport http.RoundTripper) (*Elastic, error) {
	if settings.Index == "" {
		return nil, fmt.Errorf("elastic index required")
	}
	scheme := settings.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := settings.Port
	if port == 0 {
		port = 9200
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{fmt.Sprintf("%s://%s:%s", scheme, settings.Host, strconv.Itoa(port))},
		Username:  settings.Username,
		Password:  settings.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elastic client: %w", err)
	}
	return &Elastic{client: client, index: settings.Index}, nil
}

type bulkResult struct {
	Errors bool `json:"errors"`
}

// AddDocuments implements Connection. A bulk request with failed items is
// reported as 207.
func (e *Elastic) AddDocuments(ctx context.Context, docs []*model.Document) (Response, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		action := map[string]map[string]string{"index": {"_index": e.index, "_id": doc.ID()}}
		if err := enc.Encode(action); err != nil {
			return Response{}, fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return Response{}, fmt.Errorf("encode document %s: %w", doc.ID(), err)
		}
	}
	req := esapi.BulkRequest{Index: e.index, Body: &buf, Refresh: "true"}
	resp, err := e.do(ctx, "add", req)
	if err != nil {
		metrics.DocumentsSubmittedTotal.WithLabelValues("elastic", "error").Add(float64(len(docs)))
		return resp, err
	}
	if resp.OK() {
		var br bulkResult
		if err := json.Unmarshal([]byte(resp.Body), &br); err == nil && br.Errors {
			resp.Status = http.StatusMultiStatus
		}
	}
	status := "ok"
	if !resp.OK() {
		status = "error"
	}
	metrics.DocumentsSubmittedTotal.WithLabelValues("elastic", status).Add(float64(len(docs)))
	return resp, nil
}

// DeleteByItem implements Connection.
func (e *Elastic) DeleteByItem(ctx context.Context, siteHash, itemType string, uid int) (Response, error) {
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"siteHash": siteHash}},
					map[string]any{"term": map[string]any{"type": itemType}},
					map[string]any{"term": map[string]any{"uid": uid}},
				},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return Response{}, fmt.Errorf("encode delete query: %w", err)
	}
	return e.do(ctx, "delete", esapi.DeleteByQueryRequest{Index: []string{e.index}, Body: bytes.NewReader(body)})
}

func (e *Elastic) do(ctx context.Context, operation string, req esapi.Request) (Response, error) {
	start := time.Now()
	defer func() {
		metrics.BackendRequestDuration.WithLabelValues("elastic", operation).Observe(time.Since(start).Seconds())
	}()
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return Response{}, fmt.Errorf("elastic %s: %w", operation, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read elastic response: %w", err)
	}
	return Response{Status: res.StatusCode, Body: string(data)}, nil
}
