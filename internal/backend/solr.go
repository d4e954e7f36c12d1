package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// Solr talks to a Solr core through its JSON update handler.
type Solr struct {
	endpoint string
	username string
	password string
	client   *http.Client
}

// NewSolr builds a Solr connection. The core URL is
// scheme://host:port/path, path defaulting to /solr/.
func NewSolr(settings site.ConnectionSettings, client *http.Client) (Connection, error) {
	if settings.Host == "" {
		return nil, fmt.Errorf("solr host required")
	}
	scheme := settings.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := settings.Host
	if settings.Port > 0 {
		host += ":" + strconv.Itoa(settings.Port)
	}
	path := settings.Path
	if path == "" {
		path = "/solr/"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: strings.TrimSuffix(path, "/") + "/update"}
	if client == nil {
		client = http.DefaultClient
	}
	return &Solr{endpoint: u.String(), username: settings.Username, password: settings.Password, client: client}, nil
}

// AddDocuments implements Connection.
func (s *Solr) AddDocuments(ctx context.Context, docs []*model.Document) (Response, error) {
	body, err := json.Marshal(docs)
	if err != nil {
		return Response{}, fmt.Errorf("encode documents: %w", err)
	}
	resp, err := s.post(ctx, "add", body)
	status := "ok"
	if err != nil || !resp.OK() {
		status = "error"
	}
	metrics.DocumentsSubmittedTotal.WithLabelValues("solr", status).Add(float64(len(docs)))
	return resp, err
}

// DeleteByItem implements Connection.
func (s *Solr) DeleteByItem(ctx context.Context, siteHash, itemType string, uid int) (Response, error) {
	query := fmt.Sprintf("siteHash:%s AND type:%s AND uid:%d", quote(siteHash), quote(itemType), uid)
	body, err := json.Marshal(map[string]any{"delete": map[string]string{"query": query}})
	if err != nil {
		return Response{}, fmt.Errorf("encode delete: %w", err)
	}
	return s.post(ctx, "delete", body)
}

func (s *Solr) post(ctx context.Context, operation string, body []byte) (Response, error) {
	start := time.Now()
	defer func() {
		metrics.BackendRequestDuration.WithLabelValues("solr", operation).Observe(time.Since(start).Seconds())
	}()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"?commit=true&wt=json", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build solr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("solr %s: %w", operation, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read solr response: %w", err)
	}
	return Response{Status: res.StatusCode, Body: string(data)}, nil
}

func quote(v string) string {
	return `"` + strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`) + `"`
}
