package pagerequest

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

	"github.com/google/uuid"

	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/signing"
)

// Client issues signed page render requests.
type Client struct {
	http   *http.Client
	signer *signing.Signer
	now    func() time.Time
	newID  func() string
}

// NewClient makes a Client whose requests time out after timeout.
func NewClient(signer *signing.Signer, timeout time.Duration) *Client {
	return &Client{
		http:   &http.Client{Timeout: timeout},
		signer: signer,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// WithHTTPClient replaces the underlying HTTP client, tests use the httptest one.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Send fills in request id, timestamp and hash, requests pageURL and decodes
// the response. A non matching response request id is a protocol error.
func (c *Client) Send(ctx context.Context, pageURL string, req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = c.newID()
	}
	req.Timestamp = c.now().Unix()
	req.Sign(c.signer)

	header, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	target, err := renderURL(pageURL, req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	httpReq.Header.Set(HeaderName, string(header))
	httpReq.Header.Set("User-Agent", "indexqueue")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.PageRequestDuration.WithLabelValues(strings.Join(req.Actions, ",")).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", req.PageID, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, fmt.Errorf("render page %d: %s: %w", req.PageID, bytes.TrimSpace(body), ErrUnauthorized)
	case http.StatusBadRequest:
		return nil, fmt.Errorf("render page %d: %s: %w", req.PageID, bytes.TrimSpace(body), ErrProtocol)
	default:
		return nil, fmt.Errorf("render page %d: status %d", req.PageID, resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode render response: %v: %w", err, ErrProtocol)
	}
	if out.RequestID != req.RequestID {
		return nil, fmt.Errorf("response request id %q, sent %q: %w", out.RequestID, req.RequestID, ErrProtocol)
	}
	return &out, nil
}

func renderURL(pageURL string, req *Request) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("page render url %q: %w", pageURL, err)
	}
	q := u.Query()
	q.Set("id", strconv.Itoa(req.PageID))
	q.Set("L", strconv.Itoa(req.Language))
	if mp := req.Param(ParamMountPoint); mp != "" {
		q.Set("MP", mp)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
