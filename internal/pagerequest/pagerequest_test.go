package pagerequest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/indexqueue/internal/signing"
)

var secret = []byte("render-secret")

func newEndpoint(t *testing.T) (*Handler, *httptest.Server) {
	t.Helper()
	h := NewHandler(signing.NewSigner(secret), time.Minute)
	h.Register(ActionFindUserGroups, ActionFunc(func(_ context.Context, rc *RenderContext) (any, error) {
		return UserGroupsResult{0, rc.PageID}, nil
	}))
	h.Register(ActionIndexPage, ActionFunc(func(_ context.Context, rc *RenderContext) (any, error) {
		return IndexPageResult{
			PageIndexed: true,
			DocumentID:  rc.AccessRootline.String() + "@" + rc.MountPoint,
			Status:      rc.RootPageID,
		}, nil
	}))
	h.Register("broken", ActionFunc(func(context.Context, *RenderContext) (any, error) {
		return nil, errors.New("template exploded")
	}))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func TestRequestJSON(t *testing.T) {
	req := &Request{
		RequestID:  "r1",
		ItemID:     5,
		PageID:     7,
		Language:   1,
		Actions:    []string{ActionFindUserGroups, ActionIndexPage},
		Timestamp:  100,
		Hash:       "abc",
		Parameters: map[string]string{ParamAccessRootline: "c:1"},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":"r1","item":5,"page":7,"language":1,
		"actions":"findUserGroups,indexPage","timestamp":100,"hash":"abc","accessRootline":"c:1"}`, string(data))

	var back Request
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *req, back)

	req.Parameters["hash"] = "x"
	_, err = json.Marshal(req)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	_, srv := newEndpoint(t)
	client := NewClient(signing.NewSigner(secret), time.Second).WithHTTPClient(srv.Client())

	resp, err := client.Send(context.Background(), srv.URL+"/page", &Request{
		ItemID:  1,
		PageID:  12,
		Actions: []string{ActionFindUserGroups, ActionIndexPage},
		Parameters: map[string]string{
			ParamAccessRootline: "3:2/c:4",
			ParamMountPoint:     "12-40",
			ParamRootPageID:     "40",
		},
	})
	require.NoError(t, err)

	var groups UserGroupsResult
	require.NoError(t, resp.ActionResult(ActionFindUserGroups, &groups))
	assert.Equal(t, UserGroupsResult{0, 12}, groups)

	var indexed IndexPageResult
	require.NoError(t, resp.ActionResult(ActionIndexPage, &indexed))
	assert.True(t, indexed.PageIndexed)
	assert.Equal(t, "3:2/c:4@12-40", indexed.DocumentID)
	assert.Equal(t, 40, indexed.Status)

	err = resp.ActionResult("missing", &indexed)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestRejectsBadHash(t *testing.T) {
	_, srv := newEndpoint(t)
	client := NewClient(signing.NewSigner([]byte("wrong")), time.Second).WithHTTPClient(srv.Client())
	_, err := client.Send(context.Background(), srv.URL, &Request{ItemID: 1, PageID: 2, Actions: []string{ActionFindUserGroups}})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRejectsStaleRequest(t *testing.T) {
	h, srv := newEndpoint(t)
	h.now = func() time.Time { return time.Now().Add(time.Hour) }
	client := NewClient(signing.NewSigner(secret), time.Second).WithHTTPClient(srv.Client())
	_, err := client.Send(context.Background(), srv.URL, &Request{ItemID: 1, PageID: 2, Actions: []string{ActionFindUserGroups}})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRejectsMalformedRequests(t *testing.T) {
	_, srv := newEndpoint(t)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderName, "{not json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	client := NewClient(signing.NewSigner(secret), time.Second).WithHTTPClient(srv.Client())
	_, err = client.Send(context.Background(), srv.URL, &Request{ItemID: 1, PageID: 2, Actions: []string{"nope"}})
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = client.Send(context.Background(), srv.URL, &Request{ItemID: 1, PageID: 2, Actions: []string{"broken"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "status 500")
}

func TestPageMismatch(t *testing.T) {
	_, srv := newEndpoint(t)
	client := NewClient(signing.NewSigner(secret), time.Second).WithHTTPClient(srv.Client())
	_, err := client.Send(context.Background(), srv.URL+"?id=99", &Request{ItemID: 1, PageID: 2, Actions: []string{ActionFindUserGroups}})
	require.NoError(t, err, "the client sets id from the signed page")

	h := NewHandler(signing.NewSigner(secret), time.Minute)
	r := &Request{RequestID: "x", ItemID: 1, PageID: 2, Timestamp: time.Now().Unix(), Actions: []string{}}
	r.Sign(signing.NewSigner(secret))
	header, err := json.Marshal(r)
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodGet, "/page?id=3", nil)
	httpReq.Header.Set(HeaderName, string(header))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httpReq)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"requestId":"someone-else","actionResults":{}}`))
	}))
	defer srv.Close()
	client := NewClient(signing.NewSigner(secret), time.Second).WithHTTPClient(srv.Client())
	_, err := client.Send(context.Background(), srv.URL, &Request{ItemID: 1, PageID: 2, Actions: []string{ActionIndexPage}})
	assert.ErrorIs(t, err, ErrProtocol)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>fatal error</html>`))
	}))
	defer bad.Close()
	_, err = client.WithHTTPClient(bad.Client()).Send(context.Background(), bad.URL, &Request{ItemID: 1, PageID: 2, Actions: []string{ActionIndexPage}})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()
	client := NewClient(signing.NewSigner(secret), 50*time.Millisecond)
	_, err := client.Send(context.Background(), srv.URL, &Request{ItemID: 1, PageID: 2, Actions: []string{ActionIndexPage}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProtocol)
}
