package render

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/indexqueue/internal/backend"
	"github.com/dharsanguruparan/indexqueue/internal/indexer"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/pagerequest"
	"github.com/dharsanguruparan/indexqueue/internal/pagetree"
	"github.com/dharsanguruparan/indexqueue/internal/signing"
	"github.com/dharsanguruparan/indexqueue/internal/site"
	"github.com/dharsanguruparan/indexqueue/internal/storage"
)

type memConn struct {
	mu     sync.Mutex
	docs   []*model.Document
	status int
}

func (c *memConn) AddDocuments(_ context.Context, docs []*model.Document) (backend.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, docs...)
	if c.status != 0 {
		return backend.Response{Status: c.status, Body: "rejected"}, nil
	}
	return backend.Response{Status: 200}, nil
}

func (c *memConn) DeleteByItem(context.Context, string, string, int) (backend.Response, error) {
	return backend.Response{Status: 200}, nil
}

type conns map[int]*memConn

func (c conns) Connection(_ context.Context, root, language int) (backend.Connection, error) {
	if conn, ok := c[language]; ok {
		return conn, nil
	}
	return nil, fmt.Errorf("site %d language %d: %w", root, language, backend.ErrNoConnection)
}

type env struct {
	records  *storage.MemoryRecords
	sites    *site.Static
	site     *site.Site
	tree     *pagetree.Tree
	conns    conns
	renderer *Renderer
	builder  *indexer.Builder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	records := storage.NewMemoryRecords()
	records.Put(model.TablePages, model.Record{"uid": 1, "pid": 0, "is_siteroot": 1, "doktype": 1})
	records.Put(model.TablePages, model.Record{"uid": 2, "pid": 1, "doktype": 1, "title": "About", "keywords": "team, history", "tstamp": 70})
	records.Put(model.TablePages, model.Record{"uid": 3, "pid": 1, "doktype": 1, "title": "Empty"})
	records.Put(model.TablePagesOverlay, model.Record{"uid": 20, "pid": 2, "sys_language_uid": 1, "title": "Über uns"})
	records.Put(model.TableContent, model.Record{"uid": 1, "pid": 2, "sorting": 1, "header": "Welcome", "bodytext": "<p>Public</p>"})
	records.Put(model.TableContent, model.Record{"uid": 2, "pid": 2, "sorting": 2, "header": "Members", "bodytext": "secret", "fe_group": "2"})
	records.Put(model.TableContent, model.Record{"uid": 3, "pid": 2, "sorting": 3, "header": "Login please", "fe_group": "-1"})
	records.Put(model.TableContent, model.Record{"uid": 4, "pid": 2, "sorting": 4, "header": "Willkommen", "sys_language_uid": 1})
	records.Put(model.TableContent, model.Record{"uid": 5, "pid": 2, "sorting": 5, "header": "Draft", "hidden": 1, "fe_group": "7"})

	st := &site.Site{
		RootPageID:     1,
		Domain:         "example.org",
		Configurations: []*site.IndexingConfiguration{{Name: "pages", Enabled: true}},
	}
	sites := site.NewStatic([]*site.Site{st}, nil)
	tree := pagetree.New(records, 16)
	c := conns{0: {}, 1: {}}
	builder := indexer.NewBuilder(sites, records, indexer.NewEvaluator(records), indexer.NewRegistry())
	return &env{
		records:  records,
		sites:    sites,
		site:     st,
		tree:     tree,
		conns:    c,
		builder:  builder,
		renderer: New(sites, records, tree, c, builder),
	}
}

func renderContext(page, language int, access string) *pagerequest.RenderContext {
	a, _ := model.ParseAccessRootline(access)
	rc := &pagerequest.RenderContext{
		Request:        &pagerequest.Request{ItemID: 9, PageID: page},
		PageID:         page,
		Language:       language,
		AccessRootline: a,
		UserGroups:     a.ContentGroups(),
	}
	return rc
}

func TestFindUserGroups(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	groups, err := e.renderer.FindUserGroups(ctx, renderContext(2, 0, ""))
	require.NoError(t, err)
	assert.Equal(t, pagerequest.UserGroupsResult{0, 2}, groups)

	groups, err = e.renderer.FindUserGroups(ctx, renderContext(2, 1, ""))
	require.NoError(t, err)
	assert.Equal(t, pagerequest.UserGroupsResult{0}, groups)

	groups, err = e.renderer.FindUserGroups(ctx, renderContext(3, 0, ""))
	require.NoError(t, err)
	assert.Empty(t, groups)

	_, err = e.renderer.FindUserGroups(ctx, renderContext(404, 0, ""))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVisible(t *testing.T) {
	assert.True(t, visible(nil, nil))
	assert.True(t, visible([]int{groupHideAtLogin}, []int{0}))
	assert.False(t, visible([]int{groupHideAtLogin}, []int{3}))
	assert.True(t, visible([]int{groupAnyLogin}, []int{3}))
	assert.False(t, visible([]int{groupAnyLogin}, []int{0}))
	assert.True(t, visible([]int{1, 2}, []int{2}))
	assert.False(t, visible([]int{1, 2}, []int{0}))
}

func TestIndexPage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out, err := e.renderer.IndexPage(ctx, renderContext(2, 0, "c:0"))
	require.NoError(t, err)
	res := out.(pagerequest.IndexPageResult)
	assert.True(t, res.PageIndexed)
	assert.Equal(t, model.PageDocumentID(e.site.Hash(), 2, 0, "c:0", ""), res.DocumentID)

	require.Len(t, e.conns[0].docs, 1)
	doc := e.conns[0].docs[0]
	assert.Equal(t, "pages", doc.Value("type"))
	assert.Equal(t, "c:0", doc.Value("access"))
	assert.Equal(t, "About", doc.Value("title"))
	assert.Equal(t, []any{"team", "history"}, doc.Field("keywords"))
	assert.Equal(t, "Welcome Public Login please", doc.Value("content"))

	out, err = e.renderer.IndexPage(ctx, renderContext(2, 0, "c:2"))
	require.NoError(t, err)
	assert.True(t, out.(pagerequest.IndexPageResult).PageIndexed)
	assert.Equal(t, "Welcome Public Members secret", e.conns[0].docs[1].Value("content"))

	out, err = e.renderer.IndexPage(ctx, renderContext(2, 1, "c:0"))
	require.NoError(t, err)
	assert.True(t, out.(pagerequest.IndexPageResult).PageIndexed)
	assert.Equal(t, "Über uns", e.conns[1].docs[0].Value("title"))
	assert.Equal(t, "Willkommen", e.conns[1].docs[0].Value("content"))

	e.conns[0].status = 500
	out, err = e.renderer.IndexPage(ctx, renderContext(2, 0, "c:0"))
	require.NoError(t, err)
	res = out.(pagerequest.IndexPageResult)
	assert.False(t, res.PageIndexed)
	assert.Equal(t, "rejected", res.Error)

	out, err = e.renderer.IndexPage(ctx, renderContext(2, 2, "c:0"))
	require.NoError(t, err)
	assert.False(t, out.(pagerequest.IndexPageResult).PageIndexed, "no connection for language 2")
}

// TestPageIndexingEndToEnd runs the page indexer against the render endpoint
// over HTTP.
func TestPageIndexingEndToEnd(t *testing.T) {
	e := newEnv(t)
	signer := signing.NewSigner([]byte("secret"))
	h := pagerequest.NewHandler(signer, time.Minute)
	e.renderer.Register(h)
	srv := httptest.NewServer(h)
	defer srv.Close()
	e.site.PageRender.URL = srv.URL

	svc := indexer.NewService(indexer.Deps{
		Sites:    e.sites,
		Records:  e.records,
		Tree:     e.tree,
		Backends: e.conns,
		Pages:    pagerequest.NewClient(signer, time.Second),
	})
	res, err := svc.Index(context.Background(), &model.Item{
		ID: 1, RootPageID: 1, ItemType: model.TablePages, ItemUID: 2, IndexingConfiguration: "pages",
	})
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded())
	require.Len(t, res.Languages, 3, "two groups in the default language, one in the translation")

	require.Len(t, e.conns[0].docs, 2)
	assert.Equal(t, "c:0", e.conns[0].docs[0].Value("access"))
	assert.Equal(t, "c:2", e.conns[0].docs[1].Value("access"))
	require.Len(t, e.conns[1].docs, 1)

	e.conns[1].status = 500
	_, err = svc.Index(context.Background(), &model.Item{
		ID: 1, RootPageID: 1, ItemType: model.TablePages, ItemUID: 2, IndexingConfiguration: "pages",
	})
	assert.ErrorIs(t, err, indexer.ErrPageNotIndexed)
}
