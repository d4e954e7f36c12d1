package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/indexqueue/internal/backend"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/pagerequest"
	"github.com/dharsanguruparan/indexqueue/internal/pagetree"
	"github.com/dharsanguruparan/indexqueue/internal/site"
	"github.com/dharsanguruparan/indexqueue/internal/storage"
)

type recordingConn struct {
	mu     sync.Mutex
	docs   []*model.Document
	status int
	err    error
}

func (c *recordingConn) AddDocuments(_ context.Context, docs []*model.Document) (backend.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, docs...)
	if c.err != nil {
		return backend.Response{}, c.err
	}
	status := c.status
	if status == 0 {
		status = 200
	}
	return backend.Response{Status: status, Body: "{}"}, nil
}

func (c *recordingConn) DeleteByItem(context.Context, string, string, int) (backend.Response, error) {
	return backend.Response{Status: 200}, nil
}

type fakeBackends map[int]*recordingConn

func (f fakeBackends) Connection(_ context.Context, root, language int) (backend.Connection, error) {
	c, ok := f[language]
	if !ok {
		return nil, fmt.Errorf("site %d language %d: %w", root, language, backend.ErrNoConnection)
	}
	return c, nil
}

type fakeArchive struct {
	keys []string
}

func (a *fakeArchive) ArchiveLog(_ context.Context, key string, data []byte) error {
	if !json.Valid(data) {
		return errors.New("invalid json")
	}
	a.keys = append(a.keys, key)
	return nil
}

type env struct {
	records  *storage.MemoryRecords
	site     *site.Site
	backends fakeBackends
	archive  *fakeArchive
	deps     Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	records := storage.NewMemoryRecords()
	records.Put(model.TablePages, model.Record{"uid": 1, "pid": 0, "is_siteroot": 1, "doktype": 1})
	records.Put(model.TablePages, model.Record{"uid": 2, "pid": 1, "doktype": 1, "title": "News", "keywords": "go, search"})
	records.Put(model.TablePagesOverlay, model.Record{"uid": 20, "pid": 2, "sys_language_uid": 1, "title": "Neuigkeiten"})
	records.Put(model.TablePagesOverlay, model.Record{"uid": 21, "pid": 2, "sys_language_uid": 2, "hidden": 1, "title": "Nouvelles"})
	records.Put("tx_news", model.Record{
		"uid": 7, "pid": 2, "title": "Hello", "bodytext": "<p>Hi &amp; <b>there</b></p>",
		"tags": "a, b,,c", "category": "1,2", "datetime": 86400, "crdate": 50, "tstamp": 60,
	})
	records.Put("tx_news", model.Record{"uid": 17, "pid": 2, "l18n_parent": 7, "sys_language_uid": 1, "title": "Hallo"})
	records.Put("tx_news", model.Record{"uid": 8, "pid": 2, "title": "Hidden", "hidden": 1})
	records.Put("tx_category", model.Record{"uid": 1, "title": "Cat A"})
	records.Put("tx_category", model.Record{"uid": 2, "title": "Cat B"})

	st := &site.Site{
		RootPageID:    1,
		Domain:        "example.org",
		EncryptionKey: "key",
		PageRender:    site.PageRender{URL: "http://example.org/page"},
		Logging:       site.Logging{IndexingQueue: map[string]bool{"news": true}},
		Configurations: []*site.IndexingConfiguration{
			{Name: "pages", Enabled: true},
			{
				Name: "news", Table: "tx_news", Enabled: true,
				Fields: map[string]site.FieldDefinition{
					"title":    {Column: "title"},
					"datetime": {Column: "datetime"},
					"content":  {Object: &site.ContentObject{Type: ObjectContent, Field: "bodytext"}},
					"tags":     {Object: &site.ContentObject{Type: ObjectMultiValue, Field: "tags"}},
					"category": {Object: &site.ContentObject{Type: ObjectRelation, Field: "category", ForeignTable: "tx_category", MultiValue: true}},
				},
				FieldProcessing: map[string][]string{
					"title":    {"uppercase"},
					"datetime": {"timestampToIsoDate"},
				},
			},
			{Name: "files", Table: model.TableFiles, Enabled: true, Indexer: IndexerFile},
		},
	}
	sites := site.NewStatic([]*site.Site{st}, nil)
	e := &env{
		records:  records,
		site:     st,
		backends: fakeBackends{0: {}, 1: {}},
		archive:  &fakeArchive{},
	}
	e.deps = Deps{
		Sites:    sites,
		Records:  records,
		Tree:     pagetree.New(records, 16),
		Backends: e.backends,
		Log:      NewLog(e.archive),
	}
	return e
}

func newsItem() *model.Item {
	return &model.Item{ID: 1, RootPageID: 1, ItemType: "tx_news", ItemUID: 7, IndexingConfiguration: "news"}
}

func TestRecordIndexer(t *testing.T) {
	e := newEnv(t)
	svc := NewService(e.deps)

	res, err := svc.Index(context.Background(), newsItem())
	require.NoError(t, err)
	require.Len(t, res.Languages, 2, "language 2 has no connection")
	assert.True(t, res.AllSucceeded())
	assert.NoError(t, res.Err())

	require.Len(t, e.backends[0].docs, 1)
	doc := e.backends[0].docs[0]
	assert.Equal(t, model.DocumentID(e.site.Hash(), "tx_news", 2, 7), doc.ID())
	assert.Equal(t, "tx_news", doc.Value("type"))
	assert.Equal(t, "example.org", doc.Value("site"))
	assert.Equal(t, e.site.Hash(), doc.Value("siteHash"))
	assert.Equal(t, "c:0", doc.Value("access"))
	assert.Equal(t, int64(50), doc.Value("created"))
	assert.Equal(t, int64(60), doc.Value("changed"))
	assert.False(t, doc.Has("endtime"))
	assert.Equal(t, "HELLO", doc.Value("title"))
	assert.Equal(t, "Hi & there", doc.Value("content"))
	assert.Equal(t, "1970-01-02T00:00:00Z", doc.Value("datetime"))
	assert.Equal(t, []any{"a", "b", "c"}, doc.Field("tags"))
	assert.Equal(t, []any{"Cat A", "Cat B"}, doc.Field("category"))

	require.Len(t, e.backends[1].docs, 1)
	translated := e.backends[1].docs[0]
	assert.Equal(t, doc.ID(), translated.ID())
	assert.Equal(t, "HALLO", translated.Value("title"))
	assert.Equal(t, 1, translated.Value("language"))
	assert.Equal(t, "Hi & there", translated.Value("content"), "untranslated fields fall back")

	assert.Equal(t, []string{"1/1/0.json", "1/1/1.json"}, e.archive.keys)
}

func TestRecordIndexerPartialFailure(t *testing.T) {
	e := newEnv(t)
	e.backends[1].status = 500
	res, err := NewService(e.deps).Index(context.Background(), newsItem())
	require.NoError(t, err)
	assert.False(t, res.AllSucceeded())
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "language 1")
	assert.True(t, res.Languages[0].OK())

	e = newEnv(t)
	e.backends[0].err = errors.New("connection refused")
	res, err = NewService(e.deps).Index(context.Background(), newsItem())
	require.NoError(t, err)
	assert.False(t, res.AllSucceeded())
	assert.Contains(t, res.Err().Error(), "connection refused")
}

func TestRecordIndexerSkips(t *testing.T) {
	e := newEnv(t)
	svc := NewService(e.deps)
	for _, uid := range []int{8, 99} {
		res, err := svc.Index(context.Background(), &model.Item{ID: 2, RootPageID: 1, ItemType: "tx_news", ItemUID: uid, IndexingConfiguration: "news"})
		require.NoError(t, err)
		assert.True(t, res.Skipped, "uid %d", uid)
		assert.False(t, res.AllSucceeded())
	}
	assert.Empty(t, e.backends[0].docs)
}

func TestHidesDefaultLanguage(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.records.Update(model.TablePages, 2, map[string]any{"l18n_cfg": model.L18nHideDefault | model.L18nHideUntranslated}))
	e.backends[2] = &recordingConn{}
	res, err := NewService(e.deps).Index(context.Background(), newsItem())
	require.NoError(t, err)
	require.Len(t, res.Languages, 1)
	assert.Equal(t, 1, res.Languages[0].Language, "hidden overlay of language 2 is dropped")
	assert.Empty(t, e.backends[0].docs)
	assert.Empty(t, e.backends[2].docs)
}

type extraDocs struct{}

func (extraDocs) AdditionalDocuments(_ context.Context, item *model.Item, language int, doc *model.Document) ([]*model.Document, error) {
	extra := model.NewDocument()
	extra.SetField("id", fmt.Sprintf("%s/extra", doc.ID()))
	return []*model.Document{extra}, nil
}

type stamp struct{}

func (stamp) ModifyDocuments(_ context.Context, _ *model.Item, language int, docs []*model.Document) ([]*model.Document, error) {
	for _, d := range docs {
		d.SetField("stamped", language)
	}
	return docs, nil
}

func TestHooks(t *testing.T) {
	e := newEnv(t)
	reg := NewRegistry()
	require.NoError(t, reg.RegisterAdditionalDocuments("extra", extraDocs{}))
	require.NoError(t, reg.RegisterDocumentModifier("stamp", stamp{}))
	e.deps.Registry = reg
	e.site.Hooks = site.Hooks{AdditionalDocuments: []string{"extra"}, DocumentModifiers: []string{"stamp"}}

	res, err := NewService(e.deps).Index(context.Background(), newsItem())
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded())
	assert.Equal(t, 2, res.Languages[0].Documents)
	require.Len(t, e.backends[1].docs, 2)
	for _, d := range e.backends[1].docs {
		assert.Equal(t, 1, d.Value("stamped"))
	}
	assert.Equal(t, e.backends[1].docs[0].ID()+"/extra", e.backends[1].docs[1].ID())

	e.site.Hooks.DocumentModifiers = []string{"missing"}
	_, err = NewService(e.deps).Index(context.Background(), newsItem())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestUnknownIndexer(t *testing.T) {
	e := newEnv(t)
	cfg, _ := e.site.Configuration("news")
	cfg.Indexer = "nope"
	_, err := NewService(e.deps).Index(context.Background(), newsItem())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewService(e.deps).Index(context.Background(), &model.Item{RootPageID: 1, ItemType: "tx_news", ItemUID: 7, IndexingConfiguration: "gone"})
	assert.ErrorIs(t, err, site.ErrUnknownConfiguration)
}

type fakeRequester struct {
	requests []*pagerequest.Request
	groups   map[int][]int
	notFound bool
	err      error
}

func (f *fakeRequester) Send(_ context.Context, pageURL string, req *pagerequest.Request) (*pagerequest.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var result any
	switch req.Actions[0] {
	case pagerequest.ActionFindUserGroups:
		result = f.groups[req.Language]
	case pagerequest.ActionIndexPage:
		result = pagerequest.IndexPageResult{PageIndexed: !f.notFound, DocumentID: req.Param(pagerequest.ParamAccessRootline)}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &pagerequest.Response{
		RequestID:     req.RequestID,
		ActionResults: map[string]json.RawMessage{req.Actions[0]: raw},
	}, nil
}

func pageItem() *model.Item {
	return &model.Item{ID: 3, RootPageID: 1, ItemType: model.TablePages, ItemUID: 2, IndexingConfiguration: "pages"}
}

func TestPageIndexer(t *testing.T) {
	e := newEnv(t)
	req := &fakeRequester{groups: map[int][]int{0: {0, 2}}}
	e.deps.Pages = req

	item := pageItem()
	item.Properties = model.MountProperties{Source: 2, Destination: 50}.Properties()
	res, err := NewService(e.deps).Index(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, res.Languages, 2, "language 1 has no groups")
	assert.True(t, res.AllSucceeded())
	assert.Equal(t, "c:0", res.Languages[0].Response.Body)
	assert.Equal(t, "c:2", res.Languages[1].Response.Body)
	assert.Equal(t, 2, *res.Languages[1].Group)

	require.Len(t, req.requests, 4)
	assert.Equal(t, []string{pagerequest.ActionFindUserGroups}, req.requests[0].Actions)
	assert.Equal(t, []string{pagerequest.ActionIndexPage}, req.requests[1].Actions)
	assert.Equal(t, "2-50", req.requests[1].Param(pagerequest.ParamMountPoint))
	assert.Equal(t, "1", req.requests[1].Param(pagerequest.ParamRootPageID))
	assert.Equal(t, int64(3), req.requests[1].ItemID)
	assert.Equal(t, 1, req.requests[3].Language)
	assert.Equal(t, []string{pagerequest.ActionFindUserGroups}, req.requests[3].Actions)
}

func TestPageIndexerFailures(t *testing.T) {
	e := newEnv(t)
	e.deps.Pages = &fakeRequester{groups: map[int][]int{0: {0}}, notFound: true}
	res, err := NewService(e.deps).Index(context.Background(), pageItem())
	assert.ErrorIs(t, err, ErrPageNotIndexed)
	assert.False(t, res.AllSucceeded())

	e.deps.Pages = &fakeRequester{err: fmt.Errorf("bad hash: %w", pagerequest.ErrUnauthorized)}
	_, err = NewService(e.deps).Index(context.Background(), pageItem())
	assert.ErrorIs(t, err, pagerequest.ErrUnauthorized)

	e.deps.Pages = &fakeRequester{err: errors.New("timeout")}
	res, err = NewService(e.deps).Index(context.Background(), pageItem())
	require.NoError(t, err)
	assert.False(t, res.AllSucceeded(), "a failed render never counts as indexed")
	assert.Contains(t, res.Err().Error(), "timeout")
}

func TestPageIndexerSkipsHiddenPage(t *testing.T) {
	e := newEnv(t)
	req := &fakeRequester{groups: map[int][]int{0: {0}}}
	e.deps.Pages = req
	require.NoError(t, e.records.Update(model.TablePages, 2, map[string]any{"hidden": 1}))
	res, err := NewService(e.deps).Index(context.Background(), pageItem())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, req.requests)

	e.deps.Pages = nil
	_, err = NewService(e.deps).Index(context.Background(), pageItem())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestPageIndexerWithoutConnections(t *testing.T) {
	e := newEnv(t)
	req := &fakeRequester{groups: map[int][]int{0: {0}}}
	e.deps.Pages = req
	e.deps.Backends = fakeBackends{}

	res, err := NewService(e.deps).Index(context.Background(), pageItem())
	require.NoError(t, err)
	assert.False(t, res.Skipped, "a site without connections is a failure, not an empty page")
	assert.Empty(t, res.Languages)
	assert.False(t, res.AllSucceeded())
	assert.Empty(t, req.requests)
}

func TestPageIndexerLogs(t *testing.T) {
	e := newEnv(t)
	e.deps.Pages = &fakeRequester{groups: map[int][]int{0: {0, 2}}}

	_, err := NewService(e.deps).Index(context.Background(), pageItem())
	require.NoError(t, err)
	assert.Empty(t, e.archive.keys, "logging is off for pages")

	e.site.Logging.IndexingQueue["pages"] = true
	_, err = NewService(e.deps).Index(context.Background(), pageItem())
	require.NoError(t, err)
	assert.Equal(t, []string{"1/3/0.json", "1/3/0.json"}, e.archive.keys)

	e.archive.keys = nil
	e.deps.Pages = &fakeRequester{groups: map[int][]int{0: {0}}, notFound: true}
	_, err = NewService(e.deps).Index(context.Background(), pageItem())
	assert.ErrorIs(t, err, ErrPageNotIndexed)
	assert.Equal(t, []string{"1/3/0.json"}, e.archive.keys)
}

type fakeFiles map[string][]byte

func (f fakeFiles) ReadFile(_ context.Context, identifier string) ([]byte, error) {
	data, ok := f[identifier]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", identifier, model.ErrNotFound)
	}
	return data, nil
}

func TestFileIndexer(t *testing.T) {
	e := newEnv(t)
	e.records.Put(model.TableFiles, model.Record{"uid": 5, "pid": 0, "identifier": "docs/a.txt", "mime_type": "text/plain", "name": "a.txt", "size": 11})
	e.records.Put(model.TableFiles, model.Record{"uid": 6, "pid": 0, "identifier": "docs/b.png", "mime_type": "image/png", "name": "b.png"})
	e.deps.Files = fakeFiles{"docs/a.txt": []byte("hello world"), "docs/b.png": {0x89}}

	item := &model.Item{ID: 4, RootPageID: 1, ItemType: model.TableFiles, ItemUID: 5, IndexingConfiguration: "files",
		Properties: map[string]string{"collection": "manuals"}}
	res, err := NewService(e.deps).Index(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded())
	require.Len(t, e.backends[0].docs, 1)
	doc := e.backends[0].docs[0]
	assert.Equal(t, "hello world", doc.Value("content"))
	assert.Equal(t, "manuals", doc.Value("collection"))
	assert.Equal(t, "a.txt", doc.Value("fileName"))

	item.ItemUID = 6
	res, err = NewService(e.deps).Index(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded())
	assert.False(t, e.backends[0].docs[1].Has("content"))

	e.records.Put(model.TableFiles, model.Record{"uid": 9, "identifier": "docs/missing.txt", "mime_type": "text/plain"})
	item.ItemUID = 9
	_, err = NewService(e.deps).Index(context.Background(), item)
	assert.ErrorIs(t, err, model.ErrNotFound)

	e.deps.Files = nil
	_, err = NewService(e.deps).Index(context.Background(), item)
	assert.ErrorIs(t, err, ErrConfiguration)
}
