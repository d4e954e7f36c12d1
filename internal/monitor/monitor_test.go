package monitor

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/pagetree"
	"github.com/dharsanguruparan/indexqueue/internal/queue"
	"github.com/dharsanguruparan/indexqueue/internal/site"
	"github.com/dharsanguruparan/indexqueue/internal/storage"
)

type removal struct {
	root     int
	itemType string
	uid      int
}

type fakeRemover struct {
	mu    sync.Mutex
	calls []removal
}

func (f *fakeRemover) RemoveDocuments(_ context.Context, root int, itemType string, uid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, removal{root: root, itemType: itemType, uid: uid})
	return nil
}

type env struct {
	records *storage.MemoryRecords
	queue   *queue.Queue
	monitor *Monitor
	remover *fakeRemover
}

func newEnv(t *testing.T, sites ...*site.Site) *env {
	t.Helper()
	records := storage.NewMemoryRecords()
	q := queue.New(storage.NewMemoryItems(), records, pagetree.New(records, 16), site.NewStatic(sites, nil)).
		WithClock(func() time.Time { return time.Unix(10000, 0) })
	remover := &fakeRemover{}
	return &env{records: records, queue: q, monitor: New(q, NewGarbageCollector(q, remover)), remover: remover}
}

func pagesSite(root int, recursive ...string) *site.Site {
	return &site.Site{
		RootPageID: root,
		Domain:     "example.org",
		Configurations: []*site.IndexingConfiguration{
			{Name: "pages", Enabled: true, RecursiveUpdateFields: recursive},
			{Name: "news", Table: "tx_news", Enabled: true},
		},
	}
}

func (e *env) page(uid, pid int, fields map[string]any) {
	rec := model.Record{"uid": uid, "pid": pid, "doktype": model.DoktypeDefault, "tstamp": 100}
	for k, v := range fields {
		rec[k] = v
	}
	e.records.Put(model.TablePages, rec)
}

func (e *env) items(t *testing.T, f model.ItemFilter) []*model.Item {
	t.Helper()
	items, err := e.queue.Items(context.Background(), f)
	require.NoError(t, err)
	return items
}

func TestContentEditQueuesPage(t *testing.T) {
	e := newEnv(t, pagesSite(1))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.records.Put(model.TableContent, model.Record{"uid": 456, "pid": 1, "tstamp": 700})

	require.NoError(t, e.monitor.Handle(context.Background(), Event{Kind: KindWrite, Table: model.TableContent, UID: 456}))

	items := e.items(t, model.ItemFilter{})
	require.Len(t, items, 1)
	assert.Equal(t, model.TablePages, items[0].ItemType)
	assert.Equal(t, 1, items[0].ItemUID)
	assert.GreaterOrEqual(t, items[0].Changed, int64(700))
}

func TestContentDeleteQueuesPage(t *testing.T) {
	e := newEnv(t, pagesSite(1))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.page(2, 1, map[string]any{"hidden": 1})
	e.records.Put(model.TableContent, model.Record{"uid": 5, "pid": 1, "tstamp": 700})
	e.records.Put(model.TableContent, model.Record{"uid": 6, "pid": 2, "tstamp": 700})

	ctx := context.Background()
	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindDelete, Table: model.TableContent, UID: 5}))
	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindDelete, Table: model.TableContent, UID: 6}))

	items := e.items(t, model.ItemFilter{})
	require.Len(t, items, 1, "content of hidden pages does not queue the page")
	assert.Equal(t, 1, items[0].ItemUID)
}

func TestRecursiveFieldUpdate(t *testing.T) {
	e := newEnv(t, pagesSite(1, "title"))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.page(2, 1, nil)
	e.page(3, 1, nil)
	e.page(4, 3, nil)
	e.page(5, 4, nil)
	ctx := context.Background()

	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: model.TablePages, UID: 1, Fields: map[string]any{"abstract": "x"}}))
	assert.Len(t, e.items(t, model.ItemFilter{}), 1)

	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: model.TablePages, UID: 1, Fields: map[string]any{"title": "x"}}))
	items := e.items(t, model.ItemFilter{})
	require.Len(t, items, 5)
	var uids []int
	for _, it := range items {
		uids = append(uids, it.ItemUID)
	}
	sort.Ints(uids)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, uids)
}

func TestDisabledPageIsGarbageCollected(t *testing.T) {
	e := newEnv(t, pagesSite(1))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.page(2, 1, nil)
	ctx := context.Background()

	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: model.TablePages, UID: 2}))
	require.Len(t, e.items(t, model.ItemFilter{ItemUID: 2}), 1)

	require.NoError(t, e.records.Update(model.TablePages, 2, map[string]any{"hidden": 1}))
	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: model.TablePages, UID: 2, Fields: map[string]any{"hidden": 1}}))

	assert.Empty(t, e.items(t, model.ItemFilter{ItemUID: 2}))
	assert.Equal(t, []removal{{root: 1, itemType: model.TablePages, uid: 2}}, e.remover.calls)
}

func TestQueueItemStaysWhenOverlayIsSetToHidden(t *testing.T) {
	e := newEnv(t, pagesSite(1))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.page(2, 1, nil)
	e.records.Put(model.TablePagesOverlay, model.Record{"uid": 20, "pid": 2, "sys_language_uid": 1, "tstamp": 300, "hidden": 1})
	ctx := context.Background()

	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: model.TablePages, UID: 2}))
	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: model.TablePagesOverlay, UID: 20, Fields: map[string]any{"hidden": 1}}))

	items := e.items(t, model.ItemFilter{ItemType: model.TablePages, ItemUID: 2})
	require.Len(t, items, 1)
	assert.Empty(t, e.remover.calls)
	assert.Empty(t, e.items(t, model.ItemFilter{ItemType: model.TablePagesOverlay}))
}

func TestLocalizedRecordUpdatesSource(t *testing.T) {
	e := newEnv(t, pagesSite(1))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.records.Put("tx_news", model.Record{"uid": 7, "pid": 1, "tstamp": 200})
	e.records.Put("tx_news", model.Record{"uid": 8, "pid": 1, "tstamp": 200, "sys_language_uid": 1, "l18n_parent": 7})

	require.NoError(t, e.monitor.Handle(context.Background(), Event{Kind: KindWrite, Table: "tx_news", UID: 8}))
	items := e.items(t, model.ItemFilter{ItemType: "tx_news"})
	require.Len(t, items, 1)
	assert.Equal(t, 7, items[0].ItemUID)
}

func TestMountPointDeduplication(t *testing.T) {
	e := newEnv(t, pagesSite(1), pagesSite(100))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.page(10, 1, nil)
	e.page(11, 10, nil)
	e.page(100, 0, map[string]any{"is_siteroot": 1})
	e.page(101, 100, map[string]any{"doktype": model.DoktypeMountPoint, "mount_pid": 10})
	e.page(102, 100, map[string]any{"doktype": model.DoktypeMountPoint, "mount_pid": 1})

	require.NoError(t, e.monitor.Handle(context.Background(), Event{Kind: KindWrite, Table: model.TablePages, UID: 11}))

	assert.Len(t, e.items(t, model.ItemFilter{RootPageID: 1, ItemUID: 11}), 1)
	mounted := e.items(t, model.ItemFilter{RootPageID: 100, ItemUID: 11})
	require.Len(t, mounted, 1)
	assert.True(t, mounted[0].IsMountedPage())
	assert.Equal(t, "10", mounted[0].Property(model.PropMountPageSource))
	assert.Equal(t, "101", mounted[0].Property(model.PropMountPageDestination))
}

func TestPageMoveReRootsItems(t *testing.T) {
	e := newEnv(t, pagesSite(1), pagesSite(100))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.page(10, 1, nil)
	e.page(11, 10, nil)
	e.page(100, 0, map[string]any{"is_siteroot": 1})
	ctx := context.Background()

	for _, uid := range []int{10, 11} {
		require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: model.TablePages, UID: uid}))
	}
	require.Len(t, e.items(t, model.ItemFilter{RootPageID: 1}), 2)

	require.NoError(t, e.records.Update(model.TablePages, 10, map[string]any{"pid": 100}))
	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindMove, Table: model.TablePages, UID: 10, PID: 100}))

	assert.Empty(t, e.items(t, model.ItemFilter{RootPageID: 1}))
	assert.Len(t, e.items(t, model.ItemFilter{RootPageID: 100}), 2)
	assert.Len(t, e.remover.calls, 2)
}

func TestRecordDeleteAndPublish(t *testing.T) {
	e := newEnv(t, pagesSite(1))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.records.Put("tx_news", model.Record{"uid": 7, "pid": 1, "tstamp": 200})
	ctx := context.Background()

	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: "tx_news", UID: 7, Workspace: 3}))
	assert.Empty(t, e.items(t, model.ItemFilter{}), "draft writes are ignored")

	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindPublish, Table: "tx_news", UID: 7}))
	assert.Len(t, e.items(t, model.ItemFilter{ItemType: "tx_news"}), 1)

	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindDelete, Table: "tx_news", UID: 7}))
	assert.Empty(t, e.items(t, model.ItemFilter{ItemType: "tx_news"}))

	e.records.Remove("tx_news", 7)
	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindPublish, Table: "tx_news", UID: 7, PID: 1}))
	assert.Empty(t, e.items(t, model.ItemFilter{}))
}

func TestInvalidEvent(t *testing.T) {
	e := newEnv(t, pagesSite(1))
	assert.Error(t, e.monitor.Handle(context.Background(), Event{Kind: "rename", Table: "pages", UID: 1}))
	assert.Error(t, e.monitor.Handle(context.Background(), Event{Kind: KindWrite, UID: 1}))
	assert.Error(t, e.monitor.Handle(context.Background(), Event{Kind: KindWrite, Table: "pages"}))
}

func TestRecordMovedToAnotherSite(t *testing.T) {
	e := newEnv(t, pagesSite(1), pagesSite(100))
	e.page(1, 0, map[string]any{"is_siteroot": 1})
	e.page(10, 1, map[string]any{"doktype": model.DoktypeSysFolder})
	e.page(100, 0, map[string]any{"is_siteroot": 1})
	e.page(110, 100, map[string]any{"doktype": model.DoktypeSysFolder})
	e.records.Put("tx_news", model.Record{"uid": 7, "pid": 10, "tstamp": 200})
	ctx := context.Background()

	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: "tx_news", UID: 7}))
	items := e.items(t, model.ItemFilter{ItemType: "tx_news"})
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RootPageID)
	assert.Empty(t, e.remover.calls)

	require.NoError(t, e.records.Update("tx_news", 7, map[string]any{"pid": 110, "tstamp": 300}))
	require.NoError(t, e.monitor.Handle(ctx, Event{Kind: KindWrite, Table: "tx_news", UID: 7}))

	items = e.items(t, model.ItemFilter{ItemType: "tx_news"})
	require.Len(t, items, 1, "one item per record across sites")
	assert.Equal(t, 100, items[0].RootPageID)
	assert.Equal(t, []removal{{root: 1, itemType: "tx_news", uid: 7}}, e.remover.calls)
}
