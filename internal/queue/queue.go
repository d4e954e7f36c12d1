// Package queue is the index queue: the persistent list of records that need
// (re)indexing, their scheduling timestamps and error markers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/pagetree"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// FailedMarker is stored in errors when an item is marked failed without a
// message.
const FailedMarker = "1"

// Queue implements the queue operations on top of an ItemStore. It keeps no
// state between calls; the store is the single source of truth.
type Queue struct {
	items   model.ItemStore
	records model.RecordStore
	tree    *pagetree.Tree
	sites   site.Provider
	now     func() time.Time
	post    []PostProcessor
}

// New constructs a Queue.
func New(items model.ItemStore, records model.RecordStore, tree *pagetree.Tree, sites site.Provider) *Queue {
	return &Queue{items: items, records: records, tree: tree, sites: sites, now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// WithPostProcessors registers observers of Initialize.
func (q *Queue) WithPostProcessors(pp ...PostProcessor) *Queue {
	q.post = append(q.post, pp...)
	return q
}

// Tree exposes the page tree the queue resolves site roots with.
func (q *Queue) Tree() *pagetree.Tree { return q.tree }

// Sites exposes the configuration provider.
func (q *Queue) Sites() site.Provider { return q.sites }

// Records exposes the record store.
func (q *Queue) Records() model.RecordStore { return q.records }

// UpdateItem queues a record or bumps the changed time of its existing item.
// It returns 1 when a new item was inserted and 0 otherwise, including when
// the record does not exist or is not eligible.
func (q *Queue) UpdateItem(ctx context.Context, itemType string, uid int, configuration string) (int64, error) {
	return q.UpdateItemWithTime(ctx, itemType, uid, configuration, 0)
}

// UpdateItemWithTime is UpdateItem with an explicit changed time; zero means
// compute it from the record.
func (q *Queue) UpdateItemWithTime(ctx context.Context, itemType string, uid int, configuration string, changed int64) (int64, error) {
	target, err := q.resolve(ctx, itemType, uid, configuration)
	if err != nil || target == nil {
		return 0, err
	}
	if changed == 0 {
		if changed, err = q.changedTime(ctx, itemType, target.record); err != nil {
			return 0, err
		}
	}
	existing, err := q.items.FindItems(ctx, model.ItemFilter{ItemType: itemType, ItemUID: uid})
	if err != nil {
		return 0, fmt.Errorf("find item %s:%d: %w", itemType, uid, err)
	}
	found := false
	for _, it := range existing {
		switch {
		case it.RootPageID == target.root:
			found = true
		case !it.IsMountedPage():
			// the record moved to another site, its old item must not stay due
			if err := q.DeleteItemByID(ctx, it.ID); err != nil {
				return 0, err
			}
			log.Printf("[INFO] %s:%d moved from site %d to site %d", itemType, uid, it.RootPageID, target.root)
		}
	}
	if found {
		if _, err := q.items.UpdateChanged(ctx, itemType, uid, changed, configuration); err != nil {
			return 0, err
		}
		return 0, nil
	}
	item := &model.Item{
		RootPageID:            target.root,
		ItemType:              itemType,
		ItemUID:               uid,
		IndexingConfiguration: target.config.Name,
		Priority:              target.config.Priority,
		Changed:               changed,
	}
	if err := q.items.InsertItems(ctx, []*model.Item{item}); err != nil {
		return 0, err
	}
	log.Printf("[DEBUG] queued %s:%d for site %d (%s)", itemType, uid, target.root, target.config.Name)
	return 1, nil
}

type target struct {
	root   int
	config *site.IndexingConfiguration
	record model.Record
}

// resolve applies the eligibility rules. A nil target without error means
// the record must not be queued.
func (q *Queue) resolve(ctx context.Context, itemType string, uid int, configuration string) (*target, error) {
	tc := q.sites.TableControl(itemType)
	rec, err := q.records.Record(ctx, itemType, uid, "")
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s:%d: %w", itemType, uid, err)
	}
	if tc.Deleted(rec) {
		return nil, nil
	}
	pageID := rec.PID()
	if itemType == model.TablePages {
		pageID = uid
	}
	root, err := q.tree.SiteRoot(ctx, pageID)
	if err != nil {
		if errors.Is(err, pagetree.ErrNoSiteRoot) || errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	st, err := q.sites.Site(ctx, root)
	if err != nil {
		if errors.Is(err, site.ErrUnknownSite) {
			return nil, nil
		}
		return nil, err
	}
	cfg, ok := configurationFor(st, itemType, configuration)
	if !ok {
		return nil, nil
	}
	if itemType == model.TablePages && !st.PageTypeAllowed(rec.Int("doktype")) {
		return nil, nil
	}
	if cfg.AdditionalWhereClause != "" {
		if _, err := q.records.Record(ctx, itemType, uid, cfg.AdditionalWhereClause); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("load %s:%d: %w", itemType, uid, err)
		}
	}
	return &target{root: root, config: cfg, record: rec}, nil
}

func configurationFor(st *site.Site, itemType, name string) (*site.IndexingConfiguration, bool) {
	if name != "" {
		cfg, ok := st.Configuration(name)
		if !ok || !cfg.Enabled {
			return nil, false
		}
		return cfg, true
	}
	return st.ConfigurationForTable(itemType)
}

// ItemChangedTime returns the time the record's data dates from: the later of
// its modification time and a future start time; for pages also the latest
// modification of their content elements.
func (q *Queue) ItemChangedTime(ctx context.Context, itemType string, uid int) (int64, error) {
	rec, err := q.records.Record(ctx, itemType, uid, "")
	if err != nil {
		return 0, fmt.Errorf("load %s:%d: %w", itemType, uid, err)
	}
	return q.changedTime(ctx, itemType, rec)
}

func (q *Queue) changedTime(ctx context.Context, itemType string, rec model.Record) (int64, error) {
	tc := q.sites.TableControl(itemType)
	var changed int64
	if tc.TstampField != "" {
		changed = rec.Int64(tc.TstampField)
	}
	if tc.StarttimeField != "" {
		if start := rec.Int64(tc.StarttimeField); start > changed {
			changed = start
		}
	}
	if itemType == model.TablePages {
		content, err := q.tree.ContentChangedTime(ctx, rec.UID())
		if err != nil {
			return 0, err
		}
		if content > changed {
			changed = content
		}
	}
	if changed == 0 {
		changed = q.now().Unix()
	}
	return changed, nil
}

// AddMountedPage queues page uid as a mount point duplicate in the tree of
// destRoot. A destination tree gets at most one item per page; an existing
// one only has its changed time refreshed.
func (q *Queue) AddMountedPage(ctx context.Context, destRoot, uid int, mount model.MountProperties) (int64, error) {
	existing, err := q.items.FindItems(ctx, model.ItemFilter{RootPageID: destRoot, ItemType: model.TablePages, ItemUID: uid})
	if err != nil {
		return 0, fmt.Errorf("find mounted page %d: %w", uid, err)
	}
	changed, err := q.ItemChangedTime(ctx, model.TablePages, uid)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		for _, it := range existing {
			if err := q.items.UpdateItemChanged(ctx, it.ID, changed); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}
	st, err := q.sites.Site(ctx, destRoot)
	if err != nil {
		return 0, err
	}
	cfg, ok := st.ConfigurationForTable(model.TablePages)
	if !ok {
		return 0, nil
	}
	item := &model.Item{
		RootPageID:            destRoot,
		ItemType:              model.TablePages,
		ItemUID:               uid,
		IndexingConfiguration: cfg.Name,
		Priority:              cfg.Priority,
		Changed:               changed,
		Properties:            mount.Properties(),
	}
	if err := q.items.InsertItems(ctx, []*model.Item{item}); err != nil {
		return 0, err
	}
	log.Printf("[DEBUG] queued mounted page %d for site %d via %s", uid, destRoot, mount.Identifier())
	return 1, nil
}

// ContainsItem reports whether any item exists for the record.
func (q *Queue) ContainsItem(ctx context.Context, itemType string, uid int) (bool, error) {
	items, err := q.items.FindItems(ctx, model.ItemFilter{ItemType: itemType, ItemUID: uid})
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// ContainsIndexedItem reports whether an item exists for the record and has
// been indexed at least once.
func (q *Queue) ContainsIndexedItem(ctx context.Context, itemType string, uid int) (bool, error) {
	items, err := q.items.FindItems(ctx, model.ItemFilter{ItemType: itemType, ItemUID: uid})
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it.Indexed > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ItemsToIndex returns up to limit due items of a site, most urgent first.
func (q *Queue) ItemsToIndex(ctx context.Context, root, limit int) ([]*model.Item, error) {
	return q.items.DueItems(ctx, root, q.now().Unix(), limit)
}

// ClaimItemsToIndex is ItemsToIndex for concurrent workers: the returned
// items are leased to owner and skipped by other claims until the lease
// expires or the item is marked.
func (q *Queue) ClaimItemsToIndex(ctx context.Context, root, limit int, owner string, lease time.Duration) ([]*model.Item, error) {
	now := q.now()
	return q.items.ClaimDueItems(ctx, root, now.Unix(), limit, owner, now.Add(lease).Unix())
}

// Item returns one item by id.
func (q *Queue) Item(ctx context.Context, id int64) (*model.Item, error) {
	items, err := q.items.FindItems(ctx, model.ItemFilter{ID: id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("item %d: %w", id, model.ErrNotFound)
	}
	return items[0], nil
}

// Items returns the items matching f.
func (q *Queue) Items(ctx context.Context, f model.ItemFilter) ([]*model.Item, error) {
	return q.items.FindItems(ctx, f)
}

// MarkItemAsFailed stores message (FailedMarker when empty) so the item is
// no longer picked up until its error is reset.
func (q *Queue) MarkItemAsFailed(ctx context.Context, id int64, message string) error {
	if message == "" {
		message = FailedMarker
	}
	return q.items.MarkFailed(ctx, id, message)
}

// MarkItemAsIndexed records a successful pass at the current time.
func (q *Queue) MarkItemAsIndexed(ctx context.Context, id int64) error {
	return q.items.MarkIndexed(ctx, id, q.now().Unix())
}

// SetIndexingProperties replaces the properties of an item.
func (q *Queue) SetIndexingProperties(ctx context.Context, id int64, props map[string]string) error {
	it, err := q.Item(ctx, id)
	if err != nil {
		return err
	}
	return q.items.SetProperties(ctx, id, it.RootPageID, props)
}

// DeleteItem removes every item of a record, in all sites.
func (q *Queue) DeleteItem(ctx context.Context, itemType string, uid int) error {
	_, err := q.items.DeleteItems(ctx, model.ItemFilter{ItemType: itemType, ItemUID: uid})
	return err
}

// DeleteItemByID removes one item and its indexing properties.
func (q *Queue) DeleteItemByID(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("item id required")
	}
	_, err := q.items.DeleteItems(ctx, model.ItemFilter{ID: id})
	return err
}

// DeleteItemsByType removes all items of a type.
func (q *Queue) DeleteItemsByType(ctx context.Context, itemType string) error {
	if itemType == "" {
		return errors.New("item type required")
	}
	_, err := q.items.DeleteItems(ctx, model.ItemFilter{ItemType: itemType})
	return err
}

// DeleteItemsBySite removes the items of a site, optionally only those of one
// indexing configuration.
func (q *Queue) DeleteItemsBySite(ctx context.Context, root int, configuration string) error {
	if root <= 0 {
		return errors.New("root page id required")
	}
	_, err := q.items.DeleteItems(ctx, model.ItemFilter{RootPageID: root, IndexingConfiguration: configuration})
	return err
}

// DeleteAllItems empties the queue.
func (q *Queue) DeleteAllItems(ctx context.Context) error {
	_, err := q.items.DeleteItems(ctx, model.ItemFilter{})
	return err
}

// StatisticsBySite counts the items of a site.
func (q *Queue) StatisticsBySite(ctx context.Context, root int, configuration string) (model.Statistics, error) {
	return q.items.Statistics(ctx, root, configuration)
}

// ErrorsBySite lists the failed items of a site.
func (q *Queue) ErrorsBySite(ctx context.Context, root int) ([]*model.Item, error) {
	return q.items.FindItems(ctx, model.ItemFilter{RootPageID: root, OnlyErrors: true})
}

// ResetAllErrors clears every error marker.
func (q *Queue) ResetAllErrors(ctx context.Context) (int64, error) {
	return q.items.ResetErrors(ctx, model.ItemFilter{})
}

// ResetErrorsBySite clears the error markers of a site.
func (q *Queue) ResetErrorsBySite(ctx context.Context, root int) (int64, error) {
	return q.items.ResetErrors(ctx, model.ItemFilter{RootPageID: root})
}

// ResetErrorByItem clears the error marker of one item.
func (q *Queue) ResetErrorByItem(ctx context.Context, id int64) (int64, error) {
	return q.items.ResetErrors(ctx, model.ItemFilter{ID: id})
}
