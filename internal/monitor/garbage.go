package monitor

import (
	"context"

	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/queue"
)

// DocumentRemover deletes the documents of a record from every backend
// connection of a site.
type DocumentRemover interface {
	RemoveDocuments(ctx context.Context, root int, itemType string, uid int) error
}

// GarbageCollector removes records that no longer qualify for indexing from
// the index and from the queue.
type GarbageCollector struct {
	queue   *queue.Queue
	remover DocumentRemover
}

// NewGarbageCollector constructs a collector; remover may be nil when no
// backend is reachable from the process.
func NewGarbageCollector(q *queue.Queue, remover DocumentRemover) *GarbageCollector {
	return &GarbageCollector{queue: q, remover: remover}
}

// Collect removes the record's documents from the sites it is queued for and
// deletes its items. Records that are not queued are left alone.
func (g *GarbageCollector) Collect(ctx context.Context, itemType string, uid int) error {
	items, err := g.queue.Items(ctx, model.ItemFilter{ItemType: itemType, ItemUID: uid})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	var result error
	if g.remover != nil {
		roots := make(map[int]bool)
		for _, it := range items {
			if roots[it.RootPageID] {
				continue
			}
			roots[it.RootPageID] = true
			if err := g.remover.RemoveDocuments(ctx, it.RootPageID, itemType, uid); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := g.queue.DeleteItem(ctx, itemType, uid); err != nil {
		result = multierror.Append(result, err)
	}
	log.Printf("[DEBUG] garbage collected %s:%d from %d items", itemType, uid, len(items))
	return result
}

// CollectMoved removes a record from the sites it was queued for before it
// moved below root. Mounted page items are kept, they follow their mounts.
func (g *GarbageCollector) CollectMoved(ctx context.Context, itemType string, uid, root int) error {
	items, err := g.queue.Items(ctx, model.ItemFilter{ItemType: itemType, ItemUID: uid})
	if err != nil {
		return err
	}
	var result error
	for _, it := range items {
		if it.RootPageID == root || it.IsMountedPage() {
			continue
		}
		if g.remover != nil {
			if err := g.remover.RemoveDocuments(ctx, it.RootPageID, itemType, uid); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if err := g.queue.DeleteItemByID(ctx, it.ID); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		log.Printf("[DEBUG] %s:%d left site %d, item %d collected", itemType, uid, it.RootPageID, it.ID)
	}
	return result
}
