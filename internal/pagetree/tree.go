// Package pagetree answers questions about the page hierarchy: rootlines,
// site roots, subtrees, mount points and content change times. All walks are
// bounded by visited sets so cyclic trees or mounts terminate.
package pagetree

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammazero/deque"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dharsanguruparan/indexqueue/internal/model"
)

// ErrNoSiteRoot is returned when a page has no site root in its rootline.
var ErrNoSiteRoot = errors.New("no site root in rootline")

const defaultCacheSize = 1024

// Tree reads the pages table through a RecordStore.
type Tree struct {
	records model.RecordStore
	pages   model.TableControl
	content model.TableControl
	cache   *lru.Cache[int, []model.Record]
}

// New creates a Tree with a rootline cache of cacheSize entries (a default
// size when cacheSize <= 0).
func New(records model.RecordStore, cacheSize int) *Tree {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, _ := lru.New[int, []model.Record](cacheSize)
	return &Tree{
		records: records,
		pages:   model.DefaultTableControl(model.TablePages),
		content: model.DefaultTableControl(model.TableContent),
		cache:   cache,
	}
}

// WithTableControls overrides the column names of pages and content elements.
func (t *Tree) WithTableControls(pages, content model.TableControl) *Tree {
	t.pages = pages
	t.content = content
	return t
}

// Purge drops cached rootlines. Call it whenever pages move or change.
func (t *Tree) Purge() {
	t.cache.Purge()
}

// Page returns a page record that is not soft deleted.
func (t *Tree) Page(ctx context.Context, uid int) (model.Record, error) {
	rec, err := t.records.Record(ctx, model.TablePages, uid, "")
	if err != nil {
		return nil, err
	}
	if t.pages.Deleted(rec) {
		return nil, fmt.Errorf("page %d: %w", uid, model.ErrNotFound)
	}
	return rec, nil
}

// Rootline returns the page followed by its ancestors up to the tree root.
func (t *Tree) Rootline(ctx context.Context, uid int) ([]model.Record, error) {
	if cached, ok := t.cache.Get(uid); ok {
		return cached, nil
	}
	var line []model.Record
	visited := make(map[int]bool)
	for id := uid; id > 0 && !visited[id]; {
		visited[id] = true
		rec, err := t.Page(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) && len(line) > 0 {
				break
			}
			return nil, err
		}
		line = append(line, rec)
		id = rec.PID()
	}
	t.cache.Add(uid, line)
	return line, nil
}

// SiteRoot returns the uid of the closest site root at or above uid.
func (t *Tree) SiteRoot(ctx context.Context, uid int) (int, error) {
	line, err := t.Rootline(ctx, uid)
	if err != nil {
		return 0, err
	}
	for _, rec := range line {
		if rec.Int("is_siteroot") == 1 {
			return rec.UID(), nil
		}
	}
	return 0, fmt.Errorf("page %d: %w", uid, ErrNoSiteRoot)
}

// AccessRootline returns the page elements restricting access to uid: the
// page's own groups plus those of ancestors that extend to subpages, ordered
// from the root down.
func (t *Tree) AccessRootline(ctx context.Context, uid int) (model.AccessRootline, error) {
	line, err := t.Rootline(ctx, uid)
	if err != nil {
		return nil, err
	}
	var access model.AccessRootline
	for i := len(line) - 1; i >= 0; i-- {
		rec := line[i]
		groups := rec.IntList(t.pages.GroupField)
		if len(groups) == 0 {
			continue
		}
		if rec.UID() == uid || rec.Int("extendToSubpages") == 1 {
			access = access.AddPage(rec.UID(), groups)
		}
	}
	return access, nil
}

// Children returns the non deleted direct subpages of uid ordered by sorting.
func (t *Tree) Children(ctx context.Context, uid int) ([]model.Record, error) {
	recs, err := t.records.Records(ctx, model.TablePages, model.Query{
		Eq:      map[string]any{"pid": uid},
		OrderBy: "sorting",
	})
	if err != nil {
		return nil, fmt.Errorf("children of %d: %w", uid, err)
	}
	out := recs[:0]
	for _, rec := range recs {
		if !t.pages.Deleted(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Descendants returns every non deleted page below uid in breadth first
// order, excluding uid itself.
func (t *Tree) Descendants(ctx context.Context, uid int) ([]model.Record, error) {
	var (
		out     []model.Record
		work    deque.Deque[int]
		visited = map[int]bool{uid: true}
	)
	work.PushBack(uid)
	for work.Len() > 0 {
		id := work.PopFront()
		children, err := t.Children(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child.UID()] {
				continue
			}
			visited[child.UID()] = true
			out = append(out, child)
			work.PushBack(child.UID())
		}
	}
	return out, nil
}

// Subtree returns uid followed by its descendants.
func (t *Tree) Subtree(ctx context.Context, uid int) ([]model.Record, error) {
	root, err := t.Page(ctx, uid)
	if err != nil {
		return nil, err
	}
	desc, err := t.Descendants(ctx, uid)
	if err != nil {
		return nil, err
	}
	return append([]model.Record{root}, desc...), nil
}

// SubtreeIDs returns the uids of Subtree.
func (t *Tree) SubtreeIDs(ctx context.Context, uid int) ([]int, error) {
	pages, err := t.Subtree(ctx, uid)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(pages))
	for i, p := range pages {
		ids[i] = p.UID()
	}
	return ids, nil
}

// MountPages returns the enabled mount point pages mounting one of sources.
func (t *Tree) MountPages(ctx context.Context, sources []int) ([]model.Record, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	recs, err := t.records.Records(ctx, model.TablePages, model.Query{
		Eq:      map[string]any{"doktype": model.DoktypeMountPoint},
		In:      map[string][]int{"mount_pid": sources},
		OrderBy: "uid",
	})
	if err != nil {
		return nil, fmt.Errorf("mount pages: %w", err)
	}
	out := recs[:0]
	for _, rec := range recs {
		if t.pages.Enabled(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ContentChangedTime returns the latest tstamp of the content elements on a
// page, 0 when it has none.
func (t *Tree) ContentChangedTime(ctx context.Context, uid int) (int64, error) {
	recs, err := t.records.Records(ctx, model.TableContent, model.Query{
		Eq: map[string]any{"pid": uid},
	})
	if err != nil {
		return 0, fmt.Errorf("content of page %d: %w", uid, err)
	}
	var latest int64
	for _, rec := range recs {
		if t.content.Deleted(rec) {
			continue
		}
		if ts := rec.Int64(t.content.TstampField); ts > latest {
			latest = ts
		}
	}
	return latest, nil
}
