package queue

import (
	"context"
	"errors"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// PostProcessor observes the outcome of Initialize for a site. results maps
// each initialized configuration name to whether it succeeded.
type PostProcessor interface {
	PostProcessInitialization(ctx context.Context, st *site.Site, results map[string]bool) error
}

// Initialize rebuilds the items of a site for one configuration, or for all
// enabled configurations when configuration is empty. Existing items of the
// configuration are removed first, so repeated runs yield the same items.
func (q *Queue) Initialize(ctx context.Context, root int, configuration string) (map[string]int, error) {
	st, err := q.sites.Site(ctx, root)
	if err != nil {
		return nil, err
	}
	names := []string{configuration}
	if configuration == "" {
		if names, err = q.sites.IndexingConfigurationNames(ctx, root); err != nil {
			return nil, err
		}
	}
	q.tree.Purge()

	counts := make(map[string]int, len(names))
	results := make(map[string]bool, len(names))
	var firstErr error
	for _, name := range names {
		cfg, err := q.sites.IndexingConfiguration(ctx, root, name)
		if err != nil {
			return nil, err
		}
		n, err := q.initializeConfiguration(ctx, st, cfg)
		results[name] = err == nil
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.QueueInitializationsTotal.WithLabelValues(name, status).Inc()
		if err != nil {
			log.Printf("[WARN] initialize %s for site %d failed: %v", name, root, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		counts[name] = n
		log.Printf("[INFO] initialized %s for site %d with %d items", name, root, n)
	}
	for _, pp := range q.post {
		if err := pp.PostProcessInitialization(ctx, st, results); err != nil {
			return counts, fmt.Errorf("post process initialization: %w", err)
		}
	}
	return counts, firstErr
}

func (q *Queue) initializeConfiguration(ctx context.Context, st *site.Site, cfg *site.IndexingConfiguration) (int, error) {
	if _, err := q.items.DeleteItems(ctx, model.ItemFilter{RootPageID: st.RootPageID, IndexingConfiguration: cfg.Name}); err != nil {
		return 0, err
	}
	table := cfg.TableName()
	queued := make(map[int]bool)
	others, err := q.items.FindItems(ctx, model.ItemFilter{RootPageID: st.RootPageID, ItemType: table})
	if err != nil {
		return 0, err
	}
	for _, it := range others {
		queued[it.ItemUID] = true
	}

	pages, err := q.sitePages(ctx, st.RootPageID)
	if err != nil {
		return 0, err
	}
	var items []*model.Item
	add := func(rec model.Record, props map[string]string) error {
		changed, err := q.changedTime(ctx, table, rec)
		if err != nil {
			return err
		}
		queued[rec.UID()] = true
		items = append(items, &model.Item{
			RootPageID:            st.RootPageID,
			ItemType:              table,
			ItemUID:               rec.UID(),
			IndexingConfiguration: cfg.Name,
			Priority:              cfg.Priority,
			Changed:               changed,
			Properties:            props,
		})
		return nil
	}

	if table == model.TablePages {
		eligible, err := q.eligiblePages(ctx, st, cfg, pageIDs(pages))
		if err != nil {
			return 0, err
		}
		for _, rec := range eligible {
			if queued[rec.UID()] {
				continue
			}
			if err := add(rec, nil); err != nil {
				return 0, err
			}
		}
		mounted, err := q.mountedPages(ctx, st, cfg, pages)
		if err != nil {
			return 0, err
		}
		for _, m := range mounted {
			if queued[m.record.UID()] {
				continue
			}
			if err := add(m.record, m.mount.Properties()); err != nil {
				return 0, err
			}
		}
	} else {
		recs, err := q.records.Records(ctx, table, model.Query{
			In:    map[string][]int{"pid": pageIDs(pages)},
			Where: cfg.AdditionalWhereClause,
		})
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", table, err)
		}
		tc := q.sites.TableControl(table)
		for _, rec := range recs {
			if !tc.Enabled(rec) || queued[rec.UID()] {
				continue
			}
			if tc.LanguageField != "" && rec.Int(tc.LanguageField) > 0 {
				continue
			}
			if err := add(rec, nil); err != nil {
				return 0, err
			}
		}
	}
	if err := q.items.InsertItems(ctx, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// sitePages returns the non deleted pages belonging to the site, excluding
// nested site roots and their trees.
func (q *Queue) sitePages(ctx context.Context, root int) ([]model.Record, error) {
	subtree, err := q.tree.Subtree(ctx, root)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]model.Record, 0, len(subtree))
	for _, rec := range subtree {
		owner, err := q.tree.SiteRoot(ctx, rec.UID())
		if err != nil || owner != root {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (q *Queue) eligiblePages(ctx context.Context, st *site.Site, cfg *site.IndexingConfiguration, ids []int) ([]model.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := q.records.Records(ctx, model.TablePages, model.Query{
		In:    map[string][]int{"uid": ids},
		Where: cfg.AdditionalWhereClause,
	})
	if err != nil {
		return nil, fmt.Errorf("scan pages: %w", err)
	}
	tc := q.sites.TableControl(model.TablePages)
	out := recs[:0]
	for _, rec := range recs {
		if tc.Enabled(rec) && st.PageTypeAllowed(rec.Int("doktype")) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type mountedPage struct {
	record model.Record
	mount  model.MountProperties
}

// mountedPages resolves the mount points inside the site to the pages they
// mount. Each page appears once even when several mount points reach it.
func (q *Queue) mountedPages(ctx context.Context, st *site.Site, cfg *site.IndexingConfiguration, pages []model.Record) ([]mountedPage, error) {
	tc := q.sites.TableControl(model.TablePages)
	seen := make(map[int]bool)
	var out []mountedPage
	for _, mp := range pages {
		if mp.Int("doktype") != model.DoktypeMountPoint || mp.Int("mount_pid") <= 0 || !tc.Enabled(mp) {
			continue
		}
		mount := model.MountProperties{Source: mp.Int("mount_pid"), Destination: mp.UID()}
		desc, err := q.tree.Descendants(ctx, mount.Source)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return nil, err
		}
		eligible, err := q.eligiblePages(ctx, st, cfg, pageIDs(desc))
		if err != nil {
			return nil, err
		}
		for _, rec := range eligible {
			if seen[rec.UID()] {
				continue
			}
			seen[rec.UID()] = true
			out = append(out, mountedPage{record: rec, mount: mount})
		}
	}
	return out, nil
}

func pageIDs(pages []model.Record) []int {
	ids := make([]int, len(pages))
	for i, p := range pages {
		ids[i] = p.UID()
	}
	return ids
}
