package monitor

import (
	"context"
	"errors"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/pagetree"
	"github.com/dharsanguruparan/indexqueue/internal/queue"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// Monitor decides which queue items a record event affects.
type Monitor struct {
	queue   *queue.Queue
	tree    *pagetree.Tree
	sites   site.Provider
	records model.RecordStore
	gc      *GarbageCollector
}

// New constructs a Monitor sharing the queue's page tree and stores.
func New(q *queue.Queue, gc *GarbageCollector) *Monitor {
	return &Monitor{queue: q, tree: q.Tree(), sites: q.Sites(), records: q.Records(), gc: gc}
}

// Handle processes one event. Records that do not qualify are not an error:
// they are skipped or garbage collected.
func (m *Monitor) Handle(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	var err error
	switch ev.Kind {
	case KindDelete:
		err = m.handleDelete(ctx, ev)
	case KindPublish:
		err = m.handleUpdate(ctx, ev)
	case KindMove:
		err = m.handleMove(ctx, ev)
	case KindWrite:
		if ev.Workspace != 0 {
			// drafts reach the queue when they are published
			break
		}
		err = m.handleUpdate(ctx, ev)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.MonitorEventsTotal.WithLabelValues(string(ev.Kind), status).Inc()
	if err != nil {
		return fmt.Errorf("%s %s:%d: %w", ev.Kind, ev.Table, ev.UID, err)
	}
	return nil
}

func (m *Monitor) handleDelete(ctx context.Context, ev Event) error {
	if ev.Table == model.TableContent {
		pid := ev.PID
		if rec, err := m.records.Record(ctx, ev.Table, ev.UID, ""); err == nil {
			pid = rec.PID()
		}
		return m.updatePage(ctx, pid)
	}
	if ev.Table == model.TablePages {
		m.tree.Purge()
	}
	return m.gc.Collect(ctx, ev.Table, ev.UID)
}

// handleUpdate covers writes and publishes: enabled records are queued, the
// others collected.
func (m *Monitor) handleUpdate(ctx context.Context, ev Event) error {
	if ev.Table == model.TablePages {
		m.tree.Purge()
	}
	rec, err := m.records.Record(ctx, ev.Table, ev.UID, "")
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		rec = nil
	}
	if ev.Table == model.TableContent {
		pid := ev.PID
		if rec != nil {
			pid = rec.PID()
		}
		return m.updatePage(ctx, pid)
	}

	pageID := ev.PID
	if rec != nil {
		pageID = rec.PID()
	}
	if ev.Table == model.TablePages {
		pageID = ev.UID
	}
	tc := m.sites.TableControl(ev.Table)
	st, ok, err := m.monitoringSite(ctx, pageID, ev.Table)
	if err != nil {
		return err
	}
	if !ok {
		// the record may have lost its site, e.g. below a deleted page
		if rec == nil || !tc.Enabled(rec) {
			return m.gc.Collect(ctx, ev.Table, ev.UID)
		}
		return nil
	}
	if rec != nil {
		if cfg, found := configurationForTable(st, ev.Table); found && cfg.AdditionalWhereClause != "" && ev.Table != model.TablePagesOverlay {
			if _, err := m.records.Record(ctx, ev.Table, ev.UID, cfg.AdditionalWhereClause); err != nil {
				if !errors.Is(err, model.ErrNotFound) {
					return err
				}
				rec = nil
			}
		}
	}

	if rec != nil && tc.Localized(rec) {
		itemType := ev.Table
		if ev.Table == model.TablePagesOverlay {
			itemType = model.TablePages
		}
		// a translation, enabled or not, only changes its source record's item
		_, err := m.queue.UpdateItem(ctx, itemType, tc.SourceUID(rec), "")
		return err
	}

	if rec == nil || !tc.Enabled(rec) {
		return m.gc.Collect(ctx, ev.Table, ev.UID)
	}
	if ev.Table == model.TablePages && !st.PageTypeAllowed(rec.Int("doktype")) {
		return m.gc.Collect(ctx, ev.Table, ev.UID)
	}
	if err := m.gc.CollectMoved(ctx, ev.Table, ev.UID, st.RootPageID); err != nil {
		return err
	}
	if _, err := m.queue.UpdateItem(ctx, ev.Table, ev.UID, ""); err != nil {
		return err
	}
	if ev.Table != model.TablePages {
		return nil
	}
	if err := m.propagateToMounts(ctx, ev.UID); err != nil {
		return err
	}
	if cfg, found := configurationForTable(st, model.TablePages); found && cfg.RecursiveUpdate(ev.ChangedFields()) {
		return m.updateSubtree(ctx, ev.UID)
	}
	return nil
}

func (m *Monitor) handleMove(ctx context.Context, ev Event) error {
	if ev.Table != model.TablePages || ev.Workspace != 0 {
		return nil
	}
	m.tree.Purge()
	desc, err := m.tree.Descendants(ctx, ev.UID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	uids := []int{ev.UID}
	for _, d := range desc {
		uids = append(uids, d.UID())
	}
	// the site root is derived on insert only, so moved pages are re-created
	for _, uid := range uids {
		if err := m.gc.Collect(ctx, model.TablePages, uid); err != nil {
			return err
		}
	}
	for _, uid := range uids {
		if err := m.handleUpdate(ctx, Event{Kind: KindPublish, Table: model.TablePages, UID: uid}); err != nil {
			return err
		}
	}
	return nil
}

// updatePage re-queues the page owning changed content.
func (m *Monitor) updatePage(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	if _, ok, err := m.monitoringSite(ctx, pid, model.TablePages); err != nil || !ok {
		return err
	}
	pageRecord, err := m.tree.Page(ctx, pid)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if !m.sites.TableControl(model.TablePages).Enabled(pageRecord) {
		return nil
	}
	_, err = m.queue.UpdateItem(ctx, model.TablePages, pid, "")
	return err
}

func (m *Monitor) updateSubtree(ctx context.Context, uid int) error {
	desc, err := m.tree.Descendants(ctx, uid)
	if err != nil {
		return err
	}
	tc := m.sites.TableControl(model.TablePages)
	for _, rec := range desc {
		if !tc.Enabled(rec) {
			continue
		}
		if _, err := m.queue.UpdateItem(ctx, model.TablePages, rec.UID(), ""); err != nil {
			return err
		}
	}
	log.Printf("[DEBUG] recursive update of page %d queued %d subpages", uid, len(desc))
	return nil
}

// propagateToMounts queues page uid in every site that mounts one of its
// ancestors, once per destination site.
func (m *Monitor) propagateToMounts(ctx context.Context, uid int) error {
	line, err := m.tree.Rootline(ctx, uid)
	if err != nil {
		return err
	}
	var candidates []int
	for _, rec := range line[1:] {
		candidates = append(candidates, rec.UID())
		if rec.Int("is_siteroot") == 1 {
			break
		}
	}
	mounts, err := m.tree.MountPages(ctx, candidates)
	if err != nil {
		return err
	}
	seen := make(map[int]bool)
	for _, mp := range mounts {
		dest, err := m.tree.SiteRoot(ctx, mp.UID())
		if err != nil {
			if errors.Is(err, pagetree.ErrNoSiteRoot) {
				continue
			}
			return err
		}
		if seen[dest] {
			continue
		}
		seen[dest] = true
		mount := model.MountProperties{Source: mp.Int("mount_pid"), Destination: mp.UID()}
		if _, err := m.queue.AddMountedPage(ctx, dest, uid, mount); err != nil {
			if errors.Is(err, site.ErrUnknownSite) {
				continue
			}
			return err
		}
	}
	return nil
}

// monitoringSite returns the site of pageID when it monitors table.
func (m *Monitor) monitoringSite(ctx context.Context, pageID int, table string) (*site.Site, bool, error) {
	if pageID <= 0 {
		return nil, false, nil
	}
	root, err := m.tree.SiteRoot(ctx, pageID)
	if err != nil {
		if errors.Is(err, pagetree.ErrNoSiteRoot) || errors.Is(err, model.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	st, err := m.sites.Site(ctx, root)
	if err != nil {
		if errors.Is(err, site.ErrUnknownSite) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return st, st.MonitoredTables()[table], nil
}

func configurationForTable(st *site.Site, table string) (*site.IndexingConfiguration, bool) {
	if table == model.TablePagesOverlay {
		table = model.TablePages
	}
	return st.ConfigurationForTable(table)
}
