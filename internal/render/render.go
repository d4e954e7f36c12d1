// Package render executes the page render actions behind the internal page
// request endpoint: it discovers the user group partitions of a page and
// builds and submits the page document of one partition.
package render

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"

	"github.com/dharsanguruparan/indexqueue/internal/indexer"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/pagerequest"
	"github.com/dharsanguruparan/indexqueue/internal/pagetree"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// Content element group markers.
const (
	groupHideAtLogin = -1
	groupAnyLogin    = -2
)

var pageFields = []struct{ field, column string }{
	{"title", "title"},
	{"subTitle", "subtitle"},
	{"navTitle", "nav_title"},
	{"author", "author"},
	{"description", "description"},
	{"abstract", "abstract"},
}

// Renderer assembles pages from their content elements.
type Renderer struct {
	sites    site.Provider
	records  model.RecordStore
	tree     *pagetree.Tree
	backends indexer.Backends
	builder  *indexer.Builder
	strip    *bluemonday.Policy
}

// New makes a Renderer.
func New(sites site.Provider, records model.RecordStore, tree *pagetree.Tree, backends indexer.Backends, builder *indexer.Builder) *Renderer {
	return &Renderer{
		sites:    sites,
		records:  records,
		tree:     tree,
		backends: backends,
		builder:  builder,
		strip:    bluemonday.StrictPolicy(),
	}
}

// Register adds the render actions to h.
func (r *Renderer) Register(h *pagerequest.Handler) {
	h.Register(pagerequest.ActionFindUserGroups, pagerequest.ActionFunc(r.FindUserGroups))
	h.Register(pagerequest.ActionIndexPage, pagerequest.ActionFunc(r.IndexPage))
}

// contentElements returns the enabled content of a page in language, plus
// content shown in all languages, ordered by sorting.
func (r *Renderer) contentElements(ctx context.Context, pageID, language int) ([]model.Record, error) {
	tc := r.sites.TableControl(model.TableContent)
	recs, err := r.records.Records(ctx, model.TableContent, model.Query{
		Eq:      map[string]any{"pid": pageID},
		OrderBy: "sorting",
	})
	if err != nil {
		return nil, fmt.Errorf("content of page %d: %w", pageID, err)
	}
	var out []model.Record
	for _, rec := range recs {
		if !tc.Enabled(rec) {
			continue
		}
		if tc.LanguageField != "" {
			if lang := rec.Int(tc.LanguageField); lang != language && lang != -1 {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindUserGroups returns the distinct groups the page's content is restricted
// to. Public content contributes group 0. A page without content has no groups.
func (r *Renderer) FindUserGroups(ctx context.Context, rc *pagerequest.RenderContext) (any, error) {
	if _, err := r.tree.Page(ctx, rc.PageID); err != nil {
		return nil, err
	}
	elements, err := r.contentElements(ctx, rc.PageID, rc.Language)
	if err != nil {
		return nil, err
	}
	tc := r.sites.TableControl(model.TableContent)
	set := make(map[int]bool)
	for _, el := range elements {
		public := true
		for _, g := range el.IntList(tc.GroupField) {
			if g >= 0 {
				set[g] = true
				public = false
			}
		}
		if public {
			set[0] = true
		}
	}
	groups := make(pagerequest.UserGroupsResult, 0, len(set))
	for g := range set {
		groups = append(groups, g)
	}
	sort.Ints(groups)
	return groups, nil
}

// visible reports whether a content element restricted to groups is shown to
// a user with userGroups.
func visible(groups, userGroups []int) bool {
	if len(groups) == 0 {
		return true
	}
	loggedIn := false
	member := make(map[int]bool, len(userGroups))
	for _, g := range userGroups {
		if g > 0 {
			loggedIn = true
		}
		member[g] = true
	}
	for _, g := range groups {
		switch {
		case g == groupHideAtLogin && !loggedIn:
			return true
		case g == groupAnyLogin && loggedIn:
			return true
		case g >= 0 && member[g]:
			return true
		}
	}
	return false
}

func (r *Renderer) clean(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(r.strip.Sanitize(s))), " ")
}

// IndexPage builds the page document for the render context's access
// rootline and submits it to the connection of the page language.
func (r *Renderer) IndexPage(ctx context.Context, rc *pagerequest.RenderContext) (any, error) {
	root := rc.RootPageID
	if root == 0 {
		var err error
		if root, err = r.tree.SiteRoot(ctx, rc.PageID); err != nil {
			return nil, err
		}
	}
	st, err := r.sites.Site(ctx, root)
	if err != nil {
		return nil, err
	}
	page, err := r.tree.Page(ctx, rc.PageID)
	if err != nil {
		return nil, err
	}
	if !r.sites.TableControl(model.TablePages).Enabled(page) {
		return pagerequest.IndexPageResult{Error: "page is not visible"}, nil
	}
	page, err = r.builder.Localize(ctx, model.TablePages, page, rc.Language)
	if err != nil {
		return nil, err
	}

	doc, err := r.pageDocument(ctx, st, page, rc)
	if err != nil {
		return nil, err
	}
	item := &model.Item{ID: rc.Request.ItemID, RootPageID: root, ItemType: model.TablePages, ItemUID: rc.PageID}
	if cfg, ok := st.ConfigurationForTable(model.TablePages); ok {
		item.IndexingConfiguration = cfg.Name
		if err := r.builder.MapFields(ctx, doc, cfg, page); err != nil {
			return nil, err
		}
	}
	docs, err := r.builder.Finish(ctx, st, item, rc.Language, doc)
	if err != nil {
		return nil, err
	}

	conn, err := r.backends.Connection(ctx, root, rc.Language)
	if err != nil {
		return pagerequest.IndexPageResult{DocumentID: doc.ID(), Error: err.Error()}, nil
	}
	resp, err := conn.AddDocuments(ctx, docs)
	res := pagerequest.IndexPageResult{
		PageIndexed: err == nil && resp.OK(),
		DocumentID:  doc.ID(),
		Status:      resp.Status,
	}
	switch {
	case err != nil:
		res.Error = err.Error()
	case !resp.OK():
		res.Error = resp.Body
	}
	if st.Logging.PageIndexed {
		log.Printf("[INFO] page %d language %d access %s indexed=%v status %d",
			rc.PageID, rc.Language, rc.AccessRootline, res.PageIndexed, res.Status)
	}
	return res, nil
}

func (r *Renderer) pageDocument(ctx context.Context, st *site.Site, page model.Record, rc *pagerequest.RenderContext) (*model.Document, error) {
	elements, err := r.contentElements(ctx, rc.PageID, rc.Language)
	if err != nil {
		return nil, err
	}
	tc := r.sites.TableControl(model.TableContent)
	var content []string
	for _, el := range elements {
		if !visible(el.IntList(tc.GroupField), rc.UserGroups) {
			continue
		}
		for _, field := range []string{"header", "bodytext"} {
			if text := r.clean(el.String(field)); text != "" {
				content = append(content, text)
			}
		}
	}

	doc := r.builder.BaseDocument(st, model.TablePages, page, rc.Language)
	access := rc.AccessRootline.String()
	doc.SetField("id", model.PageDocumentID(st.Hash(), rc.PageID, rc.Language, access, rc.MountPoint))
	doc.SetField("access", access)
	for _, f := range pageFields {
		if v := page.String(f.column); v != "" {
			doc.SetField(f.field, v)
		}
	}
	for _, kw := range strings.Split(page.String("keywords"), ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			doc.AddField("keywords", kw)
		}
	}
	if len(content) > 0 {
		doc.SetField("content", strings.Join(content, " "))
	}
	if rc.MountPoint != "" {
		doc.SetField("mountPoint", rc.MountPoint)
	}
	return doc, nil
}
