package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/backend"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/pagerequest"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// PageIndexer indexes pages through the render endpoint. For every language
// it first asks which user groups the page content is partitioned into, then
// requests one page document per group.
type PageIndexer struct {
	base
}

// NewPageIndexer is the Factory of the page indexer.
func NewPageIndexer(deps Deps, cfg *site.IndexingConfiguration) (Indexer, error) {
	if deps.Pages == nil {
		return nil, fmt.Errorf("page indexer without page requester: %w", ErrConfiguration)
	}
	return &PageIndexer{base: newBase(deps, cfg)}, nil
}

// Index implements Indexer. Protocol faults and unconfirmed page documents
// abort the pass with an error.
func (p *PageIndexer) Index(ctx context.Context, item *model.Item) (*Result, error) {
	st, err := p.deps.Sites.Site(ctx, item.RootPageID)
	if err != nil {
		return nil, err
	}
	if st.PageRender.URL == "" {
		return nil, fmt.Errorf("site %d has no page render url: %w", st.RootPageID, ErrConfiguration)
	}
	_, ok, err := p.loadRecord(ctx, item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Skipped: true}, nil
	}
	conns, err := p.connections(ctx, item, item.ItemUID)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return &Result{}, nil
	}
	access, err := p.deps.Tree.AccessRootline(ctx, item.ItemUID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, lc := range conns {
		groups, err := p.findUserGroups(ctx, st, item, lc.language)
		if isProtocolError(err) {
			return result, err
		}
		if err != nil {
			result.Languages = append(result.Languages, LanguageResult{Language: lc.language, Err: err})
			continue
		}
		if len(groups) == 0 {
			log.Printf("[DEBUG] page %d language %d has no content groups, skipped", item.ItemUID, lc.language)
			continue
		}
		for _, g := range groups {
			group := g
			lr := LanguageResult{Language: lc.language, Group: &group}
			res, err := p.indexPage(ctx, st, item, lc.language, access.WithContentGroups(group))
			if isProtocolError(err) {
				p.deps.Log.Record(ctx, st, item, lc.language, nil, backend.Response{}, err)
				return result, err
			}
			if err != nil {
				lr.Err = err
				p.deps.Log.Record(ctx, st, item, lc.language, nil, backend.Response{}, err)
				result.Languages = append(result.Languages, lr)
				continue
			}
			if !res.PageIndexed {
				lr.Err = fmt.Errorf("page %d language %d group %d: %s: %w", item.ItemUID, lc.language, group, res.Error, ErrPageNotIndexed)
				p.deps.Log.Record(ctx, st, item, lc.language, nil, pageResponse(res), lr.Err)
				result.Languages = append(result.Languages, lr)
				return result, lr.Err
			}
			lr.Documents = 1
			lr.Response = backend.Response{Status: http.StatusOK, Body: res.DocumentID}
			p.deps.Log.Record(ctx, st, item, lc.language, nil, pageResponse(res), nil)
			result.Languages = append(result.Languages, lr)
		}
	}
	if len(result.Languages) == 0 {
		result.Skipped = true
	}
	return result, nil
}

// pageResponse carries the render endpoint's indexPage result into the
// indexing log.
func pageResponse(res *pagerequest.IndexPageResult) backend.Response {
	status := res.Status
	if status == 0 && res.PageIndexed {
		status = http.StatusOK
	}
	body, err := json.Marshal(res)
	if err != nil {
		return backend.Response{Status: status}
	}
	return backend.Response{Status: status, Body: string(body)}
}

func isProtocolError(err error) bool {
	return errors.Is(err, pagerequest.ErrProtocol) || errors.Is(err, pagerequest.ErrUnauthorized)
}

func (p *PageIndexer) request(item *model.Item, language int, action string) *pagerequest.Request {
	req := &pagerequest.Request{
		ItemID:   item.ID,
		PageID:   item.ItemUID,
		Language: language,
		Actions:  []string{action},
		Parameters: map[string]string{
			pagerequest.ParamRootPageID: strconv.Itoa(item.RootPageID),
		},
	}
	if item.IsMountedPage() {
		req.Parameters[pagerequest.ParamMountPoint] = item.Property(model.PropMountPointIdentifier)
	}
	return req
}

func (p *PageIndexer) findUserGroups(ctx context.Context, st *site.Site, item *model.Item, language int) ([]int, error) {
	resp, err := p.deps.Pages.Send(ctx, st.PageRender.URL, p.request(item, language, pagerequest.ActionFindUserGroups))
	if err != nil {
		return nil, err
	}
	var groups pagerequest.UserGroupsResult
	if err := resp.ActionResult(pagerequest.ActionFindUserGroups, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (p *PageIndexer) indexPage(ctx context.Context, st *site.Site, item *model.Item, language int, access model.AccessRootline) (*pagerequest.IndexPageResult, error) {
	req := p.request(item, language, pagerequest.ActionIndexPage)
	req.Parameters[pagerequest.ParamAccessRootline] = access.String()
	resp, err := p.deps.Pages.Send(ctx, st.PageRender.URL, req)
	if err != nil {
		return nil, err
	}
	var res pagerequest.IndexPageResult
	if err := resp.ActionResult(pagerequest.ActionIndexPage, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
