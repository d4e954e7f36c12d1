package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/backend"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/pagerequest"
	"github.com/dharsanguruparan/indexqueue/internal/pagetree"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// Backends resolves the connection of a site language.
type Backends interface {
	Connection(ctx context.Context, root, language int) (backend.Connection, error)
}

// PageRequester sends internal page render requests.
type PageRequester interface {
	Send(ctx context.Context, pageURL string, req *pagerequest.Request) (*pagerequest.Response, error)
}

// FileReader returns the contents of a stored file.
type FileReader interface {
	ReadFile(ctx context.Context, identifier string) ([]byte, error)
}

// Deps are the collaborators shared by all indexers. Pages and Files are only
// required by the page and file indexers.
type Deps struct {
	Sites     site.Provider
	Records   model.RecordStore
	Tree      *pagetree.Tree
	Backends  Backends
	Evaluator Evaluator
	Registry  *Registry
	Pages     PageRequester
	Files     FileReader
	Log       *Log
}

func (d Deps) withDefaults() Deps {
	if d.Registry == nil {
		d.Registry = NewRegistry()
	}
	if d.Evaluator == nil {
		d.Evaluator = NewEvaluator(d.Records)
	}
	if d.Log == nil {
		d.Log = NewLog(nil)
	}
	return d
}

// Service picks the indexer of an item's configuration and runs it.
// Indexers are built once per site and configuration.
type Service struct {
	deps  Deps
	mu    sync.Mutex
	cache map[string]Indexer
}

// NewService makes a Service.
func NewService(deps Deps) *Service {
	return &Service{deps: deps.withDefaults(), cache: make(map[string]Indexer)}
}

// Registry returns the registry used to resolve indexers and hooks.
func (s *Service) Registry() *Registry { return s.deps.Registry }

// Index runs one item pass. Backend failures are reported in the Result; the
// error is reserved for configuration and protocol faults and for items that
// could not be prepared at all.
func (s *Service) Index(ctx context.Context, item *model.Item) (*Result, error) {
	idx, err := s.indexerFor(ctx, item)
	if err != nil {
		return nil, err
	}
	return idx.Index(ctx, item)
}

func (s *Service) indexerFor(ctx context.Context, item *model.Item) (Indexer, error) {
	cfg, err := s.deps.Sites.IndexingConfiguration(ctx, item.RootPageID, item.IndexingConfiguration)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", item.ID, err)
	}
	key := fmt.Sprintf("%d/%s", item.RootPageID, cfg.Name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.cache[key]; ok {
		return idx, nil
	}
	factory, err := s.deps.Registry.Indexer(indexerName(cfg))
	if err != nil {
		return nil, err
	}
	idx, err := factory(s.deps, cfg)
	if err != nil {
		return nil, fmt.Errorf("indexer for %s: %w", key, err)
	}
	s.cache[key] = idx
	return idx, nil
}

// Reset drops the cached indexers, call it after the site configuration changed.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]Indexer)
}

type languageConnection struct {
	language int
	conn     backend.Connection
}

// base holds what the built in indexers share.
type base struct {
	deps    Deps
	cfg     *site.IndexingConfiguration
	builder *Builder
}

func newBase(deps Deps, cfg *site.IndexingConfiguration) base {
	deps = deps.withDefaults()
	return base{deps: deps, cfg: cfg, builder: NewBuilder(deps.Sites, deps.Records, deps.Evaluator, deps.Registry)}
}

// connections resolves the languages an item is indexed in. The default
// language is included unless the page hides it; translations come from the
// page's overlays, restricted to enabled ones when the page hides
// untranslated languages. Languages without a connection are skipped.
func (b *base) connections(ctx context.Context, item *model.Item, pageID int) ([]languageConnection, error) {
	page, err := b.deps.Tree.Page(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageID, err)
	}
	l18n := page.Int("l18n_cfg")
	var languages []int
	if l18n&model.L18nHideDefault == 0 {
		languages = append(languages, 0)
	}
	overlays, err := b.deps.Records.Records(ctx, model.TablePagesOverlay, model.Query{
		Eq:      map[string]any{"pid": pageID},
		OrderBy: "sys_language_uid",
	})
	if err != nil {
		return nil, fmt.Errorf("overlays of page %d: %w", pageID, err)
	}
	tc := b.deps.Sites.TableControl(model.TablePagesOverlay)
	seen := make(map[int]bool)
	for _, ov := range overlays {
		if tc.Deleted(ov) {
			continue
		}
		if l18n&model.L18nHideUntranslated != 0 && !tc.Enabled(ov) {
			continue
		}
		lang := ov.Int(tc.LanguageField)
		if lang <= 0 || seen[lang] {
			continue
		}
		seen[lang] = true
		languages = append(languages, lang)
	}

	var out []languageConnection
	for _, lang := range languages {
		conn, err := b.deps.Backends.Connection(ctx, item.RootPageID, lang)
		if errors.Is(err, backend.ErrNoConnection) {
			log.Printf("[DEBUG] site %d has no connection for language %d, skipped", item.RootPageID, lang)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, languageConnection{language: lang, conn: conn})
	}
	return out, nil
}
