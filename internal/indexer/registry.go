// Package indexer turns queue items into search documents and submits them
// to the backend connections of their site.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/queue"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// ErrConfiguration marks faults in configuration or registration. They are
// not item failures and should stop the caller.
var ErrConfiguration = errors.New("configuration error")

// Names of the built in indexers.
const (
	IndexerDefault = "default"
	IndexerPage    = "page"
	IndexerFile    = "file"
)

// Indexer indexes one queue item.
type Indexer interface {
	Index(ctx context.Context, item *model.Item) (*Result, error)
}

// Factory builds an indexer for an indexing configuration.
type Factory func(deps Deps, cfg *site.IndexingConfiguration) (Indexer, error)

// AdditionalDocumentsProvider adds documents next to the one built for an
// item in a language.
type AdditionalDocumentsProvider interface {
	AdditionalDocuments(ctx context.Context, item *model.Item, language int, doc *model.Document) ([]*model.Document, error)
}

// DocumentModifier may change the documents of an item before submission.
type DocumentModifier interface {
	ModifyDocuments(ctx context.Context, item *model.Item, language int, docs []*model.Document) ([]*model.Document, error)
}

// Registry maps names used in site configuration to implementations. Every
// registration is validated up front, lookups of unknown names fail with
// ErrConfiguration.
type Registry struct {
	mu         sync.RWMutex
	indexers   map[string]Factory
	additional map[string]AdditionalDocumentsProvider
	modifiers  map[string]DocumentModifier
	post       map[string]queue.PostProcessor
}

// NewRegistry returns a registry holding the default, page and file indexers.
func NewRegistry() *Registry {
	r := &Registry{
		indexers:   make(map[string]Factory),
		additional: make(map[string]AdditionalDocumentsProvider),
		modifiers:  make(map[string]DocumentModifier),
		post:       make(map[string]queue.PostProcessor),
	}
	r.indexers[IndexerDefault] = NewRecordIndexer
	r.indexers[IndexerPage] = NewPageIndexer
	r.indexers[IndexerFile] = NewFileIndexer
	return r
}

func register[T any](mu *sync.RWMutex, m map[string]T, kind, name string, v T, isNil bool) error {
	if name == "" {
		return fmt.Errorf("%s without name: %w", kind, ErrConfiguration)
	}
	if isNil {
		return fmt.Errorf("%s %q is nil: %w", kind, name, ErrConfiguration)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := m[name]; ok {
		return fmt.Errorf("%s %q registered twice: %w", kind, name, ErrConfiguration)
	}
	m[name] = v
	return nil
}

func lookup[T any](mu *sync.RWMutex, m map[string]T, kind string, names []string) ([]T, error) {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]T, 0, len(names))
	for _, name := range names {
		v, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("unknown %s %q: %w", kind, name, ErrConfiguration)
		}
		out = append(out, v)
	}
	return out, nil
}

// RegisterIndexer adds an indexer factory.
func (r *Registry) RegisterIndexer(name string, f Factory) error {
	return register(&r.mu, r.indexers, "indexer", name, f, f == nil)
}

// RegisterAdditionalDocuments adds an additional documents provider.
func (r *Registry) RegisterAdditionalDocuments(name string, p AdditionalDocumentsProvider) error {
	return register(&r.mu, r.additional, "additional documents provider", name, p, p == nil)
}

// RegisterDocumentModifier adds a document modifier.
func (r *Registry) RegisterDocumentModifier(name string, m DocumentModifier) error {
	return register(&r.mu, r.modifiers, "document modifier", name, m, m == nil)
}

// RegisterPostProcessor adds an initialization post processor.
func (r *Registry) RegisterPostProcessor(name string, p queue.PostProcessor) error {
	return register(&r.mu, r.post, "initialization post processor", name, p, p == nil)
}

// Indexer returns the factory registered as name.
func (r *Registry) Indexer(name string) (Factory, error) {
	fs, err := lookup(&r.mu, r.indexers, "indexer", []string{name})
	if err != nil {
		return nil, err
	}
	return fs[0], nil
}

// AdditionalDocuments resolves provider names.
func (r *Registry) AdditionalDocuments(names []string) ([]AdditionalDocumentsProvider, error) {
	return lookup(&r.mu, r.additional, "additional documents provider", names)
}

// DocumentModifiers resolves modifier names.
func (r *Registry) DocumentModifiers(names []string) ([]DocumentModifier, error) {
	return lookup(&r.mu, r.modifiers, "document modifier", names)
}

// PostProcessors resolves post processor names.
func (r *Registry) PostProcessors(names []string) ([]queue.PostProcessor, error) {
	return lookup(&r.mu, r.post, "initialization post processor", names)
}

// Validate checks that every name referenced by the sites is registered, so
// configuration faults surface at startup.
func (r *Registry) Validate(ctx context.Context, sites site.Provider) error {
	all, err := sites.Sites(ctx)
	if err != nil {
		return err
	}
	for _, st := range all {
		if _, err := r.AdditionalDocuments(st.Hooks.AdditionalDocuments); err != nil {
			return fmt.Errorf("site %d: %w", st.RootPageID, err)
		}
		if _, err := r.DocumentModifiers(st.Hooks.DocumentModifiers); err != nil {
			return fmt.Errorf("site %d: %w", st.RootPageID, err)
		}
		if _, err := r.PostProcessors(st.Hooks.PostInitialization); err != nil {
			return fmt.Errorf("site %d: %w", st.RootPageID, err)
		}
		for _, cfg := range st.Configurations {
			if _, err := r.Indexer(indexerName(cfg)); err != nil {
				return fmt.Errorf("site %d configuration %s: %w", st.RootPageID, cfg.Name, err)
			}
			for field, instructions := range cfg.FieldProcessing {
				for _, in := range instructions {
					if _, ok := processors[in]; !ok {
						return fmt.Errorf("site %d configuration %s field %s: unknown processing instruction %q: %w",
							st.RootPageID, cfg.Name, field, in, ErrConfiguration)
					}
				}
			}
		}
	}
	return nil
}

// Names lists the registered indexers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.indexers))
	for name := range r.indexers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func indexerName(cfg *site.IndexingConfiguration) string {
	if cfg.Indexer != "" {
		return cfg.Indexer
	}
	if cfg.TableName() == model.TablePages {
		return IndexerPage
	}
	return IndexerDefault
}
