// Package backend submits documents to the search cores configured per site
// and language.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"

	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// ErrNoConnection is returned for a site language without connection settings.
var ErrNoConnection = errors.New("no backend connection configured")

// Response is the outcome of a backend request in HTTP terms.
type Response struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// OK reports whether the request succeeded. Only 200 counts.
func (r Response) OK() bool { return r.Status == http.StatusOK }

// Connection is one search core.
type Connection interface {
	AddDocuments(ctx context.Context, docs []*model.Document) (Response, error)
	DeleteByItem(ctx context.Context, siteHash, itemType string, uid int) (Response, error)
}

// Factory opens a connection for settings.
type Factory func(settings site.ConnectionSettings, client *http.Client) (Connection, error)

type connKey struct {
	root     int
	language int
}

// Manager resolves and caches connections per site and language.
type Manager struct {
	sites     site.Provider
	client    *http.Client
	mu        sync.Mutex
	factories map[string]Factory
	conns     map[connKey]Connection
}

// NewManager constructs a Manager with the solr, elastic and bleve backends
// registered. timeout bounds every backend HTTP request.
func NewManager(sites site.Provider, timeout time.Duration) *Manager {
	m := &Manager{
		sites:     sites,
		client:    &http.Client{Timeout: timeout},
		factories: make(map[string]Factory),
		conns:     make(map[connKey]Connection),
	}
	m.factories["solr"] = NewSolr
	m.factories["elastic"] = func(s site.ConnectionSettings, c *http.Client) (Connection, error) {
		return NewElastic(s, c.Transport)
	}
	m.factories["bleve"] = func(s site.ConnectionSettings, _ *http.Client) (Connection, error) {
		return NewBleve(s.Path)
	}
	return m
}

// Register adds or replaces a backend type.
func (m *Manager) Register(typ string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[typ] = f
}

// Set installs a ready connection, used by tests and embedded setups.
func (m *Manager) Set(root, language int, conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[connKey{root, language}] = conn
}

// Connection returns the connection of a site language.
func (m *Manager) Connection(ctx context.Context, root, language int) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := connKey{root, language}
	if conn, ok := m.conns[key]; ok {
		return conn, nil
	}
	st, err := m.sites.Site(ctx, root)
	if err != nil {
		return nil, err
	}
	settings, ok := st.Languages[language]
	if !ok {
		return nil, fmt.Errorf("site %d language %d: %w", root, language, ErrNoConnection)
	}
	typ := settings.Type
	if typ == "" {
		typ = "solr"
	}
	factory, ok := m.factories[typ]
	if !ok {
		return nil, fmt.Errorf("site %d language %d: unknown backend type %q", root, language, typ)
	}
	conn, err := factory(settings, m.client)
	if err != nil {
		return nil, fmt.Errorf("open %s connection for site %d language %d: %w", typ, root, language, err)
	}
	m.conns[key] = conn
	return conn, nil
}

// Languages lists the languages a site has connections for, ascending.
func (m *Manager) Languages(ctx context.Context, root int) ([]int, error) {
	st, err := m.sites.Site(ctx, root)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(st.Languages))
	for lang := range st.Languages {
		seen[lang] = true
	}
	m.mu.Lock()
	for key := range m.conns {
		if key.root == root {
			seen[key.language] = true
		}
	}
	m.mu.Unlock()
	langs := make([]int, 0, len(seen))
	for lang := range seen {
		langs = append(langs, lang)
	}
	sort.Ints(langs)
	return langs, nil
}

// ConnectionsBySite returns every language connection of a site.
func (m *Manager) ConnectionsBySite(ctx context.Context, root int) (map[int]Connection, error) {
	langs, err := m.Languages(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make(map[int]Connection, len(langs))
	for _, lang := range langs {
		conn, err := m.Connection(ctx, root, lang)
		if err != nil {
			return nil, err
		}
		out[lang] = conn
	}
	return out, nil
}

// RemoveDocuments deletes the documents of a record from all cores of a site.
func (m *Manager) RemoveDocuments(ctx context.Context, root int, itemType string, uid int) error {
	st, err := m.sites.Site(ctx, root)
	if err != nil {
		return err
	}
	conns, err := m.ConnectionsBySite(ctx, root)
	if err != nil {
		return err
	}
	var result error
	for lang, conn := range conns {
		resp, err := conn.DeleteByItem(ctx, st.Hash(), itemType, uid)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("language %d: %w", lang, err))
			continue
		}
		if !resp.OK() {
			result = multierror.Append(result, fmt.Errorf("language %d: delete returned %d", lang, resp.Status))
		}
	}
	if result == nil {
		log.Printf("[DEBUG] removed documents of %s:%d from site %d", itemType, uid, root)
	}
	return result
}

// Close releases connections holding local resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result error
	for key, conn := range m.conns {
		if c, ok := conn.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		delete(m.conns, key)
	}
	return result
}
