// Package site provides the read-only site configuration: which sites exist,
// their languages and backend connections, and their named indexing
// configurations.
package site

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"

	"github.com/dharsanguruparan/indexqueue/internal/model"
)

// ErrUnknownSite is returned for root page ids without a site configuration.
var ErrUnknownSite = errors.New("unknown site")

// ErrUnknownConfiguration is returned for indexing configuration names a site
// does not declare.
var ErrUnknownConfiguration = errors.New("unknown indexing configuration")

// Provider is the configuration lookup consumed by the queue, the monitor and
// the indexers.
type Provider interface {
	Site(ctx context.Context, rootPageID int) (*Site, error)
	Sites(ctx context.Context) ([]*Site, error)
	IndexingConfigurationNames(ctx context.Context, rootPageID int) ([]string, error)
	IndexingConfiguration(ctx context.Context, rootPageID int, name string) (*IndexingConfiguration, error)
	TableControl(table string) model.TableControl
}

// Site is one site root and everything configured for it.
type Site struct {
	RootPageID       int
	Domain           string
	EncryptionKey    string
	Languages        map[int]ConnectionSettings
	AllowedPageTypes []int
	Logging          Logging
	PageRender       PageRender
	Hooks            Hooks
	Configurations   []*IndexingConfiguration
}

// Hash identifies the site in documents; it keeps documents of several sites
// apart when they share one core.
func (s *Site) Hash() string {
	return Hash(s.Domain, s.EncryptionKey)
}

// Hash computes the site hash for a domain and installation key.
func Hash(domain, key string) string {
	sum := sha1.Sum([]byte(domain + key + "tx_solr"))
	return hex.EncodeToString(sum[:])
}

// PageTypeAllowed reports whether pages of doktype may be queued.
func (s *Site) PageTypeAllowed(doktype int) bool {
	types := s.AllowedPageTypes
	if len(types) == 0 {
		types = DefaultAllowedPageTypes
	}
	for _, t := range types {
		if t == doktype {
			return true
		}
	}
	return false
}

// Configuration returns the named configuration.
func (s *Site) Configuration(name string) (*IndexingConfiguration, bool) {
	for _, c := range s.Configurations {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ConfigurationForTable returns the first enabled configuration indexing table.
func (s *Site) ConfigurationForTable(table string) (*IndexingConfiguration, bool) {
	for _, c := range s.Configurations {
		if c.Enabled && c.TableName() == table {
			return c, true
		}
	}
	return nil, false
}

// MonitoredTables lists the tables targeted by enabled configurations.
// Monitoring pages implies monitoring the page overlay table.
func (s *Site) MonitoredTables() map[string]bool {
	out := make(map[string]bool)
	for _, c := range s.Configurations {
		if !c.Enabled {
			continue
		}
		out[c.TableName()] = true
	}
	if out[model.TablePages] {
		out[model.TablePagesOverlay] = true
	}
	return out
}

// DefaultAllowedPageTypes are queued when a site does not configure any.
var DefaultAllowedPageTypes = []int{model.DoktypeDefault, model.DoktypeMountPoint}

// ConnectionSettings locate the backend core for one language.
type ConnectionSettings struct {
	Type     string `yaml:"type"`
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Path     string `yaml:"path"`
	Index    string `yaml:"index"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Logging switches the per item indexing log.
type Logging struct {
	Indexing      bool            `yaml:"indexing"`
	IndexingQueue map[string]bool `yaml:"indexingQueue"`
	PageIndexed   bool            `yaml:"pageIndexed"`
}

// IndexingEnabled reports whether indexing of configuration name is logged.
func (l Logging) IndexingEnabled(name string) bool {
	if l.Indexing {
		return true
	}
	return l.IndexingQueue[name]
}

// PageRender addresses the frontend that renders pages for the page indexer.
type PageRender struct {
	URL string `yaml:"url"`
}

// Hooks name registered extension points applied when indexing the site.
type Hooks struct {
	AdditionalDocuments []string `yaml:"additionalDocuments"`
	DocumentModifiers   []string `yaml:"documentModifiers"`
	PostInitialization  []string `yaml:"postInitialization"`
}
