package site

import (
	"context"
	"fmt"
	"os"
	"sort"

	"go.yaml.in/yaml/v2"

	"github.com/dharsanguruparan/indexqueue/internal/model"
)

// Static serves configuration held in memory, usually loaded from a YAML file.
type Static struct {
	sites  map[int]*Site
	tables map[string]model.TableControl
}

// NewStatic builds a provider from explicit values.
func NewStatic(sites []*Site, tables map[string]model.TableControl) *Static {
	s := &Static{sites: make(map[int]*Site, len(sites)), tables: make(map[string]model.TableControl)}
	for _, st := range sites {
		s.sites[st.RootPageID] = st
	}
	for name, tc := range tables {
		tc.Name = name
		s.tables[name] = tc.Merge(model.DefaultTableControl(name))
	}
	return s
}

// Site implements Provider.
func (s *Static) Site(_ context.Context, rootPageID int) (*Site, error) {
	st, ok := s.sites[rootPageID]
	if !ok {
		return nil, fmt.Errorf("site %d: %w", rootPageID, ErrUnknownSite)
	}
	return st, nil
}

// Sites implements Provider.
func (s *Static) Sites(_ context.Context) ([]*Site, error) {
	out := make([]*Site, 0, len(s.sites))
	for _, st := range s.sites {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RootPageID < out[j].RootPageID })
	return out, nil
}

// IndexingConfigurationNames implements Provider.
func (s *Static) IndexingConfigurationNames(ctx context.Context, rootPageID int) ([]string, error) {
	st, err := s.Site(ctx, rootPageID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(st.Configurations))
	for _, c := range st.Configurations {
		if c.Enabled {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

// IndexingConfiguration implements Provider.
func (s *Static) IndexingConfiguration(ctx context.Context, rootPageID int, name string) (*IndexingConfiguration, error) {
	st, err := s.Site(ctx, rootPageID)
	if err != nil {
		return nil, err
	}
	c, ok := st.Configuration(name)
	if !ok {
		return nil, fmt.Errorf("site %d configuration %q: %w", rootPageID, name, ErrUnknownConfiguration)
	}
	return c, nil
}

// TableControl implements Provider.
func (s *Static) TableControl(table string) model.TableControl {
	if tc, ok := s.tables[table]; ok {
		return tc
	}
	return model.DefaultTableControl(table)
}

type fileConfig struct {
	Tables map[string]model.TableControl `yaml:"tables"`
	Sites  []fileSite                    `yaml:"sites"`
}

type fileSite struct {
	Root             int                        `yaml:"root"`
	Domain           string                     `yaml:"domain"`
	EncryptionKey    string                     `yaml:"encryptionKey"`
	AllowedPageTypes []int                      `yaml:"allowedPageTypes"`
	Languages        map[int]ConnectionSettings `yaml:"languages"`
	Logging          Logging                    `yaml:"logging"`
	PageRender       PageRender                 `yaml:"pageRender"`
	Hooks            Hooks                      `yaml:"hooks"`
	Indexing         []fileConfiguration        `yaml:"indexing"`
}

type fileConfiguration struct {
	Name                  string                     `yaml:"name"`
	Table                 string                     `yaml:"table"`
	Enabled               *bool                      `yaml:"enabled"`
	Fields                map[string]FieldDefinition `yaml:"fields"`
	FieldProcessing       map[string][]string        `yaml:"fieldProcessing"`
	AdditionalWhereClause string                     `yaml:"additionalWhereClause"`
	RecursiveUpdateFields []string                   `yaml:"recursiveUpdateFields"`
	Indexer               string                     `yaml:"indexer"`
	IndexerOptions        map[string]string          `yaml:"indexerOptions"`
	Priority              int                        `yaml:"priority"`
}

// Load reads a YAML site file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML site configuration.
func Parse(data []byte) (*Static, error) {
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}
	sites := make([]*Site, 0, len(fc.Sites))
	seen := make(map[int]bool)
	for _, fs := range fc.Sites {
		if fs.Root <= 0 {
			return nil, fmt.Errorf("site %q: root page id required", fs.Domain)
		}
		if seen[fs.Root] {
			return nil, fmt.Errorf("site %d declared twice", fs.Root)
		}
		seen[fs.Root] = true
		st := &Site{
			RootPageID:       fs.Root,
			Domain:           fs.Domain,
			EncryptionKey:    fs.EncryptionKey,
			AllowedPageTypes: fs.AllowedPageTypes,
			Languages:        fs.Languages,
			Logging:          fs.Logging,
			PageRender:       fs.PageRender,
			Hooks:            fs.Hooks,
		}
		names := make(map[string]bool)
		for _, fcfg := range fs.Indexing {
			if fcfg.Name == "" {
				return nil, fmt.Errorf("site %d: indexing configuration without name", fs.Root)
			}
			if names[fcfg.Name] {
				return nil, fmt.Errorf("site %d: indexing configuration %q declared twice", fs.Root, fcfg.Name)
			}
			names[fcfg.Name] = true
			enabled := true
			if fcfg.Enabled != nil {
				enabled = *fcfg.Enabled
			}
			st.Configurations = append(st.Configurations, &IndexingConfiguration{
				Name:                  fcfg.Name,
				Table:                 fcfg.Table,
				Enabled:               enabled,
				Fields:                fcfg.Fields,
				FieldProcessing:       fcfg.FieldProcessing,
				AdditionalWhereClause: fcfg.AdditionalWhereClause,
				RecursiveUpdateFields: fcfg.RecursiveUpdateFields,
				Indexer:               fcfg.Indexer,
				IndexerOptions:        fcfg.IndexerOptions,
				Priority:              fcfg.Priority,
			})
		}
		sites = append(sites, st)
	}
	return NewStatic(sites, fc.Tables), nil
}
