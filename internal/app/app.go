// Package app wires the stores, the queue, the monitor and the indexers from
// the process configuration. The server, the worker and the CLI share it.
package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/indexqueue/internal/backend"
	"github.com/dharsanguruparan/indexqueue/internal/config"
	"github.com/dharsanguruparan/indexqueue/internal/database"
	"github.com/dharsanguruparan/indexqueue/internal/indexer"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/monitor"
	"github.com/dharsanguruparan/indexqueue/internal/pagerequest"
	"github.com/dharsanguruparan/indexqueue/internal/pagetree"
	"github.com/dharsanguruparan/indexqueue/internal/queue"
	"github.com/dharsanguruparan/indexqueue/internal/render"
	"github.com/dharsanguruparan/indexqueue/internal/repository"
	"github.com/dharsanguruparan/indexqueue/internal/s3storage"
	"github.com/dharsanguruparan/indexqueue/internal/signing"
	"github.com/dharsanguruparan/indexqueue/internal/site"
	"github.com/dharsanguruparan/indexqueue/internal/storage"
)

// MemoryDSN selects the in-memory stores instead of Postgres.
const MemoryDSN = "memory://"

// App holds the wired components.
type App struct {
	Config   *config.Config
	Sites    site.Provider
	Records  model.RecordStore
	Items    model.ItemStore
	Tree     *pagetree.Tree
	Queue    *queue.Queue
	Backends *backend.Manager
	Registry *indexer.Registry
	Indexer  *indexer.Service
	Monitor  *monitor.Monitor
	// PageHandler is the render side of the page indexing protocol.
	PageHandler *pagerequest.Handler
	// Storage is nil when no object storage is configured.
	Storage *s3storage.Storage

	pool *pgxpool.Pool
}

// Stores are the persistence backends of an App.
type Stores struct {
	Records model.RecordStore
	Items   model.ItemStore
}

// New loads the site file, opens the stores named by the configuration and
// wires everything.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	sites, err := site.Load(cfg.SitesFile)
	if err != nil {
		return nil, err
	}
	var (
		stores Stores
		pool   *pgxpool.Pool
	)
	if strings.HasPrefix(cfg.DatabaseURL, MemoryDSN) {
		log.Printf("[WARN] using in-memory stores, queue state is lost on exit")
		stores = Stores{Records: storage.NewMemoryRecords(), Items: storage.NewMemoryItems()}
	} else {
		pool, err = database.Connect(ctx, cfg.DatabaseURL, int32(cfg.Concurrency*2))
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		stores = Stores{Records: repository.NewRecordRepository(pool), Items: repository.NewQueueRepository(pool)}
	}
	var store *s3storage.Storage
	if cfg.S3Enabled() {
		if store, err = s3storage.New(cfg); err == nil {
			err = store.EnsureBuckets(ctx)
		}
		if err != nil {
			if pool != nil {
				pool.Close()
			}
			return nil, err
		}
	}
	a, err := Wire(ctx, cfg, sites, stores, store)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	a.pool = pool
	return a, nil
}

// Wire assembles an App from ready stores. store may be nil.
func Wire(ctx context.Context, cfg *config.Config, sites site.Provider, stores Stores, store *s3storage.Storage) (*App, error) {
	tree := pagetree.New(stores.Records, cfg.TreeCacheSize).
		WithTableControls(sites.TableControl(model.TablePages), sites.TableControl(model.TableContent))
	backends := backend.NewManager(sites, cfg.BackendTimeout)
	registry := indexer.NewRegistry()
	q := queue.New(stores.Items, stores.Records, tree, sites).
		WithPostProcessors(siteHooks{registry: registry})

	signer := signing.NewSigner(cfg.SigningSecret)
	evaluator := indexer.NewEvaluator(stores.Records)
	deps := indexer.Deps{
		Sites:     sites,
		Records:   stores.Records,
		Tree:      tree,
		Backends:  backends,
		Evaluator: evaluator,
		Registry:  registry,
		Pages:     pagerequest.NewClient(signer, cfg.PageRequestTimeout),
	}
	if store != nil {
		deps.Files = store
		deps.Log = indexer.NewLog(store)
	}
	idx := indexer.NewService(deps)

	handler := pagerequest.NewHandler(signer, cfg.PageRequestWindow)
	builder := indexer.NewBuilder(sites, stores.Records, evaluator, registry)
	render.New(sites, stores.Records, tree, backends, builder).Register(handler)

	if err := registry.Validate(ctx, sites); err != nil {
		return nil, fmt.Errorf("validate site configuration: %w", err)
	}
	return &App{
		Config:      cfg,
		Sites:       sites,
		Records:     stores.Records,
		Items:       stores.Items,
		Tree:        tree,
		Queue:       q,
		Backends:    backends,
		Registry:    registry,
		Indexer:     idx,
		Monitor:     monitor.New(q, monitor.NewGarbageCollector(q, backends)),
		PageHandler: handler,
		Storage:     store,
	}, nil
}

// Close releases the backend connections and the database pool.
func (a *App) Close() error {
	var result error
	if err := a.Backends.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return result
}

// siteHooks runs the initialization post processors a site names.
type siteHooks struct {
	registry *indexer.Registry
}

func (h siteHooks) PostProcessInitialization(ctx context.Context, st *site.Site, results map[string]bool) error {
	pps, err := h.registry.PostProcessors(st.Hooks.PostInitialization)
	if err != nil {
		return err
	}
	var result error
	for _, pp := range pps {
		if err := pp.PostProcessInitialization(ctx, st, results); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// SetupLog configures the process logger.
func SetupLog(debug bool) {
	if debug {
		log.Setup(log.Debug, log.CallerFile, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}
