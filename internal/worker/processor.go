// Package worker runs indexing passes and the other queue jobs inside the
// asynq worker loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/indexqueue/internal/indexer"
	"github.com/dharsanguruparan/indexqueue/internal/jobs"
	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/monitor"
)

// Queue is the part of the index queue a worker needs.
type Queue interface {
	ClaimItemsToIndex(ctx context.Context, root, limit int, owner string, lease time.Duration) ([]*model.Item, error)
	MarkItemAsIndexed(ctx context.Context, id int64) error
	MarkItemAsFailed(ctx context.Context, id int64, message string) error
	Initialize(ctx context.Context, root int, configuration string) (map[string]int, error)
}

// Indexer indexes a single item.
type Indexer interface {
	Index(ctx context.Context, item *model.Item) (*indexer.Result, error)
}

// EventHandler applies a record event to the queue.
type EventHandler interface {
	Handle(ctx context.Context, ev monitor.Event) error
}

// Options tunes an indexing pass.
type Options struct {
	WorkerID    string
	BatchSize   int
	Concurrency int
	Lease       time.Duration
}

// Summary counts the outcome of one indexing pass.
type Summary struct {
	Root    int `json:"root"`
	Claimed int `json:"claimed"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	queue   Queue
	indexer Indexer
	events  EventHandler
	opts    Options
}

// NewProcessor constructs a worker processor.
func NewProcessor(q Queue, idx Indexer, events EventHandler, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "worker"
	}
	return &Processor{queue: q, indexer: idx, events: events, opts: opts}
}

// Handler registers the job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskIndexSite, p.handleIndexSite)
	mux.HandleFunc(jobs.TaskRecordEvent, p.handleRecordEvent)
	mux.HandleFunc(jobs.TaskInitialize, p.handleInitialize)
	return mux
}

func (p *Processor) handleIndexSite(ctx context.Context, task *asynq.Task) error {
	var payload jobs.IndexSitePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	sum, err := p.RunSite(ctx, payload.Root, payload.Limit)
	log.Printf("[INFO] site %d: claimed %d, indexed %d, failed %d", sum.Root, sum.Claimed, sum.Indexed, sum.Failed)
	return err
}

func (p *Processor) handleRecordEvent(ctx context.Context, task *asynq.Task) error {
	var ev monitor.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return p.events.Handle(ctx, ev)
}

func (p *Processor) handleInitialize(ctx context.Context, task *asynq.Task) error {
	var payload jobs.InitializePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	counts, err := p.queue.Initialize(ctx, payload.Root, payload.Configuration)
	if err != nil {
		return err
	}
	log.Printf("[INFO] site %d initialized: %v", payload.Root, counts)
	return nil
}

// RunSite claims up to limit due items of a site and indexes them
// concurrently. Every claimed item ends up marked indexed or failed unless a
// fatal error stops the pass; unprocessed claims are released when their
// lease expires.
func (p *Processor) RunSite(ctx context.Context, root, limit int) (Summary, error) {
	sum := Summary{Root: root}
	if limit <= 0 {
		limit = p.opts.BatchSize
	}
	owner := p.opts.WorkerID + "/" + uuid.NewString()
	items, err := p.queue.ClaimItemsToIndex(ctx, root, limit, owner, p.opts.Lease)
	if err != nil {
		return sum, fmt.Errorf("claim items of site %d: %w", root, err)
	}
	sum.Claimed = len(items)

	var (
		g       errgroup.Group
		mu      sync.Mutex
		stopped atomic.Bool
		fatal   error
	)
	g.SetLimit(p.opts.Concurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if stopped.Load() || ctx.Err() != nil {
				return nil
			}
			ok, err := p.IndexItem(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				sum.Indexed++
			} else {
				sum.Failed++
			}
			if err != nil && indexer.Fatal(err) && fatal == nil {
				fatal = err
				stopped.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	if fatal != nil {
		return sum, fatal
	}
	return sum, ctx.Err()
}

// IndexItem runs one item through its indexer and records the outcome in
// the queue. It reports whether the item was marked indexed.
func (p *Processor) IndexItem(ctx context.Context, item *model.Item) (bool, error) {
	start := time.Now()
	res, err := p.indexer.Index(ctx, item)
	metrics.ItemPassDuration.WithLabelValues(item.ItemType).Observe(time.Since(start).Seconds())

	var failure error
	switch {
	case err != nil:
		failure = err
	case res.Skipped || res.AllSucceeded():
	case len(res.Languages) == 0:
		failure = errors.New("no backend connection for item")
	default:
		failure = res.Err()
	}

	if failure == nil {
		if markErr := p.queue.MarkItemAsIndexed(ctx, item.ID); markErr != nil {
			return false, fmt.Errorf("mark item %d indexed: %w", item.ID, markErr)
		}
		metrics.ItemsIndexedTotal.WithLabelValues(item.ItemType).Inc()
		log.Printf("[DEBUG] item %d (%s:%d) indexed", item.ID, item.ItemType, item.ItemUID)
		return true, nil
	}

	log.Printf("[WARN] item %d (%s:%d) failed: %v", item.ID, item.ItemType, item.ItemUID, failure)
	metrics.ItemsFailedTotal.WithLabelValues(item.ItemType).Inc()
	if markErr := p.queue.MarkItemAsFailed(ctx, item.ID, failure.Error()); markErr != nil {
		log.Printf("[ERROR] mark item %d failed: %v", item.ID, markErr)
	}
	return false, err
}
