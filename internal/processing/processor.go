// Package processing dispatches record events to the monitor on a small
// in-process worker pool, for deployments that run without a task broker.
package processing

import (
	"context"
	"sync"

	log "github.com/go-pkgz/lgr"

	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/monitor"
)

// Handler applies one event.
type Handler interface {
	Handle(ctx context.Context, ev monitor.Event) error
}

// Dispatcher consumes events and hands them to the Handler.
type Dispatcher struct {
	handler Handler
	queue   chan monitor.Event
	workers int
	wg      sync.WaitGroup
}

// New builds a Dispatcher. A buffer below workers*4 is raised to it.
func New(handler Handler, workers, buffer int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer < workers*4 {
		buffer = workers * 4
	}
	return &Dispatcher{
		handler: handler,
		queue:   make(chan monitor.Event, buffer),
		workers: workers,
	}
}

// Start launches the worker goroutines. They exit when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Submit queues an event without blocking. It reports false when the buffer
// is full and the event was dropped.
func (d *Dispatcher) Submit(ev monitor.Event) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		log.Printf("[WARN] event queue full, dropping %s %s:%d", ev.Kind, ev.Table, ev.UID)
		metrics.EventsDroppedTotal.Inc()
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			if err := d.handler.Handle(ctx, ev); err != nil {
				log.Printf("[WARN] handle event: %v", err)
			}
		}
	}
}
