package app

import (
	"context"

	"github.com/dharsanguruparan/indexqueue/internal/api"
	"github.com/dharsanguruparan/indexqueue/internal/jobs"
	"github.com/dharsanguruparan/indexqueue/internal/monitor"
	"github.com/dharsanguruparan/indexqueue/internal/processing"
)

// QueuedEvents hands record events to the worker through asynq.
type QueuedEvents struct {
	Client jobs.Enqueuer
}

// Publish implements api.EventPublisher.
func (q QueuedEvents) Publish(ctx context.Context, ev monitor.Event) error {
	return jobs.EnqueueRecordEvent(ctx, q.Client, ev)
}

// LocalEvents applies record events in process.
type LocalEvents struct {
	Dispatcher *processing.Dispatcher
}

// Publish implements api.EventPublisher.
func (l LocalEvents) Publish(_ context.Context, ev monitor.Event) error {
	if !l.Dispatcher.Submit(ev) {
		return api.ErrBusy
	}
	return nil
}

// QueuedInitializer runs queue initialization on the worker.
type QueuedInitializer struct {
	Client jobs.Enqueuer
}

// Initialize implements api.Initializer. It returns no counts since the
// initialization has not run yet.
func (q QueuedInitializer) Initialize(ctx context.Context, root int, configuration string) (map[string]int, error) {
	return nil, jobs.EnqueueInitialize(ctx, q.Client, jobs.InitializePayload{Root: root, Configuration: configuration})
}
