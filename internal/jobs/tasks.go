// Package jobs defines the asynq tasks shared by the API, the scheduler and
// the worker.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/indexqueue/internal/monitor"
)

const (
	// TaskIndexSite runs one indexing pass over the due items of a site.
	TaskIndexSite = "indexqueue:index-site"
	// TaskRecordEvent hands a record mutation to the monitor.
	TaskRecordEvent = "indexqueue:record-event"
	// TaskInitialize rebuilds the queue of a site.
	TaskInitialize = "indexqueue:initialize"
)

// IndexSitePayload selects the site and batch size of an indexing pass.
type IndexSitePayload struct {
	Root  int `json:"root"`
	Limit int `json:"limit"`
}

// InitializePayload selects the site and optionally a single configuration.
type InitializePayload struct {
	Root          int    `json:"root"`
	Configuration string `json:"configuration,omitempty"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewIndexSiteTask builds an index-site task.
func NewIndexSiteTask(payload IndexSitePayload) (*asynq.Task, error) {
	return newTask(TaskIndexSite, payload)
}

// EnqueueIndexSite enqueues an indexing pass. A pass already waiting for the
// same site is not duplicated within the unique window.
func EnqueueIndexSite(ctx context.Context, client Enqueuer, payload IndexSitePayload, unique time.Duration) error {
	task, err := NewIndexSiteTask(payload)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(0)}
	if unique > 0 {
		opts = append(opts, asynq.Unique(unique))
	}
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue index-site task: %w", err)
	}
	return nil
}

// EnqueueRecordEvent enqueues a record event for the monitor.
func EnqueueRecordEvent(ctx context.Context, client Enqueuer, ev monitor.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	task, err := newTask(TaskRecordEvent, ev)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue record-event task: %w", err)
	}
	return nil
}

// EnqueueInitialize enqueues a queue initialization.
func EnqueueInitialize(ctx context.Context, client Enqueuer, payload InitializePayload) error {
	task, err := newTask(TaskInitialize, payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(1)); err != nil {
		return fmt.Errorf("enqueue initialize task: %w", err)
	}
	return nil
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(typ, data), nil
}
