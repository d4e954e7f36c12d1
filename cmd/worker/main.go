// Command worker processes the asynq jobs and schedules an indexing pass per
// site.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/go-pkgz/lgr"
	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/indexqueue/internal/app"
	"github.com/dharsanguruparan/indexqueue/internal/config"
	"github.com/dharsanguruparan/indexqueue/internal/jobs"
	"github.com/dharsanguruparan/indexqueue/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[ERROR] load config: %v", err)
	}
	app.SetupLog(cfg.Debug)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("[ERROR] init: %v", err)
	}
	defer a.Close()

	redis := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	}
	scheduler := asynq.NewScheduler(redis, nil)
	sites, err := a.Sites.Sites(ctx)
	if err != nil {
		log.Fatalf("[ERROR] list sites: %v", err)
	}
	for _, st := range sites {
		task, err := jobs.NewIndexSiteTask(jobs.IndexSitePayload{Root: st.RootPageID, Limit: cfg.IndexBatchSize})
		if err != nil {
			log.Fatalf("[ERROR] build task: %v", err)
		}
		// one pending pass per site at a time
		if _, err := scheduler.Register(cfg.Schedule, task, asynq.MaxRetry(0), asynq.Unique(cfg.LeaseDuration)); err != nil {
			log.Fatalf("[ERROR] schedule site %d: %v", st.RootPageID, err)
		}
		log.Printf("[INFO] scheduled site %d (%s) %s", st.RootPageID, st.Domain, cfg.Schedule)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("[ERROR] start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	server := asynq.NewServer(redis, asynq.Config{
		// site passes fan out internally, so few tasks run at once
		Concurrency: cfg.EventWorkers + 1,
	})
	processor := worker.NewProcessor(a.Queue, a.Indexer, a.Monitor, worker.Options{
		WorkerID:    cfg.WorkerID,
		BatchSize:   cfg.IndexBatchSize,
		Concurrency: cfg.Concurrency,
		Lease:       cfg.LeaseDuration,
	})

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(processor.Handler()); err != nil {
		log.Printf("[ERROR] worker stopped: %v", err)
		os.Exit(1)
	}
}
