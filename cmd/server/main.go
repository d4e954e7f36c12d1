// Command server runs the HTTP API: record event intake, queue
// administration and the internal page render endpoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/go-pkgz/lgr"
	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/indexqueue/internal/api"
	"github.com/dharsanguruparan/indexqueue/internal/app"
	"github.com/dharsanguruparan/indexqueue/internal/config"
	"github.com/dharsanguruparan/indexqueue/internal/processing"
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

	var (
		events      api.EventPublisher
		initializer api.Initializer = a.Queue
	)
	if cfg.LocalEvents {
		dispatcher := processing.New(a.Monitor, cfg.EventWorkers, cfg.EventBuffer)
		dispatcher.Start(ctx)
		events = app.LocalEvents{Dispatcher: dispatcher}
	} else {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		events = app.QueuedEvents{Client: client}
		initializer = app.QueuedInitializer{Client: client}
	}

	opts := api.Options{PageHandler: a.PageHandler}
	if a.Storage != nil {
		opts.Logs = a.Storage
	}
	srv := api.New(cfg.Address, a.Queue, initializer, events, opts)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[ERROR] server stopped: %v", err)
		os.Exit(1)
	}
}
