package main

import (
	"context"
	"fmt"

	"mediagrab/internal/archiver"
	"mediagrab/pkg/aggregator"
	"mediagrab/pkg/archive"
	"mediagrab/pkg/browser"
	"mediagrab/pkg/config"
	"mediagrab/pkg/coordinator"
	"mediagrab/pkg/delivery"
	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/scroll"
	"mediagrab/pkg/storage"
)

// app is the fully wired collection and archive pipeline
type app struct {
	cfg       *config.Config
	log       logger.Logger
	bus       *events.Bus
	store     storage.Store
	agg       *aggregator.Aggregator
	driver    *scroll.Driver
	browser   *browser.Browser
	deliverer *delivery.Deliverer
	pool      *archiver.WorkerPool
	coord     *coordinator.Coordinator

	cancelFeed func()
	cancelRun  context.CancelFunc
}

// newApp builds every component from cfg. prompt may be nil.
func newApp(cfg *config.Config, prompt delivery.Prompt) (*app, error) {
	log := logger.GetLogger()

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	bus := events.NewBus()
	agg := aggregator.New(store, bus, cfg.Aggregator.FlushDelay, log)
	driver := scroll.NewDriver(scroll.WithLogger(log))
	br := browser.New(cfg.Browser, log)

	fetcher := archive.NewHTTPFetcher(cfg.Archive.FetchTimeout, cfg.Archive.RequestsPerSecond, cfg.Archive.UserAgent)
	builder := archive.NewBuilder(fetcher, bus, cfg.Archive.ProgressEvery, log)

	saver := delivery.NewFileSaver(cfg.Delivery.OutputDir, prompt)
	deliverer := delivery.New(saver, bus, cfg.Delivery.ReleaseAfter, log)
	pool := archiver.NewWorkerPool(cfg.Archive.Workers, builder, deliverer, log)

	feed, cancelFeed := bus.Subscribe(64)
	coord := coordinator.New(br, driver, agg, store, pool, bus,
		coordinator.WithEventFeed(feed),
		coordinator.WithLogger(log),
	)

	return &app{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		store:      store,
		agg:        agg,
		driver:     driver,
		browser:    br,
		deliverer:  deliverer,
		pool:       pool,
		coord:      coord,
		cancelFeed: cancelFeed,
	}, nil
}

// start launches the archive workers and the coordinator loop
func (a *app) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	a.pool.Start()
	go a.coord.Run(ctx)
}

// close tears everything down in dependency order
func (a *app) close() {
	a.pool.Stop()
	if a.cancelRun != nil {
		a.cancelRun()
	}
	a.coord.Close()
	a.driver.Close()
	a.agg.Close()
	a.browser.Close()
	a.deliverer.Close()
	a.cancelFeed()

	if err := a.store.Close(); err != nil {
		a.log.WarnWithFields("Failed to close storage", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
