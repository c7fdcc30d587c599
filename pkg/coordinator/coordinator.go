// Package coordinator owns per-target run state. It starts and stops scroll
// loops, routes their batches to the aggregator and turns a stall into an
// archive job.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediagrab/pkg/archive"
	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
	"mediagrab/pkg/scroll"
	"mediagrab/pkg/storage"
)

// SessionOpener attaches to the page behind a target
type SessionOpener interface {
	Open(ctx context.Context, target models.Target) (scroll.Session, error)
}

// ScrollDriver is the subset of scroll.Driver the coordinator uses
type ScrollDriver interface {
	Start(target models.Target, session scroll.Session, opts models.ScrollOptions) error
	Stop(target models.Target)
	Signals() <-chan scroll.Signal
}

// Aggregator is the subset of aggregator.Aggregator the coordinator uses
type Aggregator interface {
	Queue(target models.Target, images, videos []string)
	Flush(ctx context.Context, target models.Target) (models.Result, error)
	Discard(target models.Target)
}

// ArchiveSubmitter accepts archive jobs
type ArchiveSubmitter interface {
	Submit(ctx context.Context, req archive.Request) error
}

type run struct {
	running bool
	config  *models.RunConfig
	session scroll.Session
	state   models.RunState
	runID   string
}

// Coordinator routes commands and signals for every target
type Coordinator struct {
	mu     sync.Mutex
	runs   map[models.Target]*run
	byRun  map[string]models.Target
	feed   <-chan events.Event
	opener SessionOpener

	driver    ScrollDriver
	agg       Aggregator
	store     storage.Store
	archiver  ArchiveSubmitter
	publisher events.Publisher
	logger    logger.Logger
	newRunID  func() string
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithEventFeed lets the coordinator follow done and error events to track
// terminal run states. Pass a bus subscription.
func WithEventFeed(ch <-chan events.Event) Option {
	return func(c *Coordinator) { c.feed = ch }
}

// WithRunIDFunc replaces the run id generator
func WithRunIDFunc(f func() string) Option {
	return func(c *Coordinator) { c.newRunID = f }
}

// WithLogger sets the coordinator logger
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator
func New(opener SessionOpener, driver ScrollDriver, agg Aggregator, store storage.Store, archiver ArchiveSubmitter, publisher events.Publisher, opts ...Option) *Coordinator {
	if publisher == nil {
		publisher = events.Discard{}
	}
	c := &Coordinator{
		runs:      make(map[models.Target]*run),
		byRun:     make(map[string]models.Target),
		opener:    opener,
		driver:    driver,
		agg:       agg,
		store:     store,
		archiver:  archiver,
		publisher: publisher,
		logger:    logger.GetLogger(),
		newRunID:  NewRunID,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.Component(c.logger, "coordinator")
	return c
}

// NewRunID returns a unique, time-ordered run id: unix millis plus a random suffix.
func NewRunID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), suffix)
}

func (c *Coordinator) runFor(target models.Target) *run {
	r, ok := c.runs[target]
	if !ok {
		r = &run{state: models.StateIdle}
		c.runs[target] = r
	}
	return r
}

// Run drains the driver mailbox and the event feed until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	signals := c.driver.Signals()
	feed := c.feed
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			c.handleSignal(ctx, sig)
		case e, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			c.observe(e)
		}
	}
}

func (c *Coordinator) handleSignal(ctx context.Context, sig scroll.Signal) {
	switch sig.Kind {
	case scroll.SignalBatch:
		// a batch posted before a reset must not repopulate the cleared result
		c.mu.Lock()
		_, known := c.runs[sig.Target]
		c.mu.Unlock()
		if !known {
			c.logger.DebugWithFields("Dropping batch for torn down target", map[string]interface{}{
				"target": sig.Target,
				"images": len(sig.Batch.Images),
				"videos": len(sig.Batch.Videos),
			})
			return
		}
		c.agg.Queue(sig.Target, sig.Batch.Images, sig.Batch.Videos)
	case scroll.SignalStall:
		c.handleStall(ctx, sig.Target)
	}
}

func (c *Coordinator) observe(e events.Event) {
	var state models.RunState
	switch e.Type {
	case events.TypeDone:
		state = models.StateDelivered
	case events.TypeError:
		state = models.StateFailed
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	target, ok := c.byRun[e.RunID]
	if !ok {
		return
	}
	delete(c.byRun, e.RunID)
	if r, ok := c.runs[target]; ok && r.runID == e.RunID && !r.running {
		r.state = state
	}
}

// Start opens a session for target if needed and starts its scroll loop.
// Starting a running target only refreshes its config.
func (c *Coordinator) Start(ctx context.Context, target models.Target, cfg models.RunConfig) error {
	c.mu.Lock()
	session := c.runFor(target).session
	c.mu.Unlock()

	if session == nil {
		opened, err := c.opener.Open(ctx, target)
		if err != nil {
			c.logger.ErrorWithFields("Failed to open page session", map[string]interface{}{
				"target": target,
				"error":  err.Error(),
			})
			return mgerrors.New(mgerrors.ErrorTypeExtraction, "open session", err).WithTarget(string(target))
		}

		c.mu.Lock()
		r := c.runFor(target)
		if r.session == nil {
			r.session = opened
			c.mu.Unlock()
		} else {
			c.mu.Unlock()
			opened.Close()
		}
	}

	c.mu.Lock()
	r := c.runFor(target)
	r.running = true
	r.config = &cfg
	r.state = models.StateRunning
	session = r.session
	c.mu.Unlock()

	if err := c.driver.Start(target, session, cfg.Scroll); err != nil {
		c.mu.Lock()
		r.running = false
		r.config = nil
		r.state = models.StateIdle
		c.mu.Unlock()
		return err
	}

	c.logger.InfoWithFields("Run started", map[string]interface{}{
		"target":  target,
		"archive": cfg.ArchiveName,
		"folder":  cfg.Folder,
	})
	return nil
}

// Stop ends the run and persists whatever is still pending. It does not
// build an archive; use Archive for that.
func (c *Coordinator) Stop(ctx context.Context, target models.Target) error {
	c.mu.Lock()
	wasRunning := false
	if r, ok := c.runs[target]; ok {
		wasRunning = r.running
		r.running = false
		r.config = nil
		if wasRunning {
			r.state = models.StateStopped
		}
	}
	c.mu.Unlock()

	c.driver.Stop(target)

	if _, err := c.agg.Flush(ctx, target); err != nil {
		return fmt.Errorf("failed to flush on stop: %w", err)
	}

	c.logger.InfoWithFields("Run stopped", map[string]interface{}{
		"target":      target,
		"was_running": wasRunning,
	})
	return nil
}

func (c *Coordinator) handleStall(ctx context.Context, target models.Target) {
	c.mu.Lock()
	r, ok := c.runs[target]
	if !ok || !r.running {
		c.mu.Unlock()
		c.logger.DebugWithFields("Ignoring stall for target that is not running", map[string]interface{}{
			"target": target,
		})
		return
	}
	r.running = false
	r.state = models.StateStalled
	cfg := models.RunConfig{}
	if r.config != nil {
		cfg = *r.config
	}
	r.config = nil
	c.mu.Unlock()

	c.logger.InfoWithFields("Run stalled, archiving", map[string]interface{}{
		"target": target,
	})
	c.publisher.Publish(events.Event{Type: events.TypeStall, Target: target})

	if _, err := c.Archive(ctx, target, cfg); err != nil {
		c.logger.ErrorWithFields("Auto archive failed", map[string]interface{}{
			"target": target,
			"error":  err.Error(),
		})
		c.publisher.Publish(events.Event{Type: events.TypeError, Target: target, Error: err.Error()})
	}
}

// Archive flushes pending data and submits the stored result as an archive
// job. An empty result returns "" and no error: nothing is built or announced.
// While a job for target is still being built its run id is returned instead.
func (c *Coordinator) Archive(ctx context.Context, target models.Target, cfg models.RunConfig) (string, error) {
	c.mu.Lock()
	if r, ok := c.runs[target]; ok && r.state == models.StateZipping {
		runID := r.runID
		c.mu.Unlock()
		return runID, nil
	}
	c.mu.Unlock()

	c.driver.Stop(target)

	if _, err := c.agg.Flush(ctx, target); err != nil {
		c.setState(target, models.StateFailed)
		return "", fmt.Errorf("failed to flush before archive: %w", err)
	}

	result, err := c.store.Load(ctx, target)
	if err != nil {
		c.setState(target, models.StateFailed)
		return "", fmt.Errorf("failed to load result: %w", err)
	}

	items := result.Items()
	if len(items) == 0 {
		c.logger.InfoWithFields("Nothing collected, skipping archive", map[string]interface{}{
			"target": target,
		})
		c.setState(target, models.StateIdle)
		return "", nil
	}

	runID := c.newRunID()

	c.mu.Lock()
	r := c.runFor(target)
	r.runID = runID
	r.state = models.StateZipping
	c.byRun[runID] = target
	c.mu.Unlock()

	c.publisher.Publish(events.Event{Type: events.TypeArchiveStarted, Target: target, RunID: runID})

	err = c.archiver.Submit(ctx, archive.Request{
		RunID:  runID,
		Target: target,
		Folder: cfg.Folder,
		Name:   cfg.ArchiveName,
		Items:  items,
	})
	if err != nil {
		c.setState(target, models.StateFailed)
		return runID, mgerrors.New(mgerrors.ErrorTypeState, "submit archive", err).WithTarget(string(target)).WithRun(runID)
	}

	c.logger.InfoWithFields("Archive job submitted", map[string]interface{}{
		"target": target,
		"run_id": runID,
		"items":  len(items),
	})
	return runID, nil
}

// Reset stops the run, drops pending data, config and page memory, and
// clears the stored result.
func (c *Coordinator) Reset(ctx context.Context, target models.Target) error {
	c.teardown(target)

	if err := c.store.Delete(ctx, target); err != nil {
		return err
	}
	c.logger.InfoWithFields("Target reset", map[string]interface{}{
		"target": target,
	})
	return nil
}

// Forget tears the target down like Reset but keeps the stored result.
// Used when the page goes away.
func (c *Coordinator) Forget(target models.Target) {
	c.teardown(target)
	c.logger.DebugWithFields("Target forgotten", map[string]interface{}{
		"target": target,
	})
}

func (c *Coordinator) teardown(target models.Target) {
	c.mu.Lock()
	r, ok := c.runs[target]
	delete(c.runs, target)
	c.mu.Unlock()

	c.driver.Stop(target)
	c.agg.Discard(target)

	if ok && r.session != nil {
		if err := r.session.Close(); err != nil {
			c.logger.WarnWithFields("Failed to close page session", map[string]interface{}{
				"target": target,
				"error":  err.Error(),
			})
		}
	}
}

// Result returns the stored result of target
func (c *Coordinator) Result(ctx context.Context, target models.Target) (models.Result, error) {
	return c.store.Load(ctx, target)
}

// State returns the lifecycle state of target
func (c *Coordinator) State(target models.Target) models.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.runs[target]; ok {
		return r.state
	}
	return models.StateIdle
}

// Running reports whether target is marked running
func (c *Coordinator) Running(target models.Target) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[target]
	return ok && r.running
}

// Config returns the stored run config of target, if any
func (c *Coordinator) Config(target models.Target) (models.RunConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.runs[target]; ok && r.config != nil {
		return *r.config, true
	}
	return models.RunConfig{}, false
}

// Close stops every target and closes their sessions
func (c *Coordinator) Close() {
	c.mu.Lock()
	targets := make([]models.Target, 0, len(c.runs))
	for t := range c.runs {
		targets = append(targets, t)
	}
	c.mu.Unlock()

	for _, t := range targets {
		c.Forget(t)
	}
}

func (c *Coordinator) setState(target models.Target, state models.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.runs[target]; ok && !r.running {
		r.state = state
	}
}
