// Package scroll runs the per-target scroll loop: it advances the page,
// polls the extractor on a timer and declares a stall once no new media
// has appeared for a while.
package scroll

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
)

// Minimums applied to every start, whatever the caller asked for.
const (
	MinStepPx     = 400
	MinInterval   = 40 * time.Millisecond
	MinScanEvery  = 200 * time.Millisecond
	MinStallAfter = 500 * time.Millisecond
)

// Defaults used when an option is left at zero.
const (
	DefaultStepPx     = 2600
	DefaultInterval   = 90 * time.Millisecond
	DefaultScanEvery  = 700 * time.Millisecond
	DefaultStallAfter = 2 * time.Second
)

// DefaultJumpChance is the per-tick probability of also jumping to the
// bottom of the page, which wakes lazy loaders that only fire near the end.
const DefaultJumpChance = 0.10

// Page is the scrollable surface of a session
type Page interface {
	ScrollToTop(ctx context.Context) error
	ScrollBy(ctx context.Context, px int) error
	ScrollToBottom(ctx context.Context) error
}

// Extractor returns media URLs not reported before
type Extractor interface {
	Extract(ctx context.Context) (models.Result, error)
}

// Session is an open page plus its extractor
type Session interface {
	Page
	Extractor
	Close() error
}

// SignalKind distinguishes driver signals
type SignalKind string

const (
	SignalBatch SignalKind = "batch"
	SignalStall SignalKind = "stall"
)

// Signal is posted to the driver's mailbox
type Signal struct {
	Kind   SignalKind
	Target models.Target
	Batch  models.Result
}

// LoopState is the state of one target's loop
type LoopState int

const (
	LoopStopped LoopState = iota
	LoopRunning
)

func (s LoopState) String() string {
	if s == LoopRunning {
		return "running"
	}
	return "stopped"
}

type loop struct {
	state   LoopState
	enabled atomic.Bool
}

// Driver owns the scroll loops of all targets
type Driver struct {
	mu    sync.Mutex
	loops map[models.Target]*loop

	signals    chan Signal
	dropped    atomic.Int64
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     logger.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration)
	rand       func() float64
	jumpChance float64
}

// Option configures a Driver
type Option func(*Driver)

// WithMailboxSize sets the signal buffer. Signals are dropped when it is full.
func WithMailboxSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.signals = make(chan Signal, n)
		}
	}
}

// WithClock replaces the time source and the tick sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) Option {
	return func(d *Driver) {
		d.now = now
		d.sleep = sleep
	}
}

// WithRand replaces the random source used for bottom jumps.
func WithRand(r func() float64) Option {
	return func(d *Driver) { d.rand = r }
}

// WithJumpChance sets the per-tick probability of jumping to the bottom.
func WithJumpChance(p float64) Option {
	return func(d *Driver) { d.jumpChance = p }
}

// WithLogger sets the driver logger
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.logger = logger.Component(l, "scroll") }
}

// NewDriver creates a driver with no active loops
func NewDriver(opts ...Option) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		loops:      make(map[models.Target]*loop),
		signals:    make(chan Signal, 256),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.Component(logger.GetLogger(), "scroll"),
		now:        time.Now,
		sleep:      sleepCtx,
		rand:       rand.Float64,
		jumpChance: DefaultJumpChance,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Signals is the driver's outgoing mailbox
func (d *Driver) Signals() <-chan Signal {
	return d.signals
}

// Dropped returns how many signals were lost to a full mailbox
func (d *Driver) Dropped() int64 {
	return d.dropped.Load()
}

// Clamp fills zero options with defaults and raises values below the minimums.
func Clamp(o models.ScrollOptions) models.ScrollOptions {
	if o.StepPx == 0 {
		o.StepPx = DefaultStepPx
	}
	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	if o.ScanEvery == 0 {
		o.ScanEvery = DefaultScanEvery
	}
	if o.StallAfter == 0 {
		o.StallAfter = DefaultStallAfter
	}
	o.StepPx = max(o.StepPx, MinStepPx)
	o.Interval = max(o.Interval, MinInterval)
	o.ScanEvery = max(o.ScanEvery, MinScanEvery)
	o.StallAfter = max(o.StallAfter, MinStallAfter)
	return o
}

// Start enables the loop for target. A second Start while the loop is still
// running only re-enables it; no second loop is spawned.
func (d *Driver) Start(target models.Target, session Session, opts models.ScrollOptions) error {
	if session == nil {
		return mgerrors.New(mgerrors.ErrorTypeExtraction, "start scroll", mgerrors.ErrNoSession).WithTarget(string(target))
	}
	opts = Clamp(opts)

	d.mu.Lock()
	l, ok := d.loops[target]
	if !ok {
		l = &loop{}
		d.loops[target] = l
	}
	l.enabled.Store(true)
	if l.state == LoopRunning {
		d.mu.Unlock()
		d.logger.DebugWithFields("Scroll loop re-enabled", map[string]interface{}{
			"target": target,
			"reason": mgerrors.ErrAlreadyRunning.Error(),
		})
		return nil
	}
	l.state = LoopRunning
	d.wg.Add(1)
	d.mu.Unlock()

	d.logger.InfoWithFields("Starting scroll loop", map[string]interface{}{
		"target":      target,
		"step_px":     opts.StepPx,
		"interval":    opts.Interval.String(),
		"scan_every":  opts.ScanEvery.String(),
		"stall_after": opts.StallAfter.String(),
	})

	go d.run(target, l, session, opts)
	return nil
}

// Stop disables the loop. It exits at the top of its next tick.
func (d *Driver) Stop(target models.Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.loops[target]; ok {
		l.enabled.Store(false)
	}
}

// State returns the loop state of target
func (d *Driver) State(target models.Target) LoopState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.loops[target]; ok {
		return l.state
	}
	return LoopStopped
}

// Close stops every loop and waits for them to exit.
func (d *Driver) Close() {
	d.mu.Lock()
	for _, l := range d.loops {
		l.enabled.Store(false)
	}
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Driver) run(target models.Target, l *loop, session Session, opts models.ScrollOptions) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		l.state = LoopStopped
		d.mu.Unlock()
	}()

	ctx := d.ctx
	log := d.logger.WithField("target", target)

	if err := session.ScrollToTop(ctx); err != nil {
		log.WithError(err).Debug("Scroll to top failed")
	}

	var lastScan time.Time
	lastNew := d.now()

	for l.enabled.Load() && ctx.Err() == nil {
		now := d.now()

		if now.Sub(lastScan) >= opts.ScanEvery {
			lastScan = now

			fresh, err := session.Extract(ctx)
			if err != nil {
				log.WithError(err).Warn("Extraction failed")
			} else if !fresh.IsEmpty() {
				lastNew = d.now()
				d.post(Signal{Kind: SignalBatch, Target: target, Batch: fresh})
			}

			if d.now().Sub(lastNew) > opts.StallAfter {
				l.enabled.Store(false)
				log.InfoWithFields("Scroll stalled", map[string]interface{}{
					"idle": d.now().Sub(lastNew).String(),
				})
				d.post(Signal{Kind: SignalStall, Target: target})
				return
			}
		}

		if err := session.ScrollBy(ctx, opts.StepPx); err != nil {
			log.WithError(err).Debug("Scroll step failed")
		}
		if d.rand() < d.jumpChance {
			if err := session.ScrollToBottom(ctx); err != nil {
				log.WithError(err).Debug("Jump to bottom failed")
			}
		}

		d.sleep(ctx, opts.Interval)
	}

	log.Debug("Scroll loop exited")
}

// post never blocks; a full mailbox loses the signal.
func (d *Driver) post(s Signal) {
	select {
	case d.signals <- s:
	default:
		d.dropped.Add(1)
		d.logger.WarnWithFields("Dropped scroll signal", map[string]interface{}{
			"target": s.Target,
			"kind":   s.Kind,
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
