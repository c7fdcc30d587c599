// Package delivery hands finished archives to a Saver and reports the
// terminal outcome of a run.
package delivery

import (
	"context"
	"sync"
	"time"

	"mediagrab/pkg/archive"
	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
)

// DefaultReleaseAfter bounds how long an archive blob is retained after handoff.
const DefaultReleaseAfter = 120 * time.Second

type heldBlob struct {
	data  []byte
	timer *time.Timer
}

// Deliverer saves archives and publishes done or error events
type Deliverer struct {
	saver        Saver
	publisher    events.Publisher
	releaseAfter time.Duration
	logger       logger.Logger

	mu   sync.Mutex
	held map[string]*heldBlob
}

// New creates a Deliverer
func New(saver Saver, publisher events.Publisher, releaseAfter time.Duration, log logger.Logger) *Deliverer {
	if releaseAfter <= 0 {
		releaseAfter = DefaultReleaseAfter
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Deliverer{
		saver:        saver,
		publisher:    publisher,
		releaseAfter: releaseAfter,
		logger:       logger.Component(log, "delivery"),
		held:         make(map[string]*heldBlob),
	}
}

// Deliver saves a and reports the result. The archive bytes stay referenced
// until the release timer fires, whatever the outcome.
func (d *Deliverer) Deliver(ctx context.Context, target models.Target, a *archive.Archive) (string, error) {
	d.hold(a.RunID, a.Data)

	handle, err := d.saver.Save(ctx, a.FileName, a.Data)
	if err != nil {
		derr := mgerrors.New(mgerrors.ErrorTypeDelivery, "save archive", err).WithTarget(string(target)).WithRun(a.RunID)
		d.logger.ErrorWithFields("Archive delivery failed", map[string]interface{}{
			"run_id": a.RunID,
			"target": target,
			"error":  err.Error(),
		})
		d.Fail(target, a.RunID, derr)
		return "", derr
	}

	d.logger.InfoWithFields("Archive delivered", map[string]interface{}{
		"run_id": a.RunID,
		"target": target,
		"handle": handle,
		"added":  a.Added,
		"failed": a.Failed,
	})
	d.publisher.Publish(events.Event{
		Type:   events.TypeDone,
		Target: target,
		RunID:  a.RunID,
		Added:  a.Added,
		Failed: a.Failed,
		Handle: handle,
	})
	return handle, nil
}

// Fail publishes a terminal error for a run that never reached the saver.
func (d *Deliverer) Fail(target models.Target, runID string, err error) {
	d.publisher.Publish(events.Event{
		Type:   events.TypeError,
		Target: target,
		RunID:  runID,
		Error:  err.Error(),
	})
}

// Held reports whether the blob of runID is still retained
func (d *Deliverer) Held(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.held[runID]
	return ok
}

func (d *Deliverer) hold(runID string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.held[runID]; ok {
		prev.timer.Stop()
	}
	h := &heldBlob{data: data}
	h.timer = time.AfterFunc(d.releaseAfter, func() { d.release(runID, h) })
	d.held[runID] = h
}

func (d *Deliverer) release(runID string, h *heldBlob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.held[runID]; ok && cur == h {
		delete(d.held, runID)
		d.logger.DebugWithFields("Released archive blob", map[string]interface{}{
			"run_id": runID,
		})
	}
}

// Close releases every held blob immediately
func (d *Deliverer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, h := range d.held {
		h.timer.Stop()
		delete(d.held, id)
	}
}
