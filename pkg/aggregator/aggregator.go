// Package aggregator coalesces scroll batches per target and merges them
// into the persisted result after a short debounce.
package aggregator

import (
	"context"
	"sync"
	"time"

	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
	"mediagrab/pkg/storage"
)

// DefaultFlushDelay is the debounce window after the first queued batch.
const DefaultFlushDelay = 900 * time.Millisecond

// orderedSet keeps insertion order and drops duplicates
type orderedSet struct {
	index map[string]struct{}
	items []string
}

func (s *orderedSet) add(u string) {
	if u == "" {
		return
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[u]; ok {
		return
	}
	s.index[u] = struct{}{}
	s.items = append(s.items, u)
}

func (s *orderedSet) take() []string {
	items := s.items
	s.items = nil
	s.index = nil
	return items
}

type buffer struct {
	images  orderedSet
	videos  orderedSet
	timer   *time.Timer
	flushMu sync.Mutex
}

func (b *buffer) empty() bool {
	return len(b.images.items) == 0 && len(b.videos.items) == 0
}

// Aggregator owns the pending buffers of all targets
type Aggregator struct {
	mu      sync.Mutex
	buffers map[models.Target]*buffer

	store     storage.Store
	publisher events.Publisher
	delay     time.Duration
	logger    logger.Logger
}

// New creates an aggregator writing to store and announcing added URLs on publisher
func New(store storage.Store, publisher events.Publisher, delay time.Duration, log logger.Logger) *Aggregator {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Aggregator{
		buffers:   make(map[models.Target]*buffer),
		store:     store,
		publisher: publisher,
		delay:     delay,
		logger:    logger.Component(log, "aggregator"),
	}
}

func (a *Aggregator) bufferFor(target models.Target) *buffer {
	b, ok := a.buffers[target]
	if !ok {
		b = &buffer{}
		a.buffers[target] = b
	}
	return b
}

// Queue adds URLs to the target's pending buffer. The flush timer is armed
// only when the buffer goes from empty to non-empty.
func (a *Aggregator) Queue(target models.Target, images, videos []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.bufferFor(target)
	wasEmpty := b.empty()
	for _, u := range images {
		b.images.add(u)
	}
	for _, u := range videos {
		b.videos.add(u)
	}

	if wasEmpty && !b.empty() && b.timer == nil {
		b.timer = time.AfterFunc(a.delay, func() {
			if _, err := a.Flush(context.Background(), target); err != nil {
				a.logger.ErrorWithFields("Scheduled flush failed", map[string]interface{}{
					"target": target,
					"error":  err.Error(),
				})
			}
		})
	}
}

// Flush drains the pending buffer into the persisted result and returns the
// URLs that were not stored before. An empty buffer is a no-op.
func (a *Aggregator) Flush(ctx context.Context, target models.Target) (models.Result, error) {
	a.mu.Lock()
	b := a.bufferFor(target)
	a.mu.Unlock()

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	a.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := models.Result{Images: b.images.take(), Videos: b.videos.take()}
	a.mu.Unlock()

	if batch.IsEmpty() {
		return models.Result{}, nil
	}

	saved, err := a.store.Load(ctx, target)
	if err != nil {
		return models.Result{}, err
	}
	merged, added := saved.Merge(batch)
	if err := a.store.Save(ctx, target, merged); err != nil {
		return models.Result{}, err
	}

	a.logger.DebugWithFields("Flushed batch", map[string]interface{}{
		"target":       target,
		"added_images": len(added.Images),
		"added_videos": len(added.Videos),
		"total":        merged.Len(),
	})

	if !added.IsEmpty() {
		a.publisher.Publish(events.Event{
			Type:   events.TypeBatch,
			Target: target,
			Images: added.Images,
			Videos: added.Videos,
		})
	}
	return added, nil
}

// Pending returns a copy of the unflushed URLs
func (a *Aggregator) Pending(target models.Target) models.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[target]
	if !ok {
		return models.Result{}
	}
	return models.Result{
		Images: append([]string(nil), b.images.items...),
		Videos: append([]string(nil), b.videos.items...),
	}
}

// Discard drops the pending buffer and cancels its timer
func (a *Aggregator) Discard(target models.Target) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[target]
	if !ok {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.images.take()
	b.videos.take()
}

// Close cancels every pending timer without flushing
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.buffers {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	}
}
