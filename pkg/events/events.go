// Package events carries notifications between the scraping, coordination and
// archive-building contexts. Delivery is best effort: a subscriber that is
// not keeping up loses events instead of blocking the publisher. Durable
// state lives in storage, never in the event stream.
package events

import (
	"sync"
	"sync/atomic"

	"mediagrab/pkg/models"
)

// Type names an event kind
type Type string

const (
	TypeBatch          Type = "batch"
	TypeStall          Type = "stall"
	TypeArchiveStarted Type = "archive_started"
	TypeProgress       Type = "progress"
	TypeDone           Type = "done"
	TypeError          Type = "error"
)

// StagePackaging marks the final progress event emitted before compression.
const StagePackaging = "packaging"

// Progress is the archive builder's running tally
type Progress struct {
	Done   int    `json:"done"`
	Total  int    `json:"total"`
	Added  int    `json:"added"`
	Failed int    `json:"failed"`
	Stage  string `json:"stage,omitempty"`
}

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	Type     Type          `json:"type"`
	Target   models.Target `json:"target,omitempty"`
	RunID    string        `json:"run_id,omitempty"`
	Images   []string      `json:"images,omitempty"`
	Videos   []string      `json:"videos,omitempty"`
	Progress *Progress     `json:"progress,omitempty"`
	Added    int           `json:"added,omitempty"`
	Failed   int           `json:"failed,omitempty"`
	Handle   string        `json:"handle,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Publisher is the sending half of the bus
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Int64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The returned
// cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}

// Func adapts a function to the Publisher interface.
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }
