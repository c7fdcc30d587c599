package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"

	"mediagrab/pkg/events"
)

// Reporter renders bus events for a terminal user
type Reporter struct {
	mu       sync.Mutex
	out      io.Writer
	tracker  *StatusTracker
	spinner  *spinner.Spinner
	notifier *Notifier
	failed   bool
	done     chan struct{}
}

// NewReporter creates a reporter. animate enables the scroll spinner, which
// should only be used on a terminal.
func NewReporter(out io.Writer, notifier *Notifier, animate bool) *Reporter {
	r := &Reporter{
		out:      out,
		tracker:  NewStatusTracker(),
		notifier: notifier,
		done:     make(chan struct{}),
	}
	if animate {
		r.spinner = spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(out))
		r.spinner.Suffix = " scrolling..."
	}
	return r
}

// Tracker exposes the running tally
func (r *Reporter) Tracker() *StatusTracker {
	return r.tracker
}

// Start shows the scrolling indicator
func (r *Reporter) Start() {
	if r.spinner != nil {
		r.spinner.Start()
	}
}

// Follow renders events from ch until it closes or a terminal event arrives.
// Done is closed when it returns.
func (r *Reporter) Follow(ch <-chan events.Event) {
	defer close(r.done)
	defer r.stopSpinner()
	for e := range ch {
		if r.Handle(e) {
			return
		}
	}
}

// Done is closed once Follow has returned
func (r *Reporter) Done() <-chan struct{} {
	return r.done
}

// Failed reports whether the run ended with an error event
func (r *Reporter) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Handle renders one event and reports whether it was terminal.
func (r *Reporter) Handle(e events.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type {
	case events.TypeBatch:
		r.tracker.AddBatch(len(e.Images), len(e.Videos))
		if r.spinner != nil {
			r.spinner.Suffix = " scrolling... " + r.tracker.Summary()
		} else {
			fmt.Fprintf(r.out, "%s +%d images, +%d videos, total %d\n",
				Green("[COLLECTED]"), len(e.Images), len(e.Videos), r.tracker.Total())
		}
	case events.TypeStall:
		r.stopSpinner()
		fmt.Fprintf(r.out, "%s no new media, finishing run\n", Magenta("[STALLED]"))
	case events.TypeArchiveStarted:
		r.stopSpinner()
		fmt.Fprintf(r.out, "%s run %s\n", Cyan("[ARCHIVING]"), e.RunID)
	case events.TypeProgress:
		if e.Progress == nil {
			return false
		}
		label := Yellow("[FETCHING]")
		if e.Progress.Stage == events.StagePackaging {
			label = Magenta("[PACKAGING]")
		}
		fmt.Fprintf(r.out, "%s %s added %d, failed %d\n",
			label, Bar(e.Progress.Done, e.Progress.Total, 20), e.Progress.Added, e.Progress.Failed)
	case events.TypeDone:
		msg := fmt.Sprintf("%d files saved to %s", e.Added, e.Handle)
		if e.Failed > 0 {
			msg += fmt.Sprintf(" (%d failed)", e.Failed)
		}
		if r.notifier != nil {
			r.notifier.SendSuccess("Archive ready", msg)
		} else {
			fmt.Fprintln(r.out, Green("Archive ready: "+msg))
		}
		return true
	case events.TypeError:
		r.failed = true
		if r.notifier != nil {
			r.notifier.SendError("Archive failed", e.Error)
		} else {
			fmt.Fprintln(r.out, Red("Archive failed: "+e.Error))
		}
		return true
	}
	return false
}

func (r *Reporter) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
	}
}
