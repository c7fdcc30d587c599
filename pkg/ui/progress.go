package ui

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// StatusTracker keeps the running tally of a run
type StatusTracker struct {
	Images    int
	Videos    int
	StartTime time.Time
}

// NewStatusTracker creates a new status tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{StartTime: time.Now()}
}

// AddBatch adds newly persisted URLs to the tally
func (st *StatusTracker) AddBatch(images, videos int) {
	st.Images += images
	st.Videos += videos
}

// Total returns all collected URLs
func (st *StatusTracker) Total() int {
	return st.Images + st.Videos
}

// GetElapsedTime returns the elapsed time since tracking started
func (st *StatusTracker) GetElapsedTime() time.Duration {
	return time.Since(st.StartTime)
}

// Summary is the one-line collection status
func (st *StatusTracker) Summary() string {
	return fmt.Sprintf("%d images, %d videos (%s)",
		st.Images, st.Videos, st.GetElapsedTime().Truncate(time.Second))
}

// Bar renders done/total as a fixed width progress bar
func Bar(done, total, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	filled = min(max(filled, 0), width)

	return fmt.Sprintf("[%s] %d/%d",
		strings.Repeat(ProgressBar, filled)+strings.Repeat(ProgressEmpty, width-filled),
		done, total)
}
