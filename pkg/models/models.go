package models

import "time"

// Target identifies the page being scraped. The CLI and API use the page URL.
type Target string

// Kind is the media kind of a harvested URL.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// FallbackExt returns the extension used when neither the URL nor the
// response content type resolves one.
func (k Kind) FallbackExt() string {
	if k == KindVideo {
		return ".mp4"
	}
	return ".jpg"
}

// Item is a single URL destined for an archive
type Item struct {
	URL  string `json:"url"`
	Kind Kind   `json:"kind"`
}

// RunState is the lifecycle of a run against one target.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StateStalled   RunState = "stalled"
	StateStopped   RunState = "stopped"
	StateZipping   RunState = "zipping"
	StateDelivered RunState = "delivered"
	StateFailed    RunState = "failed"
)

// ScrollOptions tunes the scroll loop. Values below the driver minimums are
// clamped when the loop starts.
type ScrollOptions struct {
	StepPx     int           `yaml:"step_px" json:"step_px"`
	Interval   time.Duration `yaml:"interval" json:"interval"`
	ScanEvery  time.Duration `yaml:"scan_every" json:"scan_every"`
	StallAfter time.Duration `yaml:"stall_after" json:"stall_after"`
}

// RunConfig is the per-target configuration captured by a start command.
type RunConfig struct {
	ArchiveName string        `json:"archive_name"`
	Folder      string        `json:"folder"`
	Scroll      ScrollOptions `json:"scroll"`
}
