package scroll

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/models"
)

// fakeClock advances only when the loop sleeps.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	runtime.Gosched()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeSession yields one batch per scripted entry, then nothing.
type fakeSession struct {
	mu       sync.Mutex
	batches  []models.Result
	extracts int
	steps    []int
	tops     int
	bottoms  int
	block    chan struct{}
}

func (s *fakeSession) ScrollToTop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tops++
	return nil
}

func (s *fakeSession) ScrollBy(ctx context.Context, px int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, px)
	return nil
}

func (s *fakeSession) ScrollToBottom(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bottoms++
	return nil
}

func (s *fakeSession) Extract(ctx context.Context) (models.Result, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extracts++
	if len(s.batches) == 0 {
		return models.Result{}, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) Steps() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.steps...)
}

func waitStopped(t *testing.T, d *Driver, target models.Target) {
	t.Helper()
	require.Eventually(t, func() bool {
		return d.State(target) == LoopStopped
	}, 2*time.Second, time.Millisecond)
}

func drain(d *Driver) []Signal {
	var out []Signal
	for {
		select {
		case s := <-d.Signals():
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestClamp(t *testing.T) {
	got := Clamp(models.ScrollOptions{StepPx: 10, Interval: time.Millisecond, ScanEvery: 5 * time.Millisecond, StallAfter: 100 * time.Millisecond})
	assert.Equal(t, MinStepPx, got.StepPx)
	assert.Equal(t, MinInterval, got.Interval)
	assert.Equal(t, MinScanEvery, got.ScanEvery)
	assert.Equal(t, MinStallAfter, got.StallAfter)

	got = Clamp(models.ScrollOptions{})
	assert.Equal(t, DefaultStepPx, got.StepPx)
	assert.Equal(t, DefaultInterval, got.Interval)
	assert.Equal(t, DefaultScanEvery, got.ScanEvery)
	assert.Equal(t, DefaultStallAfter, got.StallAfter)

	custom := models.ScrollOptions{StepPx: 5000, Interval: time.Second, ScanEvery: 2 * time.Second, StallAfter: 10 * time.Second}
	assert.Equal(t, custom, Clamp(custom))
}

func TestStallFiresOnceAfterBatches(t *testing.T) {
	clock := newFakeClock()
	d := NewDriver(WithClock(clock.Now, clock.Sleep), WithRand(func() float64 { return 1 }))
	defer d.Close()

	session := &fakeSession{batches: []models.Result{
		{Images: []string{"a", "b"}},
		{Videos: []string{"v"}},
	}}
	require.NoError(t, d.Start("t1", session, models.ScrollOptions{StepPx: 10, Interval: time.Millisecond}))
	waitStopped(t, d, "t1")

	signals := drain(d)
	var batches, stalls int
	for _, s := range signals {
		assert.Equal(t, models.Target("t1"), s.Target)
		switch s.Kind {
		case SignalBatch:
			batches++
		case SignalStall:
			stalls++
		}
	}
	assert.Equal(t, 2, batches)
	assert.Equal(t, 1, stalls)
	assert.Equal(t, SignalStall, signals[len(signals)-1].Kind, "stall is the last signal")

	for _, step := range session.Steps() {
		assert.Equal(t, MinStepPx, step)
	}
	for _, s := range clock.Sleeps() {
		assert.GreaterOrEqual(t, s, MinInterval, "no tick below the minimum interval")
	}
	assert.Equal(t, 1, session.tops, "scrolls to top before looping")
	assert.Zero(t, session.bottoms)
}

func TestStallWithoutAnyBatch(t *testing.T) {
	clock := newFakeClock()
	d := NewDriver(WithClock(clock.Now, clock.Sleep))
	defer d.Close()

	require.NoError(t, d.Start("t1", &fakeSession{}, models.ScrollOptions{}))
	waitStopped(t, d, "t1")

	signals := drain(d)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalStall, signals[0].Kind)
}

func TestJumpToBottom(t *testing.T) {
	clock := newFakeClock()
	d := NewDriver(WithClock(clock.Now, clock.Sleep), WithRand(func() float64 { return 0.05 }))
	defer d.Close()

	session := &fakeSession{}
	require.NoError(t, d.Start("t1", session, models.ScrollOptions{}))
	waitStopped(t, d, "t1")

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, len(session.steps), session.bottoms, "every tick jumps when rand is below the chance")
}

func TestStartIsReentrant(t *testing.T) {
	d := NewDriver()
	defer d.Close()

	block := make(chan struct{})
	session := &fakeSession{block: block}
	require.NoError(t, d.Start("t1", session, models.ScrollOptions{}))
	require.NoError(t, d.Start("t1", session, models.ScrollOptions{}))
	assert.Equal(t, LoopRunning, d.State("t1"))

	d.Stop("t1")
	close(block)
	waitStopped(t, d, "t1")

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 1, session.tops, "only one loop was spawned")
	assert.Empty(t, drain(d), "stopped loop does not report a stall")
}

func TestStopThenRestart(t *testing.T) {
	clock := newFakeClock()
	d := NewDriver(WithClock(clock.Now, clock.Sleep))
	defer d.Close()

	block := make(chan struct{})
	session := &fakeSession{block: block}
	require.NoError(t, d.Start("t1", session, models.ScrollOptions{}))
	d.Stop("t1")
	close(block)
	waitStopped(t, d, "t1")

	again := &fakeSession{}
	require.NoError(t, d.Start("t1", again, models.ScrollOptions{}))
	waitStopped(t, d, "t1")
	assert.Equal(t, 1, again.tops)
}

func TestTargetsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	d := NewDriver(WithClock(clock.Now, clock.Sleep))
	defer d.Close()

	block := make(chan struct{})
	require.NoError(t, d.Start("a", &fakeSession{block: block}, models.ScrollOptions{}))
	require.NoError(t, d.Start("b", &fakeSession{}, models.ScrollOptions{}))
	waitStopped(t, d, "b")
	assert.Equal(t, LoopRunning, d.State("a"))

	d.Stop("a")
	close(block)
	waitStopped(t, d, "a")
}

func TestStartWithoutSession(t *testing.T) {
	d := NewDriver()
	defer d.Close()

	err := d.Start("t1", nil, models.ScrollOptions{})
	require.Error(t, err)
	assert.True(t, mgerrors.Is(err, mgerrors.ErrNoSession))
	assert.Equal(t, LoopStopped, d.State("t1"))
}

func TestFullMailboxDrops(t *testing.T) {
	clock := newFakeClock()
	d := NewDriver(WithClock(clock.Now, clock.Sleep), WithMailboxSize(1))
	defer d.Close()

	session := &fakeSession{batches: []models.Result{
		{Images: []string{"a"}}, {Images: []string{"b"}}, {Images: []string{"c"}},
	}}
	require.NoError(t, d.Start("t1", session, models.ScrollOptions{}))
	waitStopped(t, d, "t1")

	assert.Len(t, drain(d), 1)
	assert.Equal(t, int64(3), d.Dropped())
}
