package archiver_test

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagrab/internal/archiver"
	"mediagrab/pkg/aggregator"
	"mediagrab/pkg/archive"
	"mediagrab/pkg/coordinator"
	"mediagrab/pkg/delivery"
	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
	"mediagrab/pkg/scroll"
	"mediagrab/pkg/storage"
)

// boardSession reveals one batch per scan until its pages run out
type boardSession struct {
	mu      sync.Mutex
	batches []models.Result
	closed  bool
}

func (s *boardSession) ScrollToTop(ctx context.Context) error      { return nil }
func (s *boardSession) ScrollBy(ctx context.Context, px int) error { return nil }
func (s *boardSession) ScrollToBottom(ctx context.Context) error   { return nil }

func (s *boardSession) Extract(ctx context.Context) (models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return models.Result{}, nil
	}
	next := s.batches[0]
	s.batches = s.batches[1:]
	return next, nil
}

func (s *boardSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type boardOpener struct {
	session *boardSession
}

func (o *boardOpener) Open(ctx context.Context, target models.Target) (scroll.Session, error) {
	return o.session, nil
}

func TestPipelineStallArchivesAndDelivers(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken.jpg":
			w.WriteHeader(http.StatusNotFound)
		case "/clip":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("mp4"))
		default:
			_, _ = w.Write([]byte("jpg"))
		}
	}))
	defer media.Close()

	log := logger.NewTestLogger()
	outDir := t.TempDir()
	store := storage.NewMemoryStore()
	bus := events.NewBus()

	agg := aggregator.New(store, bus, 50*time.Millisecond, log)
	defer agg.Close()
	driver := scroll.NewDriver(scroll.WithLogger(log), scroll.WithJumpChance(0))
	defer driver.Close()

	builder := archive.NewBuilder(archive.NewHTTPFetcher(2*time.Second, 0, "test"), bus, 1, log)
	deliverer := delivery.New(delivery.NewFileSaver(outDir, nil), bus, time.Minute, log)
	defer deliverer.Close()

	pool := archiver.NewWorkerPool(1, builder, deliverer, log)
	pool.Start()
	defer pool.Stop()

	session := &boardSession{batches: []models.Result{
		{Images: []string{media.URL + "/a.jpg", media.URL + "/b.jpg"}},
		{Images: []string{media.URL + "/b.jpg", media.URL + "/broken.jpg"}, Videos: []string{media.URL + "/clip"}},
	}}

	feed, cancelFeed := bus.Subscribe(64)
	defer cancelFeed()
	watch, cancelWatch := bus.Subscribe(256)
	defer cancelWatch()

	coord := coordinator.New(&boardOpener{session: session}, driver, agg, store, pool, bus,
		coordinator.WithEventFeed(feed),
		coordinator.WithLogger(log),
	)
	defer coord.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	target := models.Target("https://boards.example/someone/recipes")
	cfg := models.RunConfig{
		ArchiveName: "recipes",
		Folder:      "recipes",
		Scroll: models.ScrollOptions{
			StepPx:     400,
			Interval:   40 * time.Millisecond,
			ScanEvery:  200 * time.Millisecond,
			StallAfter: 500 * time.Millisecond,
		},
	}
	require.NoError(t, coord.Start(ctx, target, cfg))

	var seen []events.Type
	var done events.Event
	deadline := time.After(10 * time.Second)
wait:
	for {
		select {
		case e := <-watch:
			seen = append(seen, e.Type)
			if e.Type == events.TypeDone || e.Type == events.TypeError {
				done = e
				break wait
			}
		case <-deadline:
			t.Fatalf("run did not finish, saw %v", seen)
		}
	}

	require.Equal(t, events.TypeDone, done.Type, "error: %s", done.Error)
	assert.Contains(t, seen, events.TypeBatch)
	assert.Contains(t, seen, events.TypeStall)
	assert.Contains(t, seen, events.TypeArchiveStarted)
	assert.Equal(t, 3, done.Added)
	assert.Equal(t, 1, done.Failed)
	assert.Equal(t, filepath.Join(outDir, "recipes.zip"), done.Handle)

	stored, err := store.Load(context.Background(), target)
	require.NoError(t, err)
	assert.Len(t, stored.Images, 3, "duplicates across batches are stored once")
	assert.Len(t, stored.Videos, 1)

	data, err := os.ReadFile(done.Handle)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"recipes/",
		"recipes/image_000001.jpg",
		"recipes/image_000002.jpg",
		"recipes/video_000004.mp4",
	}, names)

	assert.Eventually(t, func() bool {
		return coord.State(target) == models.StateDelivered
	}, 2*time.Second, 20*time.Millisecond)
	assert.False(t, coord.Running(target))
}
