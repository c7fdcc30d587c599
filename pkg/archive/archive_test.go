package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
)

type progressRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *progressRecorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string][]byte)
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = body
	}
	return files
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/img/photo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes"))
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("raw"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		w.Write([]byte(r.URL.Path))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBuilder(progressEvery int) (*Builder, *progressRecorder) {
	rec := &progressRecorder{}
	b := NewBuilder(NewHTTPFetcher(5*time.Second, 0, "mediagrab-test"), rec, progressEvery, logger.NewTestLogger())
	return b, rec
}

func TestExtensionResolutionOrder(t *testing.T) {
	srv := mediaServer(t)
	b, _ := newTestBuilder(0)

	a, err := b.Build(context.Background(), Request{
		RunID:  "r1",
		Folder: "media",
		Name:   "out",
		Items: []models.Item{
			{URL: srv.URL + "/img/photo.png", Kind: models.KindImage},
			{URL: srv.URL + "/stream", Kind: models.KindImage},
			{URL: srv.URL + "/blob", Kind: models.KindImage},
			{URL: srv.URL + "/blob", Kind: models.KindVideo},
		},
	})
	require.NoError(t, err)

	files := readZip(t, a.Data)
	assert.Equal(t, []byte("png-bytes"), files["media/image_000001.png"], "URL extension beats content type")
	assert.Contains(t, files, "media/image_000002.mp4", "content type used when URL has none")
	assert.Contains(t, files, "media/image_000003.jpg", "image fallback")
	assert.Contains(t, files, "media/video_000004.mp4", "video fallback")
	assert.Equal(t, "out.zip", a.FileName)
	assert.Equal(t, 4, a.Added)
	assert.Zero(t, a.Failed)
}

func TestPartialFailureKeepsIndices(t *testing.T) {
	srv := mediaServer(t)
	b, _ := newTestBuilder(0)

	var items []models.Item
	for i := 1; i <= 10; i++ {
		u := fmt.Sprintf("%s/item/%d", srv.URL, i)
		if i == 3 || i == 7 {
			u = srv.URL + "/missing"
		}
		items = append(items, models.Item{URL: u, Kind: models.KindImage})
	}

	a, err := b.Build(context.Background(), Request{RunID: "r", Folder: "f", Name: "n.zip", Items: items})
	require.NoError(t, err)
	assert.Equal(t, 8, a.Added)
	assert.Equal(t, 2, a.Failed)

	files := readZip(t, a.Data)
	var names []string
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"f/image_000001.webp", "f/image_000002.webp", "f/image_000004.webp",
		"f/image_000005.webp", "f/image_000006.webp", "f/image_000008.webp",
		"f/image_000009.webp", "f/image_000010.webp",
	}, names)
	assert.Equal(t, []byte("/item/10"), files["f/image_000010.webp"])
}

func TestEmptyURLIsSkipped(t *testing.T) {
	srv := mediaServer(t)
	b, _ := newTestBuilder(0)

	a, err := b.Build(context.Background(), Request{Items: []models.Item{
		{URL: "", Kind: models.KindImage},
		{URL: srv.URL + "/item/x", Kind: models.KindImage},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Added)
	assert.Zero(t, a.Failed)
	assert.Equal(t, []string{DefaultFolder + "/image_000002.webp"}, a.Entries)
	assert.Equal(t, DefaultArchiveName, a.FileName)
}

func TestDotFoldersStayInsideArchive(t *testing.T) {
	srv := mediaServer(t)
	b, _ := newTestBuilder(0)

	for _, folder := range []string{".", ".."} {
		a, err := b.Build(context.Background(), Request{Folder: folder, Items: []models.Item{
			{URL: srv.URL + "/img/photo.png", Kind: models.KindImage},
		}})
		require.NoError(t, err)
		assert.Equal(t, []string{DefaultFolder + "/image_000001.png"}, a.Entries, "folder %q", folder)
		for name := range readZip(t, a.Data) {
			assert.True(t, strings.HasPrefix(name, DefaultFolder+"/"), name)
		}
	}
}

func TestProgressEvents(t *testing.T) {
	srv := mediaServer(t)
	b, rec := newTestBuilder(3)

	var items []models.Item
	for i := 0; i < 7; i++ {
		items = append(items, models.Item{URL: fmt.Sprintf("%s/item/%d", srv.URL, i), Kind: models.KindImage})
	}
	_, err := b.Build(context.Background(), Request{RunID: "run-9", Target: "t", Items: items})
	require.NoError(t, err)

	require.Len(t, rec.events, 3)
	assert.Equal(t, 3, rec.events[0].Progress.Done)
	assert.Equal(t, 6, rec.events[1].Progress.Done)

	last := rec.events[2]
	assert.Equal(t, events.TypeProgress, last.Type)
	assert.Equal(t, "run-9", last.RunID)
	assert.Equal(t, models.Target("t"), last.Target)
	assert.Equal(t, events.Progress{Done: 7, Total: 7, Added: 7, Stage: events.StagePackaging}, *last.Progress)
}

func TestHTTPFetcher(t *testing.T) {
	srv := mediaServer(t)
	f := NewHTTPFetcher(time.Second, 100, "ua")

	resp, err := f.Fetch(context.Background(), srv.URL+"/stream")
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", resp.ContentType)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.True(t, mgerrors.IsType(err, mgerrors.ErrorTypeFetch))
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestHTTPFetcherOmitsCredentials(t *testing.T) {
	var gotCookie, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "secret"})
			return
		}
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, 0, "mediagrab-ua")
	_, err := f.Fetch(context.Background(), srv.URL+"/login")
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), srv.URL+"/media")
	require.NoError(t, err)

	assert.Empty(t, gotCookie)
	assert.Equal(t, "mediagrab-ua", gotUA)
}

func TestHTTPFetcherDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second, 0, "ua").Fetch(context.Background(), srv.URL+"/busy")
	require.Error(t, err)
	var status *StatusError
	require.True(t, mgerrors.As(err, &status))
	assert.Equal(t, http.StatusServiceUnavailable, status.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestArchiveFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"my:board*?", "my_board__.zip"},
		{"a/b\\c<d>e|f\"g", "a_b_c_d_e_f_g.zip"},
		{"Already.ZIP", "Already.ZIP"},
		{"photos.zip", "photos.zip"},
		{"", DefaultArchiveName},
		{"   ", DefaultArchiveName},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ArchiveFileName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ArchiveFileName(got), "normalizing twice changes nothing")
		})
	}

	long := ArchiveFileName(strings.Repeat("x", 500))
	assert.Len(t, long, maxNameLen+len(".zip"))
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, DefaultFolder, FolderName(""))
	assert.Equal(t, "a_b", FolderName("a/b"))
	assert.Equal(t, DefaultFolder, FolderName("."))
	assert.Equal(t, DefaultFolder, FolderName(".."))
	assert.Equal(t, DefaultFolder, FolderName(" ... "))
	assert.Equal(t, "..a", FolderName("..a"))
	assert.Equal(t, ".._..", FolderName("../.."))
}

func TestExtFromURL(t *testing.T) {
	assert.Equal(t, ".png", ExtFromURL("https://x/a/b.PNG?w=1"))
	assert.Equal(t, ".jpeg", ExtFromURL("https://x/a.jpeg"))
	assert.Equal(t, "", ExtFromURL("https://x/a"))
	assert.Equal(t, "", ExtFromURL("https://x/a.verylongext"))
	assert.Equal(t, "", ExtFromURL("https://x/a.b"))
}

func TestExtFromContentType(t *testing.T) {
	assert.Equal(t, ".jpg", ExtFromContentType("image/jpeg; charset=binary"))
	assert.Equal(t, ".gif", ExtFromContentType("IMAGE/GIF"))
	assert.Equal(t, "", ExtFromContentType("text/html"))
}
