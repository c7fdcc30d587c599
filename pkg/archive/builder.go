// Package archive fetches a run's items one by one and packages them into a
// single zip with one top-level folder.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"runtime"
	"time"

	"github.com/klauspost/compress/flate"

	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
)

// DefaultProgressEvery is how many processed items separate progress events.
const DefaultProgressEvery = 30

// Archive is a finished zip and its tallies
type Archive struct {
	RunID    string
	FileName string
	Folder   string
	Data     []byte
	Entries  []string
	Added    int
	Failed   int
}

// Request describes one archive build
type Request struct {
	RunID  string
	Target models.Target
	Folder string
	Name   string
	Items  []models.Item
}

type entry struct {
	name string
	data []byte
}

// Builder assembles archives
type Builder struct {
	fetcher       Fetcher
	publisher     events.Publisher
	progressEvery int
	logger        logger.Logger
	yield         func()
}

// NewBuilder creates a builder. progressEvery <= 0 uses DefaultProgressEvery.
func NewBuilder(fetcher Fetcher, publisher events.Publisher, progressEvery int, log logger.Logger) *Builder {
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Builder{
		fetcher:       fetcher,
		publisher:     publisher,
		progressEvery: progressEvery,
		logger:        logger.Component(log, "archive"),
		yield:         runtime.Gosched,
	}
}

// Build fetches every item sequentially and returns the packaged archive.
// A failed item is counted and skipped; only packaging errors are returned.
func (b *Builder) Build(ctx context.Context, req Request) (*Archive, error) {
	folder := FolderName(req.Folder)
	fileName := ArchiveFileName(req.Name)
	total := len(req.Items)
	start := time.Now()

	log := b.logger.WithFields(map[string]interface{}{
		"run_id": req.RunID,
		"target": req.Target,
	})
	log.InfoWithFields("Building archive", map[string]interface{}{
		"items":   total,
		"archive": fileName,
	})

	var (
		entries []entry
		added   int
		failed  int
	)

	for i, item := range req.Items {
		if item.URL != "" {
			resp, err := b.fetcher.Fetch(ctx, item.URL)
			if err != nil {
				failed++
				log.DebugWithFields("Item fetch failed", map[string]interface{}{
					"index": i + 1,
					"url":   item.URL,
					"error": err.Error(),
				})
			} else {
				name := EntryName(item.Kind, i, ResolveExt(item.URL, resp.ContentType, item.Kind))
				entries = append(entries, entry{name: path.Join(folder, name), data: resp.Body})
				added++
			}
		}

		if (i+1)%b.progressEvery == 0 {
			b.publish(req, events.Progress{Done: i + 1, Total: total, Added: added, Failed: failed})
			b.yield()
		}
	}

	b.publish(req, events.Progress{Done: total, Total: total, Added: added, Failed: failed, Stage: events.StagePackaging})
	b.yield()

	data, err := pack(folder, entries)
	if err != nil {
		return nil, mgerrors.New(mgerrors.ErrorTypeDelivery, "package archive", err).WithRun(req.RunID)
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}

	log.InfoWithFields("Archive built", map[string]interface{}{
		"added":    added,
		"failed":   failed,
		"bytes":    len(data),
		"duration": time.Since(start),
	})

	return &Archive{
		RunID:    req.RunID,
		FileName: fileName,
		Folder:   folder,
		Data:     data,
		Entries:  names,
		Added:    added,
		Failed:   failed,
	}, nil
}

func (b *Builder) publish(req Request, p events.Progress) {
	b.publisher.Publish(events.Event{
		Type:     events.TypeProgress,
		Target:   req.Target,
		RunID:    req.RunID,
		Progress: &p,
	})
}

// pack writes the folder and its entries into a deflate-compressed zip.
func pack(folder string, entries []entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	if _, err := zw.Create(folder + "/"); err != nil {
		return nil, fmt.Errorf("failed to create folder entry: %w", err)
	}

	modified := time.Now()
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create entry %s: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("failed to write entry %s: %w", e.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
