package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagrab/pkg/archive"
	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/events"
	"mediagrab/pkg/logger"
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

type failingSaver struct{}

func (failingSaver) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	return "", errors.New("permission denied")
}

func TestFileSaverUniquifies(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSaver(dir, nil)
	ctx := context.Background()

	first, err := s.Save(ctx, "media.zip", []byte("1"))
	require.NoError(t, err)
	second, err := s.Save(ctx, "media.zip", []byte("2"))
	require.NoError(t, err)
	third, err := s.Save(ctx, "media.zip", []byte("3"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "media.zip"), first)
	assert.Equal(t, filepath.Join(dir, "media (1).zip"), second)
	assert.Equal(t, filepath.Join(dir, "media (2).zip"), third)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), data, "existing file is not overwritten")
}

func TestFileSaverPrompt(t *testing.T) {
	dir := t.TempDir()
	var offered string
	s := NewFileSaver(dir, func(suggested string) (string, error) {
		offered = suggested
		return "chosen.zip", nil
	})

	path, err := s.Save(context.Background(), "media.zip", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "media.zip", offered)
	assert.Equal(t, filepath.Join(dir, "chosen.zip"), path)
}

func TestFileSaverPromptError(t *testing.T) {
	s := NewFileSaver(t.TempDir(), func(string) (string, error) {
		return "", errors.New("cancelled")
	})
	_, err := s.Save(context.Background(), "media.zip", []byte("x"))
	require.Error(t, err)
}

func TestDeliverSuccess(t *testing.T) {
	dir := t.TempDir()
	log := &eventLog{}
	d := New(NewFileSaver(dir, nil), log, time.Hour, logger.NewTestLogger())
	defer d.Close()

	a := &archive.Archive{RunID: "run-1", FileName: "out.zip", Data: []byte("zip"), Added: 8, Failed: 2}
	handle, err := d.Deliver(context.Background(), "t", a)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.zip"), handle)

	require.Len(t, log.events, 1)
	e := log.events[0]
	assert.Equal(t, events.TypeDone, e.Type)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, 8, e.Added)
	assert.Equal(t, 2, e.Failed)
	assert.Equal(t, handle, e.Handle)
	assert.True(t, d.Held("run-1"))
}

func TestDeliverFailure(t *testing.T) {
	log := &eventLog{}
	d := New(failingSaver{}, log, time.Hour, logger.NewTestLogger())
	defer d.Close()

	_, err := d.Deliver(context.Background(), "t", &archive.Archive{RunID: "run-2", FileName: "x.zip"})
	require.Error(t, err)
	assert.True(t, mgerrors.IsType(err, mgerrors.ErrorTypeDelivery))

	require.Len(t, log.events, 1)
	assert.Equal(t, events.TypeError, log.events[0].Type)
	assert.Equal(t, "run-2", log.events[0].RunID)
	assert.Contains(t, log.events[0].Error, "permission denied")
}

func TestBlobReleasedAfterDelay(t *testing.T) {
	d := New(NewFileSaver(t.TempDir(), nil), nil, 20*time.Millisecond, logger.NewTestLogger())
	defer d.Close()

	_, err := d.Deliver(context.Background(), "t", &archive.Archive{RunID: "r", FileName: "a.zip", Data: []byte("z")})
	require.NoError(t, err)
	assert.True(t, d.Held("r"))

	assert.Eventually(t, func() bool { return !d.Held("r") }, time.Second, 5*time.Millisecond)
}
