package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mediagrab/pkg/config"
	mgerrors "mediagrab/pkg/errors"
	"mediagrab/pkg/models"
)

// Store persists one Result per target
type Store interface {
	// Load returns the stored result, or an empty result when none exists.
	Load(ctx context.Context, target models.Target) (models.Result, error)
	// Save replaces the stored result for target.
	Save(ctx context.Context, target models.Target, result models.Result) error
	// Delete removes the stored result. Deleting a missing record is not an error.
	Delete(ctx context.Context, target models.Target) error
	Close() error
}

// Open creates the store selected by cfg.Driver
func Open(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, mgerrors.New(mgerrors.ErrorTypeConfig, "open store", fmt.Errorf("unknown storage driver %q", cfg.Driver))
	}
}

func storageError(op string, target models.Target, err error) error {
	return mgerrors.New(mgerrors.ErrorTypeStorage, op, err).WithTarget(string(target))
}

// MemoryStore keeps results in a map
type MemoryStore struct {
	mu      sync.RWMutex
	results map[models.Target]models.Result
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[models.Target]models.Result)}
}

func (m *MemoryStore) Load(ctx context.Context, target models.Target) (models.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.results[target]
	return models.Result{
		Images: append([]string(nil), r.Images...),
		Videos: append([]string(nil), r.Videos...),
	}, nil
}

func (m *MemoryStore) Save(ctx context.Context, target models.Target, result models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[target] = models.Result{
		Images: append([]string(nil), result.Images...),
		Videos: append([]string(nil), result.Videos...),
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, target models.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, target)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
