package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mediagrab/pkg/models"
)

// FileStore keeps one JSON record per target under a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageError("open file store", "", fmt.Errorf("failed to create results directory: %w", err))
	}
	return &FileStore{dir: dir}, nil
}

// path maps a target to its record file. Targets are URLs, so the name is a
// digest rather than the raw string.
func (s *FileStore) path(target models.Target) string {
	sum := sha256.Sum256([]byte(target))
	return filepath.Join(s.dir, "mg_"+hex.EncodeToString(sum[:12])+".json")
}

func (s *FileStore) Load(ctx context.Context, target models.Target) (models.Result, error) {
	var result models.Result

	data, err := os.ReadFile(s.path(target))
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, storageError("load", target, fmt.Errorf("failed to read record: %w", err))
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return models.Result{}, storageError("load", target, fmt.Errorf("failed to decode record: %w", err))
	}
	return result, nil
}

// Save writes the record atomically via a temporary file and rename
func (s *FileStore) Save(ctx context.Context, target models.Target, result models.Result) error {
	if result.Images == nil {
		result.Images = []string{}
	}
	if result.Videos == nil {
		result.Videos = []string{}
	}

	path := s.path(target)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return storageError("save", target, fmt.Errorf("failed to create temporary record: %w", err))
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storageError("save", target, fmt.Errorf("failed to encode record: %w", err))
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storageError("save", target, fmt.Errorf("failed to sync record: %w", err))
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return storageError("save", target, fmt.Errorf("failed to close record: %w", err))
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return storageError("save", target, fmt.Errorf("failed to replace record: %w", err))
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, target models.Target) error {
	if err := os.Remove(s.path(target)); err != nil && !os.IsNotExist(err) {
		return storageError("delete", target, fmt.Errorf("failed to delete record: %w", err))
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// Dir returns the results directory
func (s *FileStore) Dir() string {
	return s.dir
}
