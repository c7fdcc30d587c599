package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mediagrab/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS results (
	target     TEXT PRIMARY KEY,
	images     TEXT NOT NULL,
	videos     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps results in a single SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path with WAL enabled
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, storageError("open sqlite store", "", fmt.Errorf("failed to create database directory: %w", err))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageError("open sqlite store", "", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, storageError("open sqlite store", "", fmt.Errorf("%s: %w", p, err))
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, storageError("open sqlite store", "", fmt.Errorf("failed to apply schema: %w", err))
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, target models.Target) (models.Result, error) {
	var images, videos string
	err := s.db.QueryRowContext(ctx,
		`SELECT images, videos FROM results WHERE target = ?`, string(target),
	).Scan(&images, &videos)
	if err == sql.ErrNoRows {
		return models.Result{}, nil
	}
	if err != nil {
		return models.Result{}, storageError("load", target, err)
	}

	var result models.Result
	if err := json.Unmarshal([]byte(images), &result.Images); err != nil {
		return models.Result{}, storageError("load", target, fmt.Errorf("failed to decode images: %w", err))
	}
	if err := json.Unmarshal([]byte(videos), &result.Videos); err != nil {
		return models.Result{}, storageError("load", target, fmt.Errorf("failed to decode videos: %w", err))
	}
	return result, nil
}

func (s *SQLiteStore) Save(ctx context.Context, target models.Target, result models.Result) error {
	images, err := json.Marshal(nonNil(result.Images))
	if err != nil {
		return storageError("save", target, err)
	}
	videos, err := json.Marshal(nonNil(result.Videos))
	if err != nil {
		return storageError("save", target, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (target, images, videos, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(target) DO UPDATE SET
			images = excluded.images,
			videos = excluded.videos,
			updated_at = excluded.updated_at`,
		string(target), string(images), string(videos), time.Now().UnixMilli(),
	)
	if err != nil {
		return storageError("save", target, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, target models.Target) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE target = ?`, string(target)); err != nil {
		return storageError("delete", target, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
