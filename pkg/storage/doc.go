// Package storage persists the per-target result record.
//
// The record layout is the same for every backend:
//
//	{"images": ["https://...", ...], "videos": ["https://...", ...]}
//
// URLs are unique per kind and kept in first-seen order. Only the batch
// aggregator writes records, one flush at a time per target, so stores do a
// plain read-merge-write without optimistic concurrency checks.
//
// Backends:
//   - FileStore: one JSON file per target, written atomically (temp file + rename)
//   - SQLiteStore: a single database file, one row per target
//   - MemoryStore: process-local, for tests and throwaway runs
//
// Usage:
//
//	store, err := storage.Open(cfg.Storage)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	result, err := store.Load(ctx, target)
package storage
