// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore persists the series cache in embedded BadgerDB.
//
// One key per slot:
//
//	entry/<item>/<date>/<mode>/<catKey>=<catValue|->
//
// Dates are fixed-width ISO, so lexicographic key order is chronological and
// a range read is a seek plus a bounded prefix scan. Values are the JSON
// entry. Suited to single-node deployments and the CLI; multi-writer setups
// use the Influx adapter instead.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/graphsheet/seriessync/services/planner/series"
	"github.com/graphsheet/seriessync/services/planner/storage"
)

const keyPrefix = "entry/"

// Config holds BadgerDB settings for the cache store.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string `json:"path" yaml:"path"`

	// InMemory keeps everything in RAM; for tests.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// SyncWrites trades write latency for durability.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`

	// GCDiscardRatio is the garbage fraction that triggers a rewrite.
	GCDiscardRatio float64 `json:"gc_discard_ratio" yaml:"gc_discard_ratio"`

	// Logger receives Badger's internal logging. Nil silences it.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultConfig returns production defaults: durable writes, five-minute GC.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a test configuration: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements the planner's cache contract on BadgerDB.
type Store struct {
	db     *badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
	log    *slog.Logger
}

// Open opens (or creates) the store and starts the GC loop if configured.
// Callers own the returned store and must Close it.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	s := &Store{db: db, log: cfg.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops GC and closes the database. Idempotent close of the GC loop
// is not supported; call Close once.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			switch {
			case err == nil:
				s.log.Debug("badger value log GC completed")
			case errors.Is(err, badger.ErrNoRewrite):
				// nothing to collect
			default:
				s.log.Warn("badger value log GC error", "error", err.Error())
			}
		}
	}
}

// ReadEntries seeks to the range start and scans until the date segment
// passes the range end.
func (s *Store) ReadEntries(ctx context.Context, itemKey string, r series.Range) ([]series.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	itemPrefix := []byte(keyPrefix + itemKey + "/")
	seekFrom := []byte(keyPrefix + itemKey + "/" + r.Start.String() + "/")
	endDate := r.End.String()

	var out []series.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = itemPrefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Seek(seekFrom); it.ValidForPrefix(itemPrefix); it.Next() {
			key := string(it.Item().Key())
			date, ok := dateSegment(key, itemPrefix)
			if !ok {
				s.log.Warn("skipping malformed cache key", "key", key)
				continue
			}
			if date > endDate {
				break
			}
			if err := it.Item().Value(func(val []byte) error {
				var e series.Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("decode entry %s: %w", key, err)
				}
				out = append(out, e)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read entries for %s: %w", storage.ErrUnavailable, itemKey, err)
	}
	return out, nil
}

// MergeOverwrite writes the batch in one transaction: all slots land or
// none do.
func (s *Store) MergeOverwrite(ctx context.Context, itemKey string, entries []series.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	for _, e := range entries {
		e.ItemKey = itemKey
		val, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry for %s on %s: %w", itemKey, e.Date, err)
		}
		if err := txn.Set(slotKey(e), val); err != nil {
			return fmt.Errorf("%w: write entry for %s on %s: %w", storage.ErrUnavailable, itemKey, e.Date, err)
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("%w: commit merge for %s: %w", storage.ErrUnavailable, itemKey, err)
	}
	return nil
}

// slotKey renders the slot identity. Item keys and category tokens are
// validated upstream and cannot contain '/', so segments are unambiguous.
func slotKey(e series.Entry) []byte {
	cat := "-"
	if e.Categorized() {
		cat = e.CategoryKey + "=" + e.CategoryValue
	}
	return []byte(keyPrefix + e.ItemKey + "/" + e.Date.String() + "/" + string(e.Mode) + "/" + cat)
}

// dateSegment extracts the date portion of a slot key.
func dateSegment(key string, itemPrefix []byte) (string, bool) {
	rest := key[len(itemPrefix):]
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return "", false
	}
	return rest[:i], true
}
