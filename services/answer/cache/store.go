// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the embedded result cache and usage counters for
// the answer service, backed by BadgerDB.
//
// Keyspace layout:
//
//	ask:<trimmed query>     → JSON-encoded datatypes.CachedResult
//	searches:<accounting id> → big-endian uint64 counter
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
)

const (
	resultKeyPrefix  = "ask:"
	counterKeyPrefix = "searches:"
)

// ErrCacheMiss is returned when no cached result exists for a query.
var ErrCacheMiss = errors.New("cache miss")

// Config holds configuration for the store's BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// ResultTTL is how long cached results live before Badger expires them.
	// Zero means results never expire.
	ResultTTL time.Duration

	// Logger is the logger for BadgerDB operations. If nil, BadgerDB's
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		SyncWrites: true,
		ResultTTL:  24 * time.Hour,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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

// Store is the embedded cache and counter store.
//
// Thread Safety: Store is safe for concurrent use. BadgerDB handles
// transaction isolation; counter increments use merge-free read-modify-write
// inside a single transaction.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open creates and opens a Store with the given configuration.
//
// # Outputs
//
//   - *Store: The opened store. Caller must call Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, ttl: cfg.ResultTTL}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetResult loads the cached result for a trimmed query.
//
// # Outputs
//
//   - *datatypes.CachedResult: The cached pipeline outcome.
//   - error: ErrCacheMiss if no entry exists, otherwise a database or
//     decode error.
func (s *Store) GetResult(ctx context.Context, query string) (*datatypes.CachedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var result datatypes.CachedResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(resultKeyPrefix + query))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cached result: %w", err)
	}
	return &result, nil
}

// SetResult stores the complete outcome of one pipeline run under the
// trimmed query. Entries expire after the configured TTL.
func (s *Store) SetResult(ctx context.Context, query string, result *datatypes.CachedResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if result == nil {
		return errors.New("nil result")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(resultKeyPrefix+query), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("write cached result: %w", err)
	}
	return nil
}

// IncSearchCount adds one to the search counter for an accounting id and
// returns the new value.
func (s *Store) IncSearchCount(ctx context.Context, accountingID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	key := []byte(counterKeyPrefix + accountingID)
	var updated uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readCounter(txn, key)
		if err != nil {
			return err
		}
		updated = current + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, updated)
		return txn.Set(key, buf)
	})
	if err != nil {
		return 0, fmt.Errorf("increment search counter: %w", err)
	}
	return updated, nil
}

// SearchCount returns the current search counter for an accounting id.
// A missing counter reads as zero.
func (s *Store) SearchCount(ctx context.Context, accountingID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = readCounter(txn, []byte(counterKeyPrefix+accountingID))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read search counter: %w", err)
	}
	return count, nil
}

// readCounter reads a big-endian uint64 counter, treating a missing key or
// a malformed value as zero.
func readCounter(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var count uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			slog.Warn("Malformed search counter value, resetting to zero", "len", len(val))
			return nil
		}
		count = binary.BigEndian.Uint64(val)
		return nil
	})
	return count, err
}
