// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package badger provides a BadgerDB-backed label store for the recalc
// engine, so label bindings survive restarts next to a persistent cell
// store.
package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/OmniMCP-AI/recalc"
)

const labelPrefix = "label/"

// Config holds configuration for the BadgerDB label store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is
	// true.
	Path string
	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool
	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration writing to path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration without disk I/O, for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// LabelStore is a recalc.LabelStore persisting bindings in BadgerDB, one
// key per label.
type LabelStore struct {
	db *badger.DB
}

// Open opens the label store.
func Open(cfg Config) (*LabelStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &LabelStore{db: db}, nil
}

// Close closes the database.
func (s *LabelStore) Close() error {
	return s.db.Close()
}

// binding is the stored form of a label target.
type binding struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

func encode(target recalc.Target) ([]byte, error) {
	if err := recalc.ValidateBinding(target); err != nil {
		return nil, err
	}
	return json.Marshal(binding{Kind: target.Kind().String(), Ref: target.String()})
}

func decode(data []byte) (recalc.Target, error) {
	var b binding
	if err := json.Unmarshal(data, &b); err != nil {
		return recalc.Target{}, fmt.Errorf("decode label binding: %w", err)
	}
	switch b.Kind {
	case recalc.TargetCell.String():
		ref, err := recalc.ParseCellReference(b.Ref)
		if err != nil {
			return recalc.Target{}, err
		}
		return recalc.CellTarget(ref), nil
	case recalc.TargetRange.String():
		rng, err := recalc.ParseRangeReference(b.Ref)
		if err != nil {
			return recalc.Target{}, err
		}
		return recalc.RangeTarget(rng), nil
	}
	return recalc.Target{}, fmt.Errorf("%w: stored kind %q", recalc.ErrLabelTarget, b.Kind)
}

func labelKey(name recalc.LabelName) []byte {
	return []byte(labelPrefix + string(name))
}

// Load returns the binding of a label.
func (s *LabelStore) Load(name recalc.LabelName) (recalc.Target, bool, error) {
	var target recalc.Target
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(labelKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			target, err = decode(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return recalc.Target{}, false, nil
	}
	if err != nil {
		return recalc.Target{}, false, fmt.Errorf("load label %s: %w", name, err)
	}
	return target, true, nil
}

// Save binds the label to target.
func (s *LabelStore) Save(name recalc.LabelName, target recalc.Target) error {
	data, err := encode(target)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(labelKey(name), data)
	})
}

// Delete unbinds the label. Deleting an unbound label is a no-op.
func (s *LabelStore) Delete(name recalc.LabelName) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(labelKey(name))
	})
}

// Labels returns every bound label in key order, which is sorted order.
func (s *LabelStore) Labels() ([]recalc.LabelName, error) {
	var names []recalc.LabelName
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(labelPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			names = append(names, recalc.LabelName(strings.TrimPrefix(key, labelPrefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return names, nil
}

var _ recalc.LabelStore = (*LabelStore)(nil)
