// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package duckdb provides a DuckDB-backed cell store for the recalc engine.
// Cells live in a single table keyed by (row, col), so range scans are plain
// SQL range predicates.
package duckdb

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/OmniMCP-AI/recalc"
)

// Config holds configuration options for the DuckDB cell store.
type Config struct {
	// Path is the database file. Empty opens an in-memory database.
	Path string
	// MemoryLimit sets the maximum memory DuckDB can use (e.g., "4GB")
	MemoryLimit string
	// Threads sets the number of threads DuckDB should use (0 = auto)
	Threads int
}

// DefaultConfig returns the default configuration: an in-memory database.
func DefaultConfig() *Config {
	return &Config{
		MemoryLimit: "1GB",
		Threads:     0, // auto-detect
	}
}

// CellStore is a recalc.CellStore persisting cells in DuckDB. Parsed
// formulas are not persisted; the engine parses again on demand.
type CellStore struct {
	db *sql.DB
	mu sync.RWMutex
}

const schema = `CREATE TABLE IF NOT EXISTS cells (
	row_idx INTEGER NOT NULL,
	col_idx INTEGER NOT NULL,
	formula VARCHAR NOT NULL,
	style INTEGER NOT NULL,
	has_value BOOLEAN NOT NULL,
	value_kind TINYINT,
	number DOUBLE,
	text VARCHAR,
	logical BOOLEAN,
	error_code VARCHAR,
	PRIMARY KEY (row_idx, col_idx)
)`

// Open opens the store with the default configuration.
func Open() (*CellStore, error) {
	return OpenWithConfig(DefaultConfig())
}

// OpenWithConfig opens the store and creates its table if needed.
func OpenWithConfig(cfg *Config) (*CellStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	s := &CellStore{db: db}
	if err := s.applyConfig(cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply config: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cells table: %w", err)
	}
	return s, nil
}

// applyConfig applies configuration settings to the DuckDB database.
func (s *CellStore) applyConfig(cfg *Config) error {
	if cfg.MemoryLimit != "" {
		if _, err := s.db.Exec(fmt.Sprintf("SET memory_limit = '%s'", cfg.MemoryLimit)); err != nil {
			return fmt.Errorf("failed to set memory_limit: %w", err)
		}
	}
	if cfg.Threads > 0 {
		if _, err := s.db.Exec(fmt.Sprintf("SET threads = %d", cfg.Threads)); err != nil {
			return fmt.Errorf("failed to set threads: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *CellStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection for advanced queries.
func (s *CellStore) DB() *sql.DB {
	return s.db
}

const selectColumns = `row_idx, col_idx, formula, style, has_value, value_kind, number, text, logical, error_code`

type scanner interface {
	Scan(dest ...any) error
}

func scanCell(row scanner) (*recalc.Cell, error) {
	var (
		r, c, style int
		formula     string
		hasValue    bool
		kind        sql.NullInt16
		number      sql.NullFloat64
		text        sql.NullString
		logical     sql.NullBool
		errorCode   sql.NullString
	)
	if err := row.Scan(&r, &c, &formula, &style, &hasValue, &kind, &number, &text, &logical, &errorCode); err != nil {
		return nil, err
	}
	cell := &recalc.Cell{Ref: recalc.NewCellReference(c, r), Formula: formula, Style: style}
	if hasValue {
		cell.Value = &recalc.Value{
			Kind:   recalc.ValueKind(kind.Int16),
			Number: number.Float64,
			String: text.String,
			Bool:   logical.Bool,
			Error:  recalc.ErrorCode(errorCode.String),
		}
	}
	return cell, nil
}

// Load returns the cell at ref, or nil when absent.
func (s *CellStore) Load(ref recalc.CellReference) (*recalc.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM cells WHERE row_idx = ? AND col_idx = ?`, ref.Row, ref.Col)
	cell, err := scanCell(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cell %s: %w", ref, err)
	}
	return cell, nil
}

// Save inserts or replaces the cell.
func (s *CellStore) Save(cell *recalc.Cell) error {
	if cell == nil {
		return recalc.ErrNilCell
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	args := []any{cell.Ref.Row, cell.Ref.Col, cell.Formula, cell.Style, cell.Value != nil}
	if v := cell.Value; v != nil {
		args = append(args, int16(v.Kind), v.Number, v.String, v.Bool, string(v.Error))
	} else {
		args = append(args, nil, nil, nil, nil, nil)
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO cells (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
		return fmt.Errorf("failed to save cell %s: %w", cell.Ref, err)
	}
	return nil
}

// Delete removes the cell at ref.
func (s *CellStore) Delete(ref recalc.CellReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM cells WHERE row_idx = ? AND col_idx = ?`, ref.Row, ref.Col); err != nil {
		return fmt.Errorf("failed to delete cell %s: %w", ref, err)
	}
	return nil
}

// Refs returns every stored reference in row-major order.
func (s *CellStore) Refs() ([]recalc.CellReference, error) {
	return s.queryRefs(`SELECT row_idx, col_idx FROM cells ORDER BY row_idx, col_idx`)
}

// CellsIn returns the stored references inside the range in row-major
// order.
func (s *CellStore) CellsIn(rng recalc.RangeReference) ([]recalc.CellReference, error) {
	return s.queryRefs(`SELECT row_idx, col_idx FROM cells
		WHERE row_idx BETWEEN ? AND ? AND col_idx BETWEEN ? AND ?
		ORDER BY row_idx, col_idx`,
		rng.Begin.Row, rng.End.Row, rng.Begin.Col, rng.End.Col)
}

func (s *CellStore) queryRefs(query string, args ...any) ([]recalc.CellReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer rows.Close()
	var refs []recalc.CellReference
	for rows.Next() {
		var r, c int
		if err := rows.Scan(&r, &c); err != nil {
			return nil, fmt.Errorf("failed to scan cell reference: %w", err)
		}
		refs = append(refs, recalc.NewCellReference(c, r))
	}
	return refs, rows.Err()
}

// Len returns the number of stored cells.
func (s *CellStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM cells`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cells: %w", err)
	}
	return n, nil
}

var _ recalc.CellStore = (*CellStore)(nil)
