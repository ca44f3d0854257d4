// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tiendc/go-deepcopy"
)

// CellStore is the authoritative persistence of cell content. Load returns
// a nil cell and a nil error for an absent cell. Implementations hand out
// copies: mutating a loaded cell never changes the store.
type CellStore interface {
	Load(ref CellReference) (*Cell, error)
	Save(cell *Cell) error
	Delete(ref CellReference) error
	// Refs returns every stored cell reference in row-major order.
	Refs() ([]CellReference, error)
	// CellsIn returns the stored cells inside the range in row-major order.
	CellsIn(rng RangeReference) ([]CellReference, error)
}

// MemoryCellStore is an in-memory CellStore, organized by row like a
// worksheet so range scans only visit the rows the range spans.
type MemoryCellStore struct {
	mu    sync.RWMutex
	rows  map[int]map[int]*Cell
	count int
}

// NewMemoryCellStore returns an empty MemoryCellStore.
func NewMemoryCellStore() *MemoryCellStore {
	return &MemoryCellStore{rows: make(map[int]map[int]*Cell)}
}

// cloneCell deep-copies the cell content. The parsed form is immutable and
// shared between copies.
func cloneCell(cell *Cell) (*Cell, error) {
	if cell == nil {
		return nil, nil
	}
	var dst Cell
	if err := deepcopy.Copy(&dst, cell); err != nil {
		return nil, fmt.Errorf("copy cell %s: %w", cell.Ref, err)
	}
	dst.Parsed = cell.Parsed
	return &dst, nil
}

// Load returns a copy of the cell at ref, or nil when absent.
func (s *MemoryCellStore) Load(ref CellReference) (*Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCell(s.rows[ref.Row][ref.Col])
}

// Save stores a copy of the cell.
func (s *MemoryCellStore) Save(cell *Cell) error {
	if cell == nil {
		return ErrNilCell
	}
	if !cell.Ref.Valid() {
		return fmt.Errorf("%w: cell %v", ErrCoordinates, cell.Ref)
	}
	stored, err := cloneCell(cell)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[cell.Ref.Row]
	if !ok {
		row = make(map[int]*Cell)
		s.rows[cell.Ref.Row] = row
	}
	if _, exists := row[cell.Ref.Col]; !exists {
		s.count++
	}
	row[cell.Ref.Col] = stored
	return nil
}

// Delete removes the cell at ref. Deleting an absent cell is a no-op.
func (s *MemoryCellStore) Delete(ref CellReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[ref.Row]
	if !ok {
		return nil
	}
	if _, exists := row[ref.Col]; exists {
		delete(row, ref.Col)
		s.count--
	}
	if len(row) == 0 {
		delete(s.rows, ref.Row)
	}
	return nil
}

// Len returns the number of stored cells.
func (s *MemoryCellStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Refs returns every stored reference in row-major order.
func (s *MemoryCellStore) Refs() ([]CellReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]CellReference, 0, s.count)
	for rowIdx, row := range s.rows {
		for colIdx := range row {
			refs = append(refs, CellReference{Col: colIdx, Row: rowIdx})
		}
	}
	slices.SortFunc(refs, CellReference.Compare)
	return refs, nil
}

// CellsIn returns the stored references inside the range in row-major
// order.
func (s *MemoryCellStore) CellsIn(rng RangeReference) ([]CellReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []CellReference
	visit := func(rowIdx int, row map[int]*Cell) {
		for colIdx := range row {
			if colIdx >= rng.Begin.Col && colIdx <= rng.End.Col {
				refs = append(refs, CellReference{Col: colIdx, Row: rowIdx})
			}
		}
	}
	if rows := rng.End.Row - rng.Begin.Row + 1; rows <= len(s.rows) {
		for rowIdx := rng.Begin.Row; rowIdx <= rng.End.Row; rowIdx++ {
			if row, ok := s.rows[rowIdx]; ok {
				visit(rowIdx, row)
			}
		}
	} else {
		for rowIdx, row := range s.rows {
			if rowIdx >= rng.Begin.Row && rowIdx <= rng.End.Row {
				visit(rowIdx, row)
			}
		}
	}
	slices.SortFunc(refs, CellReference.Compare)
	return refs, nil
}
