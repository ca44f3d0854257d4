// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// LabelStore is the authoritative source of label bindings. Load reports
// false for an unbound label. Save replaces any prior binding.
type LabelStore interface {
	Load(name LabelName) (Target, bool, error)
	Save(name LabelName, target Target) error
	Delete(name LabelName) error
	// Labels returns every bound label name in sorted order.
	Labels() ([]LabelName, error)
}

// ValidateBinding checks that a label may be bound to target: only cells
// and ranges inside the grid are accepted.
func ValidateBinding(target Target) error {
	switch target.Kind() {
	case TargetCell:
		if !target.Cell().Valid() {
			return fmt.Errorf("%w: %v", ErrCoordinates, target.Cell())
		}
	case TargetRange:
		if !target.Range().Begin.Valid() || !target.Range().End.Valid() {
			return fmt.Errorf("%w: %v", ErrCoordinates, target.Range())
		}
	default:
		return fmt.Errorf("%w: got %s", ErrLabelTarget, target.Kind())
	}
	return nil
}

// MemoryLabelStore is an in-memory LabelStore.
type MemoryLabelStore struct {
	mu       sync.RWMutex
	bindings map[LabelName]Target
}

// NewMemoryLabelStore returns an empty MemoryLabelStore.
func NewMemoryLabelStore() *MemoryLabelStore {
	return &MemoryLabelStore{bindings: make(map[LabelName]Target)}
}

// Load returns the binding of a label.
func (s *MemoryLabelStore) Load(name LabelName) (Target, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.bindings[name]
	return target, ok, nil
}

// Save binds the label to target.
func (s *MemoryLabelStore) Save(name LabelName, target Target) error {
	if err := ValidateBinding(target); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = target
	return nil
}

// Delete unbinds the label. Deleting an unbound label is a no-op.
func (s *MemoryLabelStore) Delete(name LabelName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, name)
	return nil
}

// Labels returns every bound label in sorted order.
func (s *MemoryLabelStore) Labels() ([]LabelName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.bindings)), nil
}
