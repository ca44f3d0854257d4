// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"fmt"
	"slices"
	"sync"
)

// MembershipSource enumerates the cells currently present inside a range.
// CellStore implementations satisfy it.
type MembershipSource interface {
	CellsIn(rng RangeReference) ([]CellReference, error)
}

type refSet map[CellReference]struct{}

func (s refSet) sorted() []CellReference {
	refs := make([]CellReference, 0, len(s))
	for ref := range s {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, CellReference.Compare)
	return refs
}

// rangeEntry holds the sources mentioning a range and the cached member
// cells of that range.
type rangeEntry struct {
	sources refSet
	members []CellReference
	cached  bool
}

// ReferenceStore is the bidirectional index of formula references. Edges
// are kept per target kind: cellReferences maps a cell to the formulas
// mentioning it, labelReferences maps a label to the formulas mentioning
// it, and rangeToCells maps a range to the formulas mentioning it together
// with the cached set of cells inside the range. The store also mirrors
// label bindings so that a change to a bound cell reaches the formulas that
// mention the label.
type ReferenceStore struct {
	mu              sync.RWMutex
	src             MembershipSource
	outbound        map[CellReference]map[Target]struct{}
	cellReferences  map[CellReference]refSet
	labelReferences map[LabelName]refSet
	labelBindings   map[LabelName]Target
	rangeToCells    map[RangeReference]*rangeEntry
}

// NewReferenceStore returns an empty store computing range membership
// through src.
func NewReferenceStore(src MembershipSource) *ReferenceStore {
	s := &ReferenceStore{src: src}
	s.reset()
	return s
}

func (s *ReferenceStore) reset() {
	s.outbound = make(map[CellReference]map[Target]struct{})
	s.cellReferences = make(map[CellReference]refSet)
	s.labelReferences = make(map[LabelName]refSet)
	s.labelBindings = make(map[LabelName]Target)
	s.rangeToCells = make(map[RangeReference]*rangeEntry)
}

// Clear drops every edge and label binding.
func (s *ReferenceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// AddReference records that the formula at source mentions target. Adding
// an existing edge is a no-op.
func (s *ReferenceStore) AddReference(source CellReference, target Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(source, target)
}

func (s *ReferenceStore) add(source CellReference, target Target) {
	out, ok := s.outbound[source]
	if !ok {
		out = make(map[Target]struct{})
		s.outbound[source] = out
	}
	if _, dup := out[target]; dup {
		return
	}
	out[target] = struct{}{}
	switch target.Kind() {
	case TargetCell:
		set, ok := s.cellReferences[target.Cell()]
		if !ok {
			set = make(refSet)
			s.cellReferences[target.Cell()] = set
		}
		set[source] = struct{}{}
	case TargetLabel:
		set, ok := s.labelReferences[target.Label()]
		if !ok {
			set = make(refSet)
			s.labelReferences[target.Label()] = set
		}
		set[source] = struct{}{}
	case TargetRange:
		entry, ok := s.rangeToCells[target.Range()]
		if !ok {
			entry = &rangeEntry{sources: make(refSet)}
			s.rangeToCells[target.Range()] = entry
		}
		entry.sources[source] = struct{}{}
	}
}

// RemoveReference removes the edge from source to target. Removing a
// missing edge is a no-op.
func (s *ReferenceStore) RemoveReference(source CellReference, target Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(source, target)
}

func (s *ReferenceStore) remove(source CellReference, target Target) {
	out, ok := s.outbound[source]
	if !ok {
		return
	}
	if _, ok := out[target]; !ok {
		return
	}
	delete(out, target)
	if len(out) == 0 {
		delete(s.outbound, source)
	}
	switch target.Kind() {
	case TargetCell:
		if set := s.cellReferences[target.Cell()]; set != nil {
			delete(set, source)
			if len(set) == 0 {
				delete(s.cellReferences, target.Cell())
			}
		}
	case TargetLabel:
		if set := s.labelReferences[target.Label()]; set != nil {
			delete(set, source)
			if len(set) == 0 {
				delete(s.labelReferences, target.Label())
			}
		}
	case TargetRange:
		if entry := s.rangeToCells[target.Range()]; entry != nil {
			delete(entry.sources, source)
			if len(entry.sources) == 0 {
				delete(s.rangeToCells, target.Range())
			}
		}
	}
}

// RemoveAllFrom removes every outbound edge of source and returns the
// targets it pointed at.
func (s *ReferenceStore) RemoveAllFrom(source CellReference) []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := s.referencesFrom(source)
	for _, target := range targets {
		s.remove(source, target)
	}
	return targets
}

// ReferencesFrom returns the targets mentioned by the formula at source.
func (s *ReferenceStore) ReferencesFrom(source CellReference) []Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referencesFrom(source)
}

func (s *ReferenceStore) referencesFrom(source CellReference) []Target {
	out := s.outbound[source]
	targets := make([]Target, 0, len(out))
	for target := range out {
		targets = append(targets, target)
	}
	slices.SortFunc(targets, compareTargets)
	return targets
}

// IsSource reports whether the cell has any outbound edge.
func (s *ReferenceStore) IsSource(ref CellReference) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outbound[ref]) > 0
}

// Sources returns every cell with at least one outbound edge, sorted.
func (s *ReferenceStore) Sources() []CellReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(refSet, len(s.outbound))
	for source := range s.outbound {
		set[source] = struct{}{}
	}
	return set.sorted()
}

// ReferencesTo returns the direct dependents of target, sorted row-major.
// A cell target is reached through cell edges, through ranges containing
// it and through labels bound to it. A range target is reached through
// every intersecting range, every cell edge inside it and every label bound
// inside it.
func (s *ReferenceStore) ReferencesTo(target Target) []CellReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deps := make(refSet)
	merge := func(set refSet) {
		for ref := range set {
			deps[ref] = struct{}{}
		}
	}
	switch target.Kind() {
	case TargetCell:
		merge(s.cellReferences[target.Cell()])
		for rng, entry := range s.rangeToCells {
			if rng.Contains(target.Cell()) {
				merge(entry.sources)
			}
		}
		for name, binding := range s.labelBindings {
			if binding.Covers(target.Cell()) {
				merge(s.labelReferences[name])
			}
		}
	case TargetLabel:
		merge(s.labelReferences[target.Label()])
	case TargetRange:
		rng := target.Range()
		for other, entry := range s.rangeToCells {
			if other.Intersects(rng) {
				merge(entry.sources)
			}
		}
		for cell, set := range s.cellReferences {
			if rng.Contains(cell) {
				merge(set)
			}
		}
		for name, binding := range s.labelBindings {
			if binding.Overlaps(rng) {
				merge(s.labelReferences[name])
			}
		}
	}
	return deps.sorted()
}

// BindLabel mirrors a label binding from the LabelStore.
func (s *ReferenceStore) BindLabel(name LabelName, target Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labelBindings[name] = target
}

// UnbindLabel drops the mirrored binding of a label.
func (s *ReferenceStore) UnbindLabel(name LabelName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.labelBindings, name)
}

// Binding returns the mirrored binding of a label.
func (s *ReferenceStore) Binding(name LabelName) (Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.labelBindings[name]
	return target, ok
}

// RangeMembers returns the cells currently inside the range, sorted
// row-major. Membership of ranges mentioned by a formula is cached until
// invalidated.
func (s *ReferenceStore) RangeMembers(rng RangeReference) ([]CellReference, error) {
	s.mu.RLock()
	if entry, ok := s.rangeToCells[rng]; ok && entry.cached {
		members := slices.Clone(entry.members)
		s.mu.RUnlock()
		return members, nil
	}
	s.mu.RUnlock()

	members, err := s.scan(rng)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if entry, ok := s.rangeToCells[rng]; ok {
		entry.members, entry.cached = slices.Clone(members), true
	}
	s.mu.Unlock()
	return members, nil
}

func (s *ReferenceStore) scan(rng RangeReference) ([]CellReference, error) {
	if s.src == nil {
		return nil, nil
	}
	members, err := s.src.CellsIn(rng)
	if err != nil {
		return nil, fmt.Errorf("scan range %s: %w", rng, err)
	}
	slices.SortFunc(members, CellReference.Compare)
	return members, nil
}

// InvalidateMembership drops every cached range membership.
func (s *ReferenceStore) InvalidateMembership() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.rangeToCells {
		entry.members, entry.cached = nil, false
	}
}

// InvalidateMembershipAt drops the cached membership of every range
// containing the cell. It is called when a cell appears or disappears.
func (s *ReferenceStore) InvalidateMembershipAt(ref CellReference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for rng, entry := range s.rangeToCells {
		if rng.Contains(ref) {
			entry.members, entry.cached = nil, false
		}
	}
}

// VerifyMembership re-scans every cached range and reports the first range
// whose cached members differ from the grid.
func (s *ReferenceStore) VerifyMembership() error {
	s.mu.RLock()
	cached := make(map[RangeReference][]CellReference)
	for rng, entry := range s.rangeToCells {
		if entry.cached {
			cached[rng] = slices.Clone(entry.members)
		}
	}
	s.mu.RUnlock()
	for rng, members := range cached {
		scanned, err := s.scan(rng)
		if err != nil {
			return err
		}
		if !slices.Equal(members, scanned) {
			return fmt.Errorf("stale membership for range %s: cached %v, scanned %v", rng, members, scanned)
		}
	}
	return nil
}

// compareTargets orders targets by kind, then by position or name.
func compareTargets(a, b Target) int {
	if a.Kind() != b.Kind() {
		return int(a.Kind()) - int(b.Kind())
	}
	switch a.Kind() {
	case TargetCell:
		return a.Cell().Compare(b.Cell())
	case TargetLabel:
		switch {
		case a.Label() < b.Label():
			return -1
		case a.Label() > b.Label():
			return 1
		}
		return 0
	case TargetRange:
		if c := a.Range().Begin.Compare(b.Range().Begin); c != 0 {
			return c
		}
		return a.Range().End.Compare(b.Range().End)
	}
	return 0
}
