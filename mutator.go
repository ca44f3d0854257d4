// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"fmt"
	"log/slog"
	"slices"
)

// shiftPlan is the pure index mapping of one insert or delete. It is
// computed before any store is touched.
type shiftPlan struct {
	axis   Axis
	at     int
	count  int
	insert bool
	limit  int
}

// last returns the last deleted or inserted index.
func (p shiftPlan) last() int { return p.at + p.count - 1 }

// mapIndex maps an index through the plan. It reports false when the index
// is deleted or pushed beyond the grid limit.
func (p shiftPlan) mapIndex(i int) (int, bool) {
	if p.insert {
		if i < p.at {
			return i, true
		}
		return i + p.count, i+p.count <= p.limit
	}
	switch {
	case i < p.at:
		return i, true
	case i <= p.last():
		return 0, false
	}
	return i - p.count, true
}

// mapSpan maps the inclusive span lo..hi through the plan. A span that
// loses every index reports false; a span partly deleted shrinks, and a
// span pushed past the grid limit is clamped.
func (p shiftPlan) mapSpan(lo, hi int) (int, int, bool) {
	if p.insert {
		if lo >= p.at {
			lo += p.count
		}
		if hi >= p.at {
			hi += p.count
		}
		if lo > p.limit {
			return 0, 0, false
		}
		return lo, min(hi, p.limit), true
	}
	if lo >= p.at && hi <= p.last() {
		return 0, 0, false
	}
	switch {
	case lo > p.last():
		lo -= p.count
	case lo >= p.at:
		lo = p.at
	}
	switch {
	case hi > p.last():
		hi -= p.count
	case hi >= p.at:
		hi = p.at - 1
	}
	return lo, hi, true
}

// shiftTarget maps a cell or range target through the plan.
func (p shiftPlan) shiftTarget(target Target) (Target, bool) {
	switch target.Kind() {
	case TargetCell:
		idx, ok := p.mapIndex(target.Cell().Index(p.axis))
		if !ok {
			return Target{}, false
		}
		return CellTarget(target.Cell().WithIndex(p.axis, idx)), true
	case TargetRange:
		rng := target.Range()
		lo, hi, ok := p.mapSpan(rng.Span(p.axis))
		if !ok {
			return Target{}, false
		}
		return RangeTarget(RangeReference{
			Begin: rng.Begin.WithIndex(p.axis, lo),
			End:   rng.End.WithIndex(p.axis, hi),
		}), true
	}
	return target, true
}

// CellMove records a cell that changed position.
type CellMove struct {
	From CellReference
	To   CellReference
}

// MutationResult summarizes a topology edit.
type MutationResult struct {
	// Rewritten lists the final position of every formula cell whose text
	// changed, in row-major order of the original positions.
	Rewritten []CellReference
	// Deleted lists the cells removed because they lay in the deleted span.
	Deleted []CellReference
	// Moved lists the cells that changed position, in move order.
	Moved []CellMove
	// Vacated lists the positions left empty after the edit.
	Vacated []CellReference
	// DeletedLabels lists the labels whose target was deleted.
	DeletedLabels []LabelName
	// MovedLabels lists the labels whose target was shifted or shrunk.
	MovedLabels []LabelName
}

// Touched returns every position whose content changed.
func (r MutationResult) Touched() []CellReference {
	set := make(refSet)
	for _, ref := range r.Rewritten {
		set[ref] = struct{}{}
	}
	for _, ref := range r.Deleted {
		set[ref] = struct{}{}
	}
	for _, ref := range r.Vacated {
		set[ref] = struct{}{}
	}
	for _, move := range r.Moved {
		set[move.To] = struct{}{}
	}
	return set.sorted()
}

// Mutator inserts and deletes columns or rows. It moves cells in the
// CellStore, rewrites formulas, keeps the ReferenceStore consistent with
// the rewritten formulas and repairs label bindings.
type Mutator struct {
	cells      CellStore
	labels     LabelStore
	refs       *ReferenceStore
	maxColumns int
	maxRows    int
}

// NewMutator returns a Mutator editing a grid of the given size.
func NewMutator(cells CellStore, labels LabelStore, refs *ReferenceStore, maxColumns, maxRows int) *Mutator {
	return &Mutator{cells: cells, labels: labels, refs: refs, maxColumns: maxColumns, maxRows: maxRows}
}

func (m *Mutator) limit(axis Axis) int {
	if axis == Rows {
		return m.maxRows
	}
	return m.maxColumns
}

func limitError(axis Axis) error {
	if axis == Rows {
		return ErrMaxRows
	}
	return ErrColumnNumber
}

// Delete removes count columns or rows starting at index at. The part of
// the span beyond the grid limit is ignored.
func (m *Mutator) Delete(cache *ChangeCache, axis Axis, at, count int) (MutationResult, error) {
	if count <= 0 {
		return MutationResult{}, newInvalidCountError(count)
	}
	if at < 1 {
		return MutationResult{}, fmt.Errorf("%w: %s index %d", ErrParameterInvalid, axis, at)
	}
	limit := m.limit(axis)
	if at > limit {
		return MutationResult{}, nil
	}
	count = min(count, limit-at+1)
	return m.apply(cache, shiftPlan{axis: axis, at: at, count: count, limit: limit})
}

// Insert shifts columns or rows at and after index at by count. An insert
// that would push an existing cell beyond the grid limit is rejected
// before anything changes.
func (m *Mutator) Insert(cache *ChangeCache, axis Axis, at, count int) (MutationResult, error) {
	if count <= 0 {
		return MutationResult{}, newInvalidCountError(count)
	}
	limit := m.limit(axis)
	if at < 1 || at > limit {
		return MutationResult{}, fmt.Errorf("%w: %s index %d", ErrParameterInvalid, axis, at)
	}
	refs, err := m.cells.Refs()
	if err != nil {
		return MutationResult{}, err
	}
	for _, ref := range refs {
		if idx := ref.Index(axis); idx >= at && idx+count > limit {
			return MutationResult{}, fmt.Errorf("%w: inserting %d at %d pushes %s beyond %d",
				limitError(axis), count, at, ref, limit)
		}
	}
	return m.apply(cache, shiftPlan{axis: axis, at: at, count: count, insert: true, limit: limit})
}

// pendingCell is a cell the edit rewrites, moves or deletes.
type pendingCell struct {
	cell      *Cell
	from, to  CellReference
	deleted   bool
	moved     bool
	rewritten bool
}

func (m *Mutator) apply(cache *ChangeCache, plan shiftPlan) (MutationResult, error) {
	var result MutationResult
	logger := cache.Logger()
	refs, err := m.cells.Refs()
	if err != nil {
		return result, err
	}

	// Plan every cell before touching any store.
	pending := make(map[CellReference]*pendingCell)
	load := func(ref CellReference) (*pendingCell, error) {
		if p, ok := pending[ref]; ok {
			return p, nil
		}
		cell, err := m.cells.Load(ref)
		if err != nil {
			return nil, err
		}
		if cell == nil {
			return nil, nil
		}
		p := &pendingCell{cell: cell, from: ref, to: ref}
		pending[ref] = p
		return p, nil
	}
	for _, ref := range refs {
		idx := ref.Index(plan.axis)
		if idx < plan.at {
			continue
		}
		p, err := load(ref)
		if err != nil || p == nil {
			if err != nil {
				return result, err
			}
			continue
		}
		if next, ok := plan.mapIndex(idx); ok {
			p.to, p.moved = ref.WithIndex(plan.axis, next), true
		} else {
			p.deleted = true
		}
	}
	for _, source := range m.refs.Sources() {
		p, err := load(source)
		if err != nil {
			return result, err
		}
		if p == nil || p.deleted {
			continue
		}
		if formula, changed := rewriteFormula(p.cell.Formula, plan); changed {
			p.cell.Formula, p.cell.Parsed, p.rewritten = formula, nil, true
		}
	}

	order := make([]*pendingCell, 0, len(pending))
	for _, p := range pending {
		order = append(order, p)
	}
	// Moving toward lower indices runs ascending and toward higher indices
	// descending, so a destination is always vacated before it is written.
	slices.SortFunc(order, func(a, b *pendingCell) int {
		ai, bi := a.from.Index(plan.axis), b.from.Index(plan.axis)
		if ai != bi {
			if plan.insert {
				return bi - ai
			}
			return ai - bi
		}
		return a.from.Compare(b.from)
	})

	// Record the pre-edit content of every position the edit writes.
	touched := make(map[CellReference]struct{})
	for _, p := range order {
		touched[p.from] = struct{}{}
		touched[p.to] = struct{}{}
	}
	for ref := range touched {
		original, err := m.cells.Load(ref)
		if err != nil {
			return result, err
		}
		if err := cache.RecordOriginal(ref, original); err != nil {
			return result, err
		}
	}

	// Detach the edges of every formula cell that is deleted, moved or
	// rewritten.
	for _, p := range order {
		if p.deleted || p.moved || p.rewritten {
			m.refs.RemoveAllFrom(p.from)
		}
	}

	// Remove the deleted span, then move survivors.
	for _, p := range order {
		if !p.deleted {
			continue
		}
		if err := m.cells.Delete(p.from); err != nil {
			return result, err
		}
		result.Deleted = append(result.Deleted, p.from)
	}
	destinations := make(map[CellReference]struct{})
	for _, p := range order {
		if p.deleted {
			continue
		}
		if p.moved {
			if err := m.cells.Delete(p.from); err != nil {
				return result, err
			}
			p.cell.Ref = p.to
			result.Moved = append(result.Moved, CellMove{From: p.from, To: p.to})
			destinations[p.to] = struct{}{}
		}
		if p.moved || p.rewritten {
			if err := m.cells.Save(p.cell); err != nil {
				return result, err
			}
		}
	}

	// Re-attach edges from the rewritten formulas at the final positions.
	rewritten := make([]*pendingCell, 0, len(order))
	for _, p := range order {
		if p.deleted || !(p.moved || p.rewritten) {
			continue
		}
		if p.rewritten {
			rewritten = append(rewritten, p)
		}
		if !p.cell.IsFormula() || !cache.ForceReferencesRefresh(p.to) {
			continue
		}
		for _, target := range scanReferences(p.cell.Formula) {
			m.refs.AddReference(p.to, target)
		}
		if err := cache.ReferencesRefreshed(p.to); err != nil {
			return result, err
		}
	}
	slices.SortFunc(rewritten, func(a, b *pendingCell) int { return a.from.Compare(b.from) })
	for _, p := range rewritten {
		result.Rewritten = append(result.Rewritten, p.to)
	}

	if err := m.repairLabels(cache, plan, &result); err != nil {
		return result, err
	}
	m.refs.InvalidateMembership()

	// Record final statuses: one per position.
	for _, p := range order {
		if _, filled := destinations[p.from]; !filled && (p.deleted || p.moved) {
			result.Vacated = append(result.Vacated, p.from)
			if _, err := cache.TransitionCell(p.from, CellDeleted); err != nil {
				return result, err
			}
		}
	}
	slices.SortFunc(result.Vacated, CellReference.Compare)
	for _, p := range order {
		if p.deleted || !(p.moved || p.rewritten) {
			continue
		}
		if _, err := cache.TransitionCell(p.to, CellSaving); err != nil {
			return result, err
		}
		if _, err := cache.TransitionCell(p.to, CellSaved); err != nil {
			return result, err
		}
	}
	for i := plan.at; i <= plan.last() && i <= plan.limit; i++ {
		if plan.insert {
			cache.TransitionLine(plan.axis, i, LineInserted)
		} else {
			cache.TransitionLine(plan.axis, i, LineDeleted)
		}
	}
	for _, move := range result.Moved {
		cache.TransitionLine(plan.axis, move.From.Index(plan.axis), LineShifted)
	}

	verb := "deleted"
	if plan.insert {
		verb = "inserted"
	}
	logger.Info(verb+" lines",
		slog.String("axis", plan.axis.String()),
		slog.Int("at", plan.at),
		slog.Int("count", plan.count),
		slog.Int("deleted_cells", len(result.Deleted)),
		slog.Int("moved_cells", len(result.Moved)),
		slog.Int("rewritten_formulas", len(result.Rewritten)),
		slog.Int("deleted_labels", len(result.DeletedLabels)),
		slog.Int("moved_labels", len(result.MovedLabels)))
	return result, nil
}

// repairLabels shifts label bindings with the grid: a binding entirely in
// the deleted span is removed, one beyond the edit is offset and a range
// binding partly deleted shrinks.
func (m *Mutator) repairLabels(cache *ChangeCache, plan shiftPlan, result *MutationResult) error {
	names, err := m.labels.Labels()
	if err != nil {
		return err
	}
	for _, name := range names {
		target, ok, err := m.labels.Load(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if _, err := cache.TransitionLabel(name, LabelLoaded); err != nil {
			return err
		}
		shifted, ok := plan.shiftTarget(target)
		switch {
		case !ok:
			if err := m.labels.Delete(name); err != nil {
				return err
			}
			m.refs.UnbindLabel(name)
			if _, err := cache.TransitionLabel(name, LabelDeleted); err != nil {
				return err
			}
			result.DeletedLabels = append(result.DeletedLabels, name)
		case shifted != target:
			if err := m.labels.Save(name, shifted); err != nil {
				return err
			}
			m.refs.BindLabel(name, shifted)
			if _, err := cache.TransitionLabel(name, LabelSaved); err != nil {
				return err
			}
			result.MovedLabels = append(result.MovedLabels, name)
		}
	}
	return nil
}
