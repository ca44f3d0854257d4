// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"context"
	"log/slog"
	"slices"
)

// scope is the state of one engine operation: its change cache, the
// evaluation stack and the memoized cycle analysis.
type scope struct {
	e           *Engine
	ctx         context.Context
	cache       *ChangeCache
	logger      *slog.Logger
	mode        PropagationMode
	cycles      *cycleDetector
	evaluating  map[CellReference]bool
	evaluations int
	visits      int
}

func (e *Engine) newScope(ctx context.Context, operation string, mode PropagationMode) *scope {
	cache := newChangeCache(operation, e.logger)
	return &scope{
		e:          e,
		ctx:        ctx,
		cache:      cache,
		logger:     cache.Logger(),
		mode:       mode,
		evaluating: make(map[CellReference]bool),
	}
}

func (s *scope) close() { s.cache.Close() }

// load reads a cell, recording the load in the change cache the first time
// the cell is touched.
func (s *scope) load(ref CellReference) (*Cell, error) {
	entry, err := s.cache.GetOrCreateCell(ref, CellUnloaded)
	if err != nil {
		return nil, err
	}
	if entry.Status != CellUnloaded {
		return s.e.cells.Load(ref)
	}
	if _, err := s.cache.TransitionCell(ref, CellLoading); err != nil {
		return nil, err
	}
	cell, err := s.e.cells.Load(ref)
	if err != nil {
		return nil, err
	}
	if _, err := s.cache.TransitionCell(ref, CellLoaded); err != nil {
		return nil, err
	}
	return cell, nil
}

func (s *scope) recordOriginal(ref CellReference) error {
	if entry, ok := s.cache.Cell(ref); ok && entry.HasOriginal {
		return nil
	}
	original, err := s.e.cells.Load(ref)
	if err != nil {
		return err
	}
	return s.cache.RecordOriginal(ref, original)
}

// save writes a cell. A write on a cell deleted earlier in the operation
// is dropped.
func (s *scope) save(cell *Cell) error {
	if err := s.recordOriginal(cell.Ref); err != nil {
		return err
	}
	if entry, ok := s.cache.Cell(cell.Ref); ok && entry.Status == CellDeleted {
		s.logger.Debug("dropped write on deleted cell", slog.String("cell", cell.Ref.String()))
		return nil
	}
	if _, err := s.cache.TransitionCell(cell.Ref, CellSaving); err != nil {
		return err
	}
	if err := s.e.cells.Save(cell); err != nil {
		return err
	}
	_, err := s.cache.TransitionCell(cell.Ref, CellSaved)
	return err
}

// remove deletes a cell and its outbound edges.
func (s *scope) remove(ref CellReference) error {
	if err := s.recordOriginal(ref); err != nil {
		return err
	}
	if _, err := s.cache.TransitionCell(ref, CellDeleted); err != nil {
		return err
	}
	s.e.refs.RemoveAllFrom(ref)
	if err := s.e.cells.Delete(ref); err != nil {
		return err
	}
	s.e.refs.InvalidateMembershipAt(ref)
	return nil
}

// attach replaces the outbound edges of ref with the references of the
// formula.
func (s *scope) attach(ref CellReference, formula string) error {
	if !s.cache.ForceReferencesRefresh(ref) {
		return nil
	}
	s.e.refs.RemoveAllFrom(ref)
	for _, target := range scanReferences(formula) {
		s.e.refs.AddReference(ref, target)
	}
	return s.cache.ReferencesRefreshed(ref)
}

func (s *scope) saveCell(input *Cell) error {
	ref := input.Ref
	old, err := s.load(ref)
	if err != nil {
		return err
	}
	if err := s.recordOriginal(ref); err != nil {
		return err
	}
	cell := &Cell{Ref: ref, Formula: input.Formula, Style: input.Style}
	if cell.IsBlank() {
		if old == nil {
			return nil
		}
		if err := s.remove(ref); err != nil {
			return err
		}
		return s.propagate([]CellReference{ref}, nil)
	}
	if err := s.attach(ref, cell.Formula); err != nil {
		return err
	}
	var seeds []CellReference
	if cell.IsFormula() {
		seeds = append(seeds, ref)
	} else {
		v := literalValue(cell.Formula)
		cell.Value = &v
	}
	if err := s.save(cell); err != nil {
		return err
	}
	if old == nil {
		s.e.refs.InvalidateMembershipAt(ref)
	}
	s.logger.Debug("saved cell", slog.String("cell", ref.String()), slog.String("formula", cell.Formula))
	return s.propagate([]CellReference{ref}, seeds)
}

func (s *scope) deleteCell(ref CellReference) error {
	old, err := s.load(ref)
	if err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	if err := s.remove(ref); err != nil {
		return err
	}
	return s.propagate([]CellReference{ref}, nil)
}

// afterMutation recomputes the rewritten formulas, the dependents of every
// position whose content changed and the formulas mentioning a label that
// moved or was deleted.
func (s *scope) afterMutation(result MutationResult) error {
	seeds := slices.Clone(result.Rewritten)
	for _, name := range slices.Concat(result.DeletedLabels, result.MovedLabels) {
		seeds = append(seeds, s.e.refs.ReferencesTo(LabelTarget(name))...)
	}
	return s.propagate(result.Touched(), seeds)
}

func (s *scope) saveLabel(name LabelName, target Target) error {
	if _, err := s.cache.TransitionLabel(name, LabelSaved); err != nil {
		return err
	}
	if err := s.e.labels.Save(name, target); err != nil {
		return err
	}
	s.e.refs.BindLabel(name, target)
	s.logger.Info("saved label", slog.String("label", string(name)), slog.String("target", target.String()))
	return s.propagate(nil, s.e.refs.ReferencesTo(LabelTarget(name)))
}

func (s *scope) deleteLabel(name LabelName) error {
	if _, ok, err := s.e.labels.Load(name); err != nil || !ok {
		return err
	}
	if _, err := s.cache.TransitionLabel(name, LabelDeleted); err != nil {
		return err
	}
	if err := s.e.labels.Delete(name); err != nil {
		return err
	}
	s.e.refs.UnbindLabel(name)
	s.logger.Info("deleted label", slog.String("label", string(name)))
	return s.propagate(nil, s.e.refs.ReferencesTo(LabelTarget(name)))
}

func (s *scope) loadWithPolicy(ref CellReference, policy EvaluationPolicy) (*Cell, error) {
	cell, err := s.load(ref)
	if err != nil || cell == nil {
		return nil, err
	}
	switch policy {
	case ForceRecompute:
		if forgetter, ok := s.e.parser.(interface{ Forget(string) }); ok {
			forgetter.Forget(cell.Formula)
		}
		cell.Parsed, cell.Value = nil, nil
		return s.recomputeCell(cell)
	case ComputeIfNecessary:
		if !cell.IsFormula() {
			if cell.Value != nil {
				return cell, nil
			}
			return s.recomputeCell(cell)
		}
		if cell.Parsed == nil {
			parsed, err := s.e.parser.Parse(cell.Formula)
			if err == nil {
				cell.Parsed = parsed
				if cell.Value != nil {
					return cell, s.save(cell)
				}
			}
		}
		if cell.Value != nil {
			return cell, nil
		}
		return s.recomputeCell(cell)
	}
	return cell, nil
}

// precedents returns the formula cells read by the formula at ref: cell
// targets, range members and the cells behind label bindings.
func (s *scope) precedents(ref CellReference) []CellReference {
	set := make(refSet)
	addCell := func(c CellReference) {
		if s.e.refs.IsSource(c) {
			set[c] = struct{}{}
		}
	}
	addRange := func(rng RangeReference) {
		members, err := s.e.refs.RangeMembers(rng)
		if err != nil {
			s.logger.Warn("range membership unavailable", slog.String("range", rng.String()), slog.Any("error", err))
			return
		}
		for _, m := range members {
			addCell(m)
		}
	}
	for _, target := range s.e.refs.ReferencesFrom(ref) {
		switch target.Kind() {
		case TargetCell:
			addCell(target.Cell())
		case TargetRange:
			addRange(target.Range())
		case TargetLabel:
			binding, ok := s.e.refs.Binding(target.Label())
			if !ok {
				continue
			}
			switch binding.Kind() {
			case TargetCell:
				addCell(binding.Cell())
			case TargetRange:
				addRange(binding.Range())
			}
		}
	}
	return set.sorted()
}

func (s *scope) cycleDetector() *cycleDetector {
	if s.cycles == nil {
		s.cycles = newCycleDetector(s.precedents)
	}
	return s.cycles
}

// recompute evaluates the cell at ref and stores the result. Absent,
// literal and deleted cells are left alone, as is a cell already on the
// evaluation stack.
func (s *scope) recompute(ref CellReference) (*Cell, error) {
	if entry, ok := s.cache.Cell(ref); ok && entry.Status == CellDeleted {
		return nil, nil
	}
	if s.evaluating[ref] {
		return nil, nil
	}
	cell, err := s.load(ref)
	if err != nil || cell == nil || !cell.IsFormula() {
		return cell, err
	}
	return s.recomputeCell(cell)
}

func (s *scope) recomputeCell(cell *Cell) (*Cell, error) {
	value := s.compute(cell)
	cell.Value = &value
	if err := s.save(cell); err != nil {
		return nil, err
	}
	return cell, nil
}

// compute evaluates a cell without storing it.
func (s *scope) compute(cell *Cell) Value {
	ref := cell.Ref
	if !cell.IsFormula() {
		return literalValue(cell.Formula)
	}
	if s.cycleDetector().onCycle(ref) {
		s.logger.Debug("cyclic reference", slog.String("cell", ref.String()))
		return Error(ErrorCycle)
	}
	if cell.Parsed == nil {
		parsed, err := s.e.parser.Parse(cell.Formula)
		if err != nil {
			s.logger.Debug("formula syntax error", slog.String("cell", ref.String()), slog.Any("error", err))
			return Error(ErrorOther)
		}
		cell.Parsed = parsed
	}
	s.evaluating[ref] = true
	defer delete(s.evaluating, ref)
	value := s.e.evaluator.Evaluate(evalContext{s: s}, cell.Parsed, ref)
	s.evaluations++
	recordEvaluation(s.ctx, s.mode)
	s.logger.Debug("evaluated cell", slog.String("cell", ref.String()), slog.String("value", value.Text()))
	return value
}

// propagate recomputes the seeds, then every dependent reachable from the
// changed cells and the seeds, according to the propagation mode.
func (s *scope) propagate(changed, seeds []CellReference) error {
	if s.mode == Batch {
		return s.propagateBatch(changed, seeds)
	}
	return s.propagateImmediate(changed, seeds)
}

type propagationEdge struct {
	from, to CellReference
}

// propagateImmediate drains a breadth-first worklist. A dependent is
// recomputed once per distinct edge reaching it and never while it is
// being evaluated.
func (s *scope) propagateImmediate(changed, seeds []CellReference) error {
	queue := slices.Clone(changed)
	for _, ref := range seeds {
		if _, err := s.recompute(ref); err != nil {
			return err
		}
		queue = append(queue, ref)
	}
	seen := make(map[propagationEdge]struct{})
	for len(queue) > 0 {
		source := queue[0]
		queue = queue[1:]
		for _, dep := range s.e.refs.ReferencesTo(CellTarget(source)) {
			edge := propagationEdge{from: source, to: dep}
			if _, ok := seen[edge]; ok {
				continue
			}
			seen[edge] = struct{}{}
			s.visits++
			if s.evaluating[dep] {
				continue
			}
			if entry, ok := s.cache.Cell(dep); ok && entry.Status == CellDeleted {
				continue
			}
			cell, err := s.recompute(dep)
			if err != nil {
				return err
			}
			if cell != nil {
				queue = append(queue, dep)
			}
		}
	}
	return nil
}

// propagateBatch marks every reachable dependent once, then evaluates the
// marked cells level by level.
func (s *scope) propagateBatch(changed, seeds []CellReference) error {
	queue := slices.Clone(changed)
	for _, ref := range seeds {
		if s.cache.MarkForRecompute(ref) {
			queue = append(queue, ref)
		}
	}
	for len(queue) > 0 {
		source := queue[0]
		queue = queue[1:]
		for _, dep := range s.e.refs.ReferencesTo(CellTarget(source)) {
			s.visits++
			if entry, ok := s.cache.Cell(dep); ok && entry.Status == CellDeleted {
				continue
			}
			if s.cache.MarkForRecompute(dep) {
				queue = append(queue, dep)
			}
		}
	}
	marked := s.cache.Marked()
	if len(marked) == 0 {
		return nil
	}
	graph := buildDependencyGraph(marked, s.precedents, s.cycleDetector().onCycle)
	s.logger.Debug("batch recompute", slog.Int("cells", len(marked)), slog.Int("levels", len(graph.levels)))
	for _, ref := range graph.order() {
		if _, err := s.recompute(ref); err != nil {
			return err
		}
	}
	return nil
}

// delta compares every cell touched by the operation with its content
// before the operation.
func (s *scope) delta(window []RangeReference) (Delta, error) {
	var changed []*Cell
	for _, entry := range s.cache.Cells() {
		if !entry.HasOriginal {
			continue
		}
		final, err := s.e.cells.Load(entry.Key)
		if err != nil {
			return Delta{}, err
		}
		if sameContent(entry.Original, final) {
			continue
		}
		if final == nil {
			final = &Cell{Ref: entry.Key}
		}
		changed = append(changed, final)
	}
	return newDelta(changed, window), nil
}

// evalContext resolves references for the Evaluator against the current
// state of the operation. Formula cells without a cached value are
// evaluated on demand.
type evalContext struct {
	s *scope
}

func (c evalContext) Value(ref CellReference) Value {
	cell, err := c.s.e.cells.Load(ref)
	if err != nil {
		c.s.logger.Warn("cell unavailable", slog.String("cell", ref.String()), slog.Any("error", err))
		return Error(ErrorRef)
	}
	if cell == nil {
		return Empty()
	}
	if cell.Value != nil {
		return *cell.Value
	}
	if !cell.IsFormula() {
		return literalValue(cell.Formula)
	}
	if c.s.evaluating[ref] {
		return Error(ErrorCycle)
	}
	updated, err := c.s.recomputeCell(cell)
	if err != nil || updated == nil {
		return Error(ErrorRef)
	}
	return valueOf(updated)
}

func (c evalContext) RangeValues(rng RangeReference) []CellValue {
	members, err := c.s.e.refs.RangeMembers(rng)
	if err != nil {
		c.s.logger.Warn("range membership unavailable", slog.String("range", rng.String()), slog.Any("error", err))
		return nil
	}
	values := make([]CellValue, 0, len(members))
	for _, ref := range members {
		values = append(values, CellValue{Ref: ref, Value: c.Value(ref)})
	}
	return values
}

func (c evalContext) Label(name LabelName) (Target, bool) {
	target, ok, err := c.s.e.labels.Load(name)
	if err != nil {
		c.s.logger.Warn("label unavailable", slog.String("label", string(name)), slog.Any("error", err))
		return Target{}, false
	}
	return target, ok
}
