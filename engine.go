// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// EvaluationPolicy selects how LoadCell treats the cached value of a cell.
type EvaluationPolicy uint8

// EvaluationPolicy values.
const (
	// SkipEvaluate returns the stored cell unchanged.
	SkipEvaluate EvaluationPolicy = iota
	// ForceRecompute discards the cached parse and value, then parses and
	// evaluates the cell again.
	ForceRecompute
	// ComputeIfNecessary parses an unparsed formula and evaluates a cell
	// without a cached value.
	ComputeIfNecessary
)

func (p EvaluationPolicy) String() string {
	switch p {
	case SkipEvaluate:
		return "skip_evaluate"
	case ForceRecompute:
		return "force_recompute"
	case ComputeIfNecessary:
		return "compute_if_necessary"
	}
	return fmt.Sprintf("EvaluationPolicy(%d)", int(p))
}

// PropagationMode selects how dependents are recomputed after a change.
type PropagationMode uint8

// PropagationMode values.
const (
	// Immediate recomputes every dependent as soon as it is discovered,
	// breadth-first from the change.
	Immediate PropagationMode = iota
	// Batch marks dependents first, then evaluates each one once in
	// dependency order.
	Batch
)

func (m PropagationMode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case Batch:
		return "batch"
	}
	return fmt.Sprintf("PropagationMode(%d)", int(m))
}

// Options carries optional per-call settings.
type Options struct {
	// Window restricts the returned delta to cells inside at least one of
	// the ranges. A nil window leaves the delta unfiltered.
	Window []RangeReference
}

// Dependencies are the collaborators of an Engine. Nil stores default to
// in-memory implementations; a nil Refs is built over Cells; a nil Parser
// defaults to a TokenParser. The Evaluator is required.
type Dependencies struct {
	Cells     CellStore
	Labels    LabelStore
	Refs      *ReferenceStore
	Parser    Parser
	Evaluator Evaluator
	Logger    *slog.Logger
}

// Engine keeps formula values consistent with their references. It admits
// one mutating operation at a time; LoadCell with SkipEvaluate may run
// concurrently with other reads.
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	cells     CellStore
	labels    LabelStore
	refs      *ReferenceStore
	parser    Parser
	evaluator Evaluator
	mutator   *Mutator
	logger    *slog.Logger
}

// NewEngine validates the configuration and wires the engine.
func NewEngine(deps Dependencies, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Evaluator == nil {
		return nil, fmt.Errorf("%w: evaluator is required", ErrParameterInvalid)
	}
	e := &Engine{
		cfg:       cfg,
		cells:     deps.Cells,
		labels:    deps.Labels,
		refs:      deps.Refs,
		parser:    deps.Parser,
		evaluator: deps.Evaluator,
		logger:    deps.Logger,
	}
	if e.cells == nil {
		e.cells = NewMemoryCellStore()
	}
	if e.labels == nil {
		e.labels = NewMemoryLabelStore()
	}
	if e.refs == nil {
		e.refs = NewReferenceStore(e.cells)
	}
	if e.parser == nil {
		e.parser = NewTokenParser(cfg.ParseCacheSize)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.mutator = NewMutator(e.cells, e.labels, e.refs, cfg.MaxColumns, cfg.MaxRows)
	return e, nil
}

// Cells returns the cell store.
func (e *Engine) Cells() CellStore { return e.cells }

// Labels returns the label store.
func (e *Engine) Labels() LabelStore { return e.labels }

// References returns the reference store.
func (e *Engine) References() *ReferenceStore { return e.refs }

func (e *Engine) checkRef(ref CellReference) error {
	if ref.Col < MinColumns || ref.Col > e.cfg.MaxColumns {
		return fmt.Errorf("%w: %s", ErrColumnNumber, ref)
	}
	if ref.Row < 1 || ref.Row > e.cfg.MaxRows {
		return fmt.Errorf("%w: %s", ErrRowNumber, ref)
	}
	return nil
}

func windowOf(opts []Options) []RangeReference {
	var window []RangeReference
	for _, opt := range opts {
		if opt.Window != nil {
			window = opt.Window
		}
	}
	return window
}

// run executes a mutating operation inside its own change cache scope and
// builds the resulting delta.
func (e *Engine) run(ctx context.Context, operation string, mode PropagationMode, opts []Options,
	attrs []attribute.KeyValue, fn func(s *scope) error,
) (delta Delta, err error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, operation, append(attrs, attribute.String("recalc.mode", mode.String()))...)
	defer func() {
		recordOperation(ctx, operation, time.Since(start), err)
		endSpan(span, err)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.newScope(ctx, operation, mode)
	defer s.close()

	if err = fn(s); err != nil {
		s.logger.Error("operation failed", slog.Any("error", err))
		return Delta{}, err
	}
	if delta, err = s.delta(windowOf(opts)); err != nil {
		return Delta{}, err
	}
	recordPropagationVisits(ctx, mode, s.visits)
	span.SetAttributes(
		attribute.Int("recalc.delta_cells", delta.Len()),
		attribute.Int("recalc.evaluations", s.evaluations),
	)
	s.logger.Debug("operation finished",
		slog.Int("delta_cells", delta.Len()),
		slog.Int("evaluations", s.evaluations),
		slog.Int("visits", s.visits),
		slog.Duration("duration", time.Since(start)))
	return delta, nil
}

// LoadCell returns the cell at ref, or nil when the cell does not exist,
// applying the evaluation policy.
func (e *Engine) LoadCell(ctx context.Context, ref CellReference, policy EvaluationPolicy) (cell *Cell, err error) {
	if err := e.checkRef(ref); err != nil {
		return nil, err
	}
	if policy == SkipEvaluate {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.cells.Load(ref)
	}
	if policy != ForceRecompute && policy != ComputeIfNecessary {
		return nil, fmt.Errorf("%w: evaluation policy %s", ErrParameterInvalid, policy)
	}
	_, err = e.run(ctx, "LoadCell", Immediate, nil,
		[]attribute.KeyValue{attribute.String("recalc.cell", ref.String()), attribute.String("recalc.policy", policy.String())},
		func(s *scope) error {
			cell, err = s.loadWithPolicy(ref, policy)
			return err
		})
	if err != nil {
		return nil, err
	}
	return cell, nil
}

// SaveCell stores the cell, replaces its outbound references with the ones
// mentioned by its new formula and recomputes its dependents. Saving a
// blank cell deletes it.
func (e *Engine) SaveCell(ctx context.Context, cell *Cell, mode PropagationMode, opts ...Options) (Delta, error) {
	if cell == nil {
		return Delta{}, ErrNilCell
	}
	if err := e.checkRef(cell.Ref); err != nil {
		return Delta{}, err
	}
	return e.run(ctx, "SaveCell", mode, opts,
		[]attribute.KeyValue{attribute.String("recalc.cell", cell.Ref.String())},
		func(s *scope) error { return s.saveCell(cell) })
}

// DeleteCell removes the cell and recomputes its dependents.
func (e *Engine) DeleteCell(ctx context.Context, ref CellReference, mode PropagationMode, opts ...Options) (Delta, error) {
	if err := e.checkRef(ref); err != nil {
		return Delta{}, err
	}
	return e.run(ctx, "DeleteCell", mode, opts,
		[]attribute.KeyValue{attribute.String("recalc.cell", ref.String())},
		func(s *scope) error { return s.deleteCell(ref) })
}

// DeleteColumnOrRow deletes count columns or rows starting at index at,
// rewrites the formulas and label bindings pointing past them and
// recomputes the affected cells.
func (e *Engine) DeleteColumnOrRow(ctx context.Context, axis Axis, at, count int, mode PropagationMode, opts ...Options) (Delta, error) {
	return e.run(ctx, "DeleteColumnOrRow", mode, opts, lineAttributes(axis, at, count),
		func(s *scope) error {
			result, err := e.mutator.Delete(s.cache, axis, at, count)
			if err != nil {
				return err
			}
			return s.afterMutation(result)
		})
}

// InsertColumnOrRow inserts count columns or rows before index at,
// rewrites the formulas and label bindings pointing at or past it and
// recomputes the affected cells.
func (e *Engine) InsertColumnOrRow(ctx context.Context, axis Axis, at, count int, mode PropagationMode, opts ...Options) (Delta, error) {
	return e.run(ctx, "InsertColumnOrRow", mode, opts, lineAttributes(axis, at, count),
		func(s *scope) error {
			result, err := e.mutator.Insert(s.cache, axis, at, count)
			if err != nil {
				return err
			}
			return s.afterMutation(result)
		})
}

func lineAttributes(axis Axis, at, count int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("recalc.axis", axis.String()),
		attribute.Int("recalc.at", at),
		attribute.Int("recalc.count", count),
	}
}

// SaveLabel binds a label to a cell or a range and recomputes the formulas
// mentioning the label.
func (e *Engine) SaveLabel(ctx context.Context, name LabelName, target Target, mode PropagationMode, opts ...Options) (Delta, error) {
	if name == "" {
		return Delta{}, fmt.Errorf("%w: empty name", ErrLabelName)
	}
	if err := ValidateBinding(target); err != nil {
		return Delta{}, err
	}
	return e.run(ctx, "SaveLabel", mode, opts,
		[]attribute.KeyValue{attribute.String("recalc.label", string(name))},
		func(s *scope) error { return s.saveLabel(name, target) })
}

// DeleteLabel unbinds a label and recomputes the formulas mentioning it.
func (e *Engine) DeleteLabel(ctx context.Context, name LabelName, mode PropagationMode, opts ...Options) (Delta, error) {
	return e.run(ctx, "DeleteLabel", mode, opts,
		[]attribute.KeyValue{attribute.String("recalc.label", string(name))},
		func(s *scope) error { return s.deleteLabel(name) })
}

// Rebuild reconstructs the reference store from the cell and label stores,
// e.g. after opening a persistent store. Values are left untouched.
func (e *Engine) Rebuild(ctx context.Context) (err error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "Rebuild")
	defer func() {
		recordOperation(ctx, "Rebuild", time.Since(start), err)
		endSpan(span, err)
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs.Clear()
	refs, err := e.cells.Refs()
	if err != nil {
		return err
	}
	sources := 0
	for _, ref := range refs {
		cell, err := e.cells.Load(ref)
		if err != nil {
			return err
		}
		if !cell.IsFormula() {
			continue
		}
		targets := scanReferences(cell.Formula)
		for _, target := range targets {
			e.refs.AddReference(ref, target)
		}
		if len(targets) > 0 {
			sources++
		}
	}
	names, err := e.labels.Labels()
	if err != nil {
		return err
	}
	for _, name := range names {
		target, ok, err := e.labels.Load(name)
		if err != nil {
			return err
		}
		if ok {
			e.refs.BindLabel(name, target)
		}
	}
	e.refs.InvalidateMembership()
	e.logger.Info("rebuilt references",
		slog.Int("cells", len(refs)),
		slog.Int("sources", sources),
		slog.Int("labels", len(names)))
	return nil
}

// IsInvalidTransition reports whether err is a change cache lifecycle
// fault.
func IsInvalidTransition(err error) bool {
	var target ErrInvalidTransition
	return errors.As(err, &target)
}
