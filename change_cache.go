// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"log/slog"
	"strconv"

	"github.com/google/uuid"
)

// CellStatus is the lifecycle of a cell within one engine operation. The
// numeric order is the priority: a higher status dominates a lower one.
type CellStatus uint8

// CellStatus values.
const (
	CellUnloaded CellStatus = iota
	CellLoading
	CellLoaded
	CellSaving
	CellSaved
	CellDeleted
)

var cellStatusNames = [...]string{"UNLOADED", "LOADING", "LOADED", "SAVING", "SAVED", "DELETED"}

func (s CellStatus) String() string {
	if int(s) < len(cellStatusNames) {
		return cellStatusNames[s]
	}
	return "CellStatus(" + strconv.Itoa(int(s)) + ")"
}

// Priority returns the rank of the status in the lifecycle lattice.
func (s CellStatus) Priority() int { return int(s) }

var cellTransitions = map[CellStatus][]CellStatus{
	CellUnloaded: {CellLoading, CellSaving, CellDeleted},
	CellLoading:  {CellLoaded},
	CellLoaded:   {CellSaving, CellDeleted},
	CellSaving:   {CellSaved, CellDeleted},
	CellSaved:    {CellSaving, CellDeleted},
}

// ReferenceStatus tracks whether the outbound edges of a cell have been
// reconciled with its formula during the operation.
type ReferenceStatus uint8

// ReferenceStatus values.
const (
	Reference ReferenceStatus = iota
	ReferenceRefreshable
	ReferencesRefreshed
)

func (s ReferenceStatus) String() string {
	switch s {
	case Reference:
		return "REFERENCE"
	case ReferenceRefreshable:
		return "REFERENCE_REFRESHABLE"
	case ReferencesRefreshed:
		return "REFERENCES_REFRESHED"
	}
	return "ReferenceStatus(" + strconv.Itoa(int(s)) + ")"
}

// LineStatus is the lifecycle of a column or row index within one topology
// edit. Deleted dominates every other status.
type LineStatus uint8

// LineStatus values.
const (
	LineUntouched LineStatus = iota
	LineShifted
	LineInserted
	LineDeleted
)

func (s LineStatus) String() string {
	switch s {
	case LineUntouched:
		return "UNTOUCHED"
	case LineShifted:
		return "SHIFTED"
	case LineInserted:
		return "INSERTED"
	case LineDeleted:
		return "DELETED"
	}
	return "LineStatus(" + strconv.Itoa(int(s)) + ")"
}

// LabelStatus is the lifecycle of a label binding within one operation.
type LabelStatus uint8

// LabelStatus values.
const (
	LabelUnloaded LabelStatus = iota
	LabelLoaded
	LabelSaved
	LabelDeleted
)

func (s LabelStatus) String() string {
	switch s {
	case LabelUnloaded:
		return "UNLOADED"
	case LabelLoaded:
		return "LOADED"
	case LabelSaved:
		return "SAVED"
	case LabelDeleted:
		return "DELETED"
	}
	return "LabelStatus(" + strconv.Itoa(int(s)) + ")"
}

var labelTransitions = map[LabelStatus][]LabelStatus{
	LabelUnloaded: {LabelLoaded, LabelSaved, LabelDeleted},
	LabelLoaded:   {LabelSaved, LabelDeleted},
	LabelSaved:    {LabelDeleted},
}

// ChangeCacheEntry is the status of one key within an operation.
type ChangeCacheEntry[K comparable, S ~uint8] struct {
	Key    K
	Status S
}

// CellEntry is the change cache record of a cell. Original is the content
// of the cell before the operation first wrote it, nil for a cell that did
// not exist.
type CellEntry struct {
	ChangeCacheEntry[CellReference, CellStatus]
	References  ReferenceStatus
	Original    *Cell
	HasOriginal bool
	Marked      bool
}

// entryTable keeps entries in first-touch order.
type entryTable[K comparable, E any] struct {
	entries map[K]*E
	order   []K
}

func newEntryTable[K comparable, E any]() entryTable[K, E] {
	return entryTable[K, E]{entries: make(map[K]*E)}
}

func (t *entryTable[K, E]) get(key K) (*E, bool) {
	e, ok := t.entries[key]
	return e, ok
}

func (t *entryTable[K, E]) getOrCreate(key K, create func() *E) *E {
	if e, ok := t.entries[key]; ok {
		return e
	}
	e := create()
	t.entries[key] = e
	t.order = append(t.order, key)
	return e
}

// reachable reports whether the lattice allows moving from one status to
// another.
func reachable[S ~uint8](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ChangeCache tracks every cell, column, row and label touched during one
// engine operation, so that each (key, status) pair is processed at most
// once. A ChangeCache is owned by a single operation and is not safe for
// concurrent use.
type ChangeCache struct {
	id        string
	operation string
	logger    *slog.Logger
	closed    bool
	cells     entryTable[CellReference, CellEntry]
	columns   entryTable[int, ChangeCacheEntry[int, LineStatus]]
	rows      entryTable[int, ChangeCacheEntry[int, LineStatus]]
	labels    entryTable[LabelName, ChangeCacheEntry[LabelName, LabelStatus]]
	marked    []CellReference
}

// newChangeCache opens the change cache of one operation.
func newChangeCache(operation string, logger *slog.Logger) *ChangeCache {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &ChangeCache{
		id:        id,
		operation: operation,
		logger:    logger.With(slog.String("op_id", id), slog.String("op", operation)),
		cells:     newEntryTable[CellReference, CellEntry](),
		columns:   newEntryTable[int, ChangeCacheEntry[int, LineStatus]](),
		rows:      newEntryTable[int, ChangeCacheEntry[int, LineStatus]](),
		labels:    newEntryTable[LabelName, ChangeCacheEntry[LabelName, LabelStatus]](),
	}
}

// ID returns the operation ID.
func (c *ChangeCache) ID() string { return c.id }

// Operation returns the operation name.
func (c *ChangeCache) Operation() string { return c.operation }

// Logger returns the operation scoped logger.
func (c *ChangeCache) Logger() *slog.Logger { return c.logger }

// Close discards every entry. Further use fails with ErrChangeCacheClosed.
func (c *ChangeCache) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cells = entryTable[CellReference, CellEntry]{}
	c.columns = entryTable[int, ChangeCacheEntry[int, LineStatus]]{}
	c.rows = entryTable[int, ChangeCacheEntry[int, LineStatus]]{}
	c.labels = entryTable[LabelName, ChangeCacheEntry[LabelName, LabelStatus]]{}
	c.marked = nil
}

// Closed reports whether the cache was closed.
func (c *ChangeCache) Closed() bool { return c.closed }

// Cell returns the entry of a cell touched in this operation.
func (c *ChangeCache) Cell(ref CellReference) (*CellEntry, bool) {
	if c.closed {
		return nil, false
	}
	return c.cells.get(ref)
}

// GetOrCreateCell returns the entry of a cell, creating it with the
// initial status on first use.
func (c *ChangeCache) GetOrCreateCell(ref CellReference, initial CellStatus) (*CellEntry, error) {
	if c.closed {
		return nil, ErrChangeCacheClosed
	}
	return c.cells.getOrCreate(ref, func() *CellEntry {
		e := &CellEntry{}
		e.Key, e.Status = ref, initial
		return e
	}), nil
}

// RecordOriginal remembers the content of a cell before the operation
// changes it. Only the first call per cell has an effect.
func (c *ChangeCache) RecordOriginal(ref CellReference, original *Cell) error {
	entry, err := c.GetOrCreateCell(ref, CellUnloaded)
	if err != nil {
		return err
	}
	if !entry.HasOriginal {
		entry.Original, entry.HasOriginal = original, true
	}
	return nil
}

// TransitionCell moves a cell to a new status. It reports whether the
// transition was applied: same-state requests and writes on a deleted cell
// are no-ops. Unreachable transitions fail with ErrInvalidTransition.
func (c *ChangeCache) TransitionCell(ref CellReference, to CellStatus) (bool, error) {
	entry, err := c.GetOrCreateCell(ref, CellUnloaded)
	if err != nil {
		return false, err
	}
	from := entry.Status
	switch {
	case from == to:
		return false, nil
	case from == CellDeleted && (to == CellSaving || to == CellSaved):
		return false, nil
	case !reachable(cellTransitions, from, to):
		return false, c.invalid("cell", ref.String(), from.String(), to.String())
	}
	entry.Status = to
	return true, nil
}

// Cells returns the entries of every touched cell in first-touch order.
func (c *ChangeCache) Cells() []*CellEntry {
	if c.closed {
		return nil
	}
	entries := make([]*CellEntry, 0, len(c.cells.order))
	for _, ref := range c.cells.order {
		entries = append(entries, c.cells.entries[ref])
	}
	return entries
}

// ForceReferencesRefresh requests the reference fixup of a cell. Only the
// first requester in an operation gets true and must run the fixup.
func (c *ChangeCache) ForceReferencesRefresh(ref CellReference) bool {
	entry, err := c.GetOrCreateCell(ref, CellUnloaded)
	if err != nil || entry.References != Reference {
		return false
	}
	entry.References = ReferenceRefreshable
	return true
}

// ReferencesRefreshed completes the reference fixup of a cell.
func (c *ChangeCache) ReferencesRefreshed(ref CellReference) error {
	entry, err := c.GetOrCreateCell(ref, CellUnloaded)
	if err != nil {
		return err
	}
	if entry.References != ReferenceRefreshable {
		return c.invalid("reference", ref.String(), entry.References.String(), ReferencesRefreshed.String())
	}
	entry.References = ReferencesRefreshed
	return nil
}

// MarkForRecompute marks a cell for deferred evaluation. It returns true
// only the first time a cell is marked.
func (c *ChangeCache) MarkForRecompute(ref CellReference) bool {
	entry, err := c.GetOrCreateCell(ref, CellUnloaded)
	if err != nil || entry.Marked {
		return false
	}
	entry.Marked = true
	c.marked = append(c.marked, ref)
	return true
}

// Marked returns the cells marked for recompute in marking order.
func (c *ChangeCache) Marked() []CellReference {
	if c.closed {
		return nil
	}
	return append([]CellReference(nil), c.marked...)
}

func (c *ChangeCache) lines(axis Axis) *entryTable[int, ChangeCacheEntry[int, LineStatus]] {
	if axis == Rows {
		return &c.rows
	}
	return &c.columns
}

// TransitionLine records the status of a column or row index. A request
// dominated by the current status is not applied.
func (c *ChangeCache) TransitionLine(axis Axis, index int, to LineStatus) bool {
	if c.closed {
		return false
	}
	entry := c.lines(axis).getOrCreate(index, func() *ChangeCacheEntry[int, LineStatus] {
		return &ChangeCacheEntry[int, LineStatus]{Key: index}
	})
	if to <= entry.Status {
		return false
	}
	entry.Status = to
	return true
}

// TransitionColumn records the status of a column index.
func (c *ChangeCache) TransitionColumn(index int, to LineStatus) bool {
	return c.TransitionLine(Columns, index, to)
}

// TransitionRow records the status of a row index.
func (c *ChangeCache) TransitionRow(index int, to LineStatus) bool {
	return c.TransitionLine(Rows, index, to)
}

// Line returns the recorded status of a column or row index.
func (c *ChangeCache) Line(axis Axis, index int) LineStatus {
	if c.closed {
		return LineUntouched
	}
	if entry, ok := c.lines(axis).get(index); ok {
		return entry.Status
	}
	return LineUntouched
}

// TransitionLabel moves a label to a new status. A save request on a
// deleted label is a no-op; loading a deleted label fails.
func (c *ChangeCache) TransitionLabel(name LabelName, to LabelStatus) (bool, error) {
	if c.closed {
		return false, ErrChangeCacheClosed
	}
	entry := c.labels.getOrCreate(name, func() *ChangeCacheEntry[LabelName, LabelStatus] {
		return &ChangeCacheEntry[LabelName, LabelStatus]{Key: name}
	})
	from := entry.Status
	switch {
	case from == to:
		return false, nil
	case from == LabelDeleted && to == LabelSaved:
		return false, nil
	case !reachable(labelTransitions, from, to):
		return false, c.invalid("label", string(name), from.String(), to.String())
	}
	entry.Status = to
	return true, nil
}

// Label returns the recorded status of a label.
func (c *ChangeCache) Label(name LabelName) LabelStatus {
	if c.closed {
		return LabelUnloaded
	}
	if entry, ok := c.labels.get(name); ok {
		return entry.Status
	}
	return LabelUnloaded
}

func (c *ChangeCache) invalid(kind, key, from, to string) error {
	err := ErrInvalidTransition{Kind: kind, Key: key, From: from, To: to}
	c.logger.Error("invalid transition",
		slog.String("kind", kind), slog.String("key", key),
		slog.String("from", from), slog.String("to", to))
	return err
}
