// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"slices"
	"strings"
)

// Delta is the immutable summary of the cells changed by one engine
// operation. When a window is present, only cells inside at least one
// window range are kept. A deleted cell appears as a blank cell at its
// position.
type Delta struct {
	cells    []Cell
	window   []RangeReference
	windowed bool
}

// newDelta builds a delta from the changed cells. A nil window means the
// delta is not windowed.
func newDelta(changed []*Cell, window []RangeReference) Delta {
	d := Delta{windowed: window != nil}
	if d.windowed {
		d.window = slices.Clone(window)
	}
	for _, cell := range changed {
		if cell == nil || (d.windowed && !d.inWindow(cell.Ref)) {
			continue
		}
		out := Cell{Ref: cell.Ref, Formula: cell.Formula, Style: cell.Style}
		if cell.Value != nil {
			v := *cell.Value
			out.Value = &v
		}
		d.cells = append(d.cells, out)
	}
	slices.SortFunc(d.cells, func(a, b Cell) int { return a.Ref.Compare(b.Ref) })
	d.cells = slices.CompactFunc(d.cells, func(a, b Cell) bool { return a.Ref == b.Ref })
	return d
}

func (d Delta) inWindow(ref CellReference) bool {
	for _, rng := range d.window {
		if rng.Contains(ref) {
			return true
		}
	}
	return false
}

// Cells returns a copy of the changed cells in row-major order.
func (d Delta) Cells() []Cell {
	cells := make([]Cell, len(d.cells))
	for i, cell := range d.cells {
		cells[i] = cell
		if cell.Value != nil {
			v := *cell.Value
			cells[i].Value = &v
		}
	}
	return cells
}

// Refs returns the positions of the changed cells in row-major order.
func (d Delta) Refs() []CellReference {
	refs := make([]CellReference, len(d.cells))
	for i, cell := range d.cells {
		refs[i] = cell.Ref
	}
	return refs
}

// Window returns the window ranges and whether the delta is windowed.
func (d Delta) Window() ([]RangeReference, bool) {
	return slices.Clone(d.window), d.windowed
}

// Cell returns the changed cell at ref.
func (d Delta) Cell(ref CellReference) (Cell, bool) {
	i, ok := slices.BinarySearchFunc(d.cells, ref, func(c Cell, ref CellReference) int {
		return c.Ref.Compare(ref)
	})
	if !ok {
		return Cell{}, false
	}
	return d.cells[i], true
}

// Contains reports whether the cell at ref changed.
func (d Delta) Contains(ref CellReference) bool {
	_, ok := d.Cell(ref)
	return ok
}

// Len returns the number of changed cells.
func (d Delta) Len() int { return len(d.cells) }

// Equal reports whether two deltas hold the same cells and the same
// window.
func (d Delta) Equal(o Delta) bool {
	if d.windowed != o.windowed || !slices.Equal(d.window, o.window) {
		return false
	}
	return slices.EqualFunc(d.cells, o.cells, func(a, b Cell) bool {
		return a.Ref == b.Ref && a.Formula == b.Formula && a.Style == b.Style && valueOf(&a) == valueOf(&b)
	})
}

func (d Delta) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, cell := range d.cells {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(cell.Ref.String())
		b.WriteByte('=')
		if cell.IsFormula() {
			b.WriteString(cell.Formula)
			b.WriteString("->")
		}
		b.WriteString(valueOf(&cell).Text())
	}
	b.WriteByte('}')
	return b.String()
}
