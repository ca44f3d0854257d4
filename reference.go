// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Axis selects columns or rows for topology edits.
type Axis uint8

// Axis values.
const (
	Columns Axis = iota
	Rows
)

func (a Axis) String() string {
	if a == Rows {
		return "row"
	}
	return "column"
}

// CellReference is an absolute, 1-based cell coordinate. It is comparable
// and used as a map key throughout the engine.
type CellReference struct {
	Col int
	Row int
}

// NewCellReference returns the cell reference for column and row
// coordinates.
func NewCellReference(col, row int) CellReference {
	return CellReference{Col: col, Row: row}
}

// ParseCellReference parses A1 notation. "$" anchors are accepted and
// dropped.
func ParseCellReference(name string) (CellReference, error) {
	col, row, err := CellNameToCoordinates(name)
	if err != nil {
		return CellReference{}, err
	}
	return CellReference{Col: col, Row: row}, nil
}

// MustCell is like ParseCellReference but panics on malformed input. It is
// intended for literals in tests and examples.
func MustCell(name string) CellReference {
	ref, err := ParseCellReference(name)
	if err != nil {
		panic(err)
	}
	return ref
}

// Index returns the coordinate of the reference along the axis.
func (r CellReference) Index(axis Axis) int {
	if axis == Rows {
		return r.Row
	}
	return r.Col
}

// WithIndex returns a copy of the reference with the coordinate along the
// axis replaced.
func (r CellReference) WithIndex(axis Axis, index int) CellReference {
	if axis == Rows {
		r.Row = index
	} else {
		r.Col = index
	}
	return r
}

// Compare orders references row-major: by row, then by column.
func (r CellReference) Compare(other CellReference) int {
	switch {
	case r.Row < other.Row:
		return -1
	case r.Row > other.Row:
		return 1
	case r.Col < other.Col:
		return -1
	case r.Col > other.Col:
		return 1
	}
	return 0
}

// Valid reports whether the reference lies inside the worksheet limits.
func (r CellReference) Valid() bool {
	return r.Col >= MinColumns && r.Col <= MaxColumns && r.Row >= 1 && r.Row <= TotalRows
}

func (r CellReference) String() string {
	name, err := CoordinatesToCellName(r.Col, r.Row)
	if err != nil {
		return fmt.Sprintf("R%dC%d", r.Row, r.Col)
	}
	return name
}

// RangeReference is an inclusive rectangle of cells. Begin is always the
// top-left corner and End the bottom-right one.
type RangeReference struct {
	Begin CellReference
	End   CellReference
}

// NewRangeReference builds a normalized range from two corners in any
// order.
func NewRangeReference(a, b CellReference) RangeReference {
	return RangeReference{
		Begin: CellReference{Col: min(a.Col, b.Col), Row: min(a.Row, b.Row)},
		End:   CellReference{Col: max(a.Col, b.Col), Row: max(a.Row, b.Row)},
	}
}

// ParseRangeReference parses "A1:B2" notation. A single cell name yields a
// one-cell range.
func ParseRangeReference(rng string) (RangeReference, error) {
	parts := strings.Split(rng, ":")
	if len(parts) > 2 {
		return RangeReference{}, newInvalidRangeError(rng)
	}
	begin, err := ParseCellReference(parts[0])
	if err != nil {
		return RangeReference{}, newInvalidRangeError(rng)
	}
	end := begin
	if len(parts) == 2 {
		if end, err = ParseCellReference(parts[1]); err != nil {
			return RangeReference{}, newInvalidRangeError(rng)
		}
	}
	return NewRangeReference(begin, end), nil
}

// MustRange is like ParseRangeReference but panics on malformed input.
func MustRange(rng string) RangeReference {
	r, err := ParseRangeReference(rng)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether the cell lies inside the range.
func (r RangeReference) Contains(c CellReference) bool {
	return c.Col >= r.Begin.Col && c.Col <= r.End.Col &&
		c.Row >= r.Begin.Row && c.Row <= r.End.Row
}

// Intersects reports whether two ranges share at least one cell.
func (r RangeReference) Intersects(o RangeReference) bool {
	return r.Begin.Col <= o.End.Col && o.Begin.Col <= r.End.Col &&
		r.Begin.Row <= o.End.Row && o.Begin.Row <= r.End.Row
}

// Span returns the first and last index covered along the axis.
func (r RangeReference) Span(axis Axis) (int, int) {
	return r.Begin.Index(axis), r.End.Index(axis)
}

// Size returns the number of cells covered by the range.
func (r RangeReference) Size() int {
	return (r.End.Col - r.Begin.Col + 1) * (r.End.Row - r.Begin.Row + 1)
}

func (r RangeReference) String() string {
	return r.Begin.String() + ":" + r.End.String()
}

// LabelName is a case-normalized name bound to a cell or a range.
type LabelName string

var labelCaser = cases.Upper(language.Und)

// NewLabelName validates and normalizes a label name. Names are compared
// case-insensitively, so "Total" and "TOTAL" are the same label.
func NewLabelName(name string) (LabelName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrLabelName)
	}
	for i, r := range name {
		if unicode.IsLetter(r) || r == '_' || (i > 0 && (unicode.IsDigit(r) || r == '.')) {
			continue
		}
		return "", fmt.Errorf("%w: %q", ErrLabelName, name)
	}
	if _, _, err := CellNameToCoordinates(name); err == nil {
		return "", fmt.Errorf("%w: %q looks like a cell reference", ErrLabelName, name)
	}
	if upper := strings.ToUpper(name); upper == "TRUE" || upper == "FALSE" {
		return "", fmt.Errorf("%w: %q is a logical constant", ErrLabelName, name)
	}
	return LabelName(labelCaser.String(name)), nil
}

// MustLabel is like NewLabelName but panics on malformed input.
func MustLabel(name string) LabelName {
	label, err := NewLabelName(name)
	if err != nil {
		panic(err)
	}
	return label
}

// TargetKind enumerates the variants of Target.
type TargetKind uint8

// TargetKind values.
const (
	TargetCell TargetKind = iota + 1
	TargetLabel
	TargetRange
)

func (k TargetKind) String() string {
	switch k {
	case TargetCell:
		return "cell"
	case TargetLabel:
		return "label"
	case TargetRange:
		return "range"
	}
	return "unknown"
}

// Target is what a formula reference points at: a cell, a label or a
// range. Only the field selected by Kind is meaningful. Target is
// comparable and can be used as a map key.
type Target struct {
	kind  TargetKind
	cell  CellReference
	label LabelName
	rng   RangeReference
}

// CellTarget returns a target pointing at a cell.
func CellTarget(ref CellReference) Target {
	return Target{kind: TargetCell, cell: ref}
}

// LabelTarget returns a target pointing at a label.
func LabelTarget(name LabelName) Target {
	return Target{kind: TargetLabel, label: name}
}

// RangeTarget returns a target pointing at a range.
func RangeTarget(rng RangeReference) Target {
	return Target{kind: TargetRange, rng: rng}
}

// Kind returns the variant of the target.
func (t Target) Kind() TargetKind { return t.kind }

// Cell returns the referenced cell of a TargetCell.
func (t Target) Cell() CellReference { return t.cell }

// Label returns the referenced label of a TargetLabel.
func (t Target) Label() LabelName { return t.label }

// Range returns the referenced range of a TargetRange.
func (t Target) Range() RangeReference { return t.rng }

// IsZero reports whether the target was never assigned.
func (t Target) IsZero() bool { return t.kind == 0 }

// Covers reports whether the cell is the target cell or lies inside the
// target range. Labels never cover cells directly.
func (t Target) Covers(c CellReference) bool {
	switch t.kind {
	case TargetCell:
		return t.cell == c
	case TargetRange:
		return t.rng.Contains(c)
	}
	return false
}

// Overlaps reports whether the target cell or range intersects the range.
func (t Target) Overlaps(rng RangeReference) bool {
	switch t.kind {
	case TargetCell:
		return rng.Contains(t.cell)
	case TargetRange:
		return rng.Intersects(t.rng)
	}
	return false
}

func (t Target) String() string {
	switch t.kind {
	case TargetCell:
		return t.cell.String()
	case TargetLabel:
		return string(t.label)
	case TargetRange:
		return t.rng.String()
	}
	return "<none>"
}
