// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"strconv"
	"strings"
)

// ErrorCode is a spreadsheet error literal carried by error values.
type ErrorCode string

// Error codes produced by the engine and by evaluators.
const (
	ErrorNull  ErrorCode = "#NULL!"
	ErrorDiv0  ErrorCode = "#DIV/0!"
	ErrorValue ErrorCode = "#VALUE!"
	ErrorRef   ErrorCode = "#REF!"
	ErrorName  ErrorCode = "#NAME?"
	ErrorNum   ErrorCode = "#NUM!"
	ErrorNA    ErrorCode = "#N/A"
	ErrorCycle ErrorCode = "#CYCLE!"
	ErrorOther ErrorCode = "#ERROR!"
)

// ValueKind enumerates the variants of Value.
type ValueKind uint8

// ValueKind values.
const (
	ValueEmpty ValueKind = iota
	ValueNumber
	ValueString
	ValueBool
	ValueError
)

// Value is an evaluated cell value. Errors are values, not Go errors.
type Value struct {
	Kind   ValueKind
	Number float64
	String string
	Bool   bool
	Error  ErrorCode
}

// Number returns a numeric value.
func Number(n float64) Value { return Value{Kind: ValueNumber, Number: n} }

// String returns a text value.
func String(s string) Value { return Value{Kind: ValueString, String: s} }

// Bool returns a logical value.
func Bool(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// Error returns an error value.
func Error(code ErrorCode) Value { return Value{Kind: ValueError, Error: code} }

// Empty returns the value of a blank cell.
func Empty() Value { return Value{} }

// IsError reports whether the value is an error value.
func (v Value) IsError() bool { return v.Kind == ValueError }

// Text renders the value the way it appears in a formula bar. Display
// formatting is out of scope; this is only used by logs and tests.
func (v Value) Text() string {
	switch v.Kind {
	case ValueNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case ValueString:
		return v.String
	case ValueBool:
		return strings.ToUpper(strconv.FormatBool(v.Bool))
	case ValueError:
		return string(v.Error)
	}
	return ""
}

// Cell is the unit of content owned by a CellStore. Formula holds the raw
// input: text beginning with "=" is a formula, anything else a literal.
// Value is nil until the cell has been evaluated.
type Cell struct {
	Ref     CellReference
	Formula string
	Parsed  ParsedFormula `copy:"-"`
	Value   *Value
	Style   int
}

// IsFormula reports whether the cell input is a formula.
func (c *Cell) IsFormula() bool {
	return c != nil && strings.HasPrefix(c.Formula, "=") && len(c.Formula) > 1
}

// Expression returns the formula text without the leading "=".
func (c *Cell) Expression() string {
	if !c.IsFormula() {
		return ""
	}
	return c.Formula[1:]
}

// IsBlank reports whether the cell carries no content at all.
func (c *Cell) IsBlank() bool {
	return c == nil || (c.Formula == "" && c.Style == 0)
}

// sameContent reports whether two cells would be indistinguishable to a
// caller: same input, same evaluated value and same style. A nil cell equals
// a blank one.
func sameContent(a, b *Cell) bool {
	if a.IsBlank() || b.IsBlank() {
		return a.IsBlank() && b.IsBlank() && valueOf(a) == valueOf(b)
	}
	return a.Formula == b.Formula && a.Style == b.Style && valueOf(a) == valueOf(b)
}

func valueOf(c *Cell) Value {
	if c == nil || c.Value == nil {
		return Value{}
	}
	return *c.Value
}

// literalValue converts non-formula input to a typed value: numbers,
// logical constants and error literals are recognized, everything else is
// text.
func literalValue(input string) Value {
	if input == "" {
		return Empty()
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(input), 64); err == nil {
		return Number(n)
	}
	switch strings.ToUpper(input) {
	case "TRUE":
		return Bool(true)
	case "FALSE":
		return Bool(false)
	}
	for _, code := range []ErrorCode{ErrorNull, ErrorDiv0, ErrorValue, ErrorRef, ErrorName, ErrorNum, ErrorNA, ErrorCycle, ErrorOther} {
		if strings.EqualFold(input, string(code)) {
			return Error(code)
		}
	}
	return String(input)
}
