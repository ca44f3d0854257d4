// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"strconv"
	"strings"

	"github.com/xuri/efp"
)

// refKind enumerates the reference shapes found in formula operands.
type refKind uint8

const (
	refCell    refKind = iota + 1 // A1
	refArea                       // A1:B2
	refColumns                    // A:C
	refRows                       // 3:5
	refLabel                      // TOTAL
)

// refPart is one endpoint of a reference operand. A zero col or row means
// the coordinate is absent, as in whole-column or whole-row ranges.
type refPart struct {
	col, row       int
	absCol, absRow bool
}

// formulaRef is a reference operand parsed out of the efp token stream,
// keeping the "$" anchors so that a rewritten formula reads like the
// original.
type formulaRef struct {
	kind       refKind
	begin, end refPart
	label      LabelName
}

// parseRefPart parses "$A$1", "A", "$3" and the like.
func parseRefPart(s string) (refPart, bool) {
	var (
		p refPart
		i int
	)
	if i < len(s) && s[i] == '$' {
		p.absCol = true
		i++
	}
	start := i
	for i < len(s) && ((s[i] >= 'A' && s[i] <= 'Z') || (s[i] >= 'a' && s[i] <= 'z')) {
		i++
	}
	if i > start {
		col, err := ColumnNameToNumber(s[start:i])
		if err != nil {
			return p, false
		}
		p.col = col
	} else if p.absCol {
		// "$3": the anchor belongs to the row.
		p.absCol, p.absRow = false, true
	}
	if i < len(s) && s[i] == '$' {
		if p.col == 0 || p.absRow {
			return p, false
		}
		p.absRow = true
		i++
	}
	start = i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i != len(s) {
		return p, false
	}
	if i > start {
		row, err := strconv.Atoi(s[start:i])
		if err != nil || row < 1 || row > TotalRows {
			return p, false
		}
		p.row = row
	}
	if p.col == 0 && p.row == 0 {
		return p, false
	}
	if p.row == 0 && p.absRow {
		return p, false
	}
	return p, true
}

// parseOperand classifies a range operand token. Sheet-qualified
// references are not tracked: the engine models a single grid.
func parseOperand(operand string) (formulaRef, bool) {
	if operand == "" || strings.Contains(operand, "!") {
		return formulaRef{}, false
	}
	parts := strings.Split(operand, ":")
	switch len(parts) {
	case 1:
		if p, ok := parseRefPart(parts[0]); ok && p.col > 0 && p.row > 0 {
			return formulaRef{kind: refCell, begin: p, end: p}, true
		}
		label, err := NewLabelName(parts[0])
		if err != nil {
			return formulaRef{}, false
		}
		return formulaRef{kind: refLabel, label: label}, true
	case 2:
		b, ok1 := parseRefPart(parts[0])
		e, ok2 := parseRefPart(parts[1])
		if !ok1 || !ok2 {
			return formulaRef{}, false
		}
		var ref formulaRef
		switch {
		case b.col > 0 && b.row > 0 && e.col > 0 && e.row > 0:
			ref = formulaRef{kind: refArea, begin: b, end: e}
		case b.row == 0 && e.row == 0:
			ref = formulaRef{kind: refColumns, begin: b, end: e}
		case b.col == 0 && e.col == 0:
			ref = formulaRef{kind: refRows, begin: b, end: e}
		default:
			return formulaRef{}, false
		}
		ref.normalize()
		return ref, true
	}
	return formulaRef{}, false
}

// normalize orders the endpoints so begin is the top-left corner, carrying
// each anchor with its coordinate.
func (r *formulaRef) normalize() {
	if r.begin.col > r.end.col {
		r.begin.col, r.end.col = r.end.col, r.begin.col
		r.begin.absCol, r.end.absCol = r.end.absCol, r.begin.absCol
	}
	if r.begin.row > r.end.row {
		r.begin.row, r.end.row = r.end.row, r.begin.row
		r.begin.absRow, r.end.absRow = r.end.absRow, r.begin.absRow
	}
}

// target converts the operand to the Target tracked by the ReferenceStore.
func (r formulaRef) target() Target {
	switch r.kind {
	case refCell:
		return CellTarget(CellReference{Col: r.begin.col, Row: r.begin.row})
	case refArea:
		return RangeTarget(NewRangeReference(
			CellReference{Col: r.begin.col, Row: r.begin.row},
			CellReference{Col: r.end.col, Row: r.end.row}))
	case refColumns:
		return RangeTarget(RangeReference{
			Begin: CellReference{Col: r.begin.col, Row: 1},
			End:   CellReference{Col: r.end.col, Row: TotalRows}})
	case refRows:
		return RangeTarget(RangeReference{
			Begin: CellReference{Col: MinColumns, Row: r.begin.row},
			End:   CellReference{Col: MaxColumns, Row: r.end.row}})
	}
	return LabelTarget(r.label)
}

func (p refPart) render() string {
	var b strings.Builder
	if p.col > 0 {
		if p.absCol {
			b.WriteByte('$')
		}
		name, _ := ColumnNumberToName(p.col)
		b.WriteString(name)
	}
	if p.row > 0 {
		if p.absRow {
			b.WriteByte('$')
		}
		b.WriteString(strconv.Itoa(p.row))
	}
	return b.String()
}

func (r formulaRef) render() string {
	switch r.kind {
	case refLabel:
		return string(r.label)
	case refCell:
		return r.begin.render()
	}
	return r.begin.render() + ":" + r.end.render()
}

// shift applies a topology plan to the operand. It reports whether the
// operand changed and whether it now dangles, meaning every cell it
// pointed at was deleted.
func (r formulaRef) shift(p shiftPlan) (formulaRef, bool, bool) {
	get := func(part refPart) int {
		if p.axis == Rows {
			return part.row
		}
		return part.col
	}
	set := func(part *refPart, v int) {
		if p.axis == Rows {
			part.row = v
		} else {
			part.col = v
		}
	}
	switch r.kind {
	case refLabel:
		return r, false, false
	case refColumns:
		if p.axis == Rows {
			return r, false, false
		}
	case refRows:
		if p.axis == Columns {
			return r, false, false
		}
	case refCell:
		idx, ok := p.mapIndex(get(r.begin))
		if !ok {
			return r, true, true
		}
		if idx == get(r.begin) {
			return r, false, false
		}
		set(&r.begin, idx)
		r.end = r.begin
		return r, true, false
	}
	lo, hi := get(r.begin), get(r.end)
	nlo, nhi, ok := p.mapSpan(lo, hi)
	if !ok {
		return r, true, true
	}
	if nlo == lo && nhi == hi {
		return r, false, false
	}
	set(&r.begin, nlo)
	set(&r.end, nhi)
	return r, true, false
}

// isReferenceToken reports whether the efp token may hold a reference.
func isReferenceToken(token efp.Token) bool {
	return token.TType == efp.TokenTypeOperand && token.TSubType == efp.TokenSubTypeRange
}

// tokenize splits formula text with the efp tokenizer. The leading "=" is
// optional.
func tokenize(formula string) []efp.Token {
	ps := efp.ExcelParser()
	return ps.Parse(strings.TrimPrefix(formula, "="))
}

// scanReferences extracts every distinct reference target mentioned by the
// formula, in order of first mention. A formula mentioning the same cell
// twice yields one target.
func scanReferences(formula string) []Target {
	if !strings.HasPrefix(formula, "=") {
		return nil
	}
	var (
		seen    = make(map[Target]struct{})
		targets []Target
	)
	for _, token := range tokenize(formula) {
		if !isReferenceToken(token) {
			continue
		}
		ref, ok := parseOperand(token.TValue)
		if !ok {
			continue
		}
		target := ref.target()
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	return targets
}

// rewriteFormula applies a topology plan to every reference of the formula.
// References whose cells were all deleted become #REF!. Rewritten
// references are spliced into the original text, so everything else in the
// formula keeps its exact spelling. The formula text is returned untouched
// when no reference moved.
func rewriteFormula(formula string, p shiftPlan) (string, bool) {
	if !strings.HasPrefix(formula, "=") {
		return formula, false
	}
	var (
		b       strings.Builder
		written int
		cursor  = 1
		changed bool
	)
	for _, token := range tokenize(formula) {
		if !isReferenceToken(token) {
			continue
		}
		ref, ok := parseOperand(token.TValue)
		if !ok {
			continue
		}
		start := locateOperand(formula, token.TValue, cursor)
		if start < 0 {
			continue
		}
		end := start + len(token.TValue)
		cursor = end
		var replacement string
		shifted, moved, dangling := ref.shift(p)
		switch {
		case dangling:
			replacement = string(ErrorRef)
		case moved:
			replacement = shifted.render()
		default:
			continue
		}
		b.WriteString(formula[written:start])
		b.WriteString(replacement)
		written = end
		changed = true
	}
	if !changed {
		return formula, false
	}
	b.WriteString(formula[written:])
	return b.String(), true
}

// locateOperand returns the offset of the next standalone occurrence of
// operand in formula at or after from, or -1. String literals, quoted sheet
// names and bracketed text are skipped, and a match must not be glued to a
// sheet prefix or a function call.
func locateOperand(formula, operand string, from int) int {
	for i := from; i < len(formula); i++ {
		switch formula[i] {
		case '"', '\'':
			i = skipQuoted(formula, i)
			continue
		case '[':
			if j := strings.IndexByte(formula[i:], ']'); j >= 0 {
				i += j
			}
			continue
		}
		if !strings.HasPrefix(formula[i:], operand) {
			continue
		}
		end := i + len(operand)
		if i > 0 && isOperandByte(formula[i-1]) {
			continue
		}
		if end < len(formula) && (isOperandByte(formula[end]) || formula[end] == '(' || formula[end] == '[') {
			continue
		}
		return i
	}
	return -1
}

// skipQuoted returns the offset of the quote closing the literal opened at
// i. Doubled quotes are escapes.
func skipQuoted(formula string, i int) int {
	quote := formula[i]
	for i++; i < len(formula); i++ {
		if formula[i] != quote {
			continue
		}
		if i+1 < len(formula) && formula[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(formula)
}

// isOperandByte reports whether c can be part of a reference, label or
// sheet-qualified operand.
func isOperandByte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c >= 0x80:
		return true
	}
	return strings.IndexByte("$:._!']#", c) >= 0
}
