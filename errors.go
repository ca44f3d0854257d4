// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"errors"
	"fmt"
)

var (
	// ErrParameterInvalid defined the error message on receive the invalid
	// parameter.
	ErrParameterInvalid = errors.New("parameter is invalid")
	// ErrColumnNumber defined the error message on receive an invalid column
	// number.
	ErrColumnNumber = fmt.Errorf("the column number must be greater than or equal to %d and less than or equal to %d", MinColumns, MaxColumns)
	// ErrRowNumber defined the error message on receive an invalid row
	// number.
	ErrRowNumber = fmt.Errorf("the row number must be greater than or equal to 1 and less than or equal to %d", TotalRows)
	// ErrMaxRows defined the error message on receive a row number exceeds
	// maximum limit.
	ErrMaxRows = errors.New("row number exceeds maximum limit")
	// ErrCoordinates defined the error message on invalid coordinates tuples
	// length.
	ErrCoordinates = errors.New("coordinates length must be 4")
	// ErrLabelName defined the error message on receive an invalid label
	// name.
	ErrLabelName = errors.New("invalid label name")
	// ErrLabelTarget defined the error message on binding a label to
	// something other than a cell or a range.
	ErrLabelTarget = errors.New("label target must be a cell or a range")
	// ErrChangeCacheClosed defined the error message on using a change cache
	// after its operation finished.
	ErrChangeCacheClosed = errors.New("change cache is closed")
	// ErrNilCell defined the error message on saving a nil cell.
	ErrNilCell = errors.New("cell is nil")
)

// newInvalidCellNameError defined the error message on receiving the invalid
// cell name.
func newInvalidCellNameError(cell string) error {
	return fmt.Errorf("cannot convert cell %q to coordinates: invalid cell name %q", cell, cell)
}

// newInvalidColumnNameError defined the error message on receiving the
// invalid column name.
func newInvalidColumnNameError(col string) error {
	return fmt.Errorf("invalid column name %q", col)
}

// newInvalidRangeError defined the error message on receiving the invalid
// range reference.
func newInvalidRangeError(rng string) error {
	return fmt.Errorf("invalid range reference %q", rng)
}

// newInvalidCountError defined the error message on receiving a non-positive
// insert or delete count.
func newInvalidCountError(count int) error {
	return fmt.Errorf("%w: count must be positive, got %d", ErrParameterInvalid, count)
}

// ErrInvalidTransition is returned by the change cache when a lifecycle
// transition is not reachable from the current status. It indicates an
// engine fault such as processing the same key twice.
type ErrInvalidTransition struct {
	Kind string
	Key  string
	From string
	To   string
}

func (err ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", err.Kind, err.Key, err.From, err.To)
}

// FormulaSyntaxError is returned by a Parser for malformed formula text.
type FormulaSyntaxError struct {
	Formula string
	Reason  string
}

func (err FormulaSyntaxError) Error() string {
	return fmt.Sprintf("formula syntax error in %q: %s", err.Formula, err.Reason)
}
