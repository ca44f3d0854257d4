// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"strconv"
	"strings"
	"unicode"
)

// Grid limits, matching the Office Open XML worksheet limits.
const (
	MinColumns = 1
	MaxColumns = 16384
	TotalRows  = 1048576
)

// ColumnNameToNumber provides a function to convert Excel sheet column name
// (case-insensitive) to int. The function returns an error if column name
// is invalid. For example:
//
//	col, err := recalc.ColumnNameToNumber("AK") // returns 37, nil
func ColumnNameToNumber(name string) (int, error) {
	if len(name) == 0 {
		return -1, newInvalidColumnNameError(name)
	}
	col, multi := 0, 1
	for i := len(name) - 1; i >= 0; i-- {
		r := name[i]
		if r >= 'A' && r <= 'Z' {
			col += int(r-'A'+1) * multi
		} else if r >= 'a' && r <= 'z' {
			col += int(r-'a'+1) * multi
		} else {
			return -1, newInvalidColumnNameError(name)
		}
		multi *= 26
		if col > MaxColumns {
			return -1, ErrColumnNumber
		}
	}
	return col, nil
}

// ColumnNumberToName provides a function to convert the integer to Excel
// sheet column title. For example:
//
//	name, err := recalc.ColumnNumberToName(37) // returns "AK", nil
func ColumnNumberToName(num int) (string, error) {
	if num < MinColumns || num > MaxColumns {
		return "", ErrColumnNumber
	}
	var col []byte
	for num > 0 {
		col = append([]byte{byte((num-1)%26) + 'A'}, col...)
		num = (num - 1) / 26
	}
	return string(col), nil
}

// SplitCellName splits cell name to column name and row number. For example:
//
//	col, row, err := recalc.SplitCellName("AK74") // returns "AK", 74, nil
func SplitCellName(cell string) (string, int, error) {
	alpha := func(r rune) bool {
		return ('A' <= r && r <= 'Z') || ('a' <= r && r <= 'z') || (r == 36)
	}
	if strings.IndexFunc(cell, alpha) == 0 {
		i := strings.LastIndexFunc(cell, alpha)
		if i >= 0 && i < len(cell)-1 {
			col, rowStr := strings.ReplaceAll(cell[:i+1], "$", ""), cell[i+1:]
			if row, err := strconv.Atoi(rowStr); err == nil && row > 0 && !strings.ContainsFunc(rowStr, notDigit) {
				return col, row, nil
			}
		}
	}
	return "", -1, newInvalidCellNameError(cell)
}

// CellNameToCoordinates converts alphanumeric cell name to [X, Y] coordinates
// or returns an error. For example:
//
//	col, row, err := recalc.CellNameToCoordinates("A1") // returns 1, 1, nil
//	col, row, err := recalc.CellNameToCoordinates("Z3") // returns 26, 3, nil
func CellNameToCoordinates(cell string) (int, int, error) {
	colName, row, err := SplitCellName(cell)
	if err != nil {
		return -1, -1, err
	}
	if row > TotalRows {
		return -1, -1, ErrMaxRows
	}
	col, err := ColumnNameToNumber(colName)
	return col, row, err
}

// CoordinatesToCellName converts [X, Y] coordinates to alpha-numeric cell
// name or returns an error. For example:
//
//	cell, err := recalc.CoordinatesToCellName(1, 1)       // returns "A1", nil
//	cell, err := recalc.CoordinatesToCellName(1, 1, true) // returns "$A$1", nil
func CoordinatesToCellName(col, row int, abs ...bool) (string, error) {
	if col < 1 || row < 1 {
		return "", ErrCoordinates
	}
	if row > TotalRows {
		return "", ErrMaxRows
	}
	sign := ""
	for _, a := range abs {
		if a {
			sign = "$"
		}
	}
	colName, err := ColumnNumberToName(col)
	return sign + colName + sign + strconv.Itoa(row), err
}

func notDigit(r rune) bool {
	return !unicode.IsDigit(r)
}
