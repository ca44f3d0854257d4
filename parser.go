// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"strings"

	"github.com/xuri/efp"
)

// ParsedFormula is the opaque result of parsing formula text. The engine
// only hands it back to the Evaluator.
type ParsedFormula interface {
	Formula() string
}

// Parser turns formula text into a ParsedFormula. Malformed input yields a
// FormulaSyntaxError.
type Parser interface {
	Parse(formula string) (ParsedFormula, error)
}

// CellValue pairs a cell reference with its current value.
type CellValue struct {
	Ref   CellReference
	Value Value
}

// EvalContext is the view of the grid an Evaluator resolves references
// against. Values read through it are evaluated on demand.
type EvalContext interface {
	// Value returns the value of a cell; blank cells are Empty.
	Value(ref CellReference) Value
	// RangeValues returns the non-blank cells inside the range in
	// row-major order.
	RangeValues(rng RangeReference) []CellValue
	// Label resolves a label binding.
	Label(name LabelName) (Target, bool)
}

// Evaluator computes the value of a parsed formula. Evaluation failures are
// reported as error values, never as Go errors.
type Evaluator interface {
	Evaluate(ctx EvalContext, parsed ParsedFormula, cell CellReference) Value
}

// TokenFormula is the ParsedFormula produced by TokenParser: the efp token
// stream of the formula plus the references it mentions.
type TokenFormula struct {
	formula string
	tokens  []efp.Token
	refs    []Target
}

// Formula returns the formula text including the leading "=".
func (f *TokenFormula) Formula() string { return f.formula }

// Tokens returns the efp token stream. The slice must not be modified.
func (f *TokenFormula) Tokens() []efp.Token { return f.tokens }

// References returns the distinct targets mentioned by the formula.
func (f *TokenFormula) References() []Target { return f.refs }

// TokenParser is the default Parser built on the efp tokenizer. Parse
// results are shared through a bounded LRU cache keyed by formula text, so
// a TokenParser is safe for concurrent use.
type TokenParser struct {
	cache *lruCache[string, *TokenFormula]
}

// NewTokenParser returns a TokenParser memoizing up to cacheSize formulas.
func NewTokenParser(cacheSize int) *TokenParser {
	return &TokenParser{cache: newLRUCache[string, *TokenFormula](cacheSize)}
}

// Parse tokenizes the formula and checks that it is well formed.
func (p *TokenParser) Parse(formula string) (ParsedFormula, error) {
	if parsed, ok := p.cache.Load(formula); ok {
		return parsed, nil
	}
	parsed, err := parseTokens(formula)
	if err != nil {
		return nil, err
	}
	p.cache.Store(formula, parsed)
	return parsed, nil
}

// Forget drops a formula from the parse cache.
func (p *TokenParser) Forget(formula string) {
	p.cache.Delete(formula)
}

func parseTokens(formula string) (*TokenFormula, error) {
	if !strings.HasPrefix(formula, "=") {
		return nil, FormulaSyntaxError{Formula: formula, Reason: "formula must start with \"=\""}
	}
	expr := strings.TrimSpace(formula[1:])
	if expr == "" {
		return nil, FormulaSyntaxError{Formula: formula, Reason: "empty expression"}
	}
	if strings.Count(expr, `"`)%2 != 0 {
		return nil, FormulaSyntaxError{Formula: formula, Reason: "unterminated string"}
	}
	if !balancedParens(expr) {
		return nil, FormulaSyntaxError{Formula: formula, Reason: "unbalanced parentheses"}
	}
	tokens := tokenize(formula)
	if len(tokens) == 0 {
		return nil, FormulaSyntaxError{Formula: formula, Reason: "empty expression"}
	}
	for _, token := range tokens {
		if token.TType == efp.TokenTypeUnknown {
			return nil, FormulaSyntaxError{Formula: formula, Reason: "unexpected " + token.TValue}
		}
	}
	if last := tokens[len(tokens)-1]; last.TType == efp.TokenTypeOperatorInfix {
		return nil, FormulaSyntaxError{Formula: formula, Reason: "missing operand after " + last.TValue}
	}
	return &TokenFormula{formula: formula, tokens: tokens, refs: scanReferences(formula)}, nil
}

// balancedParens checks parenthesis nesting outside string literals and
// quoted sheet names.
func balancedParens(expr string) bool {
	var (
		depth int
		quote byte
	)
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth--; depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && quote == 0
}
