package recalc

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/efp"
)

// countingEvaluator evaluates a small formula subset (numbers, text,
// references, labels, + - * /, unary minus, parentheses and SUM) and counts
// evaluations per cell.
type countingEvaluator struct {
	mu     sync.Mutex
	counts map[CellReference]int
	total  int
}

func newCountingEvaluator() *countingEvaluator {
	return &countingEvaluator{counts: make(map[CellReference]int)}
}

func (ev *countingEvaluator) Evaluate(ctx EvalContext, parsed ParsedFormula, cell CellReference) Value {
	ev.mu.Lock()
	ev.counts[cell]++
	ev.total++
	ev.mu.Unlock()
	formula, ok := parsed.(*TokenFormula)
	if !ok {
		return Error(ErrorValue)
	}
	var tokens []efp.Token
	for _, token := range formula.Tokens() {
		if token.TType != efp.TokenTypeWhitespace {
			tokens = append(tokens, token)
		}
	}
	p := &tokenEval{ctx: ctx, tokens: tokens}
	result := p.expr()
	if p.pos != len(p.tokens) {
		return Error(ErrorValue)
	}
	return p.scalar(result)
}

func (ev *countingEvaluator) Total() int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.total
}

func (ev *countingEvaluator) Count(ref CellReference) int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.counts[ref]
}

func (ev *countingEvaluator) Reset() {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.counts = make(map[CellReference]int)
	ev.total = 0
}

// operand is a scalar or the values of a range.
type operand struct {
	value  Value
	list   []Value
	isList bool
}

type tokenEval struct {
	ctx    EvalContext
	tokens []efp.Token
	pos    int
}

func (p *tokenEval) peek() (efp.Token, bool) {
	if p.pos >= len(p.tokens) {
		return efp.Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *tokenEval) scalar(o operand) Value {
	if o.isList {
		if len(o.list) == 1 {
			return o.list[0]
		}
		return Error(ErrorValue)
	}
	return o.value
}

func (p *tokenEval) number(o operand) (float64, *Value) {
	v := p.scalar(o)
	switch v.Kind {
	case ValueEmpty:
		return 0, nil
	case ValueNumber:
		return v.Number, nil
	case ValueBool:
		if v.Bool {
			return 1, nil
		}
		return 0, nil
	case ValueError:
		return 0, &v
	}
	if n, err := strconv.ParseFloat(v.String, 64); err == nil {
		return n, nil
	}
	e := Error(ErrorValue)
	return 0, &e
}

func (p *tokenEval) expr() operand {
	left := p.term()
	for {
		token, ok := p.peek()
		if !ok || token.TType != efp.TokenTypeOperatorInfix || (token.TValue != "+" && token.TValue != "-") {
			return left
		}
		p.pos++
		right := p.term()
		left = p.arith(token.TValue, left, right)
	}
}

func (p *tokenEval) term() operand {
	left := p.unary()
	for {
		token, ok := p.peek()
		if !ok || token.TType != efp.TokenTypeOperatorInfix || (token.TValue != "*" && token.TValue != "/") {
			return left
		}
		p.pos++
		right := p.unary()
		left = p.arith(token.TValue, left, right)
	}
}

func (p *tokenEval) unary() operand {
	if token, ok := p.peek(); ok && token.TType == efp.TokenTypeOperatorPrefix {
		p.pos++
		inner := p.unary()
		if token.TValue == "-" {
			return p.arith("*", operand{value: Number(-1)}, inner)
		}
		return inner
	}
	return p.primary()
}

func (p *tokenEval) arith(op string, left, right operand) operand {
	a, errA := p.number(left)
	if errA != nil {
		return operand{value: *errA}
	}
	b, errB := p.number(right)
	if errB != nil {
		return operand{value: *errB}
	}
	switch op {
	case "+":
		return operand{value: Number(a + b)}
	case "-":
		return operand{value: Number(a - b)}
	case "*":
		return operand{value: Number(a * b)}
	}
	if b == 0 {
		return operand{value: Error(ErrorDiv0)}
	}
	return operand{value: Number(a / b)}
}

func (p *tokenEval) primary() operand {
	token, ok := p.peek()
	if !ok {
		return operand{value: Error(ErrorValue)}
	}
	p.pos++
	switch token.TType {
	case efp.TokenTypeOperand:
		return p.operand(token)
	case efp.TokenTypeSubexpression:
		inner := p.expr()
		p.pos++ // closing parenthesis
		return inner
	case efp.TokenTypeFunction:
		name := strings.ToUpper(token.TValue)
		var args []operand
		for {
			next, ok := p.peek()
			if !ok {
				return operand{value: Error(ErrorValue)}
			}
			if next.TType == efp.TokenTypeFunction && next.TSubType == efp.TokenSubTypeStop {
				p.pos++
				break
			}
			if next.TType == efp.TokenTypeArgument {
				p.pos++
				continue
			}
			args = append(args, p.expr())
		}
		if name != "SUM" {
			return operand{value: Error(ErrorName)}
		}
		sum := 0.0
		for _, arg := range args {
			values := arg.list
			if !arg.isList {
				values = []Value{arg.value}
			}
			for _, v := range values {
				switch v.Kind {
				case ValueError:
					return operand{value: v}
				case ValueNumber:
					sum += v.Number
				}
			}
		}
		return operand{value: Number(sum)}
	}
	return operand{value: Error(ErrorValue)}
}

func (p *tokenEval) operand(token efp.Token) operand {
	switch token.TSubType {
	case efp.TokenSubTypeNumber:
		n, err := strconv.ParseFloat(token.TValue, 64)
		if err != nil {
			return operand{value: Error(ErrorValue)}
		}
		return operand{value: Number(n)}
	case efp.TokenSubTypeText:
		return operand{value: String(token.TValue)}
	case efp.TokenSubTypeLogical:
		return operand{value: Bool(strings.EqualFold(token.TValue, "TRUE"))}
	case efp.TokenSubTypeError:
		return operand{value: literalValue(token.TValue)}
	}
	ref, ok := parseOperand(token.TValue)
	if !ok {
		return operand{value: Error(ErrorRef)}
	}
	return p.target(ref.target())
}

func (p *tokenEval) target(target Target) operand {
	switch target.Kind() {
	case TargetCell:
		return operand{value: p.ctx.Value(target.Cell())}
	case TargetRange:
		var list []Value
		for _, cv := range p.ctx.RangeValues(target.Range()) {
			list = append(list, cv.Value)
		}
		return operand{list: list, isList: true}
	case TargetLabel:
		bound, ok := p.ctx.Label(target.Label())
		if !ok {
			return operand{value: Error(ErrorName)}
		}
		return p.target(bound)
	}
	return operand{value: Error(ErrorRef)}
}

// testEngine bundles an engine with its counting evaluator.
type testEngine struct {
	*Engine
	eval *countingEvaluator
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	eval := newCountingEvaluator()
	cfg := DefaultConfig()
	cfg.TracingEnabled = false
	e, err := NewEngine(Dependencies{Evaluator: eval, Logger: discardLogger()}, cfg)
	require.NoError(t, err)
	return &testEngine{Engine: e, eval: eval}
}

func (te *testEngine) set(t *testing.T, name, formula string) Delta {
	t.Helper()
	delta, err := te.SaveCell(context.Background(), &Cell{Ref: MustCell(name), Formula: formula}, Immediate)
	require.NoError(t, err)
	return delta
}

func (te *testEngine) formula(t *testing.T, name string) string {
	t.Helper()
	cell, err := te.LoadCell(context.Background(), MustCell(name), SkipEvaluate)
	require.NoError(t, err)
	if cell == nil {
		return ""
	}
	return cell.Formula
}

func (te *testEngine) value(t *testing.T, name string) Value {
	t.Helper()
	cell, err := te.LoadCell(context.Background(), MustCell(name), SkipEvaluate)
	require.NoError(t, err)
	return valueOf(cell)
}

// assertConsistent checks that the edges match the stored formulas and
// that every cached range membership matches the grid.
func (te *testEngine) assertConsistent(t *testing.T) {
	t.Helper()
	refs, err := te.Cells().Refs()
	require.NoError(t, err)
	present := make(map[CellReference]bool)
	for _, ref := range refs {
		present[ref] = true
		cell, err := te.Cells().Load(ref)
		require.NoError(t, err)
		want := scanReferences(cell.Formula)
		slices.SortFunc(want, compareTargets)
		got := te.References().ReferencesFrom(ref)
		if len(want) == 0 {
			assert.Empty(t, got, "edges of %s", ref)
			continue
		}
		assert.Equal(t, want, got, "edges of %s", ref)
	}
	for _, source := range te.References().Sources() {
		assert.True(t, present[source], "edge source %s has no cell", source)
	}
	assert.NoError(t, te.References().VerifyMembership())
}
