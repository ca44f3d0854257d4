package recalc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modes = []PropagationMode{Immediate, Batch}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(Dependencies{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrParameterInvalid)

	cfg := DefaultConfig()
	cfg.MaxRows = 0
	_, err = NewEngine(Dependencies{Evaluator: newCountingEvaluator()}, cfg)
	assert.ErrorIs(t, err, ErrParameterInvalid)

	// tracing through the global provider
	e, err := NewEngine(Dependencies{Evaluator: newCountingEvaluator(), Logger: discardLogger()}, DefaultConfig())
	require.NoError(t, err)
	delta, err := e.SaveCell(context.Background(), &Cell{Ref: MustCell("A1"), Formula: "=1+2"}, Batch)
	require.NoError(t, err)
	cell, ok := delta.Cell(MustCell("A1"))
	require.True(t, ok)
	assert.Equal(t, Number(3), valueOf(&cell))
	_, err = e.SaveCell(context.Background(), nil, Batch)
	assert.ErrorIs(t, err, ErrNilCell)
	_, err = e.LoadCell(context.Background(), MustCell("A1"), EvaluationPolicy(7))
	assert.ErrorIs(t, err, ErrParameterInvalid)
}

func TestSaveCellPropagatesToDependents(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t)
			e.set(t, "B1", "1")
			e.set(t, "A1", "=B1*2")
			e.set(t, "A2", "=A1+B1")
			assert.Equal(t, Number(2), e.value(t, "A1"))
			assert.Equal(t, Number(3), e.value(t, "A2"))

			delta, err := e.SaveCell(context.Background(), &Cell{Ref: MustCell("B1"), Formula: "5"}, mode)
			require.NoError(t, err)
			assert.Equal(t, []CellReference{MustCell("A1"), MustCell("B1"), MustCell("A2")}, delta.Refs())
			cell, ok := delta.Cell(MustCell("A2"))
			require.True(t, ok)
			assert.Equal(t, Number(15), valueOf(&cell))
			assert.Equal(t, Number(10), e.value(t, "A1"))
			e.assertConsistent(t)
		})
	}
}

func TestSaveCellLiteralTypes(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "A1", "12.5")
	e.set(t, "A2", "true")
	e.set(t, "A3", "hello")
	e.set(t, "A4", "#N/A")
	assert.Equal(t, Number(12.5), e.value(t, "A1"))
	assert.Equal(t, Bool(true), e.value(t, "A2"))
	assert.Equal(t, String("hello"), e.value(t, "A3"))
	assert.Equal(t, Error(ErrorNA), e.value(t, "A4"))
}

func TestSaveCellReplacesEdges(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "A1", "=B1+C1")
	assert.Equal(t, []CellReference{MustCell("A1")}, e.References().ReferencesTo(CellTarget(MustCell("B1"))))

	e.set(t, "A1", "=D1")
	assert.Empty(t, e.References().ReferencesTo(CellTarget(MustCell("B1"))))
	assert.Empty(t, e.References().ReferencesTo(CellTarget(MustCell("C1"))))
	assert.Equal(t, []CellReference{MustCell("A1")}, e.References().ReferencesTo(CellTarget(MustCell("D1"))))

	e.set(t, "A1", "7")
	assert.False(t, e.References().IsSource(MustCell("A1")))
	e.assertConsistent(t)
}

func TestDuplicateMentionSingleEdge(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "B1", "2")
	e.set(t, "A1", "=B1+B1")
	assert.Equal(t, []CellReference{MustCell("A1")}, e.References().ReferencesTo(CellTarget(MustCell("B1"))))
	assert.Equal(t, []Target{CellTarget(MustCell("B1"))}, e.References().ReferencesFrom(MustCell("A1")))
	assert.Equal(t, Number(4), e.value(t, "A1"))
}

func TestDeleteCell(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t)
			e.set(t, "B1", "4")
			e.set(t, "B2", "6")
			e.set(t, "A1", "=SUM(B1:B2)")
			assert.Equal(t, Number(10), e.value(t, "A1"))

			delta, err := e.DeleteCell(context.Background(), MustCell("B2"), mode)
			require.NoError(t, err)
			assert.Equal(t, []CellReference{MustCell("A1"), MustCell("B2")}, delta.Refs())
			deleted, ok := delta.Cell(MustCell("B2"))
			require.True(t, ok)
			assert.True(t, deleted.IsBlank())
			assert.Equal(t, Number(4), e.value(t, "A1"))
			e.assertConsistent(t)

			delta, err = e.DeleteCell(context.Background(), MustCell("Z9"), mode)
			require.NoError(t, err)
			assert.Equal(t, 0, delta.Len())
		})
	}
}

func TestSaveBlankCellDeletes(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "B1", "3")
	e.set(t, "A1", "=B1+0")
	e.set(t, "B1", "")
	cell, err := e.LoadCell(context.Background(), MustCell("B1"), SkipEvaluate)
	require.NoError(t, err)
	assert.Nil(t, cell)
	assert.Equal(t, Number(0), e.value(t, "A1"))
}

func TestCyclicReference(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "A1", "=B1")
	e.set(t, "B1", "=A1")
	cell, err := e.LoadCell(context.Background(), MustCell("A1"), ForceRecompute)
	require.NoError(t, err)
	require.NotNil(t, cell)
	assert.Equal(t, Error(ErrorCycle), valueOf(cell))
	assert.Equal(t, Error(ErrorCycle), e.value(t, "B1"))

	t.Run("self reference", func(t *testing.T) {
		for _, mode := range modes {
			e := newTestEngine(t)
			_, err := e.SaveCell(context.Background(), &Cell{Ref: MustCell("C3"), Formula: "=C3+1"}, mode)
			require.NoError(t, err)
			assert.Equal(t, Error(ErrorCycle), e.value(t, "C3"))
		}
	})

	t.Run("cycle through a range", func(t *testing.T) {
		e := newTestEngine(t)
		e.set(t, "A1", "1")
		e.set(t, "A2", "=SUM(A1:A3)")
		assert.Equal(t, Error(ErrorCycle), e.value(t, "A2"))
		e.set(t, "A2", "=SUM(A1:A1)")
		assert.Equal(t, Number(1), e.value(t, "A2"))
	})

	t.Run("cell downstream of a cycle", func(t *testing.T) {
		for _, mode := range modes {
			e := newTestEngine(t)
			e.set(t, "A1", "=B1")
			e.set(t, "B1", "=A1")
			_, err := e.SaveCell(context.Background(), &Cell{Ref: MustCell("C1"), Formula: "=A1+1"}, mode)
			require.NoError(t, err)
			assert.Equal(t, Error(ErrorCycle), e.value(t, "C1"))
		}
	})

	t.Run("reader of a cycle closed by a save", func(t *testing.T) {
		deltas := make([]Delta, 0, len(modes))
		for _, mode := range modes {
			e := newTestEngine(t)
			e.set(t, "C5", "5")
			e.set(t, "B5", "=C5")
			e.set(t, "A1", "=B5")
			require.Equal(t, Number(5), e.value(t, "A1"))
			delta, err := e.SaveCell(context.Background(), &Cell{Ref: MustCell("C5"), Formula: "=B5"}, mode)
			require.NoError(t, err)
			for _, name := range []string{"A1", "B5", "C5"} {
				assert.Equal(t, Error(ErrorCycle), e.value(t, name), "%s in %s mode", name, mode)
			}
			deltas = append(deltas, delta)
		}
		assert.True(t, deltas[0].Equal(deltas[1]), "%s != %s", deltas[0], deltas[1])
	})
}

func TestLoadCellPolicies(t *testing.T) {
	cells := NewMemoryCellStore()
	require.NoError(t, cells.Save(&Cell{Ref: MustCell("A1"), Formula: "=B1+1"}))
	require.NoError(t, cells.Save(&Cell{Ref: MustCell("B1"), Formula: "=C1*2"}))
	require.NoError(t, cells.Save(&Cell{Ref: MustCell("C1"), Formula: "5"}))
	eval := newCountingEvaluator()
	cfg := DefaultConfig()
	cfg.TracingEnabled = false
	e, err := NewEngine(Dependencies{Cells: cells, Evaluator: eval, Logger: discardLogger()}, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Rebuild(context.Background()))
	ctx := context.Background()

	cell, err := e.LoadCell(ctx, MustCell("A1"), SkipEvaluate)
	require.NoError(t, err)
	assert.Nil(t, cell.Value)
	assert.Equal(t, 0, eval.Total())

	cell, err = e.LoadCell(ctx, MustCell("A1"), ComputeIfNecessary)
	require.NoError(t, err)
	assert.Equal(t, Number(11), valueOf(cell))
	assert.Equal(t, 2, eval.Total(), "A1 and its unevaluated precedent B1")

	cell, err = e.LoadCell(ctx, MustCell("A1"), ComputeIfNecessary)
	require.NoError(t, err)
	assert.Equal(t, Number(11), valueOf(cell))
	assert.Equal(t, 2, eval.Total(), "cached value is reused")

	cell, err = e.LoadCell(ctx, MustCell("A1"), ForceRecompute)
	require.NoError(t, err)
	assert.Equal(t, Number(11), valueOf(cell))
	assert.Equal(t, 3, eval.Total())

	cell, err = e.LoadCell(ctx, MustCell("Q7"), ComputeIfNecessary)
	require.NoError(t, err)
	assert.Nil(t, cell)

	_, err = e.LoadCell(ctx, CellReference{Col: 0, Row: 1}, SkipEvaluate)
	assert.ErrorIs(t, err, ErrColumnNumber)
}

func TestSyntaxErrorValue(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "A1", "=SUM(1")
	assert.Equal(t, Error(ErrorOther), e.value(t, "A1"))
	e.set(t, "A2", "=1+")
	assert.Equal(t, Error(ErrorOther), e.value(t, "A2"))
}

func TestDeleteColumnsBoundary(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t)
			for col := 1; col <= 7; col++ {
				name, _ := CoordinatesToCellName(col, 2)
				e.set(t, name, fmt.Sprint(col*10))
			}
			e.set(t, "A1", "=C2+D2+E2")
			e.set(t, "B1", "=F2")
			e.set(t, "H1", "=SUM(B2:G2)")

			_, err := e.DeleteColumnOrRow(context.Background(), Columns, 3, 2, mode)
			require.NoError(t, err)

			assert.Equal(t, "=#REF!+#REF!+C2", e.formula(t, "A1"))
			assert.Equal(t, Error(ErrorRef), e.value(t, "A1"))
			assert.Equal(t, "=D2", e.formula(t, "B1"), "index 6 moves to 4")
			assert.Equal(t, Number(60), e.value(t, "B1"))
			assert.Equal(t, "=SUM(B2:E2)", e.formula(t, "F1"))
			assert.Equal(t, Number(20+50+60+70), e.value(t, "F1"))
			assert.Equal(t, Number(50), e.value(t, "C2"))
			assert.Equal(t, "", e.formula(t, "H1"))
			assert.Equal(t, "", e.formula(t, "F2"))
			e.assertConsistent(t)
		})
	}
}

func TestDeleteRowsLabelScenario(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t)
			ctx := context.Background()
			e.set(t, "C10", "42")
			e.set(t, "C7", "1")
			_, err := e.SaveLabel(ctx, MustLabel("TOTAL"), CellTarget(MustCell("C10")), Immediate)
			require.NoError(t, err)
			_, err = e.SaveLabel(ctx, MustLabel("GONE"), CellTarget(MustCell("C7")), Immediate)
			require.NoError(t, err)
			e.set(t, "A1", "=TOTAL*2")
			e.set(t, "A2", "=GONE")
			assert.Equal(t, Number(84), e.value(t, "A1"))

			_, err = e.DeleteColumnOrRow(ctx, Rows, 5, 5, mode)
			require.NoError(t, err)

			target, ok, err := e.Labels().Load(MustLabel("TOTAL"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, CellTarget(MustCell("C5")), target)
			binding, ok := e.References().Binding(MustLabel("TOTAL"))
			require.True(t, ok)
			assert.Equal(t, target, binding)
			assert.Equal(t, Number(42), e.value(t, "C5"))
			assert.Equal(t, Number(84), e.value(t, "A1"))

			_, ok, err = e.Labels().Load(MustLabel("GONE"))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, Error(ErrorName), e.value(t, "A2"))
			assert.Equal(t, "=GONE", e.formula(t, "A2"))
			e.assertConsistent(t)
		})
	}
}

func TestInsertDeleteRoundTrip(t *testing.T) {
	for _, axis := range []Axis{Columns, Rows} {
		t.Run(axis.String(), func(t *testing.T) {
			e := newTestEngine(t)
			ctx := context.Background()
			e.set(t, "A1", "=E5+B2")
			e.set(t, "B2", "3")
			e.set(t, "E5", "4")
			e.set(t, "F6", "=SUM(B2:E5)+$E$5")
			e.set(t, "G1", "=SUM(A:B)")
			_, err := e.SaveLabel(ctx, MustLabel("TOTAL"), CellTarget(MustCell("E5")), Immediate)
			require.NoError(t, err)
			_, err = e.SaveLabel(ctx, MustLabel("BLOCK"), RangeTarget(MustRange("B2:E5")), Immediate)
			require.NoError(t, err)

			before := snapshot(t, e)
			beforeLabels := labelSnapshot(t, e)

			_, err = e.InsertColumnOrRow(ctx, axis, 3, 2, Batch)
			require.NoError(t, err)
			assert.NotEqual(t, before, snapshot(t, e))
			e.assertConsistent(t)

			_, err = e.DeleteColumnOrRow(ctx, axis, 3, 2, Batch)
			require.NoError(t, err)
			assert.Equal(t, before, snapshot(t, e))
			assert.Equal(t, beforeLabels, labelSnapshot(t, e))
			e.assertConsistent(t)
		})
	}
}

func TestInsertShiftsReferences(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "B1", "2")
	e.set(t, "A1", "=B1*$B$1")
	e.set(t, "A2", "=SUM(A1:C1)")
	_, err := e.InsertColumnOrRow(context.Background(), Columns, 2, 1, Immediate)
	require.NoError(t, err)
	assert.Equal(t, "=C1*$C$1", e.formula(t, "A1"))
	assert.Equal(t, "=SUM(A1:D1)", e.formula(t, "A2"))
	assert.Equal(t, Number(2), e.value(t, "C1"))
	assert.Equal(t, Number(4), e.value(t, "A1"))
	assert.Equal(t, Number(6), e.value(t, "A2"))
	e.assertConsistent(t)
}

func TestInsertKeepsFormulaText(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "B5", "=SUM('My Sheet'!A1:A3)+A1")
	e.set(t, "B6", "=SUM(A1:B2 B1:C3)")
	_, err := e.InsertColumnOrRow(context.Background(), Rows, 1, 1, Immediate)
	require.NoError(t, err)

	assert.Equal(t, "=SUM('My Sheet'!A1:A3)+A2", e.formula(t, "B6"))
	assert.Equal(t, []Target{CellTarget(MustCell("A2"))}, e.References().ReferencesFrom(MustCell("B6")))
	assert.Equal(t, "=SUM(A2:B3 B2:C4)", e.formula(t, "B7"))
	assert.Equal(t, []Target{RangeTarget(MustRange("A2:B3")), RangeTarget(MustRange("B2:C4"))},
		e.References().ReferencesFrom(MustCell("B7")))
	e.assertConsistent(t)
}

func TestInvalidTopologyArguments(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "A1", "1")
	ctx := context.Background()
	for _, count := range []int{0, -1} {
		_, err := e.DeleteColumnOrRow(ctx, Rows, 1, count, Immediate)
		assert.ErrorIs(t, err, ErrParameterInvalid)
		_, err = e.InsertColumnOrRow(ctx, Columns, 1, count, Batch)
		assert.ErrorIs(t, err, ErrParameterInvalid)
	}
	_, err := e.DeleteColumnOrRow(ctx, Rows, 0, 1, Immediate)
	assert.ErrorIs(t, err, ErrParameterInvalid)
	assert.Equal(t, Number(1), e.value(t, "A1"))

	delta, err := e.DeleteColumnOrRow(ctx, Rows, TotalRows+5, 3, Immediate)
	require.NoError(t, err)
	assert.Equal(t, 0, delta.Len())

	e.set(t, "B1048576", "9")
	_, err = e.InsertColumnOrRow(ctx, Rows, 10, 1, Immediate)
	assert.True(t, errors.Is(err, ErrMaxRows))
	assert.Equal(t, Number(9), e.value(t, "B1048576"))
}

func TestBatchEvaluatesAtMostOnce(t *testing.T) {
	build := func(t *testing.T) *testEngine {
		e := newTestEngine(t)
		for row := 1; row <= 100; row++ {
			e.set(t, fmt.Sprintf("B%d", row), fmt.Sprint(row))
			e.set(t, fmt.Sprintf("A%d", row), fmt.Sprintf("=B%d*2", row))
		}
		e.set(t, "C1", "=SUM(A1:A100)")
		e.eval.Reset()
		return e
	}
	immediate, batch := build(t), build(t)
	ctx := context.Background()

	immediateDelta, err := immediate.InsertColumnOrRow(ctx, Columns, 1, 1, Immediate)
	require.NoError(t, err)
	batchDelta, err := batch.InsertColumnOrRow(ctx, Columns, 1, 1, Batch)
	require.NoError(t, err)

	assert.Equal(t, immediateDelta.Refs(), batchDelta.Refs())
	assert.True(t, immediateDelta.Equal(batchDelta))
	assert.LessOrEqual(t, batch.eval.Total(), immediate.eval.Total())
	for row := 1; row <= 100; row++ {
		assert.LessOrEqual(t, batch.eval.Count(NewCellReference(2, row)), 1)
	}
	assert.Equal(t, 1, batch.eval.Count(MustCell("D1")))
	assert.Equal(t, Number(10100), batch.value(t, "D1"))
	assert.Equal(t, Number(10100), immediate.value(t, "D1"))
	batch.assertConsistent(t)
	immediate.assertConsistent(t)
}

func TestBatchSaveCellLevelOrder(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "A1", "1")
	e.set(t, "A2", "=A1+1")
	e.set(t, "A3", "=A2+A1")
	e.set(t, "A4", "=A3+A2+A1")
	e.eval.Reset()

	_, err := e.SaveCell(context.Background(), &Cell{Ref: MustCell("A1"), Formula: "10"}, Batch)
	require.NoError(t, err)
	assert.Equal(t, 3, e.eval.Total())
	assert.Equal(t, Number(11), e.value(t, "A2"))
	assert.Equal(t, Number(21), e.value(t, "A3"))
	assert.Equal(t, Number(42), e.value(t, "A4"))
}

func TestDeltaWindow(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "B1", "1")
	e.set(t, "A1", "=B1")
	e.set(t, "A5", "=B1")
	delta, err := e.SaveCell(context.Background(), &Cell{Ref: MustCell("B1"), Formula: "2"}, Batch,
		Options{Window: []RangeReference{MustRange("A1:A3")}})
	require.NoError(t, err)
	assert.Equal(t, []CellReference{MustCell("A1")}, delta.Refs())
	window, ok := delta.Window()
	assert.True(t, ok)
	assert.Equal(t, []RangeReference{MustRange("A1:A3")}, window)
}

func TestLabels(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t)
			ctx := context.Background()
			e.set(t, "B1", "4")
			e.set(t, "B2", "6")
			e.set(t, "A1", "=Total+1")
			assert.Equal(t, Error(ErrorName), e.value(t, "A1"))

			delta, err := e.SaveLabel(ctx, MustLabel("total"), CellTarget(MustCell("B1")), mode)
			require.NoError(t, err)
			assert.True(t, delta.Contains(MustCell("A1")))
			assert.Equal(t, Number(5), e.value(t, "A1"))

			// a change to the bound cell reaches formulas mentioning the label
			_, err = e.SaveCell(ctx, &Cell{Ref: MustCell("B1"), Formula: "9"}, mode)
			require.NoError(t, err)
			assert.Equal(t, Number(10), e.value(t, "A1"))

			_, err = e.SaveLabel(ctx, MustLabel("TOTAL"), RangeTarget(MustRange("B1:B2")), mode)
			require.NoError(t, err)
			e.set(t, "A2", "=SUM(TOTAL)")
			assert.Equal(t, Number(15), e.value(t, "A2"))

			_, err = e.DeleteLabel(ctx, MustLabel("TOTAL"), mode)
			require.NoError(t, err)
			assert.Equal(t, Error(ErrorName), e.value(t, "A1"))
			assert.Equal(t, Error(ErrorName), e.value(t, "A2"))
			e.assertConsistent(t)

			_, err = e.SaveLabel(ctx, MustLabel("X"), LabelTarget(MustLabel("Y")), mode)
			assert.ErrorIs(t, err, ErrLabelTarget)
		})
	}
}

func TestWholeColumnRange(t *testing.T) {
	e := newTestEngine(t)
	e.set(t, "B1", "1")
	e.set(t, "B5", "2")
	e.set(t, "A1", "=SUM(B:B)")
	assert.Equal(t, Number(3), e.value(t, "A1"))

	e.set(t, "B9", "4")
	assert.Equal(t, Number(7), e.value(t, "A1"))

	_, err := e.DeleteColumnOrRow(context.Background(), Rows, 5, 1, Batch)
	require.NoError(t, err)
	assert.Equal(t, "=SUM(B:B)", e.formula(t, "A1"))
	assert.Equal(t, Number(5), e.value(t, "A1"))
	e.assertConsistent(t)
}

func TestRebuild(t *testing.T) {
	cells := NewMemoryCellStore()
	labels := NewMemoryLabelStore()
	require.NoError(t, cells.Save(&Cell{Ref: MustCell("A1"), Formula: "=B1+PRICE"}))
	require.NoError(t, cells.Save(&Cell{Ref: MustCell("A2"), Formula: "=SUM(B1:B3)"}))
	require.NoError(t, cells.Save(&Cell{Ref: MustCell("B1"), Formula: "1"}))
	require.NoError(t, labels.Save(MustLabel("PRICE"), CellTarget(MustCell("C1"))))
	cfg := DefaultConfig()
	cfg.TracingEnabled = false
	e, err := NewEngine(Dependencies{Cells: cells, Labels: labels, Evaluator: newCountingEvaluator(), Logger: discardLogger()}, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Rebuild(context.Background()))

	refs := e.References()
	assert.Equal(t, []CellReference{MustCell("A1"), MustCell("A2")}, refs.Sources())
	assert.Equal(t, []CellReference{MustCell("A1"), MustCell("A2")}, refs.ReferencesTo(CellTarget(MustCell("B1"))))
	assert.Equal(t, []CellReference{MustCell("A1")}, refs.ReferencesTo(CellTarget(MustCell("C1"))))
}

// snapshot captures the formula text of every stored cell.
func snapshot(t *testing.T, e *testEngine) map[string]string {
	t.Helper()
	refs, err := e.Cells().Refs()
	require.NoError(t, err)
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		cell, err := e.Cells().Load(ref)
		require.NoError(t, err)
		out[ref.String()] = cell.Formula
	}
	return out
}

func labelSnapshot(t *testing.T, e *testEngine) map[LabelName]Target {
	t.Helper()
	names, err := e.Labels().Labels()
	require.NoError(t, err)
	out := make(map[LabelName]Target, len(names))
	for _, name := range names {
		target, _, err := e.Labels().Load(name)
		require.NoError(t, err)
		out[name] = target
	}
	return out
}
