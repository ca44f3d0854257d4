package recalc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCycleDetector(t *testing.T) {
	d := newCycleDetector(graphOf(map[string][]string{
		"A1": {"B1"},
		"B1": {"C1"},
		"C1": {"A1", "D1"},
		"D1": {"E1"},
		"F1": {"F1"},
		"G1": {"A1"},
	}))
	for name, want := range map[string]bool{
		"A1": true, "B1": true, "C1": true,
		"D1": false, "E1": false,
		"F1": true, "G1": false, "H1": false,
	} {
		assert.Equal(t, want, d.onCycle(MustCell(name)), name)
	}
}

func TestCycleDetectorDeepChain(t *testing.T) {
	const depth = 50000
	d := newCycleDetector(func(ref CellReference) []CellReference {
		if ref.Row < depth {
			return []CellReference{NewCellReference(1, ref.Row+1)}
		}
		return []CellReference{NewCellReference(1, 1)}
	})
	assert.True(t, d.onCycle(NewCellReference(1, depth/2)), fmt.Sprintf("chain of %d", depth))
	assert.True(t, d.onCycle(NewCellReference(1, 1)))
}
