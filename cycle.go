// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

// cycleDetector finds the formula cells lying on a reference cycle with
// Tarjan's strongly connected components algorithm, run iteratively over
// the precedent graph. Results are memoized for the lifetime of one
// operation.
type cycleDetector struct {
	precedents func(CellReference) []CellReference
	next       int
	index      map[CellReference]int
	low        map[CellReference]int
	onStack    map[CellReference]bool
	stack      []CellReference
	cyclic     map[CellReference]bool
}

func newCycleDetector(precedents func(CellReference) []CellReference) *cycleDetector {
	return &cycleDetector{
		precedents: precedents,
		index:      make(map[CellReference]int),
		low:        make(map[CellReference]int),
		onStack:    make(map[CellReference]bool),
		cyclic:     make(map[CellReference]bool),
	}
}

// onCycle reports whether the cell reads itself, directly or transitively.
func (d *cycleDetector) onCycle(ref CellReference) bool {
	if _, seen := d.index[ref]; !seen {
		d.visit(ref)
	}
	return d.cyclic[ref]
}

type tarjanFrame struct {
	ref  CellReference
	succ []CellReference
	i    int
}

func (d *cycleDetector) push(frames []tarjanFrame, ref CellReference) []tarjanFrame {
	d.index[ref], d.low[ref] = d.next, d.next
	d.next++
	d.stack = append(d.stack, ref)
	d.onStack[ref] = true
	return append(frames, tarjanFrame{ref: ref, succ: d.precedents(ref)})
}

func (d *cycleDetector) visit(root CellReference) {
	frames := d.push(nil, root)
	for len(frames) > 0 {
		top := &frames[len(frames)-1]
		if top.i < len(top.succ) {
			w := top.succ[top.i]
			top.i++
			if _, seen := d.index[w]; !seen {
				frames = d.push(frames, w)
			} else if d.onStack[w] {
				d.low[top.ref] = min(d.low[top.ref], d.index[w])
			}
			continue
		}
		v, succ := top.ref, top.succ
		frames = frames[:len(frames)-1]
		if len(frames) > 0 {
			parent := frames[len(frames)-1].ref
			d.low[parent] = min(d.low[parent], d.low[v])
		}
		if d.low[v] != d.index[v] {
			continue
		}
		var component []CellReference
		for {
			w := d.stack[len(d.stack)-1]
			d.stack = d.stack[:len(d.stack)-1]
			d.onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		selfLoop := false
		if len(component) == 1 {
			for _, w := range succ {
				if w == v {
					selfLoop = true
					break
				}
			}
		}
		if len(component) > 1 || selfLoop {
			for _, w := range component {
				d.cyclic[w] = true
			}
		}
	}
}
