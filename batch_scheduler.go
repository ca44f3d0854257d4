// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import "slices"

// formulaNode represents a dirty formula cell in the dependency graph.
type formulaNode struct {
	ref          CellReference
	dependencies []CellReference // dirty cells this formula reads
	level        int             // 0 = reads no dirty cell, 1 = reads level 0, etc.
}

// dependencyGraph orders the cells marked for recompute in one operation so
// that every cell is evaluated after the dirty cells it reads.
type dependencyGraph struct {
	nodes  map[CellReference]*formulaNode
	levels [][]CellReference
}

// buildDependencyGraph builds the graph of the dirty cells. precedents
// returns the formula cells a cell reads; edges leaving the dirty set are
// dropped since those cells are already up to date. onCycle reports the
// cells lying on a reference cycle.
func buildDependencyGraph(dirty []CellReference, precedents func(CellReference) []CellReference, onCycle func(CellReference) bool) *dependencyGraph {
	g := &dependencyGraph{nodes: make(map[CellReference]*formulaNode, len(dirty))}
	for _, ref := range dirty {
		g.nodes[ref] = &formulaNode{ref: ref, level: -1}
	}
	for _, node := range g.nodes {
		for _, dep := range precedents(node.ref) {
			if _, ok := g.nodes[dep]; ok && dep != node.ref {
				node.dependencies = append(node.dependencies, dep)
			}
		}
	}
	g.assignLevels(onCycle)
	return g
}

// assignLevels places every node one level after its deepest dependency.
// Nodes that never become ready sit on or behind a cycle: the cycle members
// are settled together as the next level, then the cells reading them are
// leveled behind it.
func (g *dependencyGraph) assignLevels(onCycle func(CellReference) bool) {
	dependencyCount := make(map[CellReference]int, len(g.nodes))
	dependents := make(map[CellReference][]CellReference)
	var ready []CellReference
	for ref, node := range g.nodes {
		dependencyCount[ref] = len(node.dependencies)
		for _, dep := range node.dependencies {
			dependents[dep] = append(dependents[dep], ref)
		}
		if len(node.dependencies) == 0 {
			node.level = 0
			ready = append(ready, ref)
		}
	}
	g.release(ready, dependencyCount, dependents)

	var stuck, circularCells []CellReference
	for ref, count := range dependencyCount {
		if count > 0 {
			stuck = append(stuck, ref)
			if onCycle != nil && onCycle(ref) {
				circularCells = append(circularCells, ref)
			}
		}
	}
	if len(circularCells) == 0 {
		circularCells = stuck
	}
	if len(circularCells) > 0 {
		level := len(g.levels)
		for _, ref := range circularCells {
			dependencyCount[ref] = 0
			g.nodes[ref].level = level
		}
		g.levels = append(g.levels, circularCells)
		var next []CellReference
		for _, ref := range circularCells {
			for _, dependent := range dependents[ref] {
				if dependencyCount[dependent] == 0 {
					continue
				}
				node := g.nodes[dependent]
				node.level = max(node.level, level+1)
				if dependencyCount[dependent]--; dependencyCount[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		g.release(next, dependencyCount, dependents)
	}

	var rest []CellReference
	for ref, count := range dependencyCount {
		if count > 0 {
			g.nodes[ref].level = len(g.levels)
			rest = append(rest, ref)
		}
	}
	if len(rest) > 0 {
		g.levels = append(g.levels, rest)
	}
	for _, level := range g.levels {
		slices.SortFunc(level, CellReference.Compare)
	}
}

// release drains ready nodes in dependency order, appending each to its
// level and readying the dependents whose dependencies are all placed.
func (g *dependencyGraph) release(ready []CellReference, dependencyCount map[CellReference]int, dependents map[CellReference][]CellReference) {
	for len(ready) > 0 {
		ref := ready[0]
		ready = ready[1:]
		level := g.nodes[ref].level
		for len(g.levels) <= level {
			g.levels = append(g.levels, nil)
		}
		g.levels[level] = append(g.levels[level], ref)
		for _, dependent := range dependents[ref] {
			node := g.nodes[dependent]
			node.level = max(node.level, level+1)
			if dependencyCount[dependent]--; dependencyCount[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
}

// order returns the nodes level by level.
func (g *dependencyGraph) order() []CellReference {
	cells := make([]CellReference, 0, len(g.nodes))
	for _, level := range g.levels {
		cells = append(cells, level...)
	}
	return cells
}
