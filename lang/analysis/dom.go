// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package analysis provides the per-method oracles the scheduler and the
// dependence classifier consume: dominance, reachability, liveness,
// reaching definitions, escapes and the method-wide dependence table.
//
// Every analysis works on an ir.Graph snapshot of a numbered method and
// must be rebuilt after the method is mutated.
package analysis

import (
	"github.com/probechain/probe-sched/lang/ir"
)

// DomTree is a dominator tree over the nodes of an ir.Graph. Nodes not
// reachable from the root have no immediate dominator and dominate nothing
// but themselves.
type DomTree struct {
	root     int
	idom     []int
	children [][]int
	in, out  []int
}

// newDomTree computes immediate dominators of the graph given by succ/pred
// rooted at root, using the iterative algorithm of Cooper, Harvey and
// Kennedy over a reverse postorder.
func newDomTree(root int, succ, pred [][]int) *DomTree {
	n := len(succ)
	order := postorder(root, succ)
	rpoNum := make([]int, n)
	for i := range rpoNum {
		rpoNum[i] = -1
	}
	for i, b := range order {
		rpoNum[b] = len(order) - 1 - i
	}

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[root] = root

	intersect := func(a, b int) int {
		for a != b {
			for rpoNum[a] > rpoNum[b] {
				a = idom[a]
			}
			for rpoNum[b] > rpoNum[a] {
				b = idom[b]
			}
		}
		return a
	}

	changed := true
	for changed {
		changed = false
		for i := len(order) - 1; i >= 0; i-- {
			b := order[i]
			if b == root {
				continue
			}
			newIdom := -1
			for _, p := range pred[b] {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	t := &DomTree{
		root:     root,
		idom:     idom,
		children: make([][]int, n),
		in:       make([]int, n),
		out:      make([]int, n),
	}
	for b, d := range idom {
		if d != -1 && b != root {
			t.children[d] = append(t.children[d], b)
		}
	}
	t.number()
	return t
}

// number assigns DFS entry/exit times so dominance queries are O(1).
func (t *DomTree) number() {
	for i := range t.in {
		t.in[i], t.out[i] = -1, -1
	}
	type frame struct{ node, next int }
	clock := 0
	stack := []frame{{t.root, 0}}
	t.in[t.root] = clock
	clock++
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(t.children[top.node]) {
			c := t.children[top.node][top.next]
			top.next++
			t.in[c] = clock
			clock++
			stack = append(stack, frame{c, 0})
			continue
		}
		t.out[top.node] = clock
		clock++
		stack = stack[:len(stack)-1]
	}
}

// postorder returns the nodes reachable from root in DFS postorder.
func postorder(root int, succ [][]int) []int {
	seen := make([]bool, len(succ))
	order := make([]int, 0, len(succ))
	type frame struct{ node, next int }
	stack := []frame{{root, 0}}
	seen[root] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(succ[top.node]) {
			s := succ[top.node][top.next]
			top.next++
			if !seen[s] {
				seen[s] = true
				stack = append(stack, frame{s, 0})
			}
			continue
		}
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}
	return order
}

// Dominates reports whether a dominates b. Dominance is reflexive.
func (t *DomTree) Dominates(a, b int) bool {
	if a == b {
		return true
	}
	if t.in[a] == -1 || t.in[b] == -1 {
		return false
	}
	return t.in[a] <= t.in[b] && t.out[b] <= t.out[a]
}

// IDom returns the immediate dominator of b, or -1 for the root and for
// unreachable nodes.
func (t *DomTree) IDom(b int) int {
	if b == t.root {
		return -1
	}
	return t.idom[b]
}

// Children returns the nodes immediately dominated by b.
func (t *DomTree) Children(b int) []int { return t.children[b] }

// Reachable reports whether b is reachable from the root.
func (t *DomTree) Reachable(b int) bool { return t.in[b] != -1 }

// Dominators bundles pre- and post-dominance of one method.
type Dominators struct {
	Pre  *DomTree
	Post *DomTree
}

// ComputeDominators builds the pre-dominator tree rooted at the first
// instruction and the post-dominator tree rooted at the exit node.
func ComputeDominators(g *ir.Graph) *Dominators {
	d := &Dominators{}
	if g.Size() == 1 {
		d.Pre = newDomTree(0, g.Succ, g.Pred)
		d.Post = d.Pre
		return d
	}
	d.Pre = newDomTree(0, g.Succ, g.Pred)
	d.Post = newDomTree(g.ExitID(), g.Pred, g.Succ)
	return d
}

// PreDominates reports whether every path from the entry to b passes a.
func (d *Dominators) PreDominates(a, b int) bool { return d.Pre.Dominates(a, b) }

// PostDominates reports whether every path from b to the exit passes a.
func (d *Dominators) PostDominates(a, b int) bool { return d.Post.Dominates(a, b) }

// ControlEquivalent reports whether a and b always execute together: a
// pre-dominates b and b post-dominates a.
func (d *Dominators) ControlEquivalent(a, b int) bool {
	return d.PreDominates(a, b) && d.PostDominates(b, a)
}
