// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package loops discovers the natural loops of a method and answers the
// per-loop questions the scheduler and the dependence classifier ask:
// membership, exits, back edges, invariants and induction variables.
package loops

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set"

	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
)

// Edge is a control-flow arc between two instructions.
type Edge struct {
	Pred int
	Succ int
}

func (e Edge) String() string { return fmt.Sprintf("(%d->%d)", e.Pred, e.Succ) }

// Loop is a natural loop. Insts and Exits are keyed by instruction ID and
// sized to the method graph, exit node included.
type Loop struct {
	Header    int
	Insts     *bitset.Set
	Exits     *bitset.Set
	BackEdges []Edge
	Parent    *Loop
	Children  []*Loop

	info       *analysis.Info
	inductions map[int]*Induction
	invariant  *bitset.Set // invariant instructions, computed lazily
}

// Info returns the analyses the loop was discovered with.
func (l *Loop) Info() *analysis.Info { return l.info }

// Contains reports whether instruction id belongs to the loop.
func (l *Loop) Contains(id int) bool { return l.Insts.Test(id) }

// Members returns the loop instructions in ascending ID order.
func (l *Loop) Members() []int { return l.Insts.Slice() }

// Size returns the number of loop instructions.
func (l *Loop) Size() int { return l.Insts.Count() }

// IsExit reports whether id leaves the loop on at least one edge.
func (l *Loop) IsExit(id int) bool { return l.Exits.Test(id) }

// BackEdgeSources returns the predecessor side of every back edge.
func (l *Loop) BackEdgeSources() []int {
	out := make([]int, 0, len(l.BackEdges))
	for _, e := range l.BackEdges {
		out = append(out, e.Pred)
	}
	return out
}

// Successors returns the instructions outside the loop that follow one of
// its exits, in ascending order. The exit node is never included.
func (l *Loop) Successors() []int {
	g := l.info.Graph
	seen := bitset.New(g.Size())
	l.Exits.Each(func(e int) {
		for _, s := range g.Succ[e] {
			if s != g.ExitID() && !l.Insts.Test(s) {
				seen.Set(s)
			}
		}
	})
	return seen.Slice()
}

// Predecessors returns the instructions outside the loop that jump or fall
// into one of its members.
func (l *Loop) Predecessors() []int {
	g := l.info.Graph
	seen := bitset.New(g.Size())
	l.Insts.Each(func(i int) {
		for _, p := range g.Pred[i] {
			if !l.Insts.Test(p) {
				seen.Set(p)
			}
		}
	})
	return seen.Slice()
}

// SubLoops returns every loop nested in l, at any depth.
func (l *Loop) SubLoops() []*Loop {
	var out []*Loop
	work := append([]*Loop(nil), l.Children...)
	for len(work) > 0 {
		c := work[0]
		work = work[1:]
		out = append(out, c)
		work = append(work, c.Children...)
	}
	return out
}

// InSubLoop reports whether id belongs to a loop nested in l.
func (l *Loop) InSubLoop(id int) bool {
	for _, c := range l.Children {
		if c.Contains(id) {
			return true
		}
	}
	return false
}

// Depth returns the nesting depth, outermost loops being at depth 1.
func (l *Loop) Depth() int {
	d := 1
	for p := l.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// DefsWithin returns the loop instructions that define v.
func (l *Loop) DefsWithin(v int) []int {
	var out []int
	for _, d := range l.info.Defs.DefsOf(v) {
		if l.Insts.Test(d) {
			out = append(out, d)
		}
	}
	return out
}

// UsesWithin returns the loop instructions that read v.
func (l *Loop) UsesWithin(v int) []int {
	if v < 0 {
		return nil
	}
	var out []int
	l.Insts.Each(func(i int) {
		if i < l.info.NumInsts() && l.info.Inst(i).UsesVar(v) {
			out = append(out, i)
		}
	})
	return out
}

func (l *Loop) String() string {
	return fmt.Sprintf("loop(header=%d insts=%v exits=%v backedges=%v)", l.Header, l.Insts, l.Exits, l.BackEdges)
}

// Forest is the set of loops of one method, ordered by header.
type Forest struct {
	Loops   []*Loop
	Edges   []Edge
	headers mapset.Set
}

// IsHeader reports whether id is the header of some loop.
func (f *Forest) IsHeader(id int) bool { return f.headers.Contains(id) }

// ByHeader returns the loop headed by id, or nil.
func (f *Forest) ByHeader(id int) *Loop {
	if !f.IsHeader(id) {
		return nil
	}
	for _, l := range f.Loops {
		if l.Header == id {
			return l
		}
	}
	return nil
}

// Innermost returns the smallest loop containing id, or nil.
func (f *Forest) Innermost(id int) *Loop {
	var best *Loop
	for _, l := range f.Loops {
		if l.Contains(id) && (best == nil || l.Size() < best.Size()) {
			best = l
		}
	}
	return best
}

// IsBackEdge reports whether pred->succ is a back edge of the method.
func (f *Forest) IsBackEdge(pred, succ int) bool {
	for _, e := range f.Edges {
		if e.Pred == pred && e.Succ == succ {
			return true
		}
	}
	return false
}

// Roots returns the outermost loops.
func (f *Forest) Roots() []*Loop {
	var out []*Loop
	for _, l := range f.Loops {
		if l.Parent == nil {
			out = append(out, l)
		}
	}
	return out
}

func isBackEdge(info *analysis.Info, pred, header int) bool {
	return info.Dom.PreDominates(header, pred) && info.Dom.PostDominates(header, pred)
}

// FindBackEdges returns the edges pred->H where H starts a block and
// both pre-dominates and post-dominates pred.
func FindBackEdges(info *analysis.Info) []Edge {
	var edges []Edge
	for _, b := range info.Blocks.List {
		for _, p := range info.Graph.Pred[b.Start] {
			if isBackEdge(info, p, b.Start) {
				edges = append(edges, Edge{Pred: p, Succ: b.Start})
			}
		}
	}
	return edges
}

func addBlock(set *bitset.Set, b *ir.Block) {
	for i := b.Start; i <= b.End; i++ {
		set.Set(i)
	}
}

// FindLoops discovers the loops of an analyzed method. One loop is grown
// per back edge, then loops sharing a header are merged and nested.
func FindLoops(info *analysis.Info) *Forest {
	var (
		n     = info.Graph.Size()
		bs    = info.Blocks
		edges = FindBackEdges(info)
		raw   []*Loop
	)
	for _, e := range edges {
		l := &Loop{
			Header:    e.Succ,
			Insts:     bitset.New(n),
			Exits:     bitset.New(n),
			BackEdges: []Edge{e},
			info:      info,
		}
		addBlock(l.Insts, bs.Of(e.Succ))
		addBlock(l.Insts, bs.Of(e.Pred))
		raw = append(raw, l)
	}
	for changed := true; changed; {
		changed = false
		for _, l := range raw {
			for _, c := range bs.List {
				if c.Start == l.Header || !l.Insts.Test(c.Start) {
					continue
				}
				for _, p := range info.Graph.Pred[c.Start] {
					pb := bs.Of(p)
					if l.Insts.Test(pb.Start) || !info.Dom.PreDominates(l.Header, p) {
						continue
					}
					addBlock(l.Insts, pb)
					changed = true
				}
			}
		}
	}
	for _, l := range raw {
		l.Exits = computeExits(info, l.Insts)
	}
	f := &Forest{Edges: edges, headers: mapset.NewSet()}
	for _, l := range raw {
		if m := f.ByHeader(l.Header); m != nil {
			merge(m, l)
			continue
		}
		f.headers.Add(l.Header)
		f.Loops = append(f.Loops, l)
	}
	sort.SliceStable(f.Loops, func(i, j int) bool { return f.Loops[i].Header < f.Loops[j].Header })
	nest(f.Loops)
	return f
}

func computeExits(info *analysis.Info, insts *bitset.Set) *bitset.Set {
	g := info.Graph
	exits := bitset.New(g.Size())
	insts.Each(func(i int) {
		for _, s := range g.Succ[i] {
			if s != g.ExitID() && !insts.Test(s) {
				exits.Set(i)
				break
			}
		}
	})
	return exits
}

// merge folds o into l. The exits are recomputed over the union: an exit of
// either loop whose outside successors all belong to the other one no
// longer leaves the merged loop.
func merge(l, o *Loop) {
	l.Insts.Union(o.Insts)
	l.Exits = computeExits(l.info, l.Insts)
	l.BackEdges = append(l.BackEdges, o.BackEdges...)
}

// nest links every loop to the smallest loop strictly containing it.
func nest(loops []*Loop) {
	for _, l := range loops {
		for _, o := range loops {
			if o == l || o.Insts.Equal(l.Insts) || !l.Insts.SubsetOf(o.Insts) {
				continue
			}
			if l.Parent == nil || o.Size() < l.Parent.Size() {
				l.Parent = o
			}
		}
	}
	for _, l := range loops {
		if l.Parent != nil {
			l.Parent.Children = append(l.Parent.Children, l)
		}
	}
}
