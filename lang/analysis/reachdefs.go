// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package analysis

import (
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
)

// ReachingDefs holds, for every instruction, the definitions that reach its
// entry. Definitions are identified by the ID of the defining instruction.
type ReachingDefs struct {
	g      *ir.Graph
	in     []*bitset.Set
	defsOf map[int][]int
}

// ComputeReachingDefs runs the forward reaching-definitions dataflow over g.
func ComputeReachingDefs(g *ir.Graph) *ReachingDefs {
	m := g.Method
	n := g.Size()
	r := &ReachingDefs{
		g:      g,
		in:     make([]*bitset.Set, n),
		defsOf: make(map[int][]int),
	}
	for _, inst := range m.Insts {
		if d := inst.Def(); d >= 0 {
			r.defsOf[d] = append(r.defsOf[d], inst.ID)
		}
	}
	out := make([]*bitset.Set, n)
	for i := 0; i < n; i++ {
		r.in[i] = bitset.New(n)
		out[i] = bitset.New(n)
	}
	tmp := bitset.New(n)
	for changed := true; changed; {
		changed = false
		for i := 0; i < n; i++ {
			for _, p := range g.Pred[i] {
				r.in[i].Union(out[p])
			}
			tmp.Assign(r.in[i])
			if i != g.ExitID() {
				if d := m.Inst(i).Def(); d >= 0 {
					for _, k := range r.defsOf[d] {
						tmp.Clear(k)
					}
					tmp.Set(i)
				}
			}
			if out[i].Union(tmp) {
				changed = true
			}
		}
	}
	return r
}

// Reaching returns the definitions of v that reach the entry of instruction
// id, in program order.
func (r *ReachingDefs) Reaching(id, v int) []int {
	var defs []int
	for _, d := range r.defsOf[v] {
		if r.in[id].Test(d) {
			defs = append(defs, d)
		}
	}
	return defs
}

// Reaches reports whether the definition made by def reaches the entry of use.
func (r *ReachingDefs) Reaches(def, use int) bool {
	return r.in[use].Test(def)
}

// DefsOf returns every instruction of the method that defines v.
func (r *ReachingDefs) DefsOf(v int) []int { return r.defsOf[v] }
