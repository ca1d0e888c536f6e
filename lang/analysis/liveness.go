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

// Liveness holds the variables live at the entry and at the exit of every
// instruction.
type Liveness struct {
	in, out []*bitset.Set
}

// ComputeLiveness runs the backward liveness dataflow over g.
func ComputeLiveness(g *ir.Graph) *Liveness {
	m := g.Method
	n, vars := g.Size(), m.NumVars()
	l := &Liveness{
		in:  make([]*bitset.Set, n),
		out: make([]*bitset.Set, n),
	}
	use := make([]*bitset.Set, n)
	for i := 0; i < n; i++ {
		l.in[i] = bitset.New(vars)
		l.out[i] = bitset.New(vars)
		use[i] = bitset.New(vars)
		if i == g.ExitID() {
			continue
		}
		for _, v := range m.Inst(i).Uses() {
			use[i].Set(v)
		}
	}
	tmp := bitset.New(vars)
	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			for _, s := range g.Succ[i] {
				if l.out[i].Union(l.in[s]) {
					changed = true
				}
			}
			tmp.Assign(l.out[i])
			if i != g.ExitID() {
				if d := m.Inst(i).Def(); d >= 0 {
					tmp.Clear(d)
				}
			}
			tmp.Union(use[i])
			if l.in[i].Union(tmp) {
				changed = true
			}
		}
	}
	return l
}

// LiveIn reports whether v is live on entry to instruction id.
func (l *Liveness) LiveIn(id, v int) bool {
	return v >= 0 && l.in[id].Test(v)
}

// LiveOut reports whether v is live on exit from instruction id.
func (l *Liveness) LiveOut(id, v int) bool {
	return v >= 0 && l.out[id].Test(v)
}

// In returns the live-in set of instruction id.
func (l *Liveness) In(id int) *bitset.Set { return l.in[id] }

// Out returns the live-out set of instruction id.
func (l *Liveness) Out(id int) *bitset.Set { return l.out[id] }
