// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sched

import (
	"github.com/probechain/probe-sched/lang/ir"
)

// Everything in this file rewrites the method. It only runs once a move
// passed every gate, and works on instruction pointers since IDs go stale
// with the first insertion.

// splitEdge makes room for code on e and returns the instruction to insert
// after, nil for the start of the method. Code inserted there runs exactly
// when e is taken and then falls into what followed the insertion point.
func (s *Schedule) splitEdge(e *edge) *ir.Instruction {
	m := s.method
	pred, succ := e.pred, e.succ
	switch {
	case pred == nil:
		return nil

	case pred.Op == ir.OpBranch:
		// Only reached by falling into it: run the code just before.
		return m.Prev(pred)

	case pred.IsConditionalBranch() && m.BranchDestination(pred) == succ && m.FallThrough(pred) == succ:
		// Both ways lead to succ: send both through a fresh label.
		l := m.NewLabelAfter(pred)
		m.SubstituteLabel(pred, succ.Label(), l.Label())
		return l

	case m.IsBranchTaken(pred, succ):
		if prev := m.Prev(succ); prev != nil && m.FallThrough(prev) == succ {
			m.NewBranchToLabelAfter(succ, prev)
		}
		l := m.NewLabelBefore(succ)
		m.SubstituteLabel(pred, succ.Label(), l.Label())
		return l
	}
	return pred
}

// following returns the instruction placed right after entry.
func (s *Schedule) following(entry *ir.Instruction) *ir.Instruction {
	if entry == nil {
		return s.method.Insts[0]
	}
	return s.method.Next(entry)
}

// fallsInto reports whether control leaving inst by its fall-through
// arrives at dst, possibly through labels.
func (s *Schedule) fallsInto(inst, dst *ir.Instruction) bool {
	if inst.Op == ir.OpBranch || inst.Op == ir.OpReturn {
		return false
	}
	for n := s.method.Next(inst); n != nil; n = s.method.Next(n) {
		if n == dst {
			return true
		}
		if n.Op != ir.OpLabel {
			return false
		}
	}
	return false
}

// cloneOnEdge copies the edge's instructions, in order, onto the edge and
// wires their control flow: to the matching clone when the successor was
// cloned too, back to the code following the edge otherwise.
func (s *Schedule) cloneOnEdge(e *edge, orig map[int]*ir.Instruction, rels map[int]succRel, out Clones) {
	m := s.method
	entry := s.splitEdge(e)
	exit := s.following(entry)
	clones := make(map[int]*ir.Instruction, len(e.insts))
	prev := entry
	for _, id := range e.insts {
		c := m.CloneInstruction(orig[id])
		m.InsertAfter(c, prev)
		clones[id] = c
		out[id] = append(out[id], c)
		prev = c
	}
	// The first clone in layout must be the one executed first.
	if e.entry != e.insts[0] {
		m.NewBranchToLabelAfter(m.TargetLabel(clones[e.entry]), entry)
	}
	dest := func(id int) *ir.Instruction {
		if c, ok := clones[id]; ok {
			return c
		}
		return exit
	}
	for _, id := range e.insts {
		c, rel := clones[id], rels[id]
		if c.IsBranch() {
			m.SetBranchDestination(c, m.TargetLabel(dest(rel.target)))
			if !c.IsConditionalBranch() {
				continue
			}
		}
		if rel.fall == -1 {
			continue
		}
		if d := dest(rel.fall); !s.fallsInto(c, d) {
			m.NewBranchToLabelAfter(m.TargetLabel(d), c)
		}
	}
}

// applyPatches retargets branches staying in place, keeping the clone
// edges that started from them in sync.
func (s *Schedule) applyPatches(patches []*branchPatch, edges []*edge) {
	m := s.method
	retarget := func(pred, oldSucc, newPred, newSucc *ir.Instruction) {
		for _, e := range edges {
			if e.pred == pred && e.succ == oldSucc {
				if newPred != nil {
					e.pred = newPred
				}
				e.succ = newSucc
			}
		}
	}
	for _, p := range patches {
		if p.target != nil {
			old := m.BranchDestination(p.branch)
			label := m.TargetLabel(p.target)
			m.SetBranchDestination(p.branch, label)
			retarget(p.branch, old, nil, label)
		}
		if p.fall != nil {
			old := m.FallThrough(p.branch)
			label := m.TargetLabel(p.fall)
			br := m.NewBranchToLabelAfter(label, p.branch)
			retarget(p.branch, old, br, label)
		}
	}
}

// apply rewrites the method according to a validated plan.
func (s *Schedule) apply(p *plan) Clones {
	orig := make(map[int]*ir.Instruction, s.n)
	for id := 0; id < s.n; id++ {
		orig[id] = s.inst(id)
	}
	out := make(Clones)
	s.applyPatches(p.patches, p.edges)
	for _, e := range p.edges {
		s.cloneOnEdge(e, orig, p.succs, out)
	}
	for _, id := range p.toMove.Slice() {
		s.method.Delete(orig[id])
	}
	s.committed()
	return out
}
