// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package loops

import (
	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
)

// Induction describes an induction variable of a loop. A basic induction
// variable is only ever stepped by an invariant amount; a derived one is a
// linear function of another induction variable, defined once.
type Induction struct {
	Var    int
	Parent int // basic induction variable Var derives from, Var itself if basic
	Basic  bool
	Def    int // defining instruction of a derived variable, -1 if basic
}

// IsInvariant reports whether v keeps its value across the loop: every
// definition inside the loop, if any, is an invariant instruction.
func (l *Loop) IsInvariant(v int) bool {
	if v < 0 {
		return false
	}
	for _, d := range l.DefsWithin(v) {
		if !l.IsInvariantInst(d) {
			return false
		}
	}
	return true
}

func (l *Loop) invariantItem(it ir.Item) bool {
	switch it.Kind {
	case ir.KindVar:
		return l.IsInvariant(it.VarID())
	case ir.KindNone, ir.KindLabel:
		return false
	}
	return true
}

// IsInvariantInst reports whether instruction id computes the same value on
// every iteration.
func (l *Loop) IsInvariantInst(id int) bool {
	if l.invariant == nil {
		l.invariant = l.computeInvariants()
	}
	return l.invariant.Test(id)
}

func (l *Loop) computeInvariants() *bitset.Set {
	info := l.info
	inv := bitset.New(l.Insts.Len())
	writes := false
	l.Insts.Each(func(i int) {
		if i < info.NumInsts() && info.Inst(i).WritesMemory() {
			writes = true
		}
	})
	candidate := func(inst *ir.Instruction) bool {
		switch {
		case inst.IsBranch(), inst.IsLabel(), inst.IsCall(), inst.IsAllocation(),
			inst.Op == ir.OpReturn, inst.Op == ir.OpNop, inst.WritesMemory():
			return false
		case inst.ReadsMemory() && writes:
			return false
		}
		return inst.Def() >= 0 && len(l.DefsWithin(inst.Def())) == 1
	}
	for changed := true; changed; {
		changed = false
		l.Insts.Each(func(i int) {
			if inv.Test(i) || i >= info.NumInsts() {
				return
			}
			inst := info.Inst(i)
			if !candidate(inst) {
				return
			}
			for _, u := range inst.Uses() {
				defs := l.DefsWithin(u)
				if len(defs) == 0 {
					continue
				}
				if len(defs) > 1 || !inv.Test(defs[0]) || !info.Dom.PreDominates(defs[0], i) {
					return
				}
			}
			inv.Set(i)
			changed = true
		})
	}
	return inv
}

// InductionVars returns the induction variables of the loop keyed by
// variable ID.
func (l *Loop) InductionVars() map[int]*Induction {
	if l.inductions == nil {
		l.inductions = l.findInductions()
	}
	return l.inductions
}

// Induction returns the induction record of v, or nil.
func (l *Loop) Induction(v int) *Induction {
	if v < 0 {
		return nil
	}
	return l.InductionVars()[v]
}

// IsInductionVar reports whether v is an induction variable of the loop.
func (l *Loop) IsInductionVar(v int) bool { return l.Induction(v) != nil }

// SharedParent reports whether a and b are induction variables derived
// from the same basic induction variable.
func (l *Loop) SharedParent(a, b int) bool {
	ia, ib := l.Induction(a), l.Induction(b)
	return ia != nil && ib != nil && ia.Parent == ib.Parent
}

func (l *Loop) findInductions() map[int]*Induction {
	info := l.info
	out := make(map[int]*Induction)
	defined := definedVars(info, l)
	for _, v := range defined {
		if l.isBasic(v) {
			out[v] = &Induction{Var: v, Parent: v, Basic: true, Def: -1}
		}
	}
	for changed := true; changed; {
		changed = false
		for _, v := range defined {
			if out[v] != nil {
				continue
			}
			defs := l.DefsWithin(v)
			if len(defs) != 1 {
				continue
			}
			if parent, ok := l.derivedFrom(info.Inst(defs[0]), out); ok {
				out[v] = &Induction{Var: v, Parent: parent, Def: defs[0]}
				changed = true
			}
		}
	}
	return out
}

func definedVars(info *analysis.Info, l *Loop) []int {
	seen := make(map[int]bool)
	var out []int
	l.Insts.Each(func(i int) {
		if i >= info.NumInsts() {
			return
		}
		if d := info.Inst(i).Def(); d >= 0 && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	})
	return out
}

// isBasic reports whether every in-loop definition of v is v = v + c,
// v = c + v or v = v - c with c invariant.
func (l *Loop) isBasic(v int) bool {
	defs := l.DefsWithin(v)
	if len(defs) == 0 {
		return false
	}
	for _, d := range defs {
		inst := l.info.Inst(d)
		p0, p1 := inst.Params[0], inst.Params[1]
		switch inst.Op {
		case ir.OpAdd:
			if !(p0.VarID() == v && l.invariantItem(p1)) && !(p1.VarID() == v && l.invariantItem(p0)) {
				return false
			}
		case ir.OpSub:
			if p0.VarID() != v || !l.invariantItem(p1) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// derivedFrom reports whether inst computes a linear function of exactly
// one known induction variable, and returns that variable's parent.
func (l *Loop) derivedFrom(inst *ir.Instruction, known map[int]*Induction) (int, bool) {
	switch inst.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpShl, ir.OpMove, ir.OpConv:
	default:
		return 0, false
	}
	parent, found := -1, 0
	for _, p := range inst.Params {
		if p.Kind == ir.KindNone {
			continue
		}
		if ind := known[p.VarID()]; ind != nil && p.VarID() != inst.Def() {
			parent = ind.Parent
			found++
			continue
		}
		if !l.invariantItem(p) {
			return 0, false
		}
	}
	if found != 1 {
		return 0, false
	}
	if inst.Op == ir.OpShl && known[inst.Params[1].VarID()] != nil {
		return 0, false
	}
	return parent, true
}
