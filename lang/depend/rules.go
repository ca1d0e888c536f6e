// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package depend

import (
	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
)

// Verdict is the answer of a single loop-carried rule.
type Verdict int

const (
	Undecided Verdict = iota
	Carried
	NotCarried
)

func (v Verdict) String() string {
	switch v {
	case Carried:
		return "carried"
	case NotCarried:
		return "not-carried"
	}
	return "undecided"
}

// query is one question to the rule table: does dst, depending on src
// with type t, depend on an earlier iteration of src?
type query struct {
	ctx      *Context
	dst, src int
	t        analysis.DepType

	// correct tells that the method dependences were computed by this
	// package and can be trusted by the monotonic address rule.
	correct  bool
	mem      []int
	executed *bitset.Set
}

func (q *query) dstInst() *ir.Instruction { return q.ctx.inst(q.dst) }
func (q *query) srcInst() *ir.Instruction { return q.ctx.inst(q.src) }

type rule struct {
	name  string
	check func(q *query) Verdict
}

// rules are evaluated in order; the first decided verdict wins and an
// undecided query at the end is carried.
var rules = []rule{
	{"membership", ruleMembership},
	{"memory-overwrite", ruleMemoryOverwrite},
	{"dominating-definition", ruleDominatingDefinition},
	{"induction-variable", ruleInductionVariable},
	{"free", ruleFree},
	{"thread-safe", ruleThreadSafe},
	{"register-renaming", ruleRegisterRenaming},
	{"iteration-local", ruleIterationLocal},
	{"disjoint-bases", ruleDisjointBases},
	{"live-across", ruleLiveAcross},
	{"not-live-at-entry", ruleNotLiveAtEntry},
	{"monotonic-addresses", ruleMonotonicAddresses},
	{"unique-base", ruleUniqueBase},
	{"unique-call-argument", ruleUniqueCallArgument},
}

const fallbackRule = "default"

func ruleMembership(q *query) Verdict {
	l := q.ctx.Loop
	if !l.Contains(q.dst) || !l.Contains(q.src) {
		return NotCarried
	}
	if q.executed != nil && (!q.executed.Test(q.dst) || !q.executed.Test(q.src)) {
		return NotCarried
	}
	return Undecided
}

// ruleMemoryOverwrite: a pure memory read-after-write is not carried when
// the reader overwrites the location first, or the writer dominates it.
func ruleMemoryOverwrite(q *query) Verdict {
	if q.t != analysis.DepMRAW {
		return Undecided
	}
	if q.ctx.pre(q.src, q.dst) && isStoreLike(q.srcInst()) {
		return NotCarried
	}
	if isStoreLike(q.dstInst()) {
		return NotCarried
	}
	return Undecided
}

// ruleDominatingDefinition: a pure register read-after-write whose writer
// dominates the reader is satisfied within the iteration. With a profile,
// a value nobody reads afterwards cannot carry anything either.
func ruleDominatingDefinition(q *query) Verdict {
	if q.t != analysis.DepRAW {
		return Undecided
	}
	c := q.ctx
	if c.pre(q.src, q.dst) {
		return NotCarried
	}
	dst := q.dstInst()
	if q.executed == nil || dst.WritesMemory() {
		return Undecided
	}
	w := dst.Def()
	if w < 0 {
		return Undecided
	}
	reach := c.Info.Reach.From(q.dst)
	for r := reach.First(); r >= 0 && r < c.numInsts(); r = reach.Next(r + 1) {
		if q.executed.Test(r) && c.inst(r).UsesVar(w) {
			return Undecided
		}
	}
	return NotCarried
}

func ruleInductionVariable(q *query) Verdict {
	if q.t != analysis.DepRAW {
		return Undecided
	}
	v := q.srcInst().Def()
	if v >= 0 && q.ctx.Loop.IsInductionVar(v) && q.dstInst().UsesVar(v) {
		return Carried
	}
	return Undecided
}

// ruleFree: releasing a block allocated earlier in the same iteration
// does not interfere with other iterations.
func ruleFree(q *query) Verdict {
	c := q.ctx
	dst, src := q.dstInst(), q.srcInst()
	if !dst.IsFree() && !src.IsFree() {
		return Undecided
	}
	if q.dst == q.src || (dst.IsFree() && src.IsFree()) {
		return NotCarried
	}
	free := q.dst
	if !dst.IsFree() {
		free = q.src
	}
	v := c.inst(free).Params[0].VarID()
	if v < 0 {
		return Undecided
	}
	for _, d := range c.Loop.DefsWithin(v) {
		if !c.pre(d, free) || !c.inst(d).IsAllocation() {
			return Undecided
		}
	}
	return NotCarried
}

func ruleThreadSafe(q *query) Verdict {
	if q.ctx.threadSafeDependence(q.dst, q.src, q.t) {
		return Carried
	}
	return Undecided
}

// ruleRegisterRenaming: anti and output register dependences vanish once
// each iteration gets its own register, unless an instruction overwrites
// a value read after the loop.
func ruleRegisterRenaming(q *query) Verdict {
	if q.t&(analysis.DepRAW|analysis.DepMemory) != 0 {
		return Undecided
	}
	if q.t.Has(analysis.DepWAW) && q.src == q.dst && q.ctx.liveAtExit(q.src) {
		return Undecided
	}
	return NotCarried
}

func ruleIterationLocal(q *query) Verdict {
	c := q.ctx
	if q.t.IsMemory() || q.src == q.dst || c.inst(q.src).Def() < 0 {
		return Undecided
	}
	if c.liveAtEntry(q.src) && !c.liveAtExit(q.src) && c.pre(q.src, q.dst) {
		return NotCarried
	}
	return Undecided
}

// ruleDisjointBases: accesses through different private allocations, or
// through bases that provably differ, never meet.
func ruleDisjointBases(q *query) Verdict {
	if q.t.Has(analysis.DepRAW) {
		return Undecided
	}
	c := q.ctx
	b1, b2 := base(q.dstInst()), base(q.srcInst())
	if b1 < 0 || b2 < 0 || b1 == b2 {
		return Undecided
	}
	if c.CannotBeAlias(b1) || c.CannotBeAlias(b2) || c.HaveDifferentValuesAlways(b1, b2) {
		return NotCarried
	}
	return Undecided
}

func ruleLiveAcross(q *query) Verdict {
	c := q.ctx
	v := q.srcInst().Def()
	if v < 0 || !q.dstInst().UsesVar(v) || !q.t.Has(analysis.DepRAW) || q.t.IsMemory() || !c.liveAtEntry(q.src) {
		return Undecided
	}
	if c.Info.Defs.Reaches(q.src, q.dst) {
		return Carried
	}
	return NotCarried
}

func ruleNotLiveAtEntry(q *query) Verdict {
	if !q.t.IsMemory() && !q.ctx.liveAtEntry(q.src) {
		return NotCarried
	}
	return Undecided
}

// ruleMonotonicAddresses: two accesses whose bases grow strictly with the
// iteration count never touch a location of an earlier iteration.
func ruleMonotonicAddresses(q *query) Verdict {
	if !q.correct || q.t.IsRegister() {
		return Undecided
	}
	b1, b2 := base(q.dstInst()), base(q.srcInst())
	if b1 < 0 || b2 < 0 {
		return Undecided
	}
	c := q.ctx
	if c.GrowsWithIterationCount(b1, q.mem) && c.GrowsWithIterationCount(b2, q.mem) {
		return NotCarried
	}
	return Undecided
}

func ruleUniqueBase(q *query) Verdict {
	if q.t.IsRegister() {
		return Undecided
	}
	dst, src := q.dstInst(), q.srcInst()
	ok := func(inst *ir.Instruction) bool { return isLoadStore(inst) || inst.Op == ir.OpInitMemory }
	if !ok(dst) || !ok(src) {
		return Undecided
	}
	b := dst.Params[0].VarID()
	if b >= 0 && b == src.Params[0].VarID() && q.ctx.UniqueValue(b) {
		return NotCarried
	}
	return Undecided
}

// ruleUniqueCallArgument: a call and a memory access through a base that
// is fresh on every iteration.
func ruleUniqueCallArgument(q *query) Verdict {
	if q.t.IsRegister() {
		return Undecided
	}
	dst, src := q.dstInst(), q.srcInst()
	touches := func(inst *ir.Instruction) bool { return inst.IsMemoryAccess() || inst.IsCall() }
	if !touches(dst) || !touches(src) || dst.IsMemoryAccess() == src.IsMemoryAccess() {
		return Undecided
	}
	mem := dst
	if !mem.IsMemoryAccess() {
		mem = src
	}
	if b := mem.Params[0].VarID(); b >= 0 && q.ctx.UniqueValue(b) {
		return NotCarried
	}
	return Undecided
}

func (c *Context) decide(q *query) (bool, string) {
	for _, r := range rules {
		switch r.check(q) {
		case Carried:
			return true, r.name
		case NotCarried:
			return false, r.name
		}
	}
	return true, fallbackRule
}

// IsLoopCarried reports whether dst, depending on src with type t, may
// depend on an instance of src from an earlier iteration.
func (c *Context) IsLoopCarried(dst, src int, t analysis.DepType) bool {
	carried, _ := c.Explain(dst, src, t)
	return carried
}

// Explain is IsLoopCarried that also names the deciding rule.
func (c *Context) Explain(dst, src int, t analysis.DepType) (bool, string) {
	return c.decide(&query{
		ctx:      c,
		dst:      dst,
		src:      src,
		t:        t,
		correct:  true,
		mem:      c.MemoryLocations(),
		executed: c.executed,
	})
}
