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

// CannotBeAlias reports whether v holds a private allocation: it is
// defined once, outside the loop, by an allocation or a call to malloc,
// and its value never escapes nor reaches a call.
func (c *Context) CannotBeAlias(v int) bool {
	if c.cannotBeAlias == nil {
		c.cannotBeAlias = c.computeCannotBeAlias()
	}
	return c.cannotBeAlias.Test(v)
}

func (c *Context) computeCannotBeAlias() *bitset.Set {
	n := c.numVars()
	set := bitset.New(n)
	passed := bitset.New(n)
	for _, inst := range c.Info.Method.Insts {
		if !inst.IsCall() {
			continue
		}
		for _, p := range inst.CallParams {
			if v := p.VarID(); v >= 0 {
				passed.Set(v)
			}
		}
	}
	for v := 0; v < n; v++ {
		defs := c.Info.Defs.DefsOf(v)
		if len(defs) != 1 || c.Loop.Contains(defs[0]) {
			continue
		}
		def := c.inst(defs[0])
		if !def.IsAllocation() && !(def.Op == ir.OpCall && def.CalleeName() == "malloc") {
			continue
		}
		if c.Info.Escapes.IsEscaped(v) || passed.Test(v) {
			continue
		}
		set.Set(v)
	}
	return set
}

// UniqueValueVars returns the variables whose value differs on every
// iteration of the loop.
func (c *Context) UniqueValueVars() *bitset.Set {
	if c.uniqueValue == nil {
		n := c.numVars()
		c.uniqueValue = bitset.New(n)
		for v := 0; v < n; v++ {
			defs := c.Loop.DefsWithin(v)
			if len(defs) == 0 {
				continue
			}
			ok := true
			for _, d := range defs {
				if !c.changesEveryIteration(v, d) {
					ok = false
					break
				}
			}
			if ok {
				c.uniqueValue.Set(v)
			}
		}
	}
	return c.uniqueValue
}

// UniqueValue reports whether v takes a new value on every iteration.
func (c *Context) UniqueValue(v int) bool { return c.UniqueValueVars().Test(v) }

func (c *Context) changesEveryIteration(v, id int) bool {
	def := c.inst(id)
	if !def.UsesVar(v) {
		if c.allocationDominatesUses(id) || c.freeDominatesBackEdges(id) {
			return true
		}
		return c.freedEveryIteration(v)
	}
	for _, b := range c.Loop.BackEdgeSources() {
		if !c.post(b, id) || !c.pre(id, b) {
			return false
		}
	}
	for _, u := range c.Loop.UsesWithin(v) {
		if !c.post(id, u) && !c.pre(u, id) {
			return false
		}
	}
	other := def.Params[0]
	if other.VarID() == v {
		other = def.Params[1]
	}
	switch def.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpLoadRel:
		return other.IsConst() || other.Kind == ir.KindSymbol
	}
	return false
}

func calls(inst *ir.Instruction, names ...string) bool {
	if !inst.IsCall() {
		return false
	}
	for _, n := range names {
		if inst.CalleeName() == n {
			return true
		}
	}
	return false
}

// allocationDominatesUses reports whether id allocates a fresh block and
// pre-dominates every loop use it reaches.
func (c *Context) allocationDominatesUses(id int) bool {
	def := c.inst(id)
	if !def.IsAllocation() && !calls(def, "malloc", "realloc") {
		return false
	}
	for _, u := range c.Loop.UsesWithin(def.Def()) {
		if c.Info.Defs.Reaches(id, u) && !c.pre(id, u) {
			return false
		}
	}
	return true
}

// freeDominatesBackEdges reports whether id releases memory on every
// iteration.
func (c *Context) freeDominatesBackEdges(id int) bool {
	def := c.inst(id)
	if !def.IsFree() && def.Op != ir.OpRealloc && !calls(def, "free", "realloc") {
		return false
	}
	return c.dominatesBackEdges(id)
}

// freedEveryIteration reports whether some free of v pre-dominates every
// back edge source.
func (c *Context) freedEveryIteration(v int) bool {
	for _, inst := range c.Info.Method.Insts {
		if inst.IsFree() && inst.UsesVar(v) && c.dominatesBackEdges(inst.ID) {
			return true
		}
	}
	return false
}

// CannotChange reports whether v holds the same value whenever the loop
// reads it: v does not escape and every loop definition computes it from
// variables that cannot change either, or takes an address.
func (c *Context) CannotChange(v int) bool {
	if c.cannotChange == nil {
		c.cannotChange = c.computeCannotChange()
	}
	return c.cannotChange.Test(v)
}

func (c *Context) computeCannotChange() *bitset.Set {
	n := c.numVars()
	set := bitset.New(n)
	for v := 0; v < n; v++ {
		if !c.Info.Escapes.IsEscaped(v) {
			set.Set(v)
		}
	}
	for changed := true; changed; {
		changed = false
		for v := 0; v < n; v++ {
			if set.Test(v) && !c.cannotChangeStep(v, set) {
				set.Clear(v)
				changed = true
			}
		}
	}
	return set
}

func (c *Context) cannotChangeStep(v int, set *bitset.Set) bool {
	for _, d := range c.Loop.DefsWithin(v) {
		def := c.inst(d)
		if def.IsMemoryAccess() || def.IsAllocation() || def.IsCall() {
			return false
		}
		if def.Op == ir.OpGetAddress {
			continue
		}
		for _, u := range def.Uses() {
			if !set.Test(u) {
				return false
			}
		}
	}
	return true
}

// MemoryLocations marks the variables used as load bases inside the loop:
// 1 when the loaded location is written in the loop, 2 when the base is
// also read by the writer.
func (c *Context) MemoryLocations() []int {
	if c.memLocs == nil {
		c.memLocs = c.computeMemoryLocations()
	}
	return c.memLocs
}

func (c *Context) computeMemoryLocations() []int {
	mem := make([]int, c.numVars())
	for _, id := range c.members() {
		inst := c.inst(id)
		switch inst.Op {
		case ir.OpLoadRel:
			b := inst.Params[0].VarID()
			if b < 0 {
				continue
			}
			for _, d := range c.Info.Deps.From(id) {
				if !c.Loop.Contains(d.Inst) || !d.Type.Has(analysis.DepMRAW) {
					continue
				}
				mem[b] = 1
				if c.inst(d.Inst).UsesVar(b) {
					mem[b] = 2
				}
				break
			}
		case ir.OpStoreRel:
			for _, d := range c.Info.Deps.To(id) {
				load := c.inst(d.Inst)
				if !c.Loop.Contains(d.Inst) || load.Op != ir.OpLoadRel {
					continue
				}
				b := load.Params[0].VarID()
				if b < 0 || mem[b] != 0 {
					continue
				}
				mem[b] = 1
				if inst.UsesVar(b) {
					mem[b] = 2
				}
			}
		}
	}
	return mem
}

// GrowsWithIterationCount reports whether v strictly increases from one
// iteration to the next: it is computed by additions, multiplications
// and copies of non-negative values from an induction variable. A nil
// memory map disables the test.
func (c *Context) GrowsWithIterationCount(v int, mem []int) bool {
	monotonic, strict := c.grows(v, mem)
	return monotonic && strict
}

func (c *Context) grows(v int, mem []int) (monotonic, strict bool) {
	if mem == nil || v < 0 {
		return false, false
	}
	analyzed := bitset.New(c.numVars())
	stack := []int{v}
	monotonic = true
	for len(stack) > 0 && monotonic {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		analyzed.Set(cur)
		if c.Loop.IsInductionVar(cur) {
			strict = true
			continue
		}
		for _, d := range c.Loop.DefsWithin(cur) {
			def := c.inst(d)
			if r := def.Def(); r >= 0 && (c.CannotChange(r) || c.Loop.IsInvariant(r)) {
				continue
			}
			switch def.Op {
			case ir.OpAdd, ir.OpMul, ir.OpMove:
			case ir.OpLoadRel:
				b := def.Params[0].VarID()
				if b >= 0 && mem[b] != 0 && b != v && !strict && c.cannotGrow(def.Params[0]) {
					monotonic = false
				}
			default:
				monotonic = false
			}
			if !monotonic {
				break
			}
			if def.Op == ir.OpAdd || def.Op == ir.OpMul {
				strict = true
			}
			for _, p := range def.Params {
				switch {
				case p.Kind == ir.KindConst && p.Value < 0, p.Kind == ir.KindFConst && p.Float < 0:
					monotonic = false
				case p.IsVar() && !analyzed.Test(p.VarID()):
					stack = append(stack, p.VarID())
				}
			}
			if !monotonic {
				break
			}
		}
	}
	return monotonic, strict
}

// cannotGrow reports whether the pointer loaded through may fail to
// advance with the iteration count.
func (c *Context) cannotGrow(b ir.Item) bool {
	if b.Type != ir.TypePtr {
		return true
	}
	defs := c.Loop.DefsWithin(b.VarID())
	switch len(defs) {
	case 0:
		return false
	case 1:
	default:
		return true
	}
	def := c.inst(defs[0])
	switch def.Op {
	case ir.OpAdd:
		if c.notArraySubscript(def.Params[0]) || c.notArraySubscript(def.Params[1]) {
			return true
		}
		fallthrough
	case ir.OpMul:
		return def.UsesVar(b.VarID())
	}
	return true
}

func (c *Context) notArraySubscript(it ir.Item) bool {
	if !it.IsVar() {
		return false
	}
	defs := c.Loop.DefsWithin(it.VarID())
	switch len(defs) {
	case 0:
		return false
	case 1:
		def := c.inst(defs[0])
		return def.Op == ir.OpLoadRel && def.Params[1].IsConst() &&
			c.hasLoopDependence(analysis.DepMRAW|analysis.DepMWAR)
	}
	return true
}

// hasLoopDependence reports whether two loop instructions depend on each
// other with every bit of t.
func (c *Context) hasLoopDependence(t analysis.DepType) bool {
	for _, id := range c.members() {
		for _, d := range c.Info.Deps.From(id) {
			if c.Loop.Contains(d.Inst) && d.Type.Has(t) {
				return true
			}
		}
	}
	return false
}

// HaveDifferentValuesAlways reports whether a and b are known to hold
// different values whenever both are read in the loop.
func (c *Context) HaveDifferentValuesAlways(a, b int) bool {
	if a == b {
		return false
	}
	return c.CannotChange(a) && c.CannotChange(b) && c.VariablesHaveDifferentValues(a, b)
}

// VariablesHaveDifferentValues reports whether the single definitions of
// a and b compute provably different values.
func (c *Context) VariablesHaveDifferentValues(a, b int) bool {
	return c.differ(a, b, make(map[pair]bool))
}

func (c *Context) differ(a, b int, seen map[pair]bool) bool {
	if seen[pair{a, b}] {
		return false
	}
	seen[pair{a, b}] = true
	d1, d2 := c.Info.Defs.DefsOf(a), c.Info.Defs.DefsOf(b)
	if len(d1) != 1 || len(d2) != 1 || d1[0] == d2[0] {
		return false
	}
	i1, i2 := c.inst(d1[0]), c.inst(d2[0])
	if i1.Op != i2.Op {
		return true
	}
	for k := range i1.Params {
		p1, p2 := i1.Params[k], i2.Params[k]
		switch {
		case p1 == p2:
		case p1.IsConst() && p2.IsConst():
			return true
		case p1.IsVar() && p2.IsVar():
			if p1.VarID() != p2.VarID() && c.differ(p1.VarID(), p2.VarID(), seen) {
				return true
			}
		}
	}
	return false
}
