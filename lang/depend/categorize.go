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

// categorizer classifies the records of one list. The unique-value and
// cannot-alias facts are only consulted when full is set.
type categorizer struct {
	ctx       *Context
	list      *List
	full      bool
	executed  *bitset.Set
	localized *bitset.Set
}

type category struct {
	cat   Category
	match func(k *categorizer, d *Dependence) bool
}

// categories are tried in order; the first match wins and a record no
// predicate claims needs a runtime check.
var categories = []category{
	{FalseMemoryManagement, (*categorizer).memoryManagement},
	{InputOutput, (*categorizer).inputOutput},
	{WAWRegisterReassociation, (*categorizer).wawReassociation},
	{MemoryWAWReassociation, (*categorizer).memoryWAWReassociation},
	{FalseEscapesMemory, (*categorizer).escapesMemory},
	{FalseInductiveVariable, func(_ *categorizer, d *Dependence) bool { return d.BasedOnInductiveVar }},
	{FalseRegisterReassociation, (*categorizer).integerReassociation},
	{FloatingPointRegisterReassociation, (*categorizer).reassociation},
	{FalseLocalizable, (*categorizer).localizable},
	{UniqueValuePerIteration, (*categorizer).uniqueValueSelf},
	{FalseUniqueValuePerIteration, (*categorizer).uniqueValue},
	{LibraryTrue, (*categorizer).library},
	{GlobalVariable, (*categorizer).globalVariable},
	{FalseMemoryRenaming, (*categorizer).memoryRenaming},
	{AlwaysTrue, (*categorizer).alwaysTrue},
}

func (k *categorizer) insts(d *Dependence) (*ir.Instruction, *ir.Instruction) {
	return k.ctx.inst(d.Inst1), k.ctx.inst(d.Inst2)
}

func (k *categorizer) memoryManagement(d *Dependence) bool {
	c := k.ctx
	return c.threadSafeDependence(d.Inst1, d.Inst2, d.Type) || c.threadSafeDependence(d.Inst2, d.Inst1, d.Type)
}

func (k *categorizer) inputOutput(d *Dependence) bool {
	i1, i2 := k.insts(d)
	return k.ctx.Config.IsInputOutput(i1) || k.ctx.Config.IsInputOutput(i2)
}

// wawReassociation: an instruction overwriting its own result, read only
// after the loop.
func (k *categorizer) wawReassociation(d *Dependence) bool {
	if d.Type&(analysis.DepRAW|analysis.DepMemory) != 0 || !d.Type.Has(analysis.DepWAW) || d.Inst1 != d.Inst2 {
		return false
	}
	c := k.ctx
	v := c.inst(d.Inst1).Def()
	return v >= 0 && c.liveAtExit(d.Inst1) && len(c.Loop.UsesWithin(v)) == 0
}

// memoryWAWReassociation: a store overwriting a private allocation.
func (k *categorizer) memoryWAWReassociation(d *Dependence) bool {
	if !k.full || d.Inst1 != d.Inst2 || d.Type&^analysis.DepMWAW != 0 {
		return false
	}
	v := k.ctx.inst(d.Inst1).Params[0].VarID()
	return v >= 0 && k.ctx.CannotBeAlias(v)
}

func (k *categorizer) escapesMemory(d *Dependence) bool {
	i1, i2 := k.insts(d)
	if i1.IsCall() || i2.IsCall() || d.Type.IsRegister() {
		return false
	}
	return k.escapes(i1, i2) || k.escapes(i2, i1)
}

// escapes reports whether x publishes an address other than the base y
// accesses memory through.
func (k *categorizer) escapes(x, y *ir.Instruction) bool {
	b := base(y)
	if b < 0 {
		return false
	}
	r := x.Def()
	switch x.Op {
	case ir.OpGetAddress:
		return r != b
	case ir.OpMove:
		if r == b || !k.ctx.Info.Escapes.IsEscaped(r) {
			return false
		}
		return x.Params[0].VarID() != b
	}
	return false
}

// reassociation: a chain of the same associative operation accumulating
// into one register.
func (k *categorizer) reassociation(d *Dependence) bool {
	if d.Type.IsMemory() || d.Type&(analysis.DepRAW|analysis.DepWAR) == 0 {
		return false
	}
	c := k.ctx
	i1 := c.inst(d.Inst1)
	switch i1.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor:
	default:
		return false
	}
	v := i1.Def()
	if v < 0 {
		return false
	}
	uses := c.Loop.UsesWithin(v)
	found := false
	for _, u := range uses {
		if u == d.Inst2 {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for _, u := range uses {
		if !c.ran(k.executed, u) || k.list.Dependence(d.Inst1, u) == nil || u == d.Inst1 {
			continue
		}
		if use := c.inst(u); use.Op != i1.Op || use.Def() != v {
			return false
		}
	}
	return true
}

func (k *categorizer) integerReassociation(d *Dependence) bool {
	return k.ctx.inst(d.Inst1).Result.Type != ir.TypeFloat && k.reassociation(d)
}

func (k *categorizer) localizable(d *Dependence) bool {
	return k.ctx.localizable(d, k.localized)
}

func (k *categorizer) uniqueValueSelf(d *Dependence) bool {
	return d.Inst1 == d.Inst2 && k.uniqueValue(d)
}

// uniqueValue: the register handed from one iteration to the next holds
// a fresh value every time.
func (k *categorizer) uniqueValue(d *Dependence) bool {
	if !k.full || !d.Type.Has(analysis.DepRAW) {
		return false
	}
	i1, i2 := k.insts(d)
	v := i2.Def()
	if v < 0 || !i1.UsesVar(v) {
		v = i1.Def()
		if v < 0 || !i2.UsesVar(v) {
			return false
		}
	}
	return k.ctx.UniqueValue(v)
}

func (k *categorizer) library(d *Dependence) bool {
	if d.Type.Has(analysis.DepRAW) {
		return false
	}
	i1, i2 := k.insts(d)
	return k.ctx.Config.IsLibraryCall(i1) || k.ctx.Config.IsLibraryCall(i2)
}

func (k *categorizer) globalVariable(d *Dependence) bool {
	i1, i2 := k.insts(d)
	if !d.Type.IsMemory() || (!i1.IsMemoryAccess() && !i2.IsMemoryAccess()) {
		return false
	}
	global := func(inst *ir.Instruction) bool {
		return isLoadStore(inst) && inst.Params[0].Kind == ir.KindSymbol
	}
	return global(i1) || global(i2)
}

// memoryRenaming: a store that the other access always follows, or two
// stores to the same place, can write to a private copy per iteration.
func (k *categorizer) memoryRenaming(d *Dependence) bool {
	i1, i2 := k.insts(d)
	s1, s2 := i1.Op == ir.OpStoreRel, i2.Op == ir.OpStoreRel
	switch {
	case !s1 && !s2:
		return false
	case s1 && !s2:
		return k.ctx.pre(d.Inst1, d.Inst2)
	case s2 && !s1:
		return k.ctx.pre(d.Inst2, d.Inst1)
	}
	if i1.Params[0] == i2.Params[0] && i1.Params[1] == i2.Params[1] {
		if b := i1.Params[0].VarID(); b >= 0 {
			return k.ctx.Loop.IsInvariant(b)
		}
	}
	return true
}

// alwaysTrue: two accesses to the same fixed location, or a register
// dependence nothing else explains.
func (k *categorizer) alwaysTrue(d *Dependence) bool {
	i1, i2 := k.insts(d)
	if i1.IsCall() || i2.IsCall() {
		return false
	}
	b1, o1, ok1 := i1.Address()
	b2, o2, ok2 := i2.Address()
	if ok1 && ok2 && !b1.IsVar() && !b2.IsVar() && !o1.IsVar() && !o2.IsVar() &&
		b1.SameLocation(b2) && o1.SameLocation(o2) {
		return true
	}
	return !d.Type.IsMemory()
}

func (k *categorizer) classify(d *Dependence) Category {
	for _, c := range categories {
		if c.match(k, d) {
			return c.cat
		}
	}
	return RuntimeCheckTrue
}

// Categorize assigns a category to every record of l. Records are reset
// first, so categorizing twice gives the same result.
func (c *Context) Categorize(l *List) {
	c.categorize(l, true, c.executed)
}

func (c *Context) categorize(l *List, full bool, executed *bitset.Set) {
	k := &categorizer{
		ctx:       c,
		list:      l,
		full:      full,
		executed:  executed,
		localized: bitset.New(c.numVars()),
	}
	for _, d := range l.All() {
		d.Category = AllDD
		d.Condition = Condition{}
	}
	for _, d := range l.All() {
		if d.Category != AllDD {
			continue
		}
		d.Category = k.classify(d)
		if d.Category == RuntimeCheckTrue {
			i1, i2 := k.insts(d)
			if isLoadStore(i1) && isLoadStore(i2) {
				d.Condition = Condition{Kind: MemoryAlias, Var1: i1.Params[0], Var2: i2.Params[0]}
			}
		}
	}
	k.spreadLocalized()
	k.dropLocalizedPairs()
}

// spreadLocalized marks as localized every variable computed from a
// localized one inside the loop.
func (k *categorizer) spreadLocalized() {
	c := k.ctx
	for changed := true; changed; {
		changed = false
		for _, v := range k.localized.Slice() {
			for _, u := range c.Loop.UsesWithin(v) {
				if r := c.inst(u).Def(); r >= 0 && !k.localized.Test(r) {
					k.localized.Set(r)
					changed = true
				}
			}
		}
	}
}

// dropLocalizedPairs removes the symmetric memory records between
// accesses through localized bases.
func (k *categorizer) dropLocalizedPairs() {
	c := k.ctx
	drop := make(map[*Dependence]bool)
	for _, d := range k.list.All() {
		if d.Category != FalseLocalizable || d.Type.IsRegister() || drop[d] {
			continue
		}
		i1, i2 := k.insts(d)
		if !i1.IsMemoryAccess() || !i2.IsMemoryAccess() {
			continue
		}
		b1, b2 := i1.Params[0].VarID(), i2.Params[0].VarID()
		if b1 < 0 || b2 < 0 || !k.localized.Test(b1) || !k.localized.Test(b2) {
			continue
		}
		sym := k.list.DirectDependence(d.Inst2, d.Inst1)
		if sym == nil || sym == d || sym.Category != FalseLocalizable {
			continue
		}
		drop[d], drop[sym] = true, true
	}
	if len(drop) > 0 {
		c.log.Trace("Dropping localized memory dependences", "count", len(drop))
		k.list.Remove(func(d *Dependence) bool { return drop[d] })
	}
}
