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

// BodyStart returns the first loop instruction after the loop test: the
// in-loop successor of an exit that every back edge source
// post-dominates. The lowest such exit wins.
func (c *Context) BodyStart() (int, bool) {
	if c.bodyStart == nil {
		bs := c.findBodyStart()
		c.bodyStart = &bs
	}
	return *c.bodyStart, *c.bodyStart >= 0
}

func (c *Context) findBodyStart() int {
	for _, e := range c.Loop.Exits.Slice() {
		succ := -1
		for _, s := range c.Info.Graph.Succ[e] {
			if c.Loop.Contains(s) {
				succ = s
				break
			}
		}
		if succ < 0 {
			continue
		}
		ok := true
		for _, b := range c.Loop.BackEdgeSources() {
			if !c.post(b, succ) {
				ok = false
				break
			}
		}
		if ok {
			return succ
		}
	}
	return -1
}

// executesWithBody reports whether id runs on every iteration that enters
// the loop body, or on every iteration when the loop has no body start.
func (c *Context) executesWithBody(id int) bool {
	if bs, ok := c.BodyStart(); ok {
		return c.pre(id, bs)
	}
	return c.post(id, c.Loop.Header)
}

// RAWChain returns the instructions start transitively reads from inside
// the loop, start included, ordered so that every instruction comes before
// the ones it pre-dominates. The result is empty when any of them could
// not be recomputed privately by an iteration: it runs conditionally,
// touches memory that changes, calls out, allocates, escapes or sits in a
// nested loop.
func (c *Context) RAWChain(start int) []int {
	checked := []int{start}
	seen := bitset.New(c.numInsts())
	seen.Set(start)
	stack := []int{start}
	backs := c.Loop.BackEdgeSources()

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !c.pre(id, start) {
			return nil
		}
		if !c.post(start, id) && !c.executesWithBody(id) {
			return nil
		}
		for _, b := range backs {
			if !c.pre(id, b) {
				return nil
			}
			if !c.post(b, id) && !c.executesWithBody(id) {
				return nil
			}
		}
		inst := c.inst(id)
		if inst.IsAllocation() || inst.IsCall() || (inst.IsMemoryAccess() && !c.Loop.IsInvariantInst(id)) {
			return nil
		}
		if c.Info.Escapes.IsEscaped(inst.Def()) {
			return nil
		}
		deps := c.Info.Deps.From(id)
		if len(deps) == 0 {
			continue
		}
		if c.Loop.InSubLoop(id) {
			return nil
		}
		for _, d := range deps {
			if !c.Loop.Contains(d.Inst) {
				continue
			}
			if d.Type.IsMemory() {
				return nil
			}
			if d.Type.Has(analysis.DepRAW) && !seen.Test(d.Inst) {
				seen.Set(d.Inst)
				stack = append(stack, d.Inst)
				checked = append(checked, d.Inst)
			}
		}
	}

	var sorted []int
	for _, id := range checked {
		pos := len(sorted)
		for k, o := range sorted {
			if c.pre(id, o) {
				pos = k
				break
			}
		}
		sorted = append(sorted, 0)
		copy(sorted[pos+1:], sorted[pos:])
		sorted[pos] = id
	}
	return sorted
}

// orderedOnEveryIteration reports whether x and y execute together on
// every iteration, x first.
func (c *Context) orderedOnEveryIteration(x, y int) bool {
	if c.pre(x, y) {
		if !c.post(y, x) {
			return false
		}
		ok := true
		for _, b := range c.Loop.BackEdgeSources() {
			if !c.post(b, y) && !c.pre(y, b) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	bs, ok := c.BodyStart()
	if !ok {
		return false
	}
	return c.pre(x, bs) && c.pre(bs, y) && c.post(y, bs)
}

// localizable reports whether d only exists because one iteration hands a
// register value to the next, and that value could be recomputed locally
// instead. The variable is added to localized.
func (c *Context) localizable(d *Dependence, localized *bitset.Set) bool {
	if d.Type.IsMemory() {
		return false
	}
	user, def := d.Inst1, d.Inst2
	if !c.orderedOnEveryIteration(user, def) {
		if !c.orderedOnEveryIteration(def, user) {
			return false
		}
		user, def = def, user
	}
	v := c.inst(def).Def()
	if v < 0 || !c.inst(user).UsesVar(v) {
		return false
	}
	if !c.localizableDefinition(def) {
		return false
	}
	localized.Set(v)
	return true
}

func (c *Context) localizableDefinition(id int) bool {
	inst := c.inst(id)
	v := inst.Def()
	if v < 0 || inst.Result.Type == ir.TypeFloat {
		return false
	}
	if !inst.Op.IsMath() && inst.Op != ir.OpMove && inst.Op != ir.OpConv {
		return false
	}
	if c.Loop.IsInductionVar(v) {
		return false
	}
	return len(c.RAWChain(id)) > 0
}
