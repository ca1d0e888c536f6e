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
	"github.com/probechain/probe-sched/lang/ir"
)

// DependencesWithinMethod returns every dependence of the method, one
// record per ordered pair, uncategorized.
func DependencesWithinMethod(info *analysis.Info) *List {
	l := NewList()
	for a := 0; a < info.NumInsts(); a++ {
		for _, d := range info.Deps.From(a) {
			l.Add(&Dependence{Inst1: a, Inst2: d.Inst, Type: d.Type, Category: AllDD})
		}
	}
	return l
}

// DependencesAcrossIterations returns the categorized loop-carried
// dependences of the loop. Each carried dependence is recorded in both
// directions.
func (c *Context) DependencesAcrossIterations() *List {
	l := NewList()
	mem := c.MemoryLocations()
	for _, id := range c.members() {
		for _, d := range c.Info.Deps.From(id) {
			q := &query{ctx: c, dst: id, src: d.Inst, t: d.Type, correct: true, mem: mem, executed: c.executed}
			if carried, why := c.decide(q); carried {
				c.log.Trace("Loop-carried dependence", "inst", id, "on", d.Inst, "type", d.Type, "rule", why)
				c.addDependence(l, id, d, true)
			}
		}
	}
	c.categorize(l, true, c.executed)
	c.log.Debug("Classified loop-carried dependences", "count", l.Len())
	return l
}

// DependencesWithinLoop returns the carried dependences together with the
// dependences between loop instructions inside one iteration. When
// carried is nil the loop-carried ones are computed first; otherwise the
// given list is copied and left untouched.
func (c *Context) DependencesWithinLoop(carried *List) *List {
	var l *List
	if carried == nil {
		l = c.DependencesAcrossIterations()
	} else {
		l = carried.Clone()
	}
	for _, id := range c.members() {
		if !c.ran(c.executed, id) {
			continue
		}
		for _, d := range c.Info.Deps.From(id) {
			if c.Loop.Contains(d.Inst) {
				c.addDependence(l, id, d, false)
			}
		}
	}
	c.categorize(l, false, nil)
	return l
}

// DependenceMap lists, per dependent instruction, the instructions it
// depends on grouped by dependence type.
type DependenceMap map[int]map[analysis.DepType][]int

// KeepOnlyLoopCarried removes from deps every entry that is not carried
// across iterations. The entries are not assumed to come from this
// package, so the monotonic address rule stays off.
func (c *Context) KeepOnlyLoopCarried(deps DependenceMap) {
	for dst, byType := range deps {
		for t, srcs := range byType {
			kept := srcs[:0]
			for _, src := range srcs {
				q := &query{ctx: c, dst: dst, src: src, t: t}
				if carried, _ := c.decide(q); carried {
					kept = append(kept, src)
				}
			}
			if len(kept) == 0 {
				delete(byType, t)
				continue
			}
			byType[t] = kept
		}
		if len(byType) == 0 {
			delete(deps, dst)
		}
	}
}

// addDependence records that id depends on d.Inst. Register dependences
// are stored with the reader first. When symmetric, the reverse record is
// added too, or refreshed if this one is based on an induction variable.
func (c *Context) addDependence(l *List, id int, d analysis.Dep, symmetric bool) {
	if l.DirectDependence(id, d.Inst) != nil {
		return
	}
	cur := &Dependence{
		Inst1:                         id,
		Inst2:                         d.Inst,
		Type:                          d.Type,
		Category:                      AllDD,
		OriginalInductiveVarID:        -1,
		OriginalDerivedInductiveVarID: -1,
	}
	loop := c.Loop
	if !d.Type.IsMemory() {
		v := c.inst(d.Inst).Def()
		if !c.inst(id).UsesVar(v) {
			cur.Inst1, cur.Inst2 = cur.Inst2, cur.Inst1
			v = c.inst(id).Def()
		}
		if ind := loop.Induction(v); ind != nil {
			if d.Type&(analysis.DepRAW|analysis.DepWAR) != 0 || (d.Type.Has(analysis.DepWAW) && d.Inst == id) {
				cur.BasedOnInductiveVar = true
				cur.OriginalInductiveVarID = v
				cur.OriginalDerivedInductiveVarID = ind.Parent
			}
		}
	}
	i1, i2 := c.inst(cur.Inst1), c.inst(cur.Inst2)
	if cur.Inst1 == cur.Inst2 && d.Type.Has(analysis.DepMWAW) && i1.Op == ir.OpStoreRel {
		if b := i1.Params[0].VarID(); loop.IsInductionVar(b) {
			cur.BasedOnInductiveVar = true
			cur.OriginalInductiveVarID = b
		}
	}
	if !cur.BasedOnInductiveVar && !d.Type.IsRegister() {
		b1, b2 := i1.Params[0].VarID(), i2.Params[0].VarID()
		if b1 >= 0 && b2 >= 0 && loop.SharedParent(b1, b2) {
			cur.BasedOnInductiveVar = true
			cur.OriginalInductiveVarID = b1
		}
	}
	if !l.Add(cur) {
		return
	}
	if !symmetric || cur.Inst1 == cur.Inst2 {
		return
	}
	rev := l.DirectDependence(cur.Inst2, cur.Inst1)
	switch {
	case rev == nil:
		l.Add(cur.swapped())
	case cur.BasedOnInductiveVar:
		l.replace(rev, cur.swapped())
	}
}
