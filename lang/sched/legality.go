// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sched

import (
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
)

// canMoveEarly runs the gates that only need the clone set. An
// unconditional branch anchor may be dropped from clone when moving up.
func (r *request) canMoveEarly(clone *bitset.Set) error {
	s := r.s
	var err error
	clone.Each(func(i int) {
		if err != nil || !r.anchors.Test(i) {
			return
		}
		if r.dir == Upwards && s.inst(i).Op == ir.OpBranch {
			clone.Clear(i)
			return
		}
		err = reject(ErrDependence, i, "anchor would have to be cloned")
	})
	if err != nil {
		return err
	}
	if !clone.SubsetOf(r.region) {
		out := clone.Copy()
		out.Subtract(r.region)
		return reject(ErrNoRegion, out.First(), "clone set leaves the region")
	}
	for _, i := range clone.Slice() {
		switch op := s.inst(i).Op; op {
		case ir.OpReturn, ir.OpExitNode:
			return reject(ErrBranch, i, "%s cannot be cloned", op)
		}
		for _, a := range r.anchors.Slice() {
			if s.hasDep(i, a) {
				return reject(ErrDependence, i, "depends on anchor %d", a)
			}
		}
	}
	memcpy := -1
	r.region.Each(func(i int) {
		if memcpy == -1 && s.inst(i).Op == ir.OpMemcpy {
			memcpy = i
		}
	})
	if memcpy != -1 {
		return reject(ErrMemcpy, memcpy, "")
	}
	if err := r.checkBranchesCanBePassed(clone, clone); err != nil {
		return err
	}
	if r.dir == Downwards {
		return r.checkClonesDontViolateOutsideDependences(clone)
	}
	return nil
}

// reachedWhenBranching returns what a branch is passed by: the code below
// it when moving up, above it when moving down.
func (r *request) reachedWhenBranching(branch int) *bitset.Set {
	if r.dir == Upwards {
		return r.s.reach([]int{branch}, Downwards)
	}
	up := r.s.reach([]int{branch}, Upwards)
	r.s.addWeakLoops(up)
	return up
}

// checkBranchesCanBePassed rejects the move when a region branch outside
// skip has a dependence with a member of check that would pass it.
func (r *request) checkBranchesCanBePassed(skip, check *bitset.Set) error {
	s := r.s
	for _, pos := range r.regionBlocks.Slice() {
		end := s.info.Blocks.At(pos).End
		if !r.region.Test(end) || skip.Test(end) || !s.inst(end).IsBranch() {
			continue
		}
		passed := r.reachedWhenBranching(end)
		passed.Intersect(check)
		for _, c := range passed.Slice() {
			if s.hasDep(end, c) {
				return reject(ErrBranch, end, "instruction %d cannot pass it", c)
			}
		}
	}
	return nil
}

// checkClonesDontViolateOutsideDependences guards paths entering the
// region from the side when moving down: such a path now runs the clones,
// so they must not overwrite a value live on it nor reorder a dependence
// with something executed before it.
func (r *request) checkClonesDontViolateOutsideDependences(clone *bitset.Set) error {
	s := r.s
	entry := s.PreDominator(r.region)
	priors := s.newSet()
	r.region.Each(func(i int) {
		if i == entry {
			return
		}
		for _, p := range s.preds(i) {
			if !r.region.Test(p) {
				priors.Set(p)
			}
		}
	})
	for _, c := range clone.Slice() {
		inst := s.inst(c)
		for _, p := range priors.Slice() {
			if d := inst.Def(); d >= 0 && s.info.Live.LiveOut(p, d) {
				return reject(ErrRedefinition, c, "v%d is live after %d", d, p)
			}
			before := s.info.Reach.To(p).Copy()
			before.Set(p)
			for _, x := range before.Slice() {
				if x < s.n && s.hasDep(c, x) && !s.info.Dom.PreDominates(x, c) {
					return reject(ErrDependence, c, "with %d on a path entering the region at %d", x, p)
				}
			}
		}
	}
	return nil
}

// canMoveFinally runs the gates that need the full plan.
func (r *request) canMoveFinally(clone, toMove *bitset.Set, plan *plan) error {
	s := r.s
	for _, i := range r.insts.Slice() {
		if !toMove.Test(i) {
			return reject(ErrNotMoved, i, "")
		}
	}
	for _, i := range toMove.Slice() {
		if !clone.Test(i) && !isFiller(s.inst(i)) {
			return reject(ErrNotMoved, i, "moved but not cloned")
		}
	}
	if !clone.SubsetOf(r.region) {
		return reject(ErrNoRegion, -1, "clone set leaves the region")
	}
	if err := r.checkBranchesCanBePassed(toMove, clone); err != nil {
		return err
	}
	if err := r.checkReexecution(clone, toMove); err != nil {
		return err
	}
	if err := r.cloningLoopInstsOnItsBackEdge(clone, plan.edges); err != nil {
		return err
	}
	if err := r.checkEdgesSurvive(toMove, plan); err != nil {
		return err
	}
	placed := s.newSet()
	for _, e := range plan.edges {
		for _, i := range e.insts {
			placed.Set(i)
		}
	}
	for _, i := range toMove.Slice() {
		if !placed.Test(i) && !isFiller(s.inst(i)) {
			return reject(ErrNotMoved, i, "no edge to clone it on")
		}
	}
	return nil
}

// checkReexecution rejects clones that also stay in place unless running
// them twice is harmless.
func (r *request) checkReexecution(clone, toMove *bitset.Set) error {
	s := r.s
	defs := make(map[int]bool)
	clone.Each(func(c int) {
		if d := s.inst(c).Def(); d >= 0 {
			defs[d] = true
		}
	})
	for _, i := range clone.Slice() {
		inst := s.inst(i)
		if toMove.Test(i) || isFiller(inst) || inst.IsBranch() {
			continue
		}
		if inst.WritesMemory() || inst.IsCall() || inst.IsAllocation() || inst.IsFree() {
			return reject(ErrDependence, i, "would run twice")
		}
		for _, u := range inst.Uses() {
			if defs[u] {
				return reject(ErrDependence, i, "would run twice on v%d", u)
			}
		}
	}
	return nil
}

// cloningLoopInstsOnItsBackEdge rejects any clone edge that is the back
// edge of a loop holding a cloned instruction.
func (r *request) cloningLoopInstsOnItsBackEdge(clone *bitset.Set, edges []*edge) error {
	for _, e := range edges {
		if e.pred == nil {
			continue
		}
		for _, l := range r.s.forest.Loops {
			for _, be := range l.BackEdges {
				if be.Pred == e.pred.ID && be.Succ == e.succ.ID && l.Insts.Intersects(clone) {
					return reject(ErrBackEdgeClone, e.pred.ID, "edge to %d", e.succ.ID)
				}
			}
		}
	}
	return nil
}

// checkEdgesSurvive rejects plans placing clones next to code that is
// deleted: an edge leaving a moved instruction, or entering one through a
// branch that is not retargeted.
func (r *request) checkEdgesSurvive(toMove *bitset.Set, plan *plan) error {
	patched := make(map[*ir.Instruction]bool, len(plan.patches))
	for _, p := range plan.patches {
		patched[p.branch] = true
	}
	for _, e := range plan.edges {
		if e.pred != nil && toMove.Test(e.pred.ID) {
			return reject(ErrSplitClones, e.pred.ID, "edge leaves a moved instruction")
		}
		if toMove.Test(e.succ.ID) && (e.pred == nil || !patched[e.pred]) {
			return reject(ErrSplitClones, e.succ.ID, "edge enters a moved instruction")
		}
	}
	return nil
}
