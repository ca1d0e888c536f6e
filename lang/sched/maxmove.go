// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sched

import (
	"fmt"

	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
	"github.com/probechain/probe-sched/lang/loops"
)

// MoveInstructionOnlyAsHighAsPossible hoists a single instruction right
// below the closest instructions it depends on, on every path, without
// moving anything else. The instruction is cloned where paths join.
func (s *Schedule) MoveInstructionOnlyAsHighAsPossible(id int) (Clones, error) {
	return s.maxMove(id, Upwards)
}

// MoveInstructionOnlyAsLowAsPossible sinks a single instruction right above
// the closest instructions depending on it, or the return, on every path.
func (s *Schedule) MoveInstructionOnlyAsLowAsPossible(id int) (Clones, error) {
	return s.maxMove(id, Downwards)
}

func (s *Schedule) maxMove(id int, dir Direction) (Clones, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if id < 0 || id >= s.n {
		return nil, fmt.Errorf("sched: instruction %d out of range [0,%d)", id, s.n)
	}
	mm := &maxMove{s: s, id: id, dir: dir}
	edges, err := mm.edges()
	if err != nil {
		return nil, s.rejected(err, "inst", id, "dir", dir)
	}
	s.log.Trace("Moving instruction", "inst", id, "dir", dir, "edges", edges)

	orig := s.inst(id)
	out := make(Clones)
	for _, e := range edges {
		entry := s.splitEdge(e)
		c := s.method.CloneInstruction(orig)
		s.method.InsertAfter(c, entry)
		out[id] = append(out[id], c)
	}
	s.method.Delete(orig)
	s.committed()
	return out, nil
}

// maxMove finds where a single instruction lands when moved as far as
// its dependences allow.
type maxMove struct {
	s   *Schedule
	id  int
	dir Direction

	region       *bitset.Set
	regionBlocks *bitset.Set
	depBlocks    *bitset.Set
	reached      *bitset.Set // blocks the instruction can be moved through
	wrapped      bool        // the reached blocks lead back into the own block
}

func (mm *maxMove) edges() ([]*edge, error) {
	s, id := mm.s, mm.id
	inst := s.inst(id)
	switch {
	case inst.IsBranch(), isFiller(inst), inst.Op == ir.OpReturn, inst.Op == ir.OpExitNode:
		return nil, reject(ErrBranch, id, "%s is not moved alone", inst.Op)
	case inst.Op == ir.OpMemcpy:
		return nil, reject(ErrMemcpy, id, "")
	}
	if !mm.worthIt() {
		return nil, reject(ErrNotWorthIt, id, "dependence with every neighbour")
	}
	mm.region = s.reach([]int{id}, mm.dir)
	if mm.dir == Upwards {
		s.addWeakLoops(mm.region)
	}
	s.region = mm.region
	mm.regionBlocks = s.blocksOf(mm.region)

	es := newEdgeSet()
	own := s.block(id)
	if k := mm.depIn(own); k != -1 {
		if mm.dir == Upwards {
			mm.add(es, k, k+1)
		} else {
			mm.add(es, k-1, k)
		}
	} else {
		mm.propagate()
		mm.collect(es)
		if mm.wrapped {
			if err := mm.checkCycle(own); err != nil {
				return nil, err
			}
		}
	}
	if len(es.list) == 0 || (len(es.list) == 1 && mm.inPlace(es.list[0])) {
		return nil, reject(ErrNotWorthIt, id, "already in place")
	}
	for _, e := range es.list {
		if e.pred != nil && s.isBackEdge(e.pred.ID, e.succ.ID) {
			return nil, reject(ErrBackEdgeClone, e.pred.ID, "edge to %d", e.succ.ID)
		}
	}
	return es.list, nil
}

// worthIt reports whether some neighbour in the move direction has no
// dependence with the instruction.
func (mm *maxMove) worthIt() bool {
	s := mm.s
	if mm.dir == Upwards {
		for _, p := range s.preds(mm.id) {
			if !s.hasDep(p, mm.id) {
				return true
			}
		}
		return false
	}
	for _, n := range s.succs(mm.id) {
		if n != s.exit() && !s.hasDep(mm.id, n) {
			return true
		}
	}
	return false
}

// isBarrier reports whether k stops the instruction. Moving down, returns
// stop it too.
func (mm *maxMove) isBarrier(k int) bool {
	if mm.s.hasDep(k, mm.id) {
		return true
	}
	return mm.dir == Downwards && mm.s.inst(k).Op == ir.OpReturn
}

// depIn returns the barrier of block b closest to the instruction on the
// side it comes from: the latest one moving up, the earliest moving down.
// Only the part of the instruction's own block it would cross is searched.
func (mm *maxMove) depIn(b *ir.Block) int {
	if mm.dir == Upwards {
		end := b.End
		if b.Contains(mm.id) {
			end = mm.id - 1
		}
		for k := end; k >= b.Start; k-- {
			if mm.isBarrier(k) {
				return k
			}
		}
		return -1
	}
	start := b.Start
	if b.Contains(mm.id) {
		start = mm.id + 1
	}
	for k := start; k <= b.End; k++ {
		if mm.isBarrier(k) {
			return k
		}
	}
	return -1
}

// unitOf returns the outermost loop holding id but not the moved
// instruction. Such loops are crossed as a whole or not at all.
func (mm *maxMove) unitOf(id int) *loops.Loop {
	var unit *loops.Loop
	for l := mm.s.forest.Innermost(id); l != nil && !l.Contains(mm.id); l = l.Parent {
		unit = l
	}
	return unit
}

// clear reports whether the instruction flows through block pos untouched.
func (mm *maxMove) clear(id int) bool {
	if id == mm.s.exit() {
		return false
	}
	b := mm.s.block(id)
	return b != nil && mm.regionBlocks.Test(b.Pos) && mm.reached.Test(b.Pos) && !mm.depBlocks.Test(b.Pos)
}

func (mm *maxMove) loopHasDep(l *loops.Loop) bool {
	bs := mm.s.info.Blocks
	found := false
	mm.depBlocks.Each(func(pos int) {
		if l.Contains(bs.At(pos).Start) {
			found = true
		}
	})
	return found
}

// propagate marks the blocks the instruction can be moved through: every
// path leaving a block in the move direction must carry the instruction
// without a dependence.
func (mm *maxMove) propagate() {
	s := mm.s
	bs := s.info.Blocks
	nb := bs.Len()
	mm.depBlocks = bitset.New(nb)
	mm.reached = bitset.New(nb)
	mm.regionBlocks.Each(func(pos int) {
		b := bs.At(pos)
		if b.Contains(mm.id) {
			mm.reached.Set(pos)
		}
		if mm.depIn(b) != -1 {
			mm.depBlocks.Set(pos)
		}
	})
	for changed := true; changed; {
		changed = false
		for i := 0; i < nb; i++ {
			pos := i
			if mm.dir == Upwards {
				pos = nb - 1 - i
			}
			if !mm.regionBlocks.Test(pos) || mm.reached.Test(pos) {
				continue
			}
			b := bs.At(pos)
			if l := mm.unitOf(b.Start); l != nil {
				if mm.loopHasDep(l) {
					continue
				}
				around := l.Successors()
				if mm.dir == Downwards {
					around = l.Predecessors()
				}
				if !mm.allClear(around) {
					continue
				}
				l.Insts.Each(func(k int) {
					if lb := s.block(k); lb != nil && !mm.reached.Test(lb.Pos) {
						mm.reached.Set(lb.Pos)
						changed = true
					}
				})
				continue
			}
			next := s.succs(b.End)
			if mm.dir == Downwards {
				next = s.preds(b.Start)
			}
			if len(next) > 0 && mm.allClear(next) {
				mm.reached.Set(pos)
				changed = true
			}
		}
	}
}

func (mm *maxMove) allClear(ids []int) bool {
	for _, id := range ids {
		if !mm.clear(id) {
			return false
		}
	}
	return true
}

// collect lists the edges the instruction is cloned on: right after the
// barrier of a reached block, or on the edges entering the reached area.
func (mm *maxMove) collect(es *edgeSet) {
	s := mm.s
	bs := s.info.Blocks
	own := s.block(mm.id)
	mm.regionBlocks.Each(func(pos int) {
		if !mm.reached.Test(pos) {
			return
		}
		b := bs.At(pos)
		inReached := func(id int) bool {
			blk := s.block(id)
			return mm.region.Test(id) && blk != nil && mm.reached.Test(blk.Pos)
		}
		if mm.dir == Upwards {
			if mm.depBlocks.Test(pos) {
				k := mm.depIn(b)
				for _, succ := range s.succs(k) {
					if mm.region.Test(succ) {
						mm.add(es, k, succ)
					}
				}
				return
			}
			preds := s.preds(b.Start)
			if len(preds) == 0 {
				mm.add(es, -1, b.Start)
			}
			for _, p := range preds {
				switch {
				case !inReached(p):
					mm.add(es, p, b.Start)
				case s.block(p) == own:
					mm.wrapped = true
				}
			}
			return
		}
		if mm.depBlocks.Test(pos) {
			k := mm.depIn(b)
			for _, p := range s.preds(k) {
				if mm.region.Test(p) {
					mm.add(es, p, k)
				}
			}
			return
		}
		for _, succ := range s.succs(b.End) {
			switch {
			case succ == s.exit():
			case !inReached(succ):
				mm.add(es, b.End, succ)
			case s.block(succ) == own:
				mm.wrapped = true
			}
		}
	})
}

// checkCycle is called when the reached blocks form a cycle through the
// instruction's own block without a back edge, as a bottom-tested loop
// does. The moved instruction then runs once instead of once per
// iteration, so it must compute the same value every time and have no
// side effect. The part of the own block it does not cross belongs to the
// cycle too and is searched for barriers as well.
func (mm *maxMove) checkCycle(own *ir.Block) error {
	s, id := mm.s, mm.id
	inst := s.inst(id)
	if inst.WritesMemory() || inst.IsCall() || inst.IsAllocation() || inst.IsFree() {
		return reject(ErrLoopBoundary, id, "%s would run once per cycle", inst.Op)
	}
	if d := inst.Def(); d >= 0 && inst.UsesVar(d) {
		return reject(ErrLoopBoundary, id, "v%d changes every iteration", d)
	}
	from, to := id+1, own.End
	if mm.dir == Downwards {
		from, to = own.Start, id-1
	}
	for k := from; k <= to; k++ {
		if !s.hasDep(k, id) {
			continue
		}
		// Later readers of the result see the same value once it is
		// computed ahead of the cycle.
		if mm.dir == Upwards && readsResultOnly(s.inst(k), inst) {
			continue
		}
		return reject(ErrLoopBoundary, id, "dependence with %d around the cycle", k)
	}
	return nil
}

// readsResultOnly reports whether the only dependence of k on inst is a
// use of the variable inst defines.
func readsResultOnly(k, inst *ir.Instruction) bool {
	d := inst.Def()
	if d < 0 || inst.IsMemoryAccess() || !k.UsesVar(d) || k.DefinesVar(d) {
		return false
	}
	for _, u := range inst.Uses() {
		if k.DefinesVar(u) {
			return false
		}
	}
	return true
}

// inPlace reports whether code placed on e runs right where the
// instruction already is.
func (mm *maxMove) inPlace(e *edge) bool {
	if mm.dir == Upwards {
		return e.succ.ID == mm.id
	}
	if e.pred == nil {
		return false
	}
	return e.pred.ID == mm.id || (e.pred.Op == ir.OpBranch && e.pred.ID == mm.id+1)
}

// add records edge pred->succ, a pred of -1 being the method entry. An edge
// into a label only reached this way is moved past the label.
func (mm *maxMove) add(es *edgeSet, pred, succ int) {
	s := mm.s
	want := 1
	if pred == -1 {
		want = 0
	}
	if s.inst(succ).Op == ir.OpLabel && len(s.preds(succ)) == want && len(s.succs(succ)) == 1 && s.succs(succ)[0] != s.exit() {
		pred, succ = succ, s.succs(succ)[0]
	}
	var p *ir.Instruction
	if pred != -1 {
		p = s.inst(pred)
	}
	es.add(p, s.inst(succ), []int{mm.id})
}
