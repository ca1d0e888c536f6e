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
	"github.com/probechain/probe-sched/log"
)

// request is one many-instruction move in flight.
type request struct {
	s            *Schedule
	dir          Direction
	insts        *bitset.Set // instructions asked for
	anchors      *bitset.Set
	region       *bitset.Set
	regionBlocks *bitset.Set
	log          log.Logger
}

func (s *Schedule) newRequest(insts, anchors *bitset.Set, dir Direction) (*request, error) {
	r := &request{s: s, dir: dir, insts: insts, anchors: anchors}
	r.log = s.log.New("dir", dir)
	region, err := s.regionFor(anchors, insts, dir)
	if err != nil {
		return nil, err
	}
	s.region = region
	r.region = region
	r.regionBlocks = s.blocksOf(region)
	return r, nil
}

// containsAnchor reports whether block pos holds one of the anchors.
func (r *request) containsAnchor(pos int) bool {
	b := r.s.info.Blocks.At(pos)
	for i := b.Start; i <= b.End; i++ {
		if r.anchors.Test(i) {
			return true
		}
	}
	return false
}

// instsToClone grows the requested instructions into the set that has to
// be duplicated for the move to keep the program's meaning.
func (r *request) instsToClone() *bitset.Set {
	c := r.insts.Copy()
	r.markBranchBlocks(c)
	if r.dir == Upwards {
		r.markBranchesLeavingRegion(c)
	}
	for changed := true; changed; {
		changed = r.markDependent(c)
		if r.markControlBranches(c) {
			changed = true
		}
	}
	return c
}

// markBranchBlocks pulls the region part of every block whose branch is
// cloned: a branch is never separated from the code deciding it.
func (r *request) markBranchBlocks(c *bitset.Set) {
	for _, i := range c.Slice() {
		if !r.s.inst(i).IsBranch() {
			continue
		}
		b := r.s.block(i)
		for k := b.Start; k <= b.End; k++ {
			if r.region.Test(k) {
				c.Set(k)
			}
		}
	}
}

// markBranchesLeavingRegion adds conditional branches that may leave the
// region before a cloned instruction is reached.
func (r *request) markBranchesLeavingRegion(c *bitset.Set) {
	s := r.s
	r.regionBlocks.Each(func(pos int) {
		end := s.info.Blocks.At(pos).End
		if !r.region.Test(end) || c.Test(end) || !s.inst(end).IsConditionalBranch() {
			return
		}
		leaves := false
		for _, succ := range s.succs(end) {
			if !r.region.Test(succ) {
				leaves = true
			}
		}
		if !leaves {
			return
		}
		reachesClone := false
		c.Each(func(i int) {
			if !reachesClone && s.reaches(end, i) {
				reachesClone = true
			}
		})
		if reachesClone {
			c.Set(end)
		}
	})
}

// markDependent adds region instructions that have a dependence with a
// cloned instruction they would otherwise be moved across. Paths may take
// back edges.
func (r *request) markDependent(c *bitset.Set) bool {
	s := r.s
	var add []int
	members := c.Slice()
	r.region.Each(func(j int) {
		if c.Test(j) {
			return
		}
		for _, i := range members {
			if !s.hasDep(i, j) {
				continue
			}
			if (r.dir == Upwards && s.reaches(j, i)) || (r.dir == Downwards && s.reaches(i, j)) {
				add = append(add, j)
				return
			}
		}
	})
	for _, j := range add {
		c.Set(j)
	}
	return len(add) > 0
}

// markControlBranches adds conditional branches deciding whether a block
// holding clones runs: the block does not post-dominate the branch.
func (r *request) markControlBranches(c *bitset.Set) bool {
	s := r.s
	cloneBlocks := s.blocksOf(c)
	changed := false
	r.regionBlocks.Each(func(pos int) {
		end := s.info.Blocks.At(pos).End
		if !r.region.Test(end) || c.Test(end) || !s.inst(end).IsConditionalBranch() {
			return
		}
		start := s.info.Blocks.At(pos).Start
		cloneBlocks.Each(func(cb int) {
			if c.Test(end) {
				return
			}
			b := s.info.Blocks.At(cb)
			if s.reaches(end, b.Start) && !s.info.Dom.PostDominates(b.Start, start) {
				c.Set(end)
				changed = true
			}
		})
	})
	return changed
}

// instsCantBeCloned returns the members of toClone that would pass an
// instruction staying in place they have a dependence with, closed over
// instructions passing those in turn.
func (r *request) instsCantBeCloned(toClone, toMove *bitset.Set) *bitset.Set {
	s := r.s
	out := s.newSet()
	blocks := func(i, j int) bool {
		if r.dir == Upwards {
			return s.reaches(i, j) && s.hasDep(i, j)
		}
		return s.reaches(j, i) && s.hasDep(j, i)
	}
	r.region.Each(func(i int) {
		if toMove.Test(i) {
			return
		}
		toClone.Each(func(j int) {
			if blocks(i, j) {
				out.Set(j)
			}
		})
	})
	for changed := true; changed; {
		changed = false
		for _, i := range out.Slice() {
			toClone.Each(func(j int) {
				if !out.Test(j) && blocks(i, j) {
					out.Set(j)
					changed = true
				}
			})
		}
	}
	return out
}

// ---- Instructions and blocks moved for good --------------------------------

// movable narrows the clone set to the instructions whose originals can
// be deleted, and returns them with the blocks moved as a whole.
func (r *request) movable(toMove *bitset.Set) (*bitset.Set, *bitset.Set) {
	s := r.s
	blocks := s.blocksOf(toMove)
	r.unmarkIncompleteBlocks(toMove, blocks)
	r.removeFallThroughBlocks(blocks)
	for changed := true; changed; {
		changed = r.syncInstsAndBlocks(toMove, blocks)
		if r.preventPassingUnmoved(toMove) {
			changed = true
		}
		if r.removeBranchBlocksWithUnmovedSuccessors(blocks) {
			changed = true
		}
		if r.removeBranchBlocksWithoutPostDominator(blocks) {
			changed = true
		}
	}
	// Labels of blocks that stay keep the branches into them valid.
	for _, k := range toMove.Slice() {
		if b := s.block(k); s.inst(k).IsLabel() && (b == nil || !blocks.Test(b.Pos)) {
			toMove.Clear(k)
		}
	}
	blocks.Each(func(pos int) {
		b := s.info.Blocks.At(pos)
		for k := b.Start; k <= b.End; k++ {
			toMove.Set(k)
		}
	})
	return toMove, blocks
}

func (r *request) unmarkIncompleteBlocks(toMove, blocks *bitset.Set) bool {
	changed := false
	for _, pos := range blocks.Slice() {
		b := r.s.info.Blocks.At(pos)
		for k := b.Start; k <= b.End; k++ {
			if !toMove.Test(k) && !isFiller(r.s.inst(k)) {
				blocks.Clear(pos)
				changed = true
				break
			}
		}
	}
	return changed
}

// removeFallThroughBlocks keeps in place blocks entered by falling through
// from a block that stays, and the entry block.
func (r *request) removeFallThroughBlocks(blocks *bitset.Set) {
	s := r.s
	for _, pos := range blocks.Slice() {
		b := s.info.Blocks.At(pos)
		if b.Start == 0 {
			blocks.Clear(pos)
			continue
		}
		for _, p := range s.preds(b.Start) {
			if blocks.Test(s.block(p).Pos) {
				continue
			}
			if !s.method.IsBranchTaken(s.inst(p), s.inst(b.Start)) {
				blocks.Clear(pos)
				break
			}
		}
	}
}

// syncInstsAndBlocks drops the branches of blocks that stay, and the
// blocks missing an instruction.
func (r *request) syncInstsAndBlocks(toMove, blocks *bitset.Set) bool {
	s := r.s
	changed := r.unmarkIncompleteBlocks(toMove, blocks)
	for _, b := range s.info.Blocks.List {
		if blocks.Test(b.Pos) {
			continue
		}
		if toMove.Test(b.End) && s.inst(b.End).IsBranch() {
			toMove.Clear(b.End)
			changed = true
		}
	}
	return changed
}

// preventPassingUnmoved keeps in place every instruction that would pass
// an instruction staying in place it has a dependence with.
func (r *request) preventPassingUnmoved(toMove *bitset.Set) bool {
	s := r.s
	changed := false
	r.region.Each(func(i int) {
		if toMove.Test(i) {
			return
		}
		for _, j := range toMove.Slice() {
			var passes bool
			if r.dir == Upwards {
				passes = s.reaches(i, j) && s.hasDep(i, j)
			} else {
				passes = s.reaches(j, i) && s.hasDep(j, i)
			}
			if passes {
				toMove.Clear(j)
				changed = true
			}
		}
	})
	return changed
}

// removeBranchBlocksWithUnmovedSuccessors keeps in place conditional
// branch blocks none of whose successors move.
func (r *request) removeBranchBlocksWithUnmovedSuccessors(blocks *bitset.Set) bool {
	s := r.s
	changed := false
	for _, pos := range blocks.Slice() {
		end := s.info.Blocks.At(pos).End
		if !s.inst(end).IsConditionalBranch() {
			continue
		}
		moved := false
		for _, succ := range s.succs(end) {
			if b := s.block(succ); b != nil && blocks.Test(b.Pos) {
				moved = true
			}
		}
		if !moved {
			blocks.Clear(pos)
			changed = true
		}
	}
	return changed
}

// removeBranchBlocksWithoutPostDominator keeps in place conditional branch
// blocks whose paths do not meet again in a block that stays, right after
// the moved blocks.
func (r *request) removeBranchBlocksWithoutPostDominator(blocks *bitset.Set) bool {
	s := r.s
	changed := false
	for _, pos := range blocks.Slice() {
		end := s.info.Blocks.At(pos).End
		if !s.inst(end).IsConditionalBranch() {
			continue
		}
		keep := false
		ipdom := s.info.Dom.Post.IDom(end)
		join := s.block(ipdom)
		switch {
		case ipdom < 0 || join == nil || blocks.Test(join.Pos) || !r.region.Test(ipdom):
			keep = true
		default:
			for _, succ := range s.succs(end) {
				sb := s.block(succ)
				if sb == nil || (sb != join && !blocks.Test(sb.Pos)) {
					keep = true
				}
			}
		}
		if keep {
			blocks.Clear(pos)
			changed = true
		}
	}
	return changed
}

// ---- Exported building blocks ----------------------------------------------

// InstsToClone returns the instructions that must be duplicated to move
// toMove next to the anchors in outer, in direction dir.
func (s *Schedule) InstsToClone(toMove, outer *bitset.Set, dir Direction) (*bitset.Set, error) {
	r, err := s.prepare(toMove, outer, dir)
	if err != nil {
		return nil, err
	}
	return r.instsToClone(), nil
}

// FilterCantBeMoved returns the members of toMove whose originals can be
// removed when moving them next to outer in direction dir.
func (s *Schedule) FilterCantBeMoved(toMove, outer *bitset.Set, dir Direction) (*bitset.Set, error) {
	r, err := s.prepare(toMove, outer, dir)
	if err != nil {
		return nil, err
	}
	moved, _ := r.movable(r.insts.Copy())
	return moved, nil
}

// InstsCantBeCloned returns the members of toClone that would pass an
// instruction with a dependence on them that neither moves nor is cloned.
func (s *Schedule) InstsCantBeCloned(toClone, toMove, outer *bitset.Set, dir Direction) (*bitset.Set, error) {
	r, err := s.prepare(toMove, outer, dir)
	if err != nil {
		return nil, err
	}
	c, err := s.normalize(toClone)
	if err != nil {
		return nil, err
	}
	return r.instsCantBeCloned(c, r.insts), nil
}

func (s *Schedule) prepare(toMove, outer *bitset.Set, dir Direction) (*request, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	insts, err := s.normalize(toMove)
	if err != nil {
		return nil, err
	}
	anchors, err := s.normalize(outer)
	if err != nil {
		return nil, err
	}
	if insts.Intersects(anchors) {
		return nil, reject(ErrOverlap, -1, "")
	}
	for _, i := range insts.Slice() {
		if s.inst(i).IsLabel() {
			return nil, reject(ErrBranch, i, "labels only move with their block")
		}
	}
	return s.newRequest(insts, anchors, dir)
}
