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
	"sort"

	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
)

// edge is a control-flow edge receiving clones. A nil pred stands for
// the entry of the method.
type edge struct {
	pred, succ *ir.Instruction
	insts      []int // original IDs cloned on the edge, ascending
	entry      int   // the member of insts executed first
}

func (e *edge) String() string {
	p := -1
	if e.pred != nil {
		p = e.pred.ID
	}
	return fmt.Sprintf("(%d->%d)%v", p, e.succ.ID, e.insts)
}

// edgeSet collects clone edges in insertion order, merging the
// instruction lists of repeated edges.
type edgeSet struct {
	list  []*edge
	index map[[2]*ir.Instruction]*edge
}

func newEdgeSet() *edgeSet {
	return &edgeSet{index: make(map[[2]*ir.Instruction]*edge)}
}

func (es *edgeSet) add(pred, succ *ir.Instruction, insts []int) {
	key := [2]*ir.Instruction{pred, succ}
	e := es.index[key]
	if e == nil {
		e = &edge{pred: pred, succ: succ, entry: -1}
		es.index[key] = e
		es.list = append(es.list, e)
	}
	e.insts = mergeSorted(e.insts, insts)
}

func mergeSorted(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, x := range append(append([]int(nil), a...), b...) {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	sort.Ints(out)
	return out
}

// succRel is where control goes after a cloned instruction, as original
// IDs: the branch target and the fall-through, -1 when absent.
type succRel struct {
	target int
	fall   int
}

// branchPatch retargets a branch that stays in place away from a block
// that moves. Nil fields are left alone.
type branchPatch struct {
	branch *ir.Instruction
	target *ir.Instruction
	fall   *ir.Instruction
}

// plan is a validated many-instruction move, ready to be applied.
type plan struct {
	clone   *bitset.Set
	toMove  *bitset.Set
	edges   []*edge
	succs   map[int]succRel
	patches []*branchPatch
}

// cloneLocations walks from every block holding clones to the edges
// entering the region, against the move direction. Blocks holding an
// anchor are left to anchorEdges.
func (r *request) cloneLocations(clone *bitset.Set, es *edgeSet) {
	s := r.s
	bs := s.info.Blocks
	anchorBlocks := s.blocksOf(r.anchors)
	s.blocksOf(clone).Each(func(pos int) {
		if anchorBlocks.Test(pos) {
			return
		}
		list := blockInsts(bs.At(pos), clone)
		seen := anchorBlocks.Copy()
		seen.Set(pos)
		work := []int{pos}
		for len(work) > 0 {
			cur := bs.At(work[0])
			work = work[1:]
			if r.dir == Upwards {
				if !r.region.Test(cur.Start) {
					if first := r.region.Next(cur.Start); first > cur.Start && first <= cur.End {
						es.add(s.inst(first-1), s.inst(first), list)
					}
					continue
				}
				preds := s.preds(cur.Start)
				if len(preds) == 0 {
					es.add(nil, s.inst(cur.Start), list)
				}
				for _, p := range preds {
					if !r.region.Test(p) {
						es.add(s.inst(p), s.inst(cur.Start), list)
						continue
					}
					if pb := s.block(p).Pos; !seen.Test(pb) {
						seen.Set(pb)
						work = append(work, pb)
					}
				}
				continue
			}
			if !r.region.Test(cur.End) {
				last := -1
				for k := cur.Start; k < cur.End; k++ {
					if r.region.Test(k) {
						last = k
					}
				}
				if last != -1 && !r.region.Test(last+1) {
					es.add(s.inst(last), s.inst(last+1), list)
				}
				continue
			}
			for _, succ := range s.succs(cur.End) {
				if succ == s.exit() {
					continue
				}
				if !r.region.Test(succ) {
					es.add(s.inst(cur.End), s.inst(succ), list)
					continue
				}
				if sb := s.block(succ).Pos; !seen.Test(sb) {
					seen.Set(sb)
					work = append(work, sb)
				}
			}
		}
	})
}

// anchorEdges places clones right next to the anchors: on the edges
// entering each anchor when moving up, leaving it when moving down.
func (r *request) anchorEdges(clone *bitset.Set, es *edgeSet) {
	s := r.s
	all := clone.Slice()
	for _, a := range r.anchors.Slice() {
		if r.dir == Downwards {
			for _, succ := range s.succs(a) {
				if succ != s.exit() {
					es.add(s.inst(a), s.inst(succ), all)
				}
			}
			continue
		}
		var list []int
		for _, c := range all {
			if s.reaches(a, c) {
				list = append(list, c)
			}
		}
		if len(list) == 0 {
			continue
		}
		preds := s.preds(a)
		if len(preds) == 0 {
			es.add(nil, s.inst(a), list)
		}
		for _, p := range preds {
			es.add(s.inst(p), s.inst(a), list)
		}
	}
}

// findEntries picks, for every edge, the clone reaching all the others.
func (r *request) findEntries(edges []*edge) error {
	s := r.s
	for _, e := range edges {
		e.entry = -1
		for _, x := range e.insts {
			all := true
			for _, y := range e.insts {
				if y != x && !s.reaches(x, y) {
					all = false
					break
				}
			}
			if all {
				e.entry = x
				break
			}
		}
		if e.entry == -1 {
			return reject(ErrSplitClones, -1, "no single entry among %v", e.insts)
		}
	}
	return nil
}

// skipMapping maps every block of skip to the first block outside skip
// all its successors lead to, only following successors inside the region
// when regionOnly is set. Blocks without a single such target stay
// unmapped.
func (r *request) skipMapping(skip *bitset.Set, regionOnly bool) (map[int]int, error) {
	s := r.s
	bs := s.info.Blocks
	mapping := make(map[int]int)
	for changed := true; changed; {
		changed = false
		for _, pos := range skip.Slice() {
			if _, ok := mapping[pos]; ok {
				continue
			}
			target, resolved := -1, true
			for _, succ := range s.succs(bs.At(pos).End) {
				if succ == s.exit() || (regionOnly && !r.region.Test(succ)) {
					continue
				}
				t := s.block(succ).Pos
				if skip.Test(t) {
					mt, ok := mapping[t]
					if !ok {
						resolved = false
						continue
					}
					t = mt
				}
				if target != -1 && target != t {
					return nil, reject(ErrSplitClones, bs.At(pos).End, "paths of a skipped block part ways")
				}
				target = t
			}
			if resolved && target != -1 {
				mapping[pos] = target
				changed = true
			}
		}
	}
	return mapping, nil
}

// succRelations works out where each clone continues. Blocks of the
// region without clones are skipped over.
func (r *request) succRelations(clone *bitset.Set) (map[int]succRel, error) {
	s := r.s
	bs := s.info.Blocks
	cloneBlocks := s.blocksOf(clone)
	skip := bitset.New(bs.Len())
	r.regionBlocks.Each(func(pos int) {
		if cloneBlocks.Test(pos) || r.containsAnchor(pos) {
			return
		}
		for _, succ := range s.succs(bs.At(pos).End) {
			if r.region.Test(succ) {
				skip.Set(pos)
				return
			}
		}
	})
	mapping, err := r.skipMapping(skip, true)
	if err != nil {
		return nil, err
	}
	resolve := func(id int) int {
		if id == s.exit() || !r.region.Test(id) {
			return id
		}
		from := id
		b := s.block(id)
		if t, ok := mapping[b.Pos]; ok {
			b = bs.At(t)
			from = b.Start
		}
		for k := from; k <= b.End; k++ {
			if clone.Test(k) {
				return k
			}
		}
		return from
	}
	rels := make(map[int]succRel)
	for _, c := range clone.Slice() {
		inst := s.inst(c)
		rel := succRel{target: -1, fall: -1}
		switch {
		case inst.IsBranch():
			rel.target = resolve(s.method.BranchDestination(inst).ID)
			if inst.IsConditionalBranch() {
				rel.fall = resolve(s.method.FallThrough(inst).ID)
			}
		case !r.region.Test(c + 1):
			rel.fall = c + 1
		default:
			b := s.block(c)
			for k := c + 1; k <= b.End; k++ {
				if clone.Test(k) {
					rel.fall = k
					break
				}
			}
			if rel.fall != -1 {
				break
			}
			end := s.inst(b.End)
			switch {
			case b.End == c:
				rel.fall = resolve(c + 1)
			case end.Op == ir.OpBranch:
				rel.fall = resolve(s.method.BranchDestination(end).ID)
			case end.IsConditionalBranch(), end.Op == ir.OpReturn:
				rel.fall = b.End
			default:
				rel.fall = resolve(b.End + 1)
			}
		}
		rels[c] = rel
	}
	return rels, nil
}

// branchPatches retargets branches of blocks that stay towards the blocks
// following the ones that move.
func (r *request) branchPatches(blocks *bitset.Set) ([]*branchPatch, error) {
	if blocks.Empty() {
		return nil, nil
	}
	s := r.s
	bs := s.info.Blocks
	mapping, err := r.skipMapping(blocks, false)
	if err != nil {
		return nil, err
	}
	var patches []*branchPatch
	for _, b := range bs.List {
		if blocks.Test(b.Pos) {
			continue
		}
		end := s.inst(b.End)
		var p *branchPatch
		for _, succ := range s.succs(b.End) {
			sb := s.block(succ)
			if sb == nil || !blocks.Test(sb.Pos) {
				continue
			}
			if !end.IsBranch() {
				return nil, reject(ErrBranch, b.End, "falls into moved block %d", sb.Pos)
			}
			t, ok := mapping[sb.Pos]
			if !ok {
				return nil, reject(ErrSplitClones, b.End, "moved block %d has no single successor", sb.Pos)
			}
			if p == nil {
				p = &branchPatch{branch: end}
			}
			to := s.inst(bs.At(t).Start)
			if s.method.BranchDestination(end) == s.inst(succ) {
				p.target = to
			} else {
				p.fall = to
			}
		}
		if p != nil {
			patches = append(patches, p)
		}
	}
	return patches, nil
}
