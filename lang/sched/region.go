// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sched

import (
	"errors"

	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/loops"
)

// reach walks the graph from every start, upwards through predecessors or
// downwards through successors, never crossing a back edge. The starts are
// part of the result. The exit node never is.
func (s *Schedule) reach(starts []int, dir Direction) *bitset.Set {
	seen := s.newSet()
	work := make([]int, 0, len(starts))
	for _, st := range starts {
		if st < s.n && !seen.Test(st) {
			seen.Set(st)
			work = append(work, st)
		}
	}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if dir == Upwards {
			for _, p := range s.preds(cur) {
				if !seen.Test(p) && !s.isBackEdge(p, cur) {
					seen.Set(p)
					work = append(work, p)
				}
			}
			continue
		}
		for _, n := range s.succs(cur) {
			if n != s.exit() && !seen.Test(n) && !s.isBackEdge(cur, n) {
				seen.Set(n)
				work = append(work, n)
			}
		}
	}
	return seen
}

// ReachedUpwardsNoBackEdge returns the instructions that reach start
// without crossing a back edge, start included.
func (s *Schedule) ReachedUpwardsNoBackEdge(start int) *bitset.Set {
	return s.reach([]int{start}, Upwards)
}

// ReachedDownwardsNoBackEdge returns the instructions start reaches
// without crossing a back edge, start included.
func (s *Schedule) ReachedDownwardsNoBackEdge(start int) *bitset.Set {
	return s.reach([]int{start}, Downwards)
}

// outsidePreds returns the predecessors of the loop header that are not
// loop members.
func outsidePreds(s *Schedule, l *loops.Loop) []int {
	var out []int
	for _, p := range s.preds(l.Header) {
		if !l.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

func anyIn(ids []int, set *bitset.Set) bool {
	for _, id := range ids {
		if set.Test(id) {
			return true
		}
	}
	return false
}

// addWeakLoops folds into region every loop whose header is a member, that
// is entered from a member and that leaves to a member. Upward walks stop
// at back edges, so loop bodies above a member are otherwise missed.
func (s *Schedule) addWeakLoops(region *bitset.Set) bool {
	grown := false
	for changed := true; changed; {
		changed = false
		for _, l := range s.forest.Loops {
			if !region.Test(l.Header) || l.Insts.SubsetOf(region) {
				continue
			}
			if !anyIn(outsidePreds(s, l), region) || !anyIn(l.Successors(), region) {
				continue
			}
			region.Union(l.Insts)
			region.Clear(s.exit())
			changed, grown = true, true
		}
	}
	return grown
}

// AddContainedLoops folds into region every loop whose header is a member
// entered from a member and whose every exit leads back into the region
// without crossing another back edge. The instructions linking the exits
// to the region are added with the loop. It reports whether region grew.
func (s *Schedule) AddContainedLoops(region *bitset.Set) bool {
	grown := false
	for changed := true; changed; {
		changed = false
		for _, l := range s.forest.Loops {
			if !region.Test(l.Header) || l.Insts.SubsetOf(region) {
				continue
			}
			if !anyIn(outsidePreds(s, l), region) {
				continue
			}
			up := s.reach(region.Slice(), Upwards)
			links := s.newSet()
			ok := true
			for _, succ := range l.Successors() {
				down := s.reach([]int{succ}, Downwards)
				if !down.Intersects(region) {
					ok = false
					break
				}
				down.Intersect(up)
				links.Union(down)
			}
			if !ok {
				continue
			}
			region.Union(l.Insts)
			region.Union(links)
			region.Clear(s.exit())
			changed, grown = true, true
		}
	}
	return grown
}

// RegionBetween returns the instructions lying between anchor and every
// member of insts, whichever side of the anchor they are on. With
// allowLoops, instructions only found inside a loop above the anchor are
// reported as ErrLoopBoundary rather than ErrNoRegion.
func (s *Schedule) RegionBetween(anchor int, insts *bitset.Set, allowLoops bool) (*bitset.Set, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	in, err := s.normalize(insts)
	if err != nil {
		return nil, err
	}
	if anchor < 0 || anchor >= s.n {
		return nil, reject(ErrNoRegion, anchor, "anchor out of range")
	}
	anchors := s.newSet()
	anchors.Set(anchor)
	region, err := s.regionFor(anchors, in, Upwards)
	if err != nil {
		region, err = s.regionFor(anchors, in, Downwards)
	}
	if err == nil {
		s.region = region
		return region, nil
	}
	if !allowLoops && errors.Is(err, ErrLoopBoundary) {
		err = reject(ErrNoRegion, -1, "instructions inside a loop above the anchor")
	}
	return nil, err
}

// regionFor computes the region of a move in direction dir. Moving
// upwards the instructions sit below the anchors, moving downwards above.
func (s *Schedule) regionFor(anchors, insts *bitset.Set, dir Direction) (*bitset.Set, error) {
	if insts.Empty() || anchors.Empty() {
		return nil, reject(ErrNoRegion, -1, "nothing to move or no anchor")
	}
	away, toward := Downwards, Upwards
	if dir == Downwards {
		away, toward = Upwards, Downwards
	}
	// Everything the anchors reach on the side the instructions are on.
	side := s.reach(anchors.Slice(), away)
	if !insts.SubsetOf(side) {
		if dir == Downwards {
			s.addWeakLoops(side)
			if insts.SubsetOf(side) {
				return nil, reject(ErrLoopBoundary, -1, "instructions inside a loop above the anchors")
			}
			return nil, reject(ErrNoRegion, -1, "instructions not above the anchors")
		}
		return nil, reject(ErrNoRegion, -1, "instructions not below the anchors")
	}
	region := side
	region.Intersect(s.reach(insts.Slice(), toward))
	s.AddContainedLoops(region)
	if dir == Downwards && !s.AddRegionPreDominator(region) {
		return nil, reject(ErrNoRegion, -1, "no instruction of the region pre-dominates it")
	}
	return region, nil
}

// RegionBetweenTwoInsts returns the instructions on paths from a to b that
// cross no back edge, both ends included, or an empty set.
func (s *Schedule) RegionBetweenTwoInsts(a, b int) *bitset.Set {
	down := s.ReachedDownwardsNoBackEdge(a)
	if !down.Test(b) {
		return s.newSet()
	}
	down.Intersect(s.ReachedUpwardsNoBackEdge(b))
	return down
}

// PreDominator returns a member of region that pre-dominates every other
// member, or -1.
func (s *Schedule) PreDominator(region *bitset.Set) int {
	found := -1
	region.Each(func(c int) {
		if found != -1 {
			return
		}
		all := true
		region.Each(func(o int) {
			if all && !s.info.Dom.PreDominates(c, o) {
				all = false
			}
		})
		if all {
			found = c
		}
	})
	return found
}

// AddRegionPreDominator checks that region has a member pre-dominating
// all the others. A pre-dominator is never manufactured: when none exists
// the region is cleared and false is returned.
func (s *Schedule) AddRegionPreDominator(region *bitset.Set) bool {
	if region.Empty() {
		return false
	}
	if s.PreDominator(region) != -1 {
		return true
	}
	region.Reset()
	return false
}
