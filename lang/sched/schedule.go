// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package sched moves instructions of a method across basic blocks.
//
// A Schedule snapshots the analyses of one method. A move request names the
// instructions to move and the anchors to move them next to; the scheduler
// computes the region between the two, the set of instructions that must be
// cloned along, validates the move and only then rewrites the method by
// cloning instructions onto the edges entering the region and deleting the
// originals that are no longer needed. A rejected move leaves the method
// untouched. A successful move renumbers the method and makes the schedule
// stale: build a schedule, try one move, discard it.
package sched

import (
	"fmt"
	"sort"

	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
	"github.com/probechain/probe-sched/lang/loops"
	"github.com/probechain/probe-sched/log"
)

// Direction is the way instructions travel through the method.
type Direction int

const (
	Upwards Direction = iota
	Downwards
)

func (d Direction) String() string {
	if d == Upwards {
		return "up"
	}
	return "down"
}

// Clones maps an original instruction ID to the copies placed for it.
// The pointers stay valid after the method is renumbered.
type Clones map[int][]*ir.Instruction

// IDs returns the current IDs of the clones of id in ascending order.
func (c Clones) IDs(id int) []int {
	var out []int
	for _, inst := range c[id] {
		out = append(out, inst.ID)
	}
	sort.Ints(out)
	return out
}

// Schedule holds the control-flow, loop and dependence facts of one
// method for a single move.
type Schedule struct {
	method *ir.Method
	info   *analysis.Info
	forest *loops.Forest
	n      int // instructions, the exit node has ID n

	deps   []*bitset.Set // symmetric dependence graph, built on first use
	region *bitset.Set   // region of the last request, nil if none

	fingerprint [32]byte
	closed      bool
	stale       bool
	log         log.Logger
}

// Option configures a Schedule.
type Option func(*Schedule)

// WithLogger sets the logger rejected moves are reported to.
func WithLogger(l log.Logger) Option {
	return func(s *Schedule) { s.log = l }
}

// New analyzes m, renumbering it, and returns a schedule over it.
func New(m *ir.Method, opts ...Option) (*Schedule, error) {
	if m == nil || m.Exit == nil {
		return nil, fmt.Errorf("sched: nil method")
	}
	if errs := ir.Verify(m); len(errs) > 0 {
		return nil, fmt.Errorf("sched: method %s is malformed: %v", m.Name, &errs[0])
	}
	info := analysis.Analyze(m)
	s := &Schedule{
		method:      m,
		info:        info,
		forest:      loops.FindLoops(info),
		n:           m.NumInsts(),
		fingerprint: ir.Fingerprint(m),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.New("method", m.Name)
	}
	return s, nil
}

// Close releases the schedule. Every later call returns ErrClosed.
func (s *Schedule) Close() {
	s.closed = true
	s.deps = nil
	s.region = nil
	s.info = nil
	s.forest = nil
}

// Method returns the scheduled method.
func (s *Schedule) Method() *ir.Method { return s.method }

// Info returns the analyses the schedule was built from.
func (s *Schedule) Info() *analysis.Info { return s.info }

// Loops returns the loop forest of the method.
func (s *Schedule) Loops() *loops.Forest { return s.forest }

// NumInsts returns the number of instructions, excluding the exit node.
func (s *Schedule) NumInsts() int { return s.n }

// NumBlocks returns the number of basic blocks.
func (s *Schedule) NumBlocks() int { return s.info.Blocks.Len() }

// Region returns the region computed by the last request, or nil.
func (s *Schedule) Region() *bitset.Set { return s.region }

// usable reports whether the schedule still describes its method.
func (s *Schedule) usable() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.stale:
		return ErrStale
	case ir.Fingerprint(s.method) != s.fingerprint:
		s.stale = true
		return ErrStale
	}
	return nil
}

// committed marks the schedule stale after the method was rewritten.
func (s *Schedule) committed() {
	s.method.Renumber()
	if errs := ir.Verify(s.method); len(errs) > 0 {
		panic(fmt.Sprintf("sched: move left method %s malformed: %v\n%s", s.method.Name, &errs[0], ir.FormatWithIDs(s.method)))
	}
	s.stale = true
}

func (s *Schedule) inst(id int) *ir.Instruction { return s.info.Inst(id) }

func (s *Schedule) exit() int { return s.n }

// newSet returns an empty instruction set sized to the graph.
func (s *Schedule) newSet() *bitset.Set { return bitset.New(s.n + 1) }

// normalize copies a caller supplied set into the graph universe.
func (s *Schedule) normalize(in *bitset.Set) (*bitset.Set, error) {
	out := s.newSet()
	if in == nil {
		return out, nil
	}
	var bad = -1
	in.Each(func(i int) {
		if i >= s.n {
			bad = i
			return
		}
		out.Set(i)
	})
	if bad != -1 {
		return nil, fmt.Errorf("sched: instruction %d out of range [0,%d)", bad, s.n)
	}
	return out, nil
}

// depGraph returns the symmetric data dependence graph over instructions.
func (s *Schedule) depGraph() []*bitset.Set {
	if s.deps != nil {
		return s.deps
	}
	s.deps = make([]*bitset.Set, s.n)
	for i := range s.deps {
		s.deps[i] = bitset.New(s.n)
	}
	for i := 0; i < s.n; i++ {
		for _, d := range s.info.Deps.From(i) {
			if d.Inst < s.n {
				s.deps[i].Set(d.Inst)
				s.deps[d.Inst].Set(i)
			}
		}
	}
	return s.deps
}

// hasDep reports whether a and b depend on each other in either order.
func (s *Schedule) hasDep(a, b int) bool {
	if a < 0 || b < 0 || a >= s.n || b >= s.n {
		return false
	}
	return s.depGraph()[a].Test(b)
}

// Dependent reports whether instructions a and b have a data dependence.
func (s *Schedule) Dependent(a, b int) bool { return s.hasDep(a, b) }

func (s *Schedule) block(id int) *ir.Block { return s.info.Blocks.Of(id) }

func (s *Schedule) succs(id int) []int { return s.info.Graph.Succ[id] }

func (s *Schedule) preds(id int) []int { return s.info.Graph.Pred[id] }

// reaches reports whether a path of at least one edge leads from a to b,
// back edges included.
func (s *Schedule) reaches(a, b int) bool { return s.info.Reach.CanReach(a, b) }

func (s *Schedule) isBackEdge(pred, succ int) bool { return s.forest.IsBackEdge(pred, succ) }

// blocksOf returns the blocks containing at least one member of insts.
func (s *Schedule) blocksOf(insts *bitset.Set) *bitset.Set {
	out := bitset.New(s.NumBlocks())
	insts.Each(func(i int) {
		if b := s.block(i); b != nil {
			out.Set(b.Pos)
		}
	})
	return out
}

// blockInsts returns the members of insts inside block b, in order.
func blockInsts(b *ir.Block, insts *bitset.Set) []int {
	var out []int
	for i := b.Start; i <= b.End; i++ {
		if insts.Test(i) {
			out = append(out, i)
		}
	}
	return out
}

func isFiller(inst *ir.Instruction) bool {
	return inst.Op == ir.OpLabel || inst.Op == ir.OpNop
}
