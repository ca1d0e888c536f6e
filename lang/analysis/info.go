// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package analysis

import (
	"github.com/probechain/probe-sched/lang/ir"
)

// Info bundles every analysis of one numbered method.
type Info struct {
	Method  *ir.Method
	Graph   *ir.Graph
	Blocks  *ir.Blocks
	Dom     *Dominators
	Reach   *Reachability
	Live    *Liveness
	Defs    *ReachingDefs
	Escapes *Escapes
	Deps    *DataDependences
}

// Analyze renumbers m and runs every analysis on it.
func Analyze(m *ir.Method) *Info {
	m.Renumber()
	g := ir.BuildGraph(m)
	reach := NewReachability(g)
	return &Info{
		Method:  m,
		Graph:   g,
		Blocks:  ir.BuildBlocks(m),
		Dom:     ComputeDominators(g),
		Reach:   reach,
		Live:    ComputeLiveness(g),
		Defs:    ComputeReachingDefs(g),
		Escapes: ComputeEscapes(m),
		Deps:    ComputeDataDependences(g, reach),
	}
}

// NumInsts returns the number of instructions, excluding the exit node.
func (info *Info) NumInsts() int { return info.Method.NumInsts() }

// Inst returns the instruction with the given ID.
func (info *Info) Inst(id int) *ir.Instruction { return info.Method.Inst(id) }
