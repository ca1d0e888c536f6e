// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package analysis

import (
	"strings"

	"github.com/probechain/probe-sched/lang/ir"
)

// DepType is a bit mask of the ways one instruction depends on another.
type DepType uint16

const (
	DepRAW  DepType = 1 << iota // read after write of a variable
	DepWAR                      // write after read of a variable
	DepWAW                      // write after write of a variable
	DepMRAW                     // read after write of memory
	DepMWAR                     // write after read of memory
	DepMWAW                     // write after write of memory

	DepRegister = DepRAW | DepWAR | DepWAW
	DepMemory   = DepMRAW | DepMWAR | DepMWAW
)

var depTypeNames = []struct {
	t    DepType
	name string
}{
	{DepRAW, "RAW"},
	{DepWAR, "WAR"},
	{DepWAW, "WAW"},
	{DepMRAW, "MRAW"},
	{DepMWAR, "MWAR"},
	{DepMWAW, "MWAW"},
}

// Has reports whether every bit of o is set in t.
func (t DepType) Has(o DepType) bool { return t&o == o }

// IsMemory reports whether any memory bit is set.
func (t DepType) IsMemory() bool { return t&DepMemory != 0 }

// IsRegister reports whether any register bit is set.
func (t DepType) IsRegister() bool { return t&DepRegister != 0 }

func (t DepType) String() string {
	if t == 0 {
		return "none"
	}
	var parts []string
	for _, n := range depTypeNames {
		if t&n.t != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Dep is one edge of the method dependence table: the owning instruction
// depends on Inst.
type Dep struct {
	Inst int
	Type DepType
}

// DataDependences is the method-wide dependence table. An instruction a
// depends on b when b can reach a through at least one edge and the two
// touch the same variable or possibly the same memory.
type DataDependences struct {
	from [][]Dep
	to   [][]Dep
}

// ComputeDataDependences builds the dependence table of a numbered method.
func ComputeDataDependences(g *ir.Graph, r *Reachability) *DataDependences {
	m := g.Method
	n := m.NumInsts()
	dd := &DataDependences{
		from: make([][]Dep, n),
		to:   make([][]Dep, n),
	}
	for b := 0; b < n; b++ {
		reach := r.From(b)
		for a := reach.Next(0); a >= 0 && a < n; a = reach.Next(a + 1) {
			t := DependenceType(m.Insts[a], m.Insts[b])
			if t == 0 {
				continue
			}
			dd.from[a] = append(dd.from[a], Dep{Inst: b, Type: t})
			dd.to[b] = append(dd.to[b], Dep{Inst: a, Type: t})
		}
	}
	return dd
}

// DependenceType returns how a, executed after b, depends on b, ignoring
// whether such an execution order exists.
func DependenceType(a, b *ir.Instruction) DepType {
	var t DepType
	if d := b.Def(); d >= 0 {
		if a.UsesVar(d) {
			t |= DepRAW
		}
		if a.Def() == d {
			t |= DepWAW
		}
	}
	if d := a.Def(); d >= 0 && b.UsesVar(d) {
		t |= DepWAR
	}
	if touchesMemory(a) && touchesMemory(b) && MayAlias(a, b) {
		if writesMem(b) && readsMem(a) {
			t |= DepMRAW
		}
		if readsMem(b) && writesMem(a) {
			t |= DepMWAR
		}
		if writesMem(b) && writesMem(a) {
			t |= DepMWAW
		}
	}
	return t
}

func readsMem(inst *ir.Instruction) bool {
	return inst.ReadsMemory() || inst.Op == ir.OpReturn
}

func writesMem(inst *ir.Instruction) bool {
	return inst.WritesMemory()
}

func touchesMemory(inst *ir.Instruction) bool {
	return readsMem(inst) || writesMem(inst)
}

// MayAlias reports whether two memory-touching instructions may access the
// same location. Calls, returns and frees may touch anything; two direct
// accesses are disjoint only when their bases are different symbols, or
// the same symbol at different constant offsets.
func MayAlias(a, b *ir.Instruction) bool {
	baseA, offA, okA := a.Address()
	baseB, offB, okB := b.Address()
	if !okA || !okB {
		return true
	}
	if baseA.Kind == ir.KindSymbol && baseB.Kind == ir.KindSymbol {
		if baseA.Value != baseB.Value {
			return false
		}
		if offA.Kind == ir.KindConst && offB.Kind == ir.KindConst && offA.Value != offB.Value {
			return false
		}
	}
	return true
}

// From returns the dependences of instruction id: the instructions it
// depends on.
func (dd *DataDependences) From(id int) []Dep { return dd.from[id] }

// To returns the instructions that depend on id.
func (dd *DataDependences) To(id int) []Dep { return dd.to[id] }

// Type returns how a depends on b, or zero.
func (dd *DataDependences) Type(a, b int) DepType {
	for _, d := range dd.from[a] {
		if d.Inst == b {
			return d.Type
		}
	}
	return 0
}

// Has reports whether a depends on b.
func (dd *DataDependences) Has(a, b int) bool { return dd.Type(a, b) != 0 }

// Count returns the number of dependence edges.
func (dd *DataDependences) Count() int {
	n := 0
	for _, l := range dd.from {
		n += len(l)
	}
	return n
}
