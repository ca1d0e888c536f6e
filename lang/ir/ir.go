// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ir defines the linear, label-based intermediate representation
// that the scheduler and the dependence analyses operate on.
//
// A Method is an ordered arena of instructions. Control flow is implied by
// the order (fall-through) plus branches to labels; every return, and the
// last instruction of the method, flows to an implicit exit node. After
// Renumber, Insts[i].ID == i and Exit.ID == len(Insts), so dense ID-keyed
// bit sets and adjacency tables can be used by the analyses. Mutations
// work on instruction pointers and leave IDs stale until the next Renumber.
package ir

import (
	"fmt"
	"strings"
)

// Callee names the target of a direct call.
type Callee struct {
	Name string
}

// Instruction is a single IR instruction.
type Instruction struct {
	ID         int
	Op         Op
	Result     Item
	Params     [3]Item
	CallParams []Item
	Callee     *Callee
}

// Method is one compiled method.
type Method struct {
	Name   string
	Params []int // variable IDs of the arguments
	Insts  []*Instruction
	Exit   *Instruction

	labels    map[int64]*Instruction
	nextID    int
	nextLabel int64
}

// NewMethod creates a method over the given instructions and numbers them.
func NewMethod(name string, params []int, insts []*Instruction) *Method {
	m := &Method{
		Name:   name,
		Params: params,
		Insts:  insts,
		Exit:   &Instruction{Op: OpExitNode},
	}
	m.Renumber()
	return m
}

// Renumber assigns dense IDs in program order and rebuilds the label index.
func (m *Method) Renumber() {
	m.labels = make(map[int64]*Instruction)
	m.nextLabel = 0
	for i, inst := range m.Insts {
		inst.ID = i
		if inst.Op == OpLabel {
			m.labels[inst.Params[0].Value] = inst
			if inst.Params[0].Value >= m.nextLabel {
				m.nextLabel = inst.Params[0].Value + 1
			}
		}
		for _, p := range inst.Params {
			if p.Kind == KindLabel && p.Value >= m.nextLabel {
				m.nextLabel = p.Value + 1
			}
		}
	}
	m.Exit.ID = len(m.Insts)
	m.nextID = len(m.Insts) + 1
}

// NumInsts returns the number of instructions, excluding the exit node.
func (m *Method) NumInsts() int { return len(m.Insts) }

// Inst returns the instruction with the given ID, including the exit node.
// It is only valid while the method is numbered.
func (m *Method) Inst(id int) *Instruction {
	if id == len(m.Insts) {
		return m.Exit
	}
	return m.Insts[id]
}

// NumVars returns one more than the largest variable ID used in the method.
func (m *Method) NumVars() int {
	n := 0
	see := func(it Item) {
		if it.Kind == KindVar && int(it.Value) >= n {
			n = int(it.Value) + 1
		}
	}
	for _, p := range m.Params {
		if p >= n {
			n = p + 1
		}
	}
	for _, inst := range m.Insts {
		see(inst.Result)
		for _, p := range inst.Params {
			see(p)
		}
		for _, p := range inst.CallParams {
			see(p)
		}
	}
	return n
}

// IsParam reports whether v is an argument of the method.
func (m *Method) IsParam(v int) bool {
	for _, p := range m.Params {
		if p == v {
			return true
		}
	}
	return false
}

// IsBranch reports whether the instruction transfers control to a label.
func (inst *Instruction) IsBranch() bool { return inst.Op.IsBranch() }

// IsConditionalBranch reports whether the instruction is a two-way branch.
func (inst *Instruction) IsConditionalBranch() bool { return inst.Op.IsConditionalBranch() }

// IsCall reports whether the instruction is a call.
func (inst *Instruction) IsCall() bool { return inst.Op.IsCall() }

// IsMemoryAccess reports whether the instruction reads or writes memory.
func (inst *Instruction) IsMemoryAccess() bool { return inst.Op.IsMemoryAccess() }

// IsAllocation reports whether the instruction allocates memory.
func (inst *Instruction) IsAllocation() bool { return inst.Op.IsAllocation() }

// IsFree reports whether the instruction releases memory.
func (inst *Instruction) IsFree() bool { return inst.Op.IsFree() }

// IsLabel reports whether the instruction is a label.
func (inst *Instruction) IsLabel() bool { return inst.Op == OpLabel }

// Label returns the label ID defined by a label instruction or targeted by
// a branch, or -1.
func (inst *Instruction) Label() int64 {
	switch {
	case inst.Op == OpLabel || inst.Op == OpBranch:
		return inst.Params[0].Value
	case inst.Op.IsConditionalBranch():
		return inst.Params[1].Value
	}
	return -1
}

// CalleeName returns the name of the called routine, or "".
func (inst *Instruction) CalleeName() string {
	if inst.Callee == nil {
		return ""
	}
	return inst.Callee.Name
}

// Def returns the variable defined by the instruction, or -1.
func (inst *Instruction) Def() int {
	return inst.Result.VarID()
}

// DefinesVar reports whether the instruction writes variable v.
func (inst *Instruction) DefinesVar(v int) bool {
	return v >= 0 && inst.Def() == v
}

// Uses returns the variables read by the instruction, in operand order and
// without duplicates.
func (inst *Instruction) Uses() []int {
	var out []int
	add := func(it Item) {
		if it.Kind != KindVar {
			return
		}
		v := int(it.Value)
		for _, u := range out {
			if u == v {
				return
			}
		}
		out = append(out, v)
	}
	for _, p := range inst.Params {
		add(p)
	}
	for _, p := range inst.CallParams {
		add(p)
	}
	return out
}

// UsesVar reports whether the instruction reads variable v.
func (inst *Instruction) UsesVar(v int) bool {
	for _, u := range inst.Uses() {
		if u == v {
			return true
		}
	}
	return false
}

// Address returns the base and offset operands of a memory access, and
// false for any other instruction. Memcpy reports its destination.
func (inst *Instruction) Address() (base, offset Item, ok bool) {
	switch inst.Op {
	case OpLoadRel, OpStoreRel:
		return inst.Params[0], inst.Params[1], true
	case OpInitMemory, OpMemcpy:
		return inst.Params[0], Const(0), true
	}
	return Item{}, Item{}, false
}

// WritesMemory reports whether the instruction may store to memory.
func (inst *Instruction) WritesMemory() bool {
	switch inst.Op {
	case OpStoreRel, OpInitMemory, OpMemcpy, OpFree, OpFreeObj, OpRealloc:
		return true
	}
	return inst.IsCall()
}

// ReadsMemory reports whether the instruction may load from memory.
func (inst *Instruction) ReadsMemory() bool {
	switch inst.Op {
	case OpLoadRel, OpMemcpy, OpRealloc:
		return true
	}
	return inst.IsCall()
}

// Clone returns a detached copy of the instruction.
func (inst *Instruction) Clone() *Instruction {
	c := *inst
	if inst.CallParams != nil {
		c.CallParams = append([]Item(nil), inst.CallParams...)
	}
	if inst.Callee != nil {
		callee := *inst.Callee
		c.Callee = &callee
	}
	return &c
}

func (inst *Instruction) String() string {
	var b strings.Builder
	switch inst.Op {
	case OpLabel:
		return inst.Params[0].String() + ":"
	case OpExitNode:
		return "exit"
	}
	if inst.Result.Kind != KindNone {
		b.WriteString(inst.Result.String())
		if inst.Result.Type != TypeInt && inst.Result.Type != TypeVoid {
			b.WriteString(":" + inst.Result.Type.String())
		}
		b.WriteString(" = ")
	}
	b.WriteString(inst.Op.String())
	if inst.Op.IsCall() {
		if inst.Op == OpICall {
			b.WriteString(" " + inst.Params[0].String())
		} else {
			b.WriteString(" @" + inst.CalleeName())
		}
		b.WriteByte('(')
		for i, p := range inst.CallParams {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.String())
		}
		b.WriteByte(')')
		return b.String()
	}
	sep := " "
	for _, p := range inst.Params {
		if p.Kind == KindNone {
			break
		}
		b.WriteString(sep + p.String())
		sep = ", "
	}
	return b.String()
}

// Format prints the method in the textual IR syntax accepted by Parse.
func Format(m *Method) string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(", m.Name)
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "v%d", p)
	}
	b.WriteString(") {\n")
	for _, inst := range m.Insts {
		if inst.Op != OpLabel {
			b.WriteString("  ")
		}
		b.WriteString(inst.String())
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	return b.String()
}

// FormatWithIDs prints the method with instruction IDs, for dumps and logs.
func FormatWithIDs(m *Method) string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s%v\n", m.Name, m.Params)
	for _, inst := range m.Insts {
		fmt.Fprintf(&b, "%4d  %s\n", inst.ID, inst)
	}
	return b.String()
}
