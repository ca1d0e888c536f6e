// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import "fmt"

// Mutation primitives. New instructions receive fresh IDs above every
// numbered ID so pointer-keyed bookkeeping stays unambiguous until the
// caller renumbers the method.

func (m *Method) freshID() int {
	id := m.nextID
	m.nextID++
	return id
}

func (m *Method) insertAt(inst *Instruction, pos int) {
	m.Insts = append(m.Insts, nil)
	copy(m.Insts[pos+1:], m.Insts[pos:])
	m.Insts[pos] = inst
	if inst.Op == OpLabel {
		m.labels[inst.Params[0].Value] = inst
	}
}

func (m *Method) mustIndex(inst *Instruction) int {
	i := m.indexOf(inst)
	if i == -1 {
		panic(fmt.Sprintf("ir: instruction %d (%s) not in method %s", inst.ID, inst, m.Name))
	}
	return i
}

func (m *Method) detach(inst *Instruction) {
	i := m.mustIndex(inst)
	m.Insts = append(m.Insts[:i], m.Insts[i+1:]...)
}

// CloneInstruction returns a detached copy of inst with a fresh ID.
// Cloned labels define a fresh label.
func (m *Method) CloneInstruction(inst *Instruction) *Instruction {
	c := inst.Clone()
	c.ID = m.freshID()
	if c.Op == OpLabel {
		c.Params[0] = LabelRef(int(m.NewLabel()))
	}
	return c
}

// InsertAfter places a detached instruction after 'after'. A nil 'after'
// inserts at the start of the method.
func (m *Method) InsertAfter(inst, after *Instruction) {
	if m.indexOf(inst) != -1 {
		panic(fmt.Sprintf("ir: instruction %d already attached", inst.ID))
	}
	if after == nil {
		m.insertAt(inst, 0)
		return
	}
	m.insertAt(inst, m.mustIndex(after)+1)
}

// InsertBefore places a detached instruction before 'before'. Inserting
// before the exit node appends to the method.
func (m *Method) InsertBefore(inst, before *Instruction) {
	if before == m.Exit {
		m.insertAt(inst, len(m.Insts))
		return
	}
	m.insertAt(inst, m.mustIndex(before))
}

// MoveAfter relocates an attached instruction after 'after'.
func (m *Method) MoveAfter(inst, after *Instruction) {
	if inst == after {
		return
	}
	m.detach(inst)
	m.InsertAfter(inst, after)
}

// MoveBefore relocates an attached instruction before 'before'.
func (m *Method) MoveBefore(inst, before *Instruction) {
	if inst == before {
		return
	}
	m.detach(inst)
	m.InsertBefore(inst, before)
}

// Delete removes inst from the method.
func (m *Method) Delete(inst *Instruction) {
	m.detach(inst)
	if inst.Op == OpLabel && m.labels[inst.Params[0].Value] == inst {
		delete(m.labels, inst.Params[0].Value)
	}
}

// NewLabel reserves a fresh label ID.
func (m *Method) NewLabel() int64 {
	id := m.nextLabel
	m.nextLabel++
	return id
}

func (m *Method) newLabelInst() *Instruction {
	return &Instruction{
		ID:     m.freshID(),
		Op:     OpLabel,
		Params: [3]Item{LabelRef(int(m.NewLabel()))},
	}
}

// NewLabelBefore inserts a fresh label before inst.
func (m *Method) NewLabelBefore(inst *Instruction) *Instruction {
	l := m.newLabelInst()
	m.InsertBefore(l, inst)
	return l
}

// NewLabelAfter inserts a fresh label after inst.
func (m *Method) NewLabelAfter(inst *Instruction) *Instruction {
	l := m.newLabelInst()
	m.InsertAfter(l, inst)
	return l
}

// NewBranchToLabelAfter inserts an unconditional branch to label after inst.
func (m *Method) NewBranchToLabelAfter(label, after *Instruction) *Instruction {
	br := &Instruction{
		ID:     m.freshID(),
		Op:     OpBranch,
		Params: [3]Item{LabelRef(int(label.Label()))},
	}
	m.InsertAfter(br, after)
	return br
}

// SetBranchDestination retargets a branch to the given label instruction.
func (m *Method) SetBranchDestination(branch, label *Instruction) {
	switch {
	case branch.Op == OpBranch:
		branch.Params[0] = LabelRef(int(label.Label()))
	case branch.IsConditionalBranch():
		branch.Params[1] = LabelRef(int(label.Label()))
	default:
		panic(fmt.Sprintf("ir: %s is not a branch", branch))
	}
}

// SubstituteLabel replaces references to label old with label new in inst.
func (m *Method) SubstituteLabel(inst *Instruction, old, new int64) {
	for i, p := range inst.Params {
		if p.Kind == KindLabel && p.Value == old {
			inst.Params[i].Value = new
		}
	}
}

// TargetLabel returns a label that starts at inst: inst itself when it is
// a label, otherwise a fresh label inserted before it.
func (m *Method) TargetLabel(inst *Instruction) *Instruction {
	if inst.Op == OpLabel {
		return inst
	}
	if prev := m.Prev(inst); prev != nil && prev.Op == OpLabel {
		return prev
	}
	return m.NewLabelBefore(inst)
}
