// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

// indexOf returns the position of inst in m.Insts, or -1.
func (m *Method) indexOf(inst *Instruction) int {
	if inst.ID >= 0 && inst.ID < len(m.Insts) && m.Insts[inst.ID] == inst {
		return inst.ID
	}
	for i, x := range m.Insts {
		if x == inst {
			return i
		}
	}
	return -1
}

// Contains reports whether inst is currently part of the method.
func (m *Method) Contains(inst *Instruction) bool {
	return m.indexOf(inst) != -1
}

// Next returns the instruction following inst in program order, or nil.
func (m *Method) Next(inst *Instruction) *Instruction {
	i := m.indexOf(inst)
	if i == -1 || i+1 >= len(m.Insts) {
		return nil
	}
	return m.Insts[i+1]
}

// Prev returns the instruction preceding inst in program order, or nil.
func (m *Method) Prev(inst *Instruction) *Instruction {
	i := m.indexOf(inst)
	if i <= 0 {
		return nil
	}
	return m.Insts[i-1]
}

// LabelFor returns the label instruction defining label id, or nil.
func (m *Method) LabelFor(id int64) *Instruction {
	return m.labels[id]
}

// BranchDestination returns the label instruction a branch jumps to.
func (m *Method) BranchDestination(branch *Instruction) *Instruction {
	if !branch.IsBranch() {
		return nil
	}
	return m.LabelFor(branch.Label())
}

// FallThrough returns where control goes when inst does not jump: the next
// instruction, or the exit node at the end of the method. Unconditional
// branches and returns have no fall-through.
func (m *Method) FallThrough(inst *Instruction) *Instruction {
	switch inst.Op {
	case OpBranch, OpReturn, OpExitNode:
		return nil
	}
	if next := m.Next(inst); next != nil {
		return next
	}
	return m.Exit
}

// Successors returns the control-flow successors of inst. For conditional
// branches the fall-through comes first.
func (m *Method) Successors(inst *Instruction) []*Instruction {
	switch inst.Op {
	case OpExitNode:
		return nil
	case OpReturn:
		return []*Instruction{m.Exit}
	case OpBranch:
		if dst := m.BranchDestination(inst); dst != nil {
			return []*Instruction{dst}
		}
		return nil
	}
	succs := []*Instruction{m.FallThrough(inst)}
	if inst.IsConditionalBranch() {
		if dst := m.BranchDestination(inst); dst != nil && dst != succs[0] {
			succs = append(succs, dst)
		}
	}
	return succs
}

// Predecessors returns the control-flow predecessors of inst in program order.
func (m *Method) Predecessors(inst *Instruction) []*Instruction {
	var preds []*Instruction
	for _, x := range m.Insts {
		for _, s := range m.Successors(x) {
			if s == inst {
				preds = append(preds, x)
				break
			}
		}
	}
	return preds
}

// IsSuccessor reports whether succ is a control-flow successor of inst.
func (m *Method) IsSuccessor(inst, succ *Instruction) bool {
	for _, s := range m.Successors(inst) {
		if s == succ {
			return true
		}
	}
	return false
}

// IsBranchTaken reports whether the edge pred->succ is the taken side of a
// branch, as opposed to a fall-through.
func (m *Method) IsBranchTaken(pred, succ *Instruction) bool {
	if !pred.IsBranch() || m.BranchDestination(pred) != succ {
		return false
	}
	return pred.Op == OpBranch || m.FallThrough(pred) != succ
}

// Graph is an ID-indexed snapshot of a numbered method's control flow.
// Index len(Method.Insts) is the exit node.
type Graph struct {
	Method *Method
	Succ   [][]int
	Pred   [][]int
}

// BuildGraph builds adjacency lists for a numbered method.
func BuildGraph(m *Method) *Graph {
	n := len(m.Insts) + 1
	g := &Graph{
		Method: m,
		Succ:   make([][]int, n),
		Pred:   make([][]int, n),
	}
	for _, inst := range m.Insts {
		for _, s := range m.Successors(inst) {
			g.Succ[inst.ID] = append(g.Succ[inst.ID], s.ID)
			g.Pred[s.ID] = append(g.Pred[s.ID], inst.ID)
		}
	}
	return g
}

// Size returns the number of nodes, including the exit node.
func (g *Graph) Size() int { return len(g.Succ) }

// ExitID returns the ID of the exit node.
func (g *Graph) ExitID() int { return len(g.Succ) - 1 }

// HasEdge reports whether from->to is a control-flow edge.
func (g *Graph) HasEdge(from, to int) bool {
	for _, s := range g.Succ[from] {
		if s == to {
			return true
		}
	}
	return false
}
