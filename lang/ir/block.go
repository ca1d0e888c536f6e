// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import "fmt"

// Block is a maximal straight-line run of instructions [Start, End].
type Block struct {
	Pos   int
	Start int
	End   int
}

// Contains reports whether instruction id lies inside the block.
func (b *Block) Contains(id int) bool {
	return id >= b.Start && id <= b.End
}

func (b *Block) String() string {
	return fmt.Sprintf("(%d-%d)", b.Start, b.End)
}

// Blocks partitions a numbered method into basic blocks.
type Blocks struct {
	List []*Block
	of   []int
}

// BuildBlocks splits a numbered method into basic blocks. Leaders are the
// first instruction, every label and every instruction following a branch
// or a return.
func BuildBlocks(m *Method) *Blocks {
	bs := &Blocks{of: make([]int, len(m.Insts))}
	for i, inst := range m.Insts {
		leader := i == 0 || inst.Op == OpLabel
		if i > 0 {
			prev := m.Insts[i-1]
			if prev.IsBranch() || prev.Op == OpReturn {
				leader = true
			}
		}
		if leader {
			if n := len(bs.List); n > 0 {
				bs.List[n-1].End = i - 1
			}
			bs.List = append(bs.List, &Block{Pos: len(bs.List), Start: i})
		}
		bs.of[i] = len(bs.List) - 1
	}
	if n := len(bs.List); n > 0 {
		bs.List[n-1].End = len(m.Insts) - 1
	}
	return bs
}

// Len returns the number of blocks.
func (bs *Blocks) Len() int { return len(bs.List) }

// At returns the block at position pos.
func (bs *Blocks) At(pos int) *Block { return bs.List[pos] }

// Of returns the block containing instruction id, or nil for the exit node.
func (bs *Blocks) Of(id int) *Block {
	if id < 0 || id >= len(bs.of) {
		return nil
	}
	return bs.List[bs.of[id]]
}
