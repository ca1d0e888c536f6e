// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package loops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/ir"
)

// 0 move; 1 move; 2 L1; 3 lt; 4 branchifnot; 5 load; 6 add; 7 add;
// 8 mul; 9 branch; 10 L2; 11 return; 12 exit
const sumSource = `
func sum(v0, v1) {
  v2 = move 0
  v3 = move 0
L1:
  v4 = lt v3, v0
  branchifnot v4, L2
  v5 = loadrel v1, v6
  v2 = add v2, v5
  v3 = add v3, 1
  v6 = mul v3, 8
  branch L1
L2:
  return v2
}
`

// Outer loop 2..14, inner loop 6..11.
const nestSource = `
func nest(v0) {
  v1 = move 0
  v9 = move 0
L1:
  v2 = lt v1, v0
  branchifnot v2, L4
  v3 = move 0
L2:
  v4 = lt v3, v0
  branchifnot v4, L3
  v9 = add v9, v3
  v3 = add v3, 1
  branch L2
L3:
  v1 = add v1, 1
  branch L1
L4:
  return v9
}
`

func TestFindLoops(t *testing.T) {
	info := analysis.Analyze(ir.MustParse(sumSource))
	f := FindLoops(info)
	require.Len(t, f.Loops, 1)
	l := f.Loops[0]

	assert.Equal(t, 2, l.Header)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9}, l.Members())
	assert.Equal(t, []int{4}, l.Exits.Slice())
	assert.Equal(t, []Edge{{Pred: 9, Succ: 2}}, l.BackEdges)
	assert.Equal(t, []int{10}, l.Successors())
	assert.Equal(t, []int{1}, l.Predecessors())
	assert.True(t, f.IsHeader(2))
	assert.False(t, f.IsHeader(3))
	assert.True(t, f.IsBackEdge(9, 2))
	assert.False(t, f.IsBackEdge(4, 10))
	assert.Nil(t, l.Parent)
	assert.Equal(t, 1, l.Depth())
}

func TestBottomTestedLoopIsNotFound(t *testing.T) {
	// The conditional back jump is not post-dominated by the header, so it
	// does not count as a back edge.
	info := analysis.Analyze(ir.MustParse(`
func f(v0) {
  v1 = move 0
L1:
  v1 = add v1, 1
  v2 = lt v1, v0
  branchif v2, L1
  return v1
}
`))
	assert.Empty(t, FindLoops(info).Loops)
}

func TestNesting(t *testing.T) {
	info := analysis.Analyze(ir.MustParse(nestSource))
	f := FindLoops(info)
	require.Len(t, f.Loops, 2)
	outer, inner := f.Loops[0], f.Loops[1]

	assert.Equal(t, 2, outer.Header)
	assert.Equal(t, 6, inner.Header)
	assert.Same(t, outer, inner.Parent)
	assert.Equal(t, []*Loop{inner}, outer.Children)
	assert.Equal(t, []*Loop{inner}, outer.SubLoops())
	assert.Equal(t, 2, inner.Depth())
	assert.True(t, outer.InSubLoop(9))
	assert.False(t, outer.InSubLoop(13))
	assert.Same(t, inner, f.Innermost(9))
	assert.Same(t, outer, f.Innermost(13))
	assert.Nil(t, f.Innermost(0))
	assert.Same(t, inner, f.ByHeader(6))
	assert.Equal(t, []*Loop{outer}, f.Roots())
	assert.Equal(t, []int{8}, inner.Exits.Slice())
	assert.Equal(t, []int{12}, inner.Successors())
}

func TestMergeByHeader(t *testing.T) {
	// Two back edges into L1 yield a single loop.
	info := analysis.Analyze(ir.MustParse(`
func f(v0) {
  v1 = move 0
L1:
  v2 = lt v1, v0
  branchifnot v2, L3
  v1 = add v1, 1
  v3 = rem v1, 2
  branchif v3, L2
  branch L1
L2:
  v1 = add v1, 2
  branch L1
L3:
  return v1
}
`))
	f := FindLoops(info)
	require.Len(t, f.Loops, 1)
	l := f.Loops[0]
	assert.Len(t, l.BackEdges, 2)
	assert.Equal(t, []int{3}, l.Exits.Slice())
	for i := 1; i <= 10; i++ {
		assert.True(t, l.Contains(i), "member %d", i)
	}
	assert.False(t, l.Contains(11))
}

func TestInductionVars(t *testing.T) {
	info := analysis.Analyze(ir.MustParse(sumSource))
	l := FindLoops(info).Loops[0]

	ind := l.Induction(3)
	require.NotNil(t, ind)
	assert.True(t, ind.Basic)
	assert.Equal(t, 3, ind.Parent)

	der := l.Induction(6)
	require.NotNil(t, der)
	assert.False(t, der.Basic)
	assert.Equal(t, 3, der.Parent)
	assert.Equal(t, 8, der.Def)

	assert.False(t, l.IsInductionVar(2), "accumulates a loaded value")
	assert.False(t, l.IsInductionVar(5))
	assert.True(t, l.SharedParent(3, 6))
	assert.False(t, l.SharedParent(3, 2))
}

func TestInvariants(t *testing.T) {
	info := analysis.Analyze(ir.MustParse(`
func f(v0, v1) {
  v2 = move 0
L1:
  v3 = lt v2, v0
  branchifnot v3, L2
  v4 = mul v1, 4
  v5 = add v4, 1
  v6 = loadrel v1, 0
  v2 = add v2, v5
  branch L1
L2:
  return v2
}
`))
	l := FindLoops(info).Loops[0]
	assert.True(t, l.IsInvariant(1))
	assert.False(t, l.IsInvariant(2))
	assert.True(t, l.IsInvariant(4), "defined once by an invariant instruction")
	assert.True(t, l.IsInvariantInst(4))
	assert.True(t, l.IsInvariantInst(5))
	assert.True(t, l.IsInvariantInst(6), "no store in the loop")
	assert.False(t, l.IsInvariantInst(7))
	assert.False(t, l.IsInvariantInst(2))
	assert.Equal(t, []int{7}, l.DefsWithin(2))
	assert.Equal(t, []int{2, 7}, l.UsesWithin(2))
}
