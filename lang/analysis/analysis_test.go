// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-sched/lang/ir"
)

// 0 v2 = move 0; 1 L1; 2 load; 3 store; 4 add; 5 lt; 6 branchif; 7 return; 8 exit
const loopSource = `
func loop(v0, v1) {
  v2 = move 0
L1:
  v3 = loadrel v1, v2
  storerel v1, v2, v3
  v2 = add v2, 8
  v4 = lt v2, v0
  branchif v4, L1
  return v2
}
`

// 0 branchif; 1 v2 = 1; 2 branch; 3 L1; 4 v2 = 2; 5 L2; 6 return; 7 exit
const diamond = `
func diamond(v0) {
  branchif v0, L1
  v2 = move 1
  branch L2
L1:
  v2 = move 2
L2:
  return v2
}
`

func TestDominators(t *testing.T) {
	info := Analyze(ir.MustParse(loopSource))
	d := info.Dom
	for i := 0; i <= 8; i++ {
		assert.True(t, d.PreDominates(0, i), "0 must pre-dominate %d", i)
	}
	assert.True(t, d.PreDominates(1, 6))
	assert.False(t, d.PreDominates(6, 1))
	assert.True(t, d.PostDominates(7, 0))
	assert.True(t, d.PostDominates(6, 1))
	assert.True(t, d.ControlEquivalent(1, 6))
	assert.Equal(t, 1, d.Pre.IDom(2))

	info = Analyze(ir.MustParse(diamond))
	d = info.Dom
	assert.False(t, d.PreDominates(1, 5))
	assert.False(t, d.PreDominates(4, 5))
	assert.Equal(t, 0, d.Pre.IDom(5))
	assert.True(t, d.PostDominates(5, 0))
	assert.False(t, d.PostDominates(4, 0))
	assert.True(t, d.ControlEquivalent(0, 6))
}

func TestReachability(t *testing.T) {
	info := Analyze(ir.MustParse(loopSource))
	r := info.Reach
	assert.True(t, r.CanReach(4, 2), "back edge path")
	assert.True(t, r.CanReach(2, 2), "instruction on a cycle reaches itself")
	assert.False(t, r.CanReach(0, 0))
	assert.False(t, r.CanReach(7, 2))
	assert.True(t, r.CanReach(0, 8))
	assert.True(t, r.To(2).Test(6))
	assert.False(t, r.To(2).Test(7))

	// Cached tables are shared.
	assert.Same(t, r.From(3), r.From(3))
}

func TestLiveness(t *testing.T) {
	info := Analyze(ir.MustParse(loopSource))
	l := info.Live
	assert.True(t, l.LiveIn(0, 0))
	assert.True(t, l.LiveIn(1, 2))
	assert.True(t, l.LiveOut(6, 2))
	assert.True(t, l.LiveIn(7, 2))
	assert.False(t, l.LiveOut(7, 2))
	assert.False(t, l.LiveOut(3, 3))
	assert.False(t, l.LiveIn(0, 2), "v2 is defined before any use")
	assert.False(t, l.LiveIn(1, -1))
}

func TestReachingDefs(t *testing.T) {
	info := Analyze(ir.MustParse(loopSource))
	rd := info.Defs
	assert.Equal(t, []int{0, 4}, rd.Reaching(2, 2))
	assert.Equal(t, []int{4}, rd.Reaching(7, 2))
	assert.False(t, rd.Reaches(0, 5))
	assert.True(t, rd.Reaches(4, 2))
	assert.Equal(t, []int{0, 4}, rd.DefsOf(2))

	info = Analyze(ir.MustParse(diamond))
	assert.Equal(t, []int{1, 4}, info.Defs.Reaching(6, 2))
}

func TestEscapes(t *testing.T) {
	m := ir.MustParse(`
func esc(v0) {
  v1 = getaddress v0
  v2:ptr = alloc 16
  v3 = alloc 8
  call @use(v2, v3)
  v4 = move v0
  return v4
}
`)
	e := ComputeEscapes(m)
	assert.True(t, e.IsEscaped(0), "address taken")
	assert.True(t, e.IsEscaped(2), "typed pointer passed to a call")
	assert.True(t, e.IsEscaped(3), "allocation passed to a call")
	assert.False(t, e.IsEscaped(4))
	assert.False(t, e.IsEscaped(-1))
	assert.Equal(t, 3, e.Count())
}

func TestDataDependences(t *testing.T) {
	info := Analyze(ir.MustParse(loopSource))
	dd := info.Deps

	tests := []struct {
		a, b int
		want DepType
	}{
		{2, 4, DepRAW},
		{4, 4, DepRAW | DepWAR | DepWAW},
		{3, 2, DepRAW | DepMWAR},
		{2, 3, DepWAR | DepMRAW},
		{3, 3, DepMWAW},
		{7, 3, DepMRAW},
		{7, 4, DepRAW},
		{5, 4, DepRAW},
		{4, 0, DepRAW | DepWAW},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dd.Type(tt.a, tt.b), "%d depends on %d", tt.a, tt.b)
	}
	assert.False(t, dd.Has(0, 4), "no path from 4 to 0")
	assert.False(t, dd.Has(1, 0), "labels depend on nothing")
	assert.True(t, dd.Has(2, 2), "the load redefines v3 every iteration")
	assert.Equal(t, "RAW|MWAR", dd.Type(3, 2).String())

	for _, d := range dd.From(2) {
		found := false
		for _, back := range dd.To(d.Inst) {
			if back.Inst == 2 {
				found = true
				require.Equal(t, d.Type, back.Type)
			}
		}
		assert.True(t, found, "From/To tables disagree on %d", d.Inst)
	}
}

func TestMayAlias(t *testing.T) {
	m := ir.MustParse(`
func g(v0) {
  storerel $1, 0, v0
  storerel $2, 0, v0
  storerel $1, 8, v0
  storerel v0, 0, v0
  call @f()
}
`)
	s1, s2, s1off, sv, call := m.Insts[0], m.Insts[1], m.Insts[2], m.Insts[3], m.Insts[4]
	assert.False(t, MayAlias(s1, s2))
	assert.False(t, MayAlias(s1, s1off))
	assert.True(t, MayAlias(s1, sv))
	assert.True(t, MayAlias(s1, call))
	assert.Equal(t, DepType(0), DependenceType(s2, s1))
	assert.Equal(t, DepMWAW, DependenceType(sv, s1))
	assert.Equal(t, DepMRAW|DepMWAW, DependenceType(call, s1))
}
