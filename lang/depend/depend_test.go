// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package depend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
	"github.com/probechain/probe-sched/lang/loops"
)

// 0 move; 1 L1; 2 lt; 3 branchifnot; 4 load; 5 add; 6 branch; 7 L2;
// 8 return; 9 exit
const strideSource = `
func stride(v0, v1) {
  v2 = move 0
L1:
  v3 = lt v2, v0
  branchifnot v3, L2
  v4 = loadrel v1, v2
  v2 = add v2, 1
  branch L1
L2:
  return v4
}
`

// 0 alloc; 1 alloc; 2 move; 3 L1; 4 lt; 5 branchifnot; 6 store; 7 store;
// 8 add; 9 branch; 10 L2; 11 return; 12 exit
const privateSource = `
func private(v0) {
  v1:ptr = alloc 64
  v2:ptr = alloc 32
  v3 = move 0
L1:
  v4 = lt v3, v0
  branchifnot v4, L2
  storerel v1, 0, v3
  storerel v2, 0, v3
  v3 = add v3, 1
  branch L1
L2:
  return v3
}
`

// 0 move; 1 move; 2 L1; 3 lt; 4 branchifnot; 5 add; 6 rem; 7 add;
// 8 branch; 9 L2; 10 return; 11 exit
const localSource = `
func local(v0) {
  v1 = move 0
  v2 = move 0
L1:
  v3 = lt v1, v0
  branchifnot v3, L2
  v5 = add v2, v1
  v2 = rem v0, 3
  v1 = add v1, 1
  branch L1
L2:
  return v5
}
`

// 0 move; 1 L1; 2 lt; 3 branchifnot; 4 malloc; 5 free; 6 write; 7 add;
// 8 branch; 9 L2; 10 return; 11 exit
const callSource = `
func calls(v0) {
  v1 = move 0
L1:
  v2 = lt v1, v0
  branchifnot v2, L2
  v3 = libcall @malloc(8)
  libcall @free(v3)
  call @spec_write(v1)
  v1 = add v1, 1
  branch L1
L2:
  return v1
}
`

// 0 malloc; 1 alloc; 2 move; 3 L1; 4 lt; 5 branchifnot; 6 store; 7 store;
// 8 add; 9 branch; 10 L2; 11 return; 12 exit
const mixedSource = `
func mixed(v0) {
  v1 = call @malloc(64)
  v2:ptr = alloc 16
  v3 = move 0
L1:
  v4 = lt v3, v0
  branchifnot v4, L2
  storerel v2, 8, v0
  storerel v1, v3, v0
  v3 = add v3, 1
  branch L1
L2:
  return v3
}
`

func newContext(t *testing.T, src string, opts ...Option) *Context {
	t.Helper()
	info := analysis.Analyze(ir.MustParse(src))
	f := loops.FindLoops(info)
	require.Len(t, f.Loops, 1)
	return NewContext(f.Loops[0], opts...)
}

func categoriesOf(l *List) map[[2]int]Category {
	out := make(map[[2]int]Category)
	for _, d := range l.All() {
		out[[2]int{d.Inst1, d.Inst2}] = d.Category
	}
	return out
}

func TestInductionVariableIsCarried(t *testing.T) {
	c := newContext(t, strideSource)
	deps := c.Info.Deps

	carried, why := c.Explain(4, 5, deps.Type(4, 5))
	assert.True(t, carried)
	assert.Equal(t, "induction-variable", why)

	l := c.DependencesAcrossIterations()
	assert.Equal(t, map[[2]int]Category{
		{2, 5}: FalseInductiveVariable,
		{5, 2}: FalseInductiveVariable,
		{4, 4}: WAWRegisterReassociation,
		{4, 5}: FalseInductiveVariable,
		{5, 4}: FalseInductiveVariable,
		{5, 5}: FalseInductiveVariable,
	}, categoriesOf(l))

	d := l.DirectDependence(4, 5)
	require.NotNil(t, d)
	assert.True(t, d.BasedOnInductiveVar)
	assert.Equal(t, 2, d.OriginalInductiveVarID)
	assert.Equal(t, 2, d.OriginalDerivedInductiveVarID)
	assert.Same(t, d, l.Dependence(4, 5))
	assert.NotNil(t, l.Dependence(2, 5))
	assert.Nil(t, l.DirectDependence(3, 2))
}

func TestInductionVariableSelfDependence(t *testing.T) {
	tests := []struct {
		name string
		src  string
		id   int
	}{
		{"stride", strideSource, 5},
		{"private", privateSource, 8},
		{"local", localSource, 7},
		{"calls", callSource, 7},
		{"mixed", mixedSource, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContext(t, tt.src)
			typ := c.Info.Deps.Type(tt.id, tt.id)
			require.Equal(t, analysis.DepRAW|analysis.DepWAR|analysis.DepWAW, typ)
			assert.True(t, c.IsLoopCarried(tt.id, tt.id, typ))

			d := c.DependencesAcrossIterations().DirectDependence(tt.id, tt.id)
			require.NotNil(t, d)
			assert.True(t, d.BasedOnInductiveVar)
			assert.Equal(t, FalseInductiveVariable, d.Category)
			assert.NotEqual(t, RuntimeCheckTrue, d.Category)
		})
	}
}

func TestStoresToPrivateAllocations(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		dst, src int
	}{
		{"alloc and alloc", privateSource, 7, 6},
		{"alloc and alloc reversed", privateSource, 6, 7},
		{"malloc and alloc", mixedSource, 7, 6},
		{"alloc and malloc", mixedSource, 6, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContext(t, tt.source)
			typ := c.Info.Deps.Type(tt.dst, tt.src)
			require.Equal(t, analysis.DepMWAW, typ)

			carried, why := c.Explain(tt.dst, tt.src, typ)
			assert.False(t, carried)
			assert.Equal(t, "disjoint-bases", why)
			assert.Nil(t, c.DependencesAcrossIterations().Dependence(tt.dst, tt.src))
		})
	}
}

func TestNotCarried(t *testing.T) {
	c := newContext(t, strideSource)
	deps := c.Info.Deps
	tests := []struct {
		dst, src int
		rule     string
	}{
		{3, 2, "dominating-definition"},
		{2, 2, "register-renaming"},
		{5, 4, "register-renaming"},
		{4, 0, "membership"},
	}
	for _, tt := range tests {
		carried, why := c.Explain(tt.dst, tt.src, deps.Type(tt.dst, tt.src))
		assert.False(t, carried, "%d on %d", tt.dst, tt.src)
		assert.Equal(t, tt.rule, why, "%d on %d", tt.dst, tt.src)
	}
}

func TestPrivateAllocationsDoNotAlias(t *testing.T) {
	c := newContext(t, privateSource)
	deps := c.Info.Deps
	require.Equal(t, analysis.DepMWAW, deps.Type(7, 6))

	assert.True(t, c.CannotBeAlias(1))
	assert.True(t, c.CannotBeAlias(2))
	assert.False(t, c.CannotBeAlias(3))

	carried, why := c.Explain(7, 6, analysis.DepMWAW)
	assert.False(t, carried)
	assert.Equal(t, "disjoint-bases", why)
	assert.False(t, c.IsLoopCarried(6, 7, analysis.DepMWAW))

	l := c.DependencesAcrossIterations()
	assert.Nil(t, l.Dependence(6, 7))
	cats := categoriesOf(l)
	assert.Equal(t, MemoryWAWReassociation, cats[[2]int{6, 6}])
	assert.Equal(t, MemoryWAWReassociation, cats[[2]int{7, 7}])
	assert.Equal(t, FalseInductiveVariable, cats[[2]int{6, 8}])
}

func TestLocalizable(t *testing.T) {
	c := newContext(t, localSource)
	assert.True(t, c.IsLoopCarried(5, 6, analysis.DepRAW))

	bs, ok := c.BodyStart()
	require.True(t, ok)
	assert.Equal(t, 5, bs)
	assert.Equal(t, []int{6}, c.RAWChain(6))

	l := c.DependencesAcrossIterations()
	d := l.DirectDependence(5, 6)
	require.NotNil(t, d)
	assert.Equal(t, FalseLocalizable, d.Category)
	assert.Equal(t, FalseLocalizable, l.DirectDependence(6, 5).Category)
}

func TestRAWChainRejectsChangingMemory(t *testing.T) {
	c := newContext(t, strideSource)
	assert.Equal(t, []int{5}, c.RAWChain(5))
	assert.Empty(t, c.RAWChain(4), "the load reads through a changing index")
}

func TestCalls(t *testing.T) {
	c := newContext(t, callSource)
	deps := c.Info.Deps

	carried, why := c.Explain(5, 4, deps.Type(5, 4))
	assert.True(t, carried)
	assert.Equal(t, "thread-safe", why)

	cats := categoriesOf(c.DependencesAcrossIterations())
	assert.Equal(t, FalseMemoryManagement, cats[[2]int{5, 4}])
	assert.Equal(t, InputOutput, cats[[2]int{6, 6}])
}

func TestCategorizeIsTotalAndIdempotent(t *testing.T) {
	for _, src := range []string{strideSource, privateSource, localSource, callSource} {
		c := newContext(t, src)
		l := c.DependencesWithinLoop(nil)
		first := categoriesOf(l)
		for _, d := range l.All() {
			assert.NotEqual(t, AllDD, d.Category, "%v", d)
		}
		c.categorize(l, false, nil)
		assert.Equal(t, first, categoriesOf(l))
	}
}

func TestWithinLoopKeepsCarriedList(t *testing.T) {
	c := newContext(t, strideSource)
	carried := c.DependencesAcrossIterations()
	n := carried.Len()
	within := c.DependencesWithinLoop(carried)
	assert.Equal(t, n, carried.Len())
	assert.Greater(t, within.Len(), n)
	assert.NotNil(t, within.DirectDependence(3, 2))
	assert.NotSame(t, carried.DirectDependence(4, 5), within.DirectDependence(4, 5))
}

func TestWithinMethod(t *testing.T) {
	info := analysis.Analyze(ir.MustParse(strideSource))
	l := DependencesWithinMethod(info)
	assert.Equal(t, info.Deps.Count(), l.Len())
	d := l.DirectDependence(4, 0)
	require.NotNil(t, d)
	assert.Equal(t, analysis.DepRAW, d.Type)
	assert.Equal(t, AllDD, d.Category)

	g := DDG(l, info.NumInsts())
	require.Len(t, g, info.NumInsts()+1)
	assert.Same(t, d, g[4][0])
	assert.Nil(t, g[info.NumInsts()])
}

func TestKeepOnlyLoopCarried(t *testing.T) {
	c := newContext(t, strideSource)
	deps := DependenceMap{
		4: {analysis.DepRAW: {0, 5}, analysis.DepWAW: {4}},
		3: {analysis.DepRAW: {2}},
	}
	c.KeepOnlyLoopCarried(deps)
	assert.Equal(t, DependenceMap{
		4: {analysis.DepRAW: {5}, analysis.DepWAW: {4}},
	}, deps)
}

func TestProfile(t *testing.T) {
	executed := bitset.Of(10, 0, 1, 2, 3, 5, 6, 7, 8)
	c := newContext(t, strideSource, WithExecuted(executed))
	carried, why := c.Explain(4, 5, analysis.DepRAW)
	assert.False(t, carried)
	assert.Equal(t, "membership", why)
	assert.Nil(t, c.DependencesAcrossIterations().Dependence(4, 5))
}

func TestSupportingAnalyses(t *testing.T) {
	c := newContext(t, strideSource)
	assert.True(t, c.UniqueValue(2))
	assert.False(t, c.UniqueValue(4))
	assert.True(t, c.GrowsWithIterationCount(2, c.MemoryLocations()))
	assert.False(t, c.GrowsWithIterationCount(2, nil))
	assert.Equal(t, make([]int, c.Info.Method.NumVars()), c.MemoryLocations())
	assert.True(t, c.CannotChange(1))

	c = newContext(t, privateSource)
	assert.True(t, c.VariablesHaveDifferentValues(1, 2), "different allocation sizes")
	assert.True(t, c.HaveDifferentValuesAlways(1, 2))
	assert.False(t, c.HaveDifferentValuesAlways(1, 1))
	assert.False(t, c.VariablesHaveDifferentValues(0, 1), "parameters have no definition")
}

func TestRules(t *testing.T) {
	c := newContext(t, strideSource)
	q := func(dst, src int, typ analysis.DepType) *query {
		return &query{ctx: c, dst: dst, src: src, t: typ, correct: true, mem: c.MemoryLocations()}
	}
	assert.Equal(t, NotCarried, ruleMembership(q(8, 4, analysis.DepRAW)))
	assert.Equal(t, Undecided, ruleMembership(q(4, 5, analysis.DepRAW)))
	assert.Equal(t, Carried, ruleInductionVariable(q(4, 5, analysis.DepRAW)))
	assert.Equal(t, Undecided, ruleInductionVariable(q(4, 5, analysis.DepRAW|analysis.DepWAR)))
	assert.Equal(t, Undecided, ruleRegisterRenaming(q(4, 4, analysis.DepWAW)), "v4 is read after the loop")
	assert.Equal(t, Carried, ruleLiveAcross(q(5, 5, analysis.DepRAW|analysis.DepWAR|analysis.DepWAW)))
	assert.Equal(t, "carried", Carried.String())
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	m := ir.MustParse(`
func f() {
  v0 = libcall @malloc(8)
  v1 = call @malloc(8)
  v2 = call @helper(8)
  call @BUFFER_flush()
  libcall @spec_write()
}
`)
	assert.True(t, cfg.IsThreadSafe(m.Insts[0]))
	assert.True(t, cfg.IsThreadSafe(m.Insts[1]), "malloc is a default library routine")
	assert.False(t, cfg.IsThreadSafe(m.Insts[2]))
	assert.False(t, cfg.IsLibraryCall(m.Insts[2]))
	assert.True(t, cfg.IsInputOutput(m.Insts[3]))
	assert.False(t, cfg.IsInputOutput(m.Insts[4]), "only direct calls perform I/O")

	cfg = NewConfig(nil, nil, nil)
	assert.False(t, cfg.IsThreadSafe(m.Insts[1]))
	assert.Equal(t, "FALSE_LOCALIZABLE", FalseLocalizable.String())
	assert.Equal(t, "ALL_DD", AllDD.String())
}
