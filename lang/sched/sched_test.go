// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sched

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/interp"
	"github.com/probechain/probe-sched/lang/ir"
)

// 0 v2 = add; 1 v3 = mul; 2 v4 = add v2; 3 return
const straightUp = `
func up(v0, v1) {
  v2 = add v0, 1
  v3 = mul v1, 2
  v4 = add v2, 5
  return v4
}
`

// 0 v2 = mul; 1 v3 = add; 2 v4 = add; 3 v5 = add v2; 4 return
const straightDown = `
func down(v0, v1) {
  v2 = mul v0, v1
  v3 = add v1, 2
  v4 = add v0, 1
  v5 = add v2, v4
  return v5
}
`

// 0 v2 = add; 1 branchif; 2 v3 = 1; 3 branch; 4 L1; 5 v3 = 2; 6 L2;
// 7 v4 = mul; 8 v5 = add; 9 return
const diamond = `
func diamond(v0, v1) {
  v2 = add v1, 3
  branchif v0, L1
  v3 = move 1
  branch L2
L1:
  v3 = move 2
L2:
  v4 = mul v1, 2
  v5 = add v4, v3
  return v5
}
`

// 0 branchif; 1 v2 = 1; 2 branch; 3 L1; 4 v1 = add; 5 L2; 6 v4 = mul v1; 7 return
const oneArmDefines = `
func arms(v0, v1) {
  branchif v0, L1
  v2 = move 1
  branch L2
L1:
  v1 = add v1, 1
L2:
  v4 = mul v1, 2
  return v4
}
`

// 0 v2 = mul; 1 branchif; 2 v3 = add; 3 return; 4 L1; 5 v4 = add v2; 6 return
const twoReturns = `
func exits(v0, v1) {
  v2 = mul v1, 3
  branchif v0, L1
  v3 = add v1, 1
  return v3
L1:
  v4 = add v2, 1
  return v4
}
`

// 0 v2 = 0; 1 L1; 2 v3 = mul; 3 v2 = add; 4 v4 = lt; 5 branchif L1; 6 return
const doWhile = `
func dowhile(v0, v1) {
  v2 = move 0
L1:
  v3 = mul v1, 4
  v2 = add v2, v3
  v4 = lt v2, v0
  branchif v4, L1
  return v2
}
`

// 0 v2 = 0; 1 L1; 2 v4 = lt; 3 branchifnot L2; 4 v3 = mul; 5 v2 = add;
// 6 branch L1; 7 L2; 8 v6 = add; 9 return
const whileLoop = `
func loop(v0, v1) {
  v2 = move 0
L1:
  v4 = lt v2, v0
  branchifnot v4, L2
  v3 = mul v1, 4
  v2 = add v2, v3
  branch L1
L2:
  v6 = add v1, 1
  return v2
}
`

// 0 malloc; 1 v2 = 0; 2 L1; 3 v3 = mul v2; 4 storerel v3; 5 v2 = add;
// 6 v4 = lt; 7 branchif L1; 8 loadrel; 9 return
const fillDoWhile = `
func fill(v0) {
  v1 = libcall @malloc(64)
  v2 = move 0
L1:
  v3 = mul v2, 8
  storerel v1, v3, v2
  v2 = add v2, 1
  v4 = lt v2, v0
  branchif v4, L1
  v5 = loadrel v1, 16
  return v5
}
`

// 0 malloc; 1 v2 = 0; 2 L1; 3 v2 = add; 4 storerel; 5 v4 = lt;
// 6 branchif L1; 7 loadrel; 8 return
const storeDoWhile = `
func keep(v0, v1) {
  v5 = libcall @malloc(16)
  v2 = move 0
L1:
  v2 = add v2, 1
  storerel v5, 8, v1
  v4 = lt v2, v0
  branchif v4, L1
  v6 = loadrel v5, 8
  return v6
}
`

// 0 v2 = 0; 1 L1; 2 v2 = add; 3 v3 = mul v1; 4 v4 = lt; 5 branchif L1;
// 6 return v3
const invariantDoWhile = `
func inv(v0, v1) {
  v2 = move 0
L1:
  v2 = add v2, 1
  v3 = mul v1, 4
  v4 = lt v2, v0
  branchif v4, L1
  return v3
}
`

func newSchedule(t *testing.T, src string) *Schedule {
	t.Helper()
	s, err := New(ir.MustParse(src))
	require.NoError(t, err)
	return s
}

func set(ids ...int) *bitset.Set {
	n := 0
	for _, id := range ids {
		if id >= n {
			n = id + 1
		}
	}
	return bitset.Of(n, ids...)
}

// assertSource compares the method against the expected listing.
func assertSource(t *testing.T, want string, m *ir.Method) {
	t.Helper()
	if diff := cmp.Diff(ir.Format(ir.MustParse(want)), ir.Format(m)); diff != "" {
		t.Fatalf("method mismatch (-want +got):\n%s\n%s", diff, ir.FormatWithIDs(m))
	}
}

// assertSameRuns runs both methods on every argument list and compares the
// final states.
func assertSameRuns(t *testing.T, before, after *ir.Method, argLists ...[]int64) {
	t.Helper()
	for _, args := range argLists {
		want := run(t, before, args)
		got := run(t, after, args)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("args %v: states differ (-before +after):\n%s\n%s", args, diff, ir.FormatWithIDs(after))
		}
	}
}

func run(t *testing.T, m *ir.Method, args []int64) *interp.State {
	t.Helper()
	in, err := interp.New(m)
	require.NoError(t, err)
	st, err := in.Run(args...)
	require.NoError(t, err)
	return st
}

func TestHoistStopsBelowDependenceInBlock(t *testing.T) {
	s := newSchedule(t, straightUp)
	clones, err := s.MoveInstructionOnlyAsHighAsPossible(2)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, clones.IDs(2))
	assertSource(t, `
func up(v0, v1) {
  v2 = add v0, 1
  v4 = add v2, 5
  v3 = mul v1, 2
  return v4
}
`, s.Method())
	assertSameRuns(t, ir.MustParse(straightUp), s.Method(), []int64{3, 4})
}

func TestSinkStopsAboveDependenceInBlock(t *testing.T) {
	s := newSchedule(t, straightDown)
	clones, err := s.MoveInstructionOnlyAsLowAsPossible(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, clones.IDs(0))
	assertSource(t, `
func down(v0, v1) {
  v3 = add v1, 2
  v4 = add v0, 1
  v2 = mul v0, v1
  v5 = add v2, v4
  return v5
}
`, s.Method())
}

func TestHoistThroughJoin(t *testing.T) {
	s := newSchedule(t, diamond)
	clones, err := s.MoveInstructionOnlyAsHighAsPossible(7)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, clones.IDs(7))
	assertSource(t, `
func diamond(v0, v1) {
  v4 = mul v1, 2
  v2 = add v1, 3
  branchif v0, L1
  v3 = move 1
  branch L2
L1:
  v3 = move 2
L2:
  v5 = add v4, v3
  return v5
}
`, s.Method())
	assertSameRuns(t, ir.MustParse(diamond), s.Method(), []int64{0, 5}, []int64{1, 5})
}

func TestHoistClonesIntoArms(t *testing.T) {
	s := newSchedule(t, oneArmDefines)
	clones, err := s.MoveInstructionOnlyAsHighAsPossible(6)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 6}, clones.IDs(6))
	assertSource(t, `
func arms(v0, v1) {
  branchif v0, L1
  v4 = mul v1, 2
  v2 = move 1
  branch L2
L1:
  v1 = add v1, 1
  v4 = mul v1, 2
L2:
  return v4
}
`, s.Method())
	assertSameRuns(t, ir.MustParse(oneArmDefines), s.Method(), []int64{0, 7}, []int64{1, 7})
}

func TestSinkStopsAtReturns(t *testing.T) {
	s := newSchedule(t, twoReturns)
	clones, err := s.MoveInstructionOnlyAsLowAsPossible(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, clones.IDs(0))
	assertSource(t, `
func exits(v0, v1) {
  branchif v0, L1
  v3 = add v1, 1
  v2 = mul v1, 3
  return v3
L1:
  v2 = mul v1, 3
  v4 = add v2, 1
  return v4
}
`, s.Method())
	assertSameRuns(t, ir.MustParse(twoReturns), s.Method(), []int64{0, 2}, []int64{1, 2})
}

// A bottom-tested loop has no back edge, so its body is walked like any
// other code. Hoisting out of it must still respect the whole cycle.
func TestHoistOutOfBottomTestedLoop(t *testing.T) {
	tests := []struct {
		name string
		src  string
		id   int
	}{
		{"operand redefined", fillDoWhile, 3},
		{"store", storeDoWhile, 4},
		{"induction variable", invariantDoWhile, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSchedule(t, tt.src)
			require.Empty(t, s.Loops().Loops)
			before := ir.FingerprintHex(s.Method())
			_, err := s.MoveInstructionOnlyAsHighAsPossible(tt.id)
			assert.True(t, errors.Is(err, ErrLoopBoundary), "got %v", err)
			assert.Equal(t, before, ir.FingerprintHex(s.Method()))
		})
	}
}

func TestHoistInvariantOutOfBottomTestedLoop(t *testing.T) {
	s := newSchedule(t, invariantDoWhile)
	clones, err := s.MoveInstructionOnlyAsHighAsPossible(3)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, clones.IDs(3))
	assertSource(t, `
func inv(v0, v1) {
  v3 = mul v1, 4
  v2 = move 0
L1:
  v2 = add v2, 1
  v4 = lt v2, v0
  branchif v4, L1
  return v3
}
`, s.Method())
	assertSameRuns(t, ir.MustParse(invariantDoWhile), s.Method(), []int64{3, 1}, []int64{0, 2}, []int64{5, 7})

	// Readers of the result later in the body see the same value.
	s = newSchedule(t, doWhile)
	clones, err = s.MoveInstructionOnlyAsHighAsPossible(2)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, clones.IDs(2))
	assertSource(t, `
func dowhile(v0, v1) {
  v3 = mul v1, 4
  v2 = move 0
L1:
  v2 = add v2, v3
  v4 = lt v2, v0
  branchif v4, L1
  return v2
}
`, s.Method())
	assertSameRuns(t, ir.MustParse(doWhile), s.Method(), []int64{0, 1}, []int64{10, 2})
}

func TestMaxMoveRefusals(t *testing.T) {
	tests := []struct {
		name string
		src  string
		id   int
		dir  Direction
		want error
	}{
		{"branch", diamond, 1, Upwards, ErrBranch},
		{"label", diamond, 4, Downwards, ErrBranch},
		{"return", straightUp, 3, Upwards, ErrBranch},
		{"first", straightUp, 0, Upwards, ErrNotWorthIt},
		{"pinned", straightUp, 2, Downwards, ErrNotWorthIt},
		{"loop body", whileLoop, 4, Upwards, ErrNotWorthIt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSchedule(t, tt.src)
			before := ir.FingerprintHex(s.Method())
			var err error
			if tt.dir == Upwards {
				_, err = s.MoveInstructionOnlyAsHighAsPossible(tt.id)
			} else {
				_, err = s.MoveInstructionOnlyAsLowAsPossible(tt.id)
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			var me *MoveError
			assert.True(t, errors.As(err, &me))
			assert.Equal(t, before, ir.FingerprintHex(s.Method()))
		})
	}
}

func TestMoveBefore(t *testing.T) {
	s := newSchedule(t, straightDown)
	clones, err := s.MoveInstructionsBefore(set(2), set(1))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, clones.IDs(2))
	assertSource(t, `
func down(v0, v1) {
  v2 = mul v0, v1
  v4 = add v0, 1
  v3 = add v1, 2
  v5 = add v2, v4
  return v5
}
`, s.Method())
}

func TestMoveAfter(t *testing.T) {
	s := newSchedule(t, straightDown)
	clones, err := s.MoveInstructionsAfter(set(0), set(2))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, clones.IDs(0))
	assertSource(t, `
func down(v0, v1) {
  v3 = add v1, 2
  v4 = add v0, 1
  v2 = mul v0, v1
  v5 = add v2, v4
  return v5
}
`, s.Method())
	assertSameRuns(t, ir.MustParse(straightDown), s.Method(), []int64{6, 7})
}

func TestMoveAboveDiamond(t *testing.T) {
	s := newSchedule(t, diamond)
	clones, err := s.MoveInstructionsBefore(set(7), set(1))
	require.NoError(t, err, spew.Sdump(s.Region()))
	assert.Equal(t, []int{1}, clones.IDs(7))
	assertSource(t, `
func diamond(v0, v1) {
  v2 = add v1, 3
  v4 = mul v1, 2
  branchif v0, L1
  v3 = move 1
  branch L2
L1:
  v3 = move 2
L2:
  v5 = add v4, v3
  return v5
}
`, s.Method())
	assertSameRuns(t, ir.MustParse(diamond), s.Method(), []int64{0, 1}, []int64{1, 1})
}

func TestMoveRejections(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		insts   *bitset.Set
		anchors *bitset.Set
		dir     Direction
		want    error
	}{
		{"overlap", straightDown, set(1, 2), set(2), Upwards, ErrOverlap},
		{"wrong side", straightDown, set(0), set(3), Upwards, ErrNoRegion},
		{"anchor depends", straightDown, set(0), set(3), Downwards, ErrDependence},
		{"loop boundary", whileLoop, set(4), set(8), Downwards, ErrLoopBoundary},
		{"speculation", diamond, set(5), set(1), Upwards, ErrDependence},
		{"label", diamond, set(4), set(0), Upwards, ErrBranch},
		{"join label", whileLoop, set(7, 8), set(2), Upwards, ErrBranch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSchedule(t, tt.src)
			before := ir.FingerprintHex(s.Method())
			var err error
			if tt.dir == Upwards {
				_, err = s.MoveInstructionsBefore(tt.insts, tt.anchors)
			} else {
				_, err = s.MoveInstructionsAfter(tt.insts, tt.anchors)
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, before, ir.FingerprintHex(s.Method()))
		})
	}
}

func TestOutOfRange(t *testing.T) {
	s := newSchedule(t, straightUp)
	_, err := s.MoveInstructionOnlyAsHighAsPossible(4)
	assert.Error(t, err)
	_, err = s.MoveInstructionsBefore(set(9), set(0))
	assert.Error(t, err)
}

func TestDeterministic(t *testing.T) {
	var prints []string
	for i := 0; i < 2; i++ {
		s := newSchedule(t, oneArmDefines)
		_, err := s.MoveInstructionOnlyAsHighAsPossible(6)
		require.NoError(t, err)
		prints = append(prints, ir.FingerprintHex(s.Method()))
	}
	assert.Equal(t, prints[0], prints[1])
}

func TestStaleAndClosed(t *testing.T) {
	s := newSchedule(t, straightUp)
	_, err := s.MoveInstructionOnlyAsHighAsPossible(2)
	require.NoError(t, err)
	_, err = s.MoveInstructionOnlyAsHighAsPossible(1)
	assert.True(t, errors.Is(err, ErrStale), "got %v", err)
	_, err = s.MoveInstructionsBefore(set(1), set(0))
	assert.True(t, errors.Is(err, ErrStale), "got %v", err)

	s = newSchedule(t, straightUp)
	s.Method().Delete(s.Method().Insts[1])
	_, err = s.MoveInstructionOnlyAsHighAsPossible(2)
	assert.True(t, errors.Is(err, ErrStale), "got %v", err)

	s = newSchedule(t, straightUp)
	s.Close()
	_, err = s.MoveInstructionOnlyAsLowAsPossible(0)
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
	_, err = s.RegionBetween(0, set(2), true)
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func TestRegions(t *testing.T) {
	s := newSchedule(t, whileLoop)
	region := s.RegionBetweenTwoInsts(0, 8)
	assert.Equal(t, []int{0, 1, 2, 3, 7, 8}, region.Slice())

	grown := region.Copy()
	assert.True(t, s.AddContainedLoops(grown))
	assert.True(t, region.SubsetOf(grown))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, grown.Slice())
	assert.False(t, s.AddContainedLoops(grown))

	assert.Empty(t, s.RegionBetweenTwoInsts(8, 0).Slice())
	assert.Equal(t, 0, s.PreDominator(grown))
}

func TestReachNeverCrossesBackEdges(t *testing.T) {
	s := newSchedule(t, whileLoop)
	require.True(t, s.Loops().IsBackEdge(6, 1))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, s.ReachedUpwardsNoBackEdge(4).Slice())
	assert.Equal(t, []int{4, 5, 6}, s.ReachedDownwardsNoBackEdge(4).Slice())

	// The header of a bottom-tested loop does not post-dominate the
	// latch: the cycle is walked like straight code.
	s = newSchedule(t, doWhile)
	assert.False(t, s.Loops().IsBackEdge(5, 1))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, s.ReachedUpwardsNoBackEdge(2).Slice())
}

func TestInstsToClone(t *testing.T) {
	s := newSchedule(t, diamond)
	c, err := s.InstsToClone(set(8), set(1), Upwards)
	require.NoError(t, err)
	// v3 is defined in both arms: their code and the branch come along.
	assert.True(t, c.Test(8))
	assert.True(t, c.Test(2))
	assert.True(t, c.Test(5))
	assert.True(t, c.Test(1))
}

// observable is what a run of a method leaves behind for its caller.
type observable struct {
	Return int64
	Memory map[uint64][]byte
	Trace  []string
	Exited bool
	Failed bool
}

func observe(t *testing.T, m *ir.Method, args []int64) observable {
	t.Helper()
	in, err := interp.New(m)
	require.NoError(t, err)
	st, err := in.Run(args...)
	if err != nil {
		return observable{Failed: true}
	}
	return observable{Return: st.Return, Memory: st.Memory, Trace: st.Trace, Exited: st.Exited}
}

// Random requests either succeed with a well-formed method that behaves
// like the original, or leave the method untouched.
func TestRandomMoves(t *testing.T) {
	sources := []string{straightUp, straightDown, diamond, oneArmDefines, twoReturns, doWhile, whileLoop, invariantDoWhile}
	argLists := [][]int64{{0, 1}, {3, 1}, {10, 2}}
	for seed := int64(0); seed < 200; seed++ {
		f := fuzz.New().NilChance(0).NumElements(1, 3).RandSource(rand.NewSource(seed))
		var pick struct {
			Src     uint8
			Insts   []uint8
			Anchors []uint8
			Down    bool
			Single  bool
		}
		f.Fuzz(&pick)

		src := sources[int(pick.Src)%len(sources)]
		s := newSchedule(t, src)
		n := s.NumInsts()
		insts, anchors := s.newSet(), s.newSet()
		for _, i := range pick.Insts {
			insts.Set(int(i) % n)
		}
		for _, i := range pick.Anchors {
			anchors.Set(int(i) % n)
		}
		before := ir.FingerprintHex(s.Method())

		var err error
		switch {
		case pick.Single && pick.Down:
			_, err = s.MoveInstructionOnlyAsLowAsPossible(insts.First())
		case pick.Single:
			_, err = s.MoveInstructionOnlyAsHighAsPossible(insts.First())
		case pick.Down:
			_, err = s.MoveInstructionsAfter(insts, anchors)
		default:
			_, err = s.MoveInstructionsBefore(insts, anchors)
		}
		if err != nil {
			var me *MoveError
			require.True(t, errors.As(err, &me), "seed %d: %v\n%s", seed, err, spew.Sdump(pick))
			require.Equal(t, before, ir.FingerprintHex(s.Method()), "seed %d", seed)
			continue
		}
		require.Empty(t, ir.Verify(s.Method()), "seed %d\n%s", seed, ir.FormatWithIDs(s.Method()))
		orig := ir.MustParse(src)
		for _, args := range argLists {
			want, got := observe(t, orig, args), observe(t, s.Method(), args)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("seed %d, args %v: behaviour changed (-before +after):\n%s\n%s\n%s",
					seed, args, diff, spew.Sdump(pick), ir.FormatWithIDs(s.Method()))
			}
		}
	}
}
