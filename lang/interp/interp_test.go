// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package interp

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-sched/lang/ir"
)

func runSource(t *testing.T, src string, args ...int64) *State {
	t.Helper()
	in, err := New(ir.MustParse(src))
	require.NoError(t, err)
	st, err := in.Run(args...)
	require.NoError(t, err)
	return st
}

func TestArithmetic(t *testing.T) {
	st := runSource(t, `
func arith(v0, v1) {
  v2 = add v0, v1
  v3 = mul v2, 3
  v4 = sub v3, 1
  v5 = rem v4, 7
  v6 = shl v5, 2
  v7 = lt v6, 10
  return v6
}
`, 4, 5)
	assert.Equal(t, int64(27), st.Vars[3])
	assert.Equal(t, int64(5), st.Vars[5])
	assert.Equal(t, int64(20), st.Return)
	assert.Equal(t, int64(0), st.Vars[7])
}

func TestDivisionByZero(t *testing.T) {
	in, err := New(ir.MustParse(`
func div(v0) {
  v1 = div 10, v0
  return v1
}
`))
	require.NoError(t, err)
	_, err = in.Run(0)
	assert.True(t, errors.Is(err, ErrDivisionByZero), "got %v", err)
}

func TestLoopOverHeap(t *testing.T) {
	st := runSource(t, `
func fill(v0) {
  v1 = libcall @malloc(32)
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
`, 4)
	assert.Equal(t, int64(2), st.Return)
	require.Len(t, st.Memory, 1)
	for _, data := range st.Memory {
		assert.Len(t, data, 32)
		assert.Equal(t, byte(3), data[24])
	}
}

func TestOutOfGas(t *testing.T) {
	in, err := New(ir.MustParse(`
func spin(v0) {
L1:
  v0 = add v0, 1
  branch L1
}
`), WithGasLimit(1000))
	require.NoError(t, err)
	_, err = in.Run()
	assert.True(t, errors.Is(err, ErrOutOfGas), "got %v", err)
}

func TestDoubleFree(t *testing.T) {
	in, err := New(ir.MustParse(`
func twice(v0) {
  v1 = alloc 16
  free v1
  free v1
  return
}
`))
	require.NoError(t, err)
	_, err = in.Run()
	assert.True(t, errors.Is(err, ErrDoubleFree), "got %v", err)
}

func TestInvalidAddress(t *testing.T) {
	in, err := New(ir.MustParse(`
func wild(v0) {
  v1 = alloc 8
  v2 = loadrel v1, 8
  return v2
}
`))
	require.NoError(t, err)
	_, err = in.Run()
	assert.True(t, errors.Is(err, ErrInvalidAddress), "got %v", err)
}

func TestOutOfMemory(t *testing.T) {
	in, err := New(ir.MustParse(`
func big(v0) {
  v1 = alloc v0
  return v1
}
`), WithMemoryLimit(1024))
	require.NoError(t, err)
	_, err = in.Run(4096)
	assert.True(t, errors.Is(err, ErrOutOfMemory), "got %v", err)
}

func TestCallsAreTraced(t *testing.T) {
	st := runSource(t, `
func io(v0) {
  libcall @spec_write(v0, 2)
  v1 = libcall @realloc(0, 8)
  storerel v1, 0, 7
  call @helper()
  libcall @exit(3)
  libcall @spec_write(9)
  return 1
}
`, 5)
	assert.Equal(t, []string{"libcall spec_write(5, 2)", "call helper()"}, st.Trace)
	assert.True(t, st.Exited)
	assert.Equal(t, int64(3), st.Return)
}

func TestRunsAreRepeatable(t *testing.T) {
	m := ir.MustParse(`
func sym(v0) {
  v1 = getaddress $3
  storerel v1, 0, v0
  v2 = libcall @malloc(8)
  storerel v2, 0, v0
  v3 = loadrel v1, 0
  return v3
}
`)
	in, err := New(m)
	require.NoError(t, err)
	a, err := in.Run(11)
	require.NoError(t, err)
	b, err := in.Run(11)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("runs differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, int64(11), a.Return)
}

func TestUndefinedLabel(t *testing.T) {
	m := ir.MustParse(`
func f(v0) {
  branch L1
L1:
  return
}
`)
	m.Insts[0].Params[0] = ir.LabelRef(99)
	_, err := New(m)
	assert.Error(t, err)
}
