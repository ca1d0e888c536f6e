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

// Package interp executes IR methods. It exists to compare the observable
// behaviour of a method before and after it was transformed: final
// variables, heap contents, the sequence of external calls and the
// returned value.
package interp

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/probechain/probe-sched/lang/ir"
)

// ---- Error sentinels -------------------------------------------------------

// ErrOutOfGas is returned when a run exhausts its gas limit.
var ErrOutOfGas = errors.New("interp: out of gas")

// ErrDivisionByZero is returned by div and rem with a zero divisor.
var ErrDivisionByZero = errors.New("interp: division by zero")

// ErrUnsupported is returned for instructions the interpreter cannot model.
var ErrUnsupported = errors.New("interp: unsupported instruction")

// ---- Gas costs -------------------------------------------------------------

const (
	gasTrivial    uint64 = 1
	gasArithmetic uint64 = 3
	gasMul        uint64 = 5
	gasDivMod     uint64 = 10
	gasBitwise    uint64 = 2
	gasMemOp      uint64 = 5
	gasJump       uint64 = 3
	gasCall       uint64 = 20
)

// DefaultGasLimit bounds runs that do not set a limit.
const DefaultGasLimit uint64 = 1_000_000

// symbolSize is the number of bytes backing each global symbol.
const symbolSize uint64 = 64

// ---- Interpreter -----------------------------------------------------------

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithGasLimit bounds the gas of every run.
func WithGasLimit(gas uint64) Option {
	return func(in *Interpreter) { in.gasLimit = gas }
}

// WithMemoryLimit bounds the live heap bytes of every run.
func WithMemoryLimit(limit uint64) Option {
	return func(in *Interpreter) { in.memLimit = limit }
}

// Interpreter runs one method. It is not safe for concurrent use, but
// several interpreters may run the same unchanged method in parallel.
type Interpreter struct {
	m        *ir.Method
	labels   map[int64]int // label ID to instruction position
	symbols  []int         // symbol IDs referenced by the method, ascending
	gasLimit uint64
	memLimit uint64
}

// New prepares m for execution. The method must not change while the
// interpreter is in use.
func New(m *ir.Method, opts ...Option) (*Interpreter, error) {
	in := &Interpreter{
		m:        m,
		labels:   make(map[int64]int),
		gasLimit: DefaultGasLimit,
	}
	for _, opt := range opts {
		opt(in)
	}
	seen := make(map[int]bool)
	for pos, inst := range m.Insts {
		if inst.Op == ir.OpLabel {
			in.labels[inst.Label()] = pos
		}
		for _, it := range append(inst.Params[:], inst.CallParams...) {
			if it.Kind == ir.KindSymbol && !seen[int(it.Value)] {
				seen[int(it.Value)] = true
				in.symbols = append(in.symbols, int(it.Value))
			}
		}
	}
	for _, inst := range m.Insts {
		if inst.IsBranch() {
			if _, ok := in.labels[inst.Label()]; !ok {
				return nil, fmt.Errorf("interp: %s: branch to undefined label L%d", m.Name, inst.Label())
			}
		}
	}
	sort.Ints(in.symbols)
	return in, nil
}

// State is everything a run leaves observable.
type State struct {
	Vars   []int64           // final value of every variable
	Memory map[uint64][]byte // live allocations by base address
	Trace  []string          // external calls in execution order
	Return int64
	Exited bool // stopped by a call to exit
}

// run is the mutable state of one execution.
type run struct {
	in      *Interpreter
	vars    []int64
	mem     *Memory
	symbols map[int]uint64
	trace   []string
	gasUsed uint64
}

// Run executes the method with the given arguments bound to its
// parameters in order. Missing arguments are zero.
func (in *Interpreter) Run(args ...int64) (*State, error) {
	r := &run{
		in:      in,
		vars:    make([]int64, in.m.NumVars()),
		mem:     NewMemory(in.memLimit),
		symbols: make(map[int]uint64, len(in.symbols)),
	}
	for i, v := range in.m.Params {
		if i < len(args) && v < len(r.vars) {
			r.vars[v] = args[i]
		}
	}
	// Globals are laid out before anything runs so their addresses do
	// not depend on the order instructions execute in.
	for _, sym := range in.symbols {
		addr, err := r.mem.Alloc(symbolSize)
		if err != nil {
			return nil, err
		}
		r.symbols[sym] = addr
	}
	st := &State{}
	insts := in.m.Insts
	for pc := 0; pc < len(insts); {
		inst := insts[pc]
		next, done, err := r.step(inst, pc, st)
		if err != nil {
			return nil, fmt.Errorf("%s at %d (%s): %w", in.m.Name, pc, inst, err)
		}
		if done {
			break
		}
		pc = next
	}
	st.Vars = r.vars
	st.Memory = r.mem.Snapshot()
	st.Trace = r.trace
	return st, nil
}

func (r *run) useGas(cost uint64) error {
	r.gasUsed += cost
	if r.gasUsed > r.in.gasLimit {
		return ErrOutOfGas
	}
	return nil
}

// value reads an operand as a raw 64-bit word. Floats are kept as their
// IEEE bits.
func (r *run) value(it ir.Item) int64 {
	switch it.Kind {
	case ir.KindVar:
		if v := it.VarID(); v < len(r.vars) {
			return r.vars[v]
		}
		return 0
	case ir.KindConst:
		return it.Value
	case ir.KindFConst:
		return int64(math.Float64bits(it.Float))
	case ir.KindSymbol:
		return int64(r.symbols[int(it.Value)])
	}
	return 0
}

func (r *run) float(it ir.Item) float64 {
	if it.Kind == ir.KindConst {
		return float64(it.Value)
	}
	return math.Float64frombits(uint64(r.value(it)))
}

func isFloat(it ir.Item) bool { return it.Type == ir.TypeFloat }

func (r *run) set(it ir.Item, v int64) {
	if id := it.VarID(); id >= 0 && id < len(r.vars) {
		r.vars[id] = v
	}
}

func (r *run) setFloat(it ir.Item, f float64) { r.set(it, int64(math.Float64bits(f))) }

func boolWord(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// step executes inst and returns the position of the next instruction.
//
//nolint:gocyclo
func (r *run) step(inst *ir.Instruction, pc int, st *State) (int, bool, error) {
	p := inst.Params
	next := pc + 1
	switch op := inst.Op; op {

	// ---- Control -----------------------------------------------------------

	case ir.OpNop, ir.OpLabel:
		return next, false, r.useGas(gasTrivial)

	case ir.OpBranch:
		if err := r.useGas(gasJump); err != nil {
			return 0, false, err
		}
		return r.in.labels[inst.Label()], false, nil

	case ir.OpBranchIf, ir.OpBranchIfNot:
		if err := r.useGas(gasJump); err != nil {
			return 0, false, err
		}
		if (r.value(p[0]) != 0) == (op == ir.OpBranchIf) {
			return r.in.labels[inst.Label()], false, nil
		}
		return next, false, nil

	case ir.OpReturn:
		if p[0].Kind != ir.KindNone {
			st.Return = r.value(p[0])
		}
		return 0, true, r.useGas(gasTrivial)

	// ---- Arithmetic and bitwise --------------------------------------------

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem, ir.OpNeg:
		cost := gasArithmetic
		switch op {
		case ir.OpMul:
			cost = gasMul
		case ir.OpDiv, ir.OpRem:
			cost = gasDivMod
		}
		if err := r.useGas(cost); err != nil {
			return 0, false, err
		}
		if isFloat(inst.Result) {
			return next, false, r.floatArith(inst)
		}
		return next, false, r.intArith(inst)

	case ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpNot, ir.OpShl, ir.OpShr:
		if err := r.useGas(gasBitwise); err != nil {
			return 0, false, err
		}
		a, b := r.value(p[0]), r.value(p[1])
		var v int64
		switch op {
		case ir.OpAnd:
			v = a & b
		case ir.OpOr:
			v = a | b
		case ir.OpXor:
			v = a ^ b
		case ir.OpNot:
			v = ^a
		case ir.OpShl:
			v = a << uint64(b&63)
		case ir.OpShr:
			v = a >> uint64(b&63)
		}
		r.set(inst.Result, v)
		return next, false, nil

	case ir.OpEq, ir.OpLt, ir.OpGt:
		if err := r.useGas(gasTrivial); err != nil {
			return 0, false, err
		}
		var v bool
		if isFloat(p[0]) || isFloat(p[1]) {
			a, b := r.float(p[0]), r.float(p[1])
			v = (op == ir.OpEq && a == b) || (op == ir.OpLt && a < b) || (op == ir.OpGt && a > b)
		} else {
			a, b := r.value(p[0]), r.value(p[1])
			v = (op == ir.OpEq && a == b) || (op == ir.OpLt && a < b) || (op == ir.OpGt && a > b)
		}
		r.set(inst.Result, boolWord(v))
		return next, false, nil

	// ---- Values ------------------------------------------------------------

	case ir.OpMove:
		r.set(inst.Result, r.value(p[0]))
		return next, false, r.useGas(gasTrivial)

	case ir.OpConv:
		switch {
		case isFloat(inst.Result) && !isFloat(p[0]):
			r.setFloat(inst.Result, float64(r.value(p[0])))
		case !isFloat(inst.Result) && isFloat(p[0]):
			r.set(inst.Result, int64(r.float(p[0])))
		default:
			r.set(inst.Result, r.value(p[0]))
		}
		return next, false, r.useGas(gasTrivial)

	case ir.OpGetAddress:
		if p[0].Kind != ir.KindSymbol {
			return 0, false, fmt.Errorf("%w: address of %s", ErrUnsupported, p[0])
		}
		r.set(inst.Result, r.value(p[0]))
		return next, false, r.useGas(gasTrivial)

	// ---- Memory ------------------------------------------------------------

	case ir.OpLoadRel:
		if err := r.useGas(gasMemOp); err != nil {
			return 0, false, err
		}
		v, err := r.mem.ReadWord(uint64(r.value(p[0]) + r.value(p[1])))
		if err != nil {
			return 0, false, err
		}
		r.set(inst.Result, v)
		return next, false, nil

	case ir.OpStoreRel:
		if err := r.useGas(gasMemOp); err != nil {
			return 0, false, err
		}
		return next, false, r.mem.WriteWord(uint64(r.value(p[0])+r.value(p[1])), r.value(p[2]))

	case ir.OpInitMemory:
		if err := r.useGas(gasMemOp); err != nil {
			return 0, false, err
		}
		return next, false, r.mem.Fill(uint64(r.value(p[0])), uint64(r.value(p[2])), byte(r.value(p[1])))

	case ir.OpMemcpy:
		if err := r.useGas(gasMemOp); err != nil {
			return 0, false, err
		}
		return next, false, r.mem.Copy(uint64(r.value(p[0])), uint64(r.value(p[1])), uint64(r.value(p[2])))

	// ---- Allocation --------------------------------------------------------

	case ir.OpAlloc, ir.OpAllocAlign, ir.OpNewObj, ir.OpCalloc, ir.OpNewArr:
		if err := r.useGas(gasMemOp); err != nil {
			return 0, false, err
		}
		size := r.value(p[0])
		switch op {
		case ir.OpCalloc:
			size *= r.value(p[1])
		case ir.OpNewArr:
			size *= int64(wordSize)
		}
		if size < 0 {
			return 0, false, fmt.Errorf("%w: negative size %d", ErrOutOfMemory, size)
		}
		addr, err := r.mem.Alloc(uint64(size))
		if err != nil {
			return 0, false, err
		}
		r.set(inst.Result, int64(addr))
		return next, false, nil

	case ir.OpRealloc:
		if err := r.useGas(gasMemOp); err != nil {
			return 0, false, err
		}
		addr, err := r.mem.Realloc(uint64(r.value(p[0])), uint64(r.value(p[1])))
		if err != nil {
			return 0, false, err
		}
		r.set(inst.Result, int64(addr))
		return next, false, nil

	case ir.OpFree, ir.OpFreeObj:
		if err := r.useGas(gasMemOp); err != nil {
			return 0, false, err
		}
		return next, false, r.mem.Free(uint64(r.value(p[0])))

	// ---- Calls -------------------------------------------------------------

	case ir.OpCall, ir.OpLibraryCall, ir.OpNativeCall, ir.OpVCall, ir.OpICall:
		if err := r.useGas(gasCall); err != nil {
			return 0, false, err
		}
		return r.call(inst, next, st)
	}
	panic(fmt.Sprintf("interp: unknown opcode %s", inst.Op))
}

func (r *run) intArith(inst *ir.Instruction) error {
	a, b := r.value(inst.Params[0]), r.value(inst.Params[1])
	var v int64
	switch inst.Op {
	case ir.OpAdd:
		v = a + b
	case ir.OpSub:
		v = a - b
	case ir.OpMul:
		v = a * b
	case ir.OpDiv, ir.OpRem:
		if b == 0 {
			return ErrDivisionByZero
		}
		if inst.Op == ir.OpDiv {
			v = a / b
		} else {
			v = a % b
		}
	case ir.OpNeg:
		v = -a
	}
	r.set(inst.Result, v)
	return nil
}

func (r *run) floatArith(inst *ir.Instruction) error {
	a, b := r.float(inst.Params[0]), r.float(inst.Params[1])
	var v float64
	switch inst.Op {
	case ir.OpAdd:
		v = a + b
	case ir.OpSub:
		v = a - b
	case ir.OpMul:
		v = a * b
	case ir.OpDiv:
		v = a / b
	case ir.OpRem:
		v = math.Mod(a, b)
	case ir.OpNeg:
		v = -a
	}
	r.setFloat(inst.Result, v)
	return nil
}

// call runs the memory management routines of the runtime library and
// records every other call in the trace. Unknown calls return zero.
func (r *run) call(inst *ir.Instruction, next int, st *State) (int, bool, error) {
	args := make([]int64, len(inst.CallParams))
	for i, it := range inst.CallParams {
		args[i] = r.value(it)
	}
	arg := func(i int) int64 {
		if i < len(args) {
			return args[i]
		}
		return 0
	}
	name := inst.CalleeName()
	if inst.Op == ir.OpLibraryCall {
		switch name {
		case "malloc":
			addr, err := r.mem.Alloc(uint64(arg(0)))
			if err != nil {
				return 0, false, err
			}
			r.set(inst.Result, int64(addr))
			return next, false, nil
		case "free":
			if arg(0) == 0 {
				return next, false, nil
			}
			return next, false, r.mem.Free(uint64(arg(0)))
		case "realloc":
			addr, err := r.mem.Realloc(uint64(arg(0)), uint64(arg(1)))
			if err != nil {
				return 0, false, err
			}
			r.set(inst.Result, int64(addr))
			return next, false, nil
		case "exit":
			st.Return = arg(0)
			st.Exited = true
			return 0, true, nil
		}
	}
	if inst.Op == ir.OpICall {
		name = fmt.Sprintf("*%d", r.value(inst.Params[0]))
	}
	strs := make([]string, len(args))
	for i, a := range args {
		strs[i] = fmt.Sprint(a)
	}
	r.trace = append(r.trace, fmt.Sprintf("%s %s(%s)", inst.Op, name, strings.Join(strs, ", ")))
	r.set(inst.Result, 0)
	return next, false, nil
}
