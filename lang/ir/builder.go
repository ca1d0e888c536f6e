// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

// Builder constructs a method instruction by instruction.
type Builder struct {
	name      string
	params    []int
	insts     []*Instruction
	nextVar   int
	nextLabel int
}

// NewBuilder starts a method whose arguments are v0..v(numParams-1).
func NewBuilder(name string, numParams int) *Builder {
	b := &Builder{name: name, nextVar: numParams}
	for i := 0; i < numParams; i++ {
		b.params = append(b.params, i)
	}
	return b
}

// Param returns the i-th argument variable.
func (b *Builder) Param(i int) Item { return Var(b.params[i]) }

// NewVar allocates a fresh integer variable.
func (b *Builder) NewVar() Item {
	v := Var(b.nextVar)
	b.nextVar++
	return v
}

// NewTypedVar allocates a fresh variable of type t.
func (b *Builder) NewTypedVar(t Type) Item {
	v := TypedVar(b.nextVar, t)
	b.nextVar++
	return v
}

// NewLabel reserves a label ID to be placed later with Label.
func (b *Builder) NewLabel() Item {
	l := LabelRef(b.nextLabel)
	b.nextLabel++
	return l
}

func (b *Builder) emit(inst *Instruction) *Instruction {
	b.insts = append(b.insts, inst)
	return inst
}

// Label places a label defined by NewLabel.
func (b *Builder) Label(l Item) *Instruction {
	return b.emit(&Instruction{Op: OpLabel, Params: [3]Item{l}})
}

// Emit appends a non-call instruction.
func (b *Builder) Emit(op Op, result Item, params ...Item) *Instruction {
	inst := &Instruction{Op: op, Result: result}
	copy(inst.Params[:], params)
	return b.emit(inst)
}

// Call appends a direct call of the given kind.
func (b *Builder) Call(op Op, result Item, callee string, args ...Item) *Instruction {
	return b.emit(&Instruction{
		Op:         op,
		Result:     result,
		Callee:     &Callee{Name: callee},
		CallParams: args,
	})
}

// Branch appends an unconditional branch.
func (b *Builder) Branch(l Item) *Instruction {
	return b.Emit(OpBranch, Item{}, l)
}

// BranchIf appends a branch taken when cond is non-zero.
func (b *Builder) BranchIf(cond, l Item) *Instruction {
	return b.Emit(OpBranchIf, Item{}, cond, l)
}

// BranchIfNot appends a branch taken when cond is zero.
func (b *Builder) BranchIfNot(cond, l Item) *Instruction {
	return b.Emit(OpBranchIfNot, Item{}, cond, l)
}

// Return appends a return, optionally of a value.
func (b *Builder) Return(val ...Item) *Instruction {
	return b.Emit(OpReturn, Item{}, val...)
}

// Method returns the built, numbered method.
func (b *Builder) Method() *Method {
	return NewMethod(b.name, b.params, b.insts)
}
