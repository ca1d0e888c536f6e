// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import "testing"

func TestBuilderBasic(t *testing.T) {
	b := NewBuilder("add", 2)
	sum := b.NewVar()
	b.Emit(OpAdd, sum, b.Param(0), b.Param(1))
	b.Return(sum)

	m := b.Method()
	if m.Name != "add" {
		t.Errorf("expected method name 'add', got %q", m.Name)
	}
	if len(m.Insts) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(m.Insts))
	}
	if m.Insts[0].Op != OpAdd || m.Insts[0].Def() != 2 {
		t.Errorf("unexpected first instruction %s", m.Insts[0])
	}
	if m.Exit.ID != 2 {
		t.Errorf("exit node should be numbered 2, got %d", m.Exit.ID)
	}
	if got := m.NumVars(); got != 3 {
		t.Errorf("expected 3 variables, got %d", got)
	}
}

func TestBuilderControlFlow(t *testing.T) {
	b := NewBuilder("abs", 1)
	neg := b.NewLabel()
	cmp := b.NewVar()
	b.Emit(OpLt, cmp, b.Param(0), Const(0))
	b.BranchIf(cmp, neg)
	b.Return(b.Param(0))
	b.Label(neg)
	r := b.NewVar()
	b.Emit(OpNeg, r, b.Param(0))
	b.Return(r)

	m := b.Method()
	if errs := Verify(m); len(errs) != 0 {
		t.Fatalf("unexpected verify errors: %v", errs)
	}
	succs := m.Successors(m.Insts[1])
	if len(succs) != 2 || succs[0] != m.Insts[2] || succs[1] != m.Insts[3] {
		t.Fatalf("unexpected successors of conditional branch: %v", succs)
	}
	if got := m.Successors(m.Insts[2]); len(got) != 1 || got[0] != m.Exit {
		t.Errorf("return should flow to the exit node, got %v", got)
	}
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		inst *Instruction
		want string
	}{
		{&Instruction{Op: OpAdd, Result: Var(2), Params: [3]Item{Var(2), Const(8)}}, "v2 = add v2, 8"},
		{&Instruction{Op: OpStoreRel, Params: [3]Item{Var(1), Const(0), Var(3)}}, "storerel v1, 0, v3"},
		{&Instruction{Op: OpLabel, Params: [3]Item{LabelRef(4)}}, "L4:"},
		{&Instruction{Op: OpBranchIfNot, Params: [3]Item{Var(1), LabelRef(2)}}, "branchifnot v1, L2"},
		{&Instruction{Op: OpReturn}, "return"},
		{&Instruction{Op: OpMul, Result: TypedVar(5, TypeFloat), Params: [3]Item{TypedVar(5, TypeFloat), FConst(2)}}, "v5:float = mul v5, 2.0"},
		{&Instruction{Op: OpLibraryCall, Result: Var(3), Callee: &Callee{Name: "malloc"}, CallParams: []Item{Const(16)}}, "v3 = libcall @malloc(16)"},
		{&Instruction{Op: OpICall, Params: [3]Item{Var(7)}, CallParams: []Item{Symbol(1)}}, "icall v7($1)"},
	}
	for _, tt := range tests {
		if got := tt.inst.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestClassifiers(t *testing.T) {
	load := &Instruction{Op: OpLoadRel, Result: Var(3), Params: [3]Item{Var(1), Var(2)}}
	if !load.IsMemoryAccess() || !load.ReadsMemory() || load.WritesMemory() {
		t.Error("loadrel classification broken")
	}
	base, off, ok := load.Address()
	if !ok || base.VarID() != 1 || off.VarID() != 2 {
		t.Errorf("unexpected address %s+%s", base, off)
	}
	call := &Instruction{Op: OpCall, Callee: &Callee{Name: "f"}, CallParams: []Item{Var(1), Var(1), Var(4)}}
	if !call.IsCall() || !call.WritesMemory() {
		t.Error("calls must be treated as memory writers")
	}
	if uses := call.Uses(); len(uses) != 2 || uses[0] != 1 || uses[1] != 4 {
		t.Errorf("unexpected uses %v", uses)
	}
	if !OpRealloc.IsAllocation() || !OpFreeObj.IsFree() || OpMemcpy.IsAllocation() {
		t.Error("allocation classification broken")
	}
	if !OpXor.IsCommutativeAssociative() || OpSub.IsCommutativeAssociative() {
		t.Error("reassociation classification broken")
	}
}

func TestOpString(t *testing.T) {
	if OpLoadRel.String() != "loadrel" {
		t.Errorf("unexpected name %q", OpLoadRel.String())
	}
	if Op(999).String() != "op(999)" {
		t.Errorf("unexpected fallback %q", Op(999).String())
	}
	if op, ok := LookupOp("branchifnot"); !ok || op != OpBranchIfNot {
		t.Error("LookupOp failed")
	}
}
