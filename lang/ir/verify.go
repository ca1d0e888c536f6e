// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import "fmt"

// VerifyError describes a structural problem of a method.
type VerifyError struct {
	Offset  int
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify error at instruction %d: %s", e.Offset, e.Message)
}

// Verify checks that a numbered method is well formed:
//  1. Every label is defined once
//  2. Every branch targets a defined label
//  3. Operand counts and kinds match the opcode
//  4. Results are variables
//  5. The method ends with a return or an unconditional branch
func Verify(m *Method) []VerifyError {
	var errors []VerifyError
	fail := func(offset int, format string, args ...interface{}) {
		errors = append(errors, VerifyError{Offset: offset, Message: fmt.Sprintf(format, args...)})
	}

	defined := make(map[int64]int)
	for _, inst := range m.Insts {
		if inst.Op != OpLabel {
			continue
		}
		if inst.Params[0].Kind != KindLabel {
			fail(inst.ID, "label operand is %s", inst.Params[0])
			continue
		}
		if prev, ok := defined[inst.Params[0].Value]; ok {
			fail(inst.ID, "label %s already defined at %d", inst.Params[0], prev)
			continue
		}
		defined[inst.Params[0].Value] = inst.ID
	}

	for _, inst := range m.Insts {
		if inst.Op < 0 || inst.Op >= numOps || inst.Op == OpExitNode {
			fail(inst.ID, "invalid opcode %s", inst.Op)
			continue
		}
		shape := shapes[inst.Op]
		n := 0
		for _, p := range inst.Params {
			if p.Kind != KindNone {
				n++
			}
		}
		if n < shape.minParams || n > shape.maxParams {
			fail(inst.ID, "%s has %d operands, want %d..%d", inst.Op, n, shape.minParams, shape.maxParams)
		}
		switch {
		case shape.result == resultNone && inst.Result.Kind != KindNone:
			fail(inst.ID, "%s cannot produce a result", inst.Op)
		case shape.result == resultRequired && inst.Result.Kind != KindVar:
			fail(inst.ID, "%s requires a variable result", inst.Op)
		case inst.Result.Kind != KindNone && inst.Result.Kind != KindVar:
			fail(inst.ID, "result %s is not a variable", inst.Result)
		}
		if inst.IsBranch() {
			if _, ok := defined[inst.Label()]; !ok {
				fail(inst.ID, "branch to undefined label L%d", inst.Label())
			}
			if inst.IsConditionalBranch() && inst.Params[0].Kind == KindLabel {
				fail(inst.ID, "branch condition is a label")
			}
		}
		for i, p := range inst.Params {
			if p.Kind == KindLabel && !inst.IsBranch() && inst.Op != OpLabel {
				fail(inst.ID, "operand %d of %s is a label", i, inst.Op)
			}
		}
		switch inst.Op {
		case OpCall, OpLibraryCall, OpNativeCall, OpVCall:
			if inst.CalleeName() == "" {
				fail(inst.ID, "%s without callee", inst.Op)
			}
		case OpICall:
			if inst.Params[0].Kind != KindVar {
				fail(inst.ID, "icall target %s is not a variable", inst.Params[0])
			}
		}
	}

	if n := len(m.Insts); n > 0 {
		last := m.Insts[n-1]
		if last.Op != OpReturn && last.Op != OpBranch {
			fail(last.ID, "method does not end with return or branch")
		}
	}
	return errors
}
