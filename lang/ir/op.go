// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import "fmt"

// Op is an IR instruction opcode.
type Op int

const (
	// Control
	OpNop Op = iota
	OpLabel
	OpBranch
	OpBranchIf
	OpBranchIfNot
	OpReturn
	OpExitNode // implicit sink of every method, never in Method.Insts

	// Arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg

	// Bitwise
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr

	// Comparison
	OpEq
	OpLt
	OpGt

	// Value operations
	OpMove
	OpConv
	OpGetAddress

	// Memory
	OpLoadRel    // result = M[p0 + p1]
	OpStoreRel   // M[p0 + p1] = p2
	OpInitMemory // fill p2 bytes at p0 with p1
	OpMemcpy     // copy p2 bytes from p1 to p0

	// Allocation
	OpAlloc      // result = alloc(p0)
	OpAllocAlign // result = alloc(p0) aligned to p1
	OpCalloc     // result = alloc(p0 * p1), zeroed
	OpRealloc    // result = realloc(p0, p1)
	OpNewObj     // result = new object of p0 bytes
	OpNewArr     // result = new array of p0 words
	OpFree       // free(p0)
	OpFreeObj    // release object p0

	// Calls
	OpCall        // call a method of the program
	OpLibraryCall // call a routine of the runtime library
	OpNativeCall  // call native code
	OpVCall       // virtual call
	OpICall       // indirect call through p0

	numOps
)

var opNames = map[Op]string{
	OpNop: "nop", OpLabel: "label", OpBranch: "branch", OpBranchIf: "branchif",
	OpBranchIfNot: "branchifnot", OpReturn: "return", OpExitNode: "exit",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem", OpNeg: "neg",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not", OpShl: "shl", OpShr: "shr",
	OpEq: "eq", OpLt: "lt", OpGt: "gt",
	OpMove: "move", OpConv: "conv", OpGetAddress: "getaddress",
	OpLoadRel: "loadrel", OpStoreRel: "storerel", OpInitMemory: "initmemory", OpMemcpy: "memcpy",
	OpAlloc: "alloc", OpAllocAlign: "allocalign", OpCalloc: "calloc", OpRealloc: "realloc",
	OpNewObj: "newobj", OpNewArr: "newarr", OpFree: "free", OpFreeObj: "freeobj",
	OpCall: "call", OpLibraryCall: "libcall", OpNativeCall: "ncall", OpVCall: "vcall", OpICall: "icall",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", op)
}

// opsByName is the inverse of opNames, used by the parser.
var opsByName map[string]Op

func init() {
	opsByName = make(map[string]Op, len(opNames))
	for op, name := range opNames {
		opsByName[name] = op
	}
}

// LookupOp resolves an opcode mnemonic.
func LookupOp(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// Result requirements of an opcode.
const (
	resultNone = iota
	resultOptional
	resultRequired
)

type opShape struct {
	minParams, maxParams int
	result               int
}

// shapes lists the operand arity of every opcode. Calls take their
// arguments in CallParams, except icall whose target is p0.
var shapes = [numOps]opShape{
	OpNop:         {0, 0, resultNone},
	OpLabel:       {1, 1, resultNone},
	OpBranch:      {1, 1, resultNone},
	OpBranchIf:    {2, 2, resultNone},
	OpBranchIfNot: {2, 2, resultNone},
	OpReturn:      {0, 1, resultNone},
	OpExitNode:    {0, 0, resultNone},
	OpAdd:         {2, 2, resultRequired},
	OpSub:         {2, 2, resultRequired},
	OpMul:         {2, 2, resultRequired},
	OpDiv:         {2, 2, resultRequired},
	OpRem:         {2, 2, resultRequired},
	OpNeg:         {1, 1, resultRequired},
	OpAnd:         {2, 2, resultRequired},
	OpOr:          {2, 2, resultRequired},
	OpXor:         {2, 2, resultRequired},
	OpNot:         {1, 1, resultRequired},
	OpShl:         {2, 2, resultRequired},
	OpShr:         {2, 2, resultRequired},
	OpEq:          {2, 2, resultRequired},
	OpLt:          {2, 2, resultRequired},
	OpGt:          {2, 2, resultRequired},
	OpMove:        {1, 1, resultRequired},
	OpConv:        {1, 1, resultRequired},
	OpGetAddress:  {1, 1, resultRequired},
	OpLoadRel:     {2, 2, resultRequired},
	OpStoreRel:    {3, 3, resultNone},
	OpInitMemory:  {3, 3, resultNone},
	OpMemcpy:      {3, 3, resultNone},
	OpAlloc:       {1, 1, resultRequired},
	OpAllocAlign:  {2, 2, resultRequired},
	OpCalloc:      {2, 2, resultRequired},
	OpRealloc:     {2, 2, resultRequired},
	OpNewObj:      {1, 1, resultRequired},
	OpNewArr:      {1, 1, resultRequired},
	OpFree:        {1, 1, resultNone},
	OpFreeObj:     {1, 1, resultNone},
	OpCall:        {0, 0, resultOptional},
	OpLibraryCall: {0, 0, resultOptional},
	OpNativeCall:  {0, 0, resultOptional},
	OpVCall:       {0, 0, resultOptional},
	OpICall:       {1, 1, resultOptional},
}

// IsBranch reports whether op transfers control to a label.
func (op Op) IsBranch() bool {
	return op == OpBranch || op == OpBranchIf || op == OpBranchIfNot
}

// IsConditionalBranch reports whether op is a two-way branch.
func (op Op) IsConditionalBranch() bool {
	return op == OpBranchIf || op == OpBranchIfNot
}

// IsCall reports whether op is any kind of call.
func (op Op) IsCall() bool {
	return op >= OpCall && op <= OpICall
}

// IsMemoryAccess reports whether op reads or writes memory through an address.
func (op Op) IsMemoryAccess() bool {
	return op >= OpLoadRel && op <= OpMemcpy
}

// IsAllocation reports whether op returns freshly allocated memory.
func (op Op) IsAllocation() bool {
	return op >= OpAlloc && op <= OpNewArr
}

// IsFree reports whether op releases memory.
func (op Op) IsFree() bool {
	return op == OpFree || op == OpFreeObj
}

// IsMath reports whether op is a pure arithmetic, bitwise or comparison op.
func (op Op) IsMath() bool {
	return op >= OpAdd && op <= OpGt
}

// IsCommutativeAssociative reports whether op can be reassociated.
func (op Op) IsCommutativeAssociative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}
