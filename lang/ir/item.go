// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies an operand.
type Kind uint8

const (
	KindNone Kind = iota
	KindVar
	KindConst
	KindFConst
	KindSymbol
	KindLabel
)

// Type is the value type of an operand.
type Type uint8

const (
	TypeVoid Type = iota
	TypeInt
	TypeFloat
	TypePtr
)

var typeNames = [...]string{
	TypeVoid:  "void",
	TypeInt:   "int",
	TypeFloat: "float",
	TypePtr:   "ptr",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// LookupType resolves a type name.
func LookupType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return Type(t), true
		}
	}
	return TypeVoid, false
}

// Item is an instruction operand or result. Variables, symbols and labels
// are identified by Value.
type Item struct {
	Kind  Kind
	Type  Type
	Value int64
	Float float64
}

// Var returns an integer variable operand.
func Var(id int) Item { return Item{Kind: KindVar, Type: TypeInt, Value: int64(id)} }

// TypedVar returns a variable operand of type t.
func TypedVar(id int, t Type) Item { return Item{Kind: KindVar, Type: t, Value: int64(id)} }

// Const returns an integer constant operand.
func Const(v int64) Item { return Item{Kind: KindConst, Type: TypeInt, Value: v} }

// FConst returns a floating point constant operand.
func FConst(f float64) Item { return Item{Kind: KindFConst, Type: TypeFloat, Float: f} }

// Symbol returns a global symbol operand.
func Symbol(id int) Item { return Item{Kind: KindSymbol, Type: TypePtr, Value: int64(id)} }

// LabelRef returns a label operand.
func LabelRef(id int) Item { return Item{Kind: KindLabel, Value: int64(id)} }

// IsVar reports whether the item is a variable.
func (it Item) IsVar() bool { return it.Kind == KindVar }

// IsConst reports whether the item is an integer or floating point constant.
func (it Item) IsConst() bool { return it.Kind == KindConst || it.Kind == KindFConst }

// VarID returns the variable ID, or -1 if the item is not a variable.
func (it Item) VarID() int {
	if it.Kind != KindVar {
		return -1
	}
	return int(it.Value)
}

// SameLocation reports whether two items encode the same operand, ignoring
// the declared type of variables.
func (it Item) SameLocation(o Item) bool {
	if it.Kind != o.Kind {
		return false
	}
	if it.Kind == KindFConst {
		return it.Float == o.Float
	}
	return it.Value == o.Value
}

func (it Item) String() string {
	switch it.Kind {
	case KindNone:
		return "_"
	case KindVar:
		return "v" + strconv.FormatInt(it.Value, 10)
	case KindConst:
		return strconv.FormatInt(it.Value, 10)
	case KindFConst:
		s := strconv.FormatFloat(it.Float, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case KindSymbol:
		return "$" + strconv.FormatInt(it.Value, 10)
	case KindLabel:
		return "L" + strconv.FormatInt(it.Value, 10)
	}
	return fmt.Sprintf("item(%d)", it.Kind)
}
