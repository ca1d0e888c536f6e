// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package depend

import (
	"fmt"

	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/ir"
)

// Category explains why a loop-carried dependence exists, or why it is
// not a real one.
type Category int

const (
	FalseEscapesMemory Category = iota
	FalseMemoryManagement
	FalseMemoryRenaming
	FalseInductiveVariable
	FalseUniqueValuePerIteration
	AlwaysTrue
	GlobalVariable
	LibraryTrue
	RuntimeCheckTrue
	FalseRegisterReassociation
	FloatingPointRegisterReassociation
	WAWRegisterReassociation
	MemoryWAWReassociation
	FalseLocalizable
	FalsePrivateMemory
	FalseCodeHoisting
	InputOutput
	UniqueValuePerIteration
	AllDD
)

var categoryNames = [...]string{
	FalseEscapesMemory:                 "FALSE_ESCAPES_MEMORY",
	FalseMemoryManagement:              "FALSE_MEMORY_MANAGEMENT",
	FalseMemoryRenaming:                "FALSE_MEMORY_RENAMING",
	FalseInductiveVariable:             "FALSE_INDUCTIVE_VARIABLE",
	FalseUniqueValuePerIteration:       "FALSE_UNIQUE_VALUE_PER_ITERATION",
	AlwaysTrue:                         "ALWAYS_TRUE",
	GlobalVariable:                     "GLOBAL_VARIABLE",
	LibraryTrue:                        "LIBRARY_TRUE",
	RuntimeCheckTrue:                   "RUNTIME_CHECK_TRUE",
	FalseRegisterReassociation:         "FALSE_REGISTER_REASSOCIATION",
	FloatingPointRegisterReassociation: "FLOATINGPOINT_REGISTER_REASSOCIATION",
	WAWRegisterReassociation:           "WAW_REGISTER_REASSOCIATION",
	MemoryWAWReassociation:             "MEMORY_WAW_REASSOCIATION",
	FalseLocalizable:                   "FALSE_LOCALIZABLE",
	FalsePrivateMemory:                 "FALSE_PRIVATE_MEMORY",
	FalseCodeHoisting:                  "FALSE_CODE_HOISTING",
	InputOutput:                        "INPUT_OUTPUT",
	UniqueValuePerIteration:            "UNIQUE_VALUE_PER_ITERATION",
	AllDD:                              "ALL_DD",
}

func (c Category) String() string {
	if c >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ConditionKind tells what a runtime check of a dependence compares.
type ConditionKind int

const (
	NoCondition ConditionKind = iota
	MemoryAlias
)

// Condition is the runtime test under which a RUNTIME_CHECK_TRUE
// dependence holds: the two base addresses alias.
type Condition struct {
	Kind ConditionKind
	Var1 ir.Item
	Var2 ir.Item
}

func (c Condition) String() string {
	if c.Kind == NoCondition {
		return "-"
	}
	return fmt.Sprintf("alias(%s, %s)", c.Var1, c.Var2)
}

// Dependence is a categorized dependence record: Inst1 depends on Inst2.
type Dependence struct {
	Inst1     int
	Inst2     int
	Type      analysis.DepType
	Category  Category
	Condition Condition

	BasedOnInductiveVar           bool
	OriginalInductiveVarID        int
	OriginalDerivedInductiveVarID int
}

func (d *Dependence) String() string {
	return fmt.Sprintf("%d->%d %s %s", d.Inst1, d.Inst2, d.Type, d.Category)
}

func (d *Dependence) copy() *Dependence {
	c := *d
	return &c
}

// swapped returns a copy with the two instructions exchanged.
func (d *Dependence) swapped() *Dependence {
	c := d.copy()
	c.Inst1, c.Inst2 = d.Inst2, d.Inst1
	return c
}

type pair struct{ a, b int }

// List is an ordered set of dependence records, unique per directed pair.
type List struct {
	deps  []*Dependence
	index map[pair]*Dependence
}

// NewList returns an empty list.
func NewList() *List {
	return &List{index: make(map[pair]*Dependence)}
}

// Len returns the number of records.
func (l *List) Len() int { return len(l.deps) }

// All returns the records in insertion order.
func (l *List) All() []*Dependence { return l.deps }

// Add appends d unless a record for the same pair already exists, and
// reports whether it did.
func (l *List) Add(d *Dependence) bool {
	k := pair{d.Inst1, d.Inst2}
	if _, ok := l.index[k]; ok {
		return false
	}
	l.index[k] = d
	l.deps = append(l.deps, d)
	return true
}

// DirectDependence returns the record of a depending on b, or nil.
func (l *List) DirectDependence(a, b int) *Dependence {
	return l.index[pair{a, b}]
}

// Dependence returns the record between a and b in either direction,
// preferring a depending on b.
func (l *List) Dependence(a, b int) *Dependence {
	if d := l.DirectDependence(a, b); d != nil {
		return d
	}
	return l.DirectDependence(b, a)
}

// Remove deletes the records for which drop returns true.
func (l *List) Remove(drop func(*Dependence) bool) {
	kept := l.deps[:0]
	for _, d := range l.deps {
		if drop(d) {
			delete(l.index, pair{d.Inst1, d.Inst2})
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(l.deps); i++ {
		l.deps[i] = nil
	}
	l.deps = kept
}

// Clone returns a deep copy of the list.
func (l *List) Clone() *List {
	c := NewList()
	for _, d := range l.deps {
		c.Add(d.copy())
	}
	return c
}

func (l *List) replace(old, d *Dependence) {
	for i, x := range l.deps {
		if x == old {
			l.deps[i] = d
		}
	}
	delete(l.index, pair{old.Inst1, old.Inst2})
	l.index[pair{d.Inst1, d.Inst2}] = d
}

// DDG indexes the records by Inst1: the result has numInsts+1 entries,
// the last one standing for the exit node, each mapping Inst2 to the
// record.
func DDG(l *List, numInsts int) []map[int]*Dependence {
	g := make([]map[int]*Dependence, numInsts+1)
	for _, d := range l.deps {
		if g[d.Inst1] == nil {
			g[d.Inst1] = make(map[int]*Dependence)
		}
		g[d.Inst1][d.Inst2] = d
	}
	return g
}
