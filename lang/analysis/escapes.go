// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package analysis

import (
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
)

// Escapes records the variables whose storage may be observed outside the
// instructions that name them: their address is taken, or they are handed
// to a call as a pointer.
type Escapes struct {
	escaped *bitset.Set
}

// ComputeEscapes scans m for escaping variables.
func ComputeEscapes(m *ir.Method) *Escapes {
	e := &Escapes{escaped: bitset.New(m.NumVars())}
	ptrs := bitset.New(m.NumVars())
	for _, inst := range m.Insts {
		if d := inst.Def(); d >= 0 && (inst.Result.Type == ir.TypePtr || inst.IsAllocation() || inst.Op == ir.OpGetAddress) {
			ptrs.Set(d)
		}
	}
	for _, inst := range m.Insts {
		switch {
		case inst.Op == ir.OpGetAddress:
			if v := inst.Params[0].VarID(); v >= 0 {
				e.escaped.Set(v)
			}
		case inst.IsCall():
			for _, p := range inst.CallParams {
				if v := p.VarID(); v >= 0 && (p.Type == ir.TypePtr || ptrs.Test(v)) {
					e.escaped.Set(v)
				}
			}
		}
	}
	return e
}

// IsEscaped reports whether variable v escapes.
func (e *Escapes) IsEscaped(v int) bool {
	return v >= 0 && e.escaped.Test(v)
}

// Count returns the number of escaping variables.
func (e *Escapes) Count() int { return e.escaped.Count() }
