// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"strings"
	"testing"
)

func TestVerifyDetectsProblems(t *testing.T) {
	m := NewMethod("bad", nil, []*Instruction{
		{Op: OpLabel, Params: [3]Item{LabelRef(1)}},
		{Op: OpLabel, Params: [3]Item{LabelRef(1)}},
		{Op: OpBranchIf, Params: [3]Item{Var(0), LabelRef(9)}},
		{Op: OpAdd, Params: [3]Item{Var(0), Var(1)}},
		{Op: OpCall, CallParams: []Item{Var(0)}},
		{Op: OpMove, Result: Var(2), Params: [3]Item{Var(0)}},
	})
	errs := Verify(m)
	want := []string{
		"already defined",
		"undefined label L9",
		"requires a variable result",
		"call without callee",
		"does not end with return or branch",
	}
	for _, w := range want {
		found := false
		for _, e := range errs {
			if strings.Contains(e.Message, w) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a verify error mentioning %q, got %v", w, errs)
		}
	}
}
