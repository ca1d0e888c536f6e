// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import (
	"strings"
	"testing"
)

const sumSource = `
// sums the words of an array
func sum(v0, v1) {
  v2 = move 0
  v5 = move 0
L1:
  v3 = loadrel v1, v2
  v5 = add v5, v3
  v2 = add v2, 8
  v4 = lt v2, v0
  branchif v4, L1
  return v5
}
`

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(sumSource)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if m.Name != "sum" || len(m.Params) != 2 {
		t.Fatalf("unexpected header %s %v", m.Name, m.Params)
	}
	if len(m.Insts) != 9 {
		t.Fatalf("expected 9 instructions, got %d", len(m.Insts))
	}
	if m.Insts[2].Op != OpLabel || m.Insts[2].Label() != 1 {
		t.Errorf("expected label L1 at 2, got %s", m.Insts[2])
	}
	if dst := m.BranchDestination(m.Insts[7]); dst != m.Insts[2] {
		t.Errorf("branch should target L1, got %v", dst)
	}
	if errs := Verify(m); len(errs) != 0 {
		t.Errorf("unexpected verify errors: %v", errs)
	}
}

func TestParseRoundTrip(t *testing.T) {
	src := `func f(v0) {
  v1:ptr = alloc 64
  storerel v1, 0, v0
  v2:float = conv v0
  v2:float = mul v2, 1.5
  v3 = call @helper(v1, $2)
  icall v3(v2)
  free v1
  branch L7
L7:
  return
}
`
	m := MustParse(src)
	if got := Format(m); got != src {
		t.Fatalf("round trip mismatch:\n%s\nwant:\n%s", got, src)
	}
	if m.Insts[3].Params[0].Type != TypeFloat {
		t.Errorf("uses of v2 should be typed float")
	}
}

func TestParseNamedLabels(t *testing.T) {
	m := MustParse(`func f(v0) {
  branchifnot v0, done
L3:
  v0 = sub v0, 1
  branchif v0, L3
done:
  return v0
}`)
	if got := m.Insts[0].Label(); got != 4 {
		t.Errorf("named label should be numbered after L3, got L%d", got)
	}
	if m.BranchDestination(m.Insts[0]) != m.Insts[4] {
		t.Error("named label not resolved")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"func f() {\n  v1 = frobnicate v2\n}", `unknown instruction "frobnicate"`},
		{"func f() {\n  storerel v1, v2\n}", "storerel takes 3 operands, found 2"},
		{"func f() {\n  v1 = storerel v1, v2, v3\n}", "does not produce a result"},
		{"func f() {\n  add v1, v2\n}", "requires a result"},
		{"func f() {\n  v1:huge = move 1\n}", `unknown type "huge"`},
		{"func f() {\n  v1 = call malloc(v2)\n}", "expected @"},
	}
	for _, tt := range tests {
		_, err := ParseMethod(tt.src)
		if err == nil {
			t.Errorf("%q: expected error", tt.src)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%q: error %q does not mention %q", tt.src, err, tt.want)
		}
	}
}

func TestParseMultipleMethods(t *testing.T) {
	methods, err := Parse("two.ir", []byte("func a() {\n return\n}\n\nfunc b(v3) {\n return v3\n}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 2 || methods[1].Name != "b" || methods[1].Params[0] != 3 {
		t.Fatalf("unexpected methods %v", methods)
	}
}
