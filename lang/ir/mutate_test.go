// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import "testing"

func TestCloneAndMove(t *testing.T) {
	m := MustParse(diamondSource)
	add := m.Insts[5] // v1 = add v1, 3
	c := m.CloneInstruction(add)
	if c == add || c.ID <= m.Exit.ID {
		t.Fatalf("clone must be a fresh instruction, got ID %d", c.ID)
	}
	m.InsertAfter(c, m.Insts[0])
	if m.Insts[1] != c || !m.Contains(c) {
		t.Fatal("clone not inserted after the first instruction")
	}
	m.MoveAfter(c, m.Insts[len(m.Insts)-2])
	if m.Insts[len(m.Insts)-2] != c {
		t.Fatal("clone not moved before the return")
	}
	m.Delete(c)
	m.Renumber()
	if Format(m) != Format(MustParse(diamondSource)) {
		t.Errorf("delete did not restore the method:\n%s", Format(m))
	}
}

func TestLabelsAndBranches(t *testing.T) {
	m := MustParse(diamondSource)
	ret := m.Insts[7]
	l := m.NewLabelBefore(ret)
	if l.Label() != 3 || m.Next(l) != ret {
		t.Fatalf("unexpected new label %s", l)
	}
	br := m.Insts[3] // branch L2
	m.SetBranchDestination(br, l)
	if m.BranchDestination(br) != l {
		t.Error("SetBranchDestination failed")
	}
	m.SubstituteLabel(br, 3, 2)
	if m.BranchDestination(br) != m.Insts[6] {
		t.Error("SubstituteLabel failed")
	}
	nb := m.NewBranchToLabelAfter(l, m.Insts[0])
	if nb.Op != OpBranch || m.BranchDestination(nb) != l {
		t.Error("NewBranchToLabelAfter failed")
	}
	if m.TargetLabel(l) != l || m.TargetLabel(ret) != l {
		t.Error("TargetLabel should reuse adjacent labels")
	}
	m.Renumber()
	if errs := Verify(m); len(errs) != 0 {
		t.Errorf("unexpected verify errors: %v", errs)
	}
}

func TestCloneLabelIsFresh(t *testing.T) {
	m := MustParse(diamondSource)
	c := m.CloneInstruction(m.Insts[4])
	if c.Label() == m.Insts[4].Label() {
		t.Error("cloned label must define a new label")
	}
}

func TestMoveDetachedPanics(t *testing.T) {
	m := MustParse(diamondSource)
	c := m.CloneInstruction(m.Insts[0])
	defer func() {
		if recover() == nil {
			t.Error("moving a detached instruction should panic")
		}
	}()
	m.MoveAfter(c, m.Insts[1])
}
