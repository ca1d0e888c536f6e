// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package token

import "testing"

func TestLookupIdent(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"func", FUNC},
		{"v0", VAR},
		{"v123", VAR},
		{"v", IDENT},
		{"v1a", IDENT},
		{"add", IDENT},
		{"L7", IDENT},
	}
	for _, tt := range tests {
		if got := LookupIdent(tt.in); got != tt.want {
			t.Errorf("LookupIdent(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTypeString(t *testing.T) {
	if FUNC.String() != "func" {
		t.Errorf("FUNC.String() = %q", FUNC.String())
	}
	if !FUNC.IsKeyword() || IDENT.IsKeyword() {
		t.Error("keyword classification broken")
	}
	if Type(999).String() != "token(999)" {
		t.Errorf("unexpected fallback %q", Type(999).String())
	}
}
