// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package token defines the lexical token types of the textual IR.
//
// The textual IR is a line-oriented listing of one or more methods:
//
//	func sum(v0, v1) {
//	  v2 = move 0
//	L1:
//	  v3 = loadrel v1, v2
//	  v2 = add v2, 8
//	  v4 = lt v2, v0
//	  branchif v4, L1
//	  return v3
//	}
//
// Opcode mnemonics are plain identifiers; the ir package resolves them.
package token

import "fmt"

// Token represents a lexical token.
type Token struct {
	Type    Type
	Literal string
	Pos     Position
}

// Position tracks source location.
type Position struct {
	File   string
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Type is the set of lexical token types.
type Type int

const (
	// Special tokens
	ILLEGAL Type = iota
	EOF
	COMMENT
	NEWLINE

	// Literals
	IDENT  // add, L1, malloc
	VAR    // v12
	SYMBOL // $3
	INT    // 42, -8, 0x10
	FLOAT  // 1.5

	// Delimiters
	ASSIGN // =
	COMMA  // ,
	COLON  // :
	AT     // @
	LPAREN // (
	RPAREN // )
	LBRACE // {
	RBRACE // }

	// Keywords
	keywordStart
	FUNC // func
	keywordEnd
)

var tokenNames = [...]string{
	ILLEGAL: "ILLEGAL",
	EOF:     "EOF",
	COMMENT: "COMMENT",
	NEWLINE: "NEWLINE",

	IDENT:  "IDENT",
	VAR:    "VAR",
	SYMBOL: "SYMBOL",
	INT:    "INT",
	FLOAT:  "FLOAT",

	ASSIGN: "=",
	COMMA:  ",",
	COLON:  ":",
	AT:     "@",
	LPAREN: "(",
	RPAREN: ")",
	LBRACE: "{",
	RBRACE: "}",

	FUNC: "func",
}

// String returns the string form of a token type.
func (t Type) String() string {
	if int(t) < len(tokenNames) && tokenNames[t] != "" {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", t)
}

// IsKeyword returns true if the token is a keyword.
func (t Type) IsKeyword() bool {
	return t > keywordStart && t < keywordEnd
}

// IsOperand returns true if the token can start an instruction operand.
func (t Type) IsOperand() bool {
	return t >= IDENT && t <= FLOAT
}

// keywords maps keyword strings to token types.
var keywords map[string]Type

func init() {
	keywords = make(map[string]Type)
	for i := keywordStart + 1; i < keywordEnd; i++ {
		keywords[tokenNames[i]] = i
	}
}

// LookupIdent classifies an identifier as a keyword, a variable or a plain
// identifier.
func LookupIdent(ident string) Type {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	if isVarName(ident) {
		return VAR
	}
	return IDENT
}

// isVarName reports whether ident has the form v<digits>.
func isVarName(ident string) bool {
	if len(ident) < 2 || ident[0] != 'v' {
		return false
	}
	for i := 1; i < len(ident); i++ {
		if ident[i] < '0' || ident[i] > '9' {
			return false
		}
	}
	return true
}
