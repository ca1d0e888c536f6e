// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package lexer implements a single-pass, no-backtracking lexer for the
// textual IR.
//
// Newlines are significant (one instruction per line) and are returned as
// NEWLINE tokens; runs of blank lines collapse into one. Comments start with
// "//" or "#" and run to the end of the line.
package lexer

import (
	"github.com/probechain/probe-sched/lang/token"
)

// Lexer holds the state for a single-pass tokenization run.
type Lexer struct {
	filename string
	input    []byte

	// pos is the index into input of the next byte to be loaded into ch.
	pos  int
	line int // 1-based current line number
	col  int // 1-based current column number

	ch byte // current character; 0 when past end

	lastNewline bool // previous token was a NEWLINE
}

// New creates a new Lexer for the given filename and input.
func New(filename string, input []byte) *Lexer {
	l := &Lexer{
		filename:    filename,
		input:       input,
		line:        1,
		lastNewline: true,
	}
	l.advance() // prime l.ch with the first byte
	return l
}

func (l *Lexer) advance() {
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	if l.pos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input) + 1
		return
	}
	l.ch = l.input[l.pos]
	l.pos++
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) currentPos() token.Position {
	return token.Position{
		File:   l.filename,
		Line:   l.line,
		Column: l.col,
		Offset: l.pos - 1,
	}
}

func makeToken(typ token.Type, literal string, pos token.Position) token.Token {
	return token.Token{Type: typ, Literal: literal, Pos: pos}
}

// skipBlanks consumes spaces, tabs, carriage returns and comments, and
// newlines directly following another newline.
func (l *Lexer) skipBlanks() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r':
			l.advance()
		case l.ch == '\n' && l.lastNewline:
			l.advance()
		case l.ch == '#' || (l.ch == '/' && l.peek() == '/'):
			for l.ch != '\n' && l.ch != 0 {
				l.advance()
			}
		default:
			return
		}
	}
}

// NextToken scans and returns the next token from the input.
// After EOF is reached, subsequent calls continue returning EOF tokens.
func (l *Lexer) NextToken() token.Token {
	l.skipBlanks()

	pos := l.currentPos()
	ch := l.ch
	if ch == 0 {
		return makeToken(token.EOF, "", pos)
	}
	l.advance()

	tok := l.scan(ch, pos)
	l.lastNewline = tok.Type == token.NEWLINE
	return tok
}

func (l *Lexer) scan(ch byte, pos token.Position) token.Token {
	switch {
	// -------------------------------------------------------------------------
	// Identifiers, variables and keywords
	// -------------------------------------------------------------------------
	case isIdentStart(ch):
		lit := l.readIdentFromFirst(ch)
		return makeToken(token.LookupIdent(lit), lit, pos)

	// -------------------------------------------------------------------------
	// Numeric literals, optionally negative
	// -------------------------------------------------------------------------
	case isDigit(ch):
		typ, lit := l.readNumberFromFirst(ch)
		return makeToken(typ, lit, pos)

	case ch == '-' && isDigit(l.ch):
		first := l.ch
		l.advance()
		typ, lit := l.readNumberFromFirst(first)
		return makeToken(typ, "-"+lit, pos)

	// -------------------------------------------------------------------------
	// Global symbols  $N
	// -------------------------------------------------------------------------
	case ch == '$':
		if !isDigit(l.ch) {
			return makeToken(token.ILLEGAL, "$", pos)
		}
		buf := []byte{'$'}
		for isDigit(l.ch) {
			buf = append(buf, l.ch)
			l.advance()
		}
		return makeToken(token.SYMBOL, string(buf), pos)

	// -------------------------------------------------------------------------
	// Delimiters
	// -------------------------------------------------------------------------
	case ch == '\n':
		return makeToken(token.NEWLINE, "\n", pos)
	case ch == '=':
		return makeToken(token.ASSIGN, "=", pos)
	case ch == ',':
		return makeToken(token.COMMA, ",", pos)
	case ch == ':':
		return makeToken(token.COLON, ":", pos)
	case ch == '@':
		return makeToken(token.AT, "@", pos)
	case ch == '(':
		return makeToken(token.LPAREN, "(", pos)
	case ch == ')':
		return makeToken(token.RPAREN, ")", pos)
	case ch == '{':
		return makeToken(token.LBRACE, "{", pos)
	case ch == '}':
		return makeToken(token.RBRACE, "}", pos)
	}
	return makeToken(token.ILLEGAL, string(ch), pos)
}

// Tokenize scans the whole input and returns every token up to and
// including EOF.
func (l *Lexer) Tokenize() []token.Token {
	var tokens []token.Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens
		}
	}
}

func (l *Lexer) readIdentFromFirst(first byte) string {
	buf := make([]byte, 1, 16)
	buf[0] = first
	for isIdentContinue(l.ch) {
		buf = append(buf, l.ch)
		l.advance()
	}
	return string(buf)
}

// readNumberFromFirst parses an integer or float literal given the
// already-consumed first digit.
//
//   - "0x..."            →  INT (hexadecimal)
//   - digits "." digits  →  FLOAT (with optional exponent)
//   - digits             →  INT
func (l *Lexer) readNumberFromFirst(first byte) (token.Type, string) {
	buf := make([]byte, 1, 24)
	buf[0] = first

	if first == '0' && (l.ch == 'x' || l.ch == 'X') {
		buf = append(buf, l.ch)
		l.advance()
		for isHexDigit(l.ch) {
			buf = append(buf, l.ch)
			l.advance()
		}
		return token.INT, string(buf)
	}
	for isDigit(l.ch) {
		buf = append(buf, l.ch)
		l.advance()
	}
	if l.ch == '.' && isDigit(l.peek()) {
		buf = append(buf, '.')
		l.advance()
		for isDigit(l.ch) {
			buf = append(buf, l.ch)
			l.advance()
		}
		if l.ch == 'e' || l.ch == 'E' {
			buf = append(buf, l.ch)
			l.advance()
			if l.ch == '+' || l.ch == '-' {
				buf = append(buf, l.ch)
				l.advance()
			}
			for isDigit(l.ch) {
				buf = append(buf, l.ch)
				l.advance()
			}
		}
		return token.FLOAT, string(buf)
	}
	return token.INT, string(buf)
}

// ---------------------------------------------------------------------------
// Character classification helpers
// ---------------------------------------------------------------------------

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return (ch >= '0' && ch <= '9') ||
		(ch >= 'a' && ch <= 'f') ||
		(ch >= 'A' && ch <= 'F')
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentContinue(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '.'
}
