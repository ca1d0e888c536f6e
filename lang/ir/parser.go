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

	"github.com/probechain/probe-sched/lang/lexer"
	"github.com/probechain/probe-sched/lang/token"
)

// Error is a syntax error at a source position.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// ErrorList collects every syntax error of a parse.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0], len(l)-1)
}

type pendingLabel struct {
	item *Item
	name string
}

type parser struct {
	lex     *lexer.Lexer
	tok     token.Token
	peekTok token.Token
	errors  ErrorList

	// per-method state
	labelIDs map[string]int64
	pending  []pendingLabel
}

// Parse reads every method of a textual IR listing.
func Parse(filename string, src []byte) ([]*Method, error) {
	p := &parser{lex: lexer.New(filename, src)}
	p.next()
	p.next()

	var methods []*Method
	for p.tok.Type == token.NEWLINE {
		p.next()
	}
	for p.tok.Type != token.EOF {
		if m := p.parseMethod(); m != nil {
			methods = append(methods, m)
		}
		for p.tok.Type == token.NEWLINE {
			p.next()
		}
		if len(p.errors) > 10 {
			break
		}
	}
	if len(p.errors) > 0 {
		return nil, p.errors
	}
	return methods, nil
}

// ParseMethod parses a listing holding exactly one method.
func ParseMethod(src string) (*Method, error) {
	methods, err := Parse("", []byte(src))
	if err != nil {
		return nil, err
	}
	if len(methods) != 1 {
		return nil, fmt.Errorf("ir: expected one method, found %d", len(methods))
	}
	return methods[0], nil
}

// MustParse is like ParseMethod but panics on error.
func MustParse(src string) *Method {
	m, err := ParseMethod(src)
	if err != nil {
		panic(err)
	}
	return m
}

func (p *parser) next() {
	p.tok = p.peekTok
	p.peekTok = p.lex.NextToken()
}

func (p *parser) errorf(pos token.Position, format string, args ...interface{}) {
	p.errors = append(p.errors, &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (p *parser) expect(t token.Type) (token.Token, bool) {
	tok := p.tok
	if tok.Type != t {
		p.errorf(tok.Pos, "expected %s, found %s %q", t, tok.Type, tok.Literal)
		return tok, false
	}
	p.next()
	return tok, true
}

// skipLine advances past the next NEWLINE, stopping early at '}' or EOF.
func (p *parser) skipLine() {
	for p.tok.Type != token.NEWLINE && p.tok.Type != token.RBRACE && p.tok.Type != token.EOF {
		p.next()
	}
	if p.tok.Type == token.NEWLINE {
		p.next()
	}
}

func (p *parser) parseMethod() *Method {
	if _, ok := p.expect(token.FUNC); !ok {
		p.skipLine()
		return nil
	}
	name, ok := p.expect(token.IDENT)
	if !ok {
		p.skipLine()
		return nil
	}
	p.labelIDs = make(map[string]int64)
	p.pending = nil

	var params []int
	if _, ok := p.expect(token.LPAREN); !ok {
		p.skipLine()
		return nil
	}
	for p.tok.Type != token.RPAREN && p.tok.Type != token.EOF {
		v, ok := p.expect(token.VAR)
		if !ok {
			p.skipLine()
			return nil
		}
		id, _ := strconv.Atoi(v.Literal[1:])
		params = append(params, id)
		if p.tok.Type == token.COMMA {
			p.next()
		}
	}
	p.expect(token.RPAREN)
	if _, ok := p.expect(token.LBRACE); !ok {
		p.skipLine()
		return nil
	}
	if p.tok.Type == token.NEWLINE {
		p.next()
	}

	var insts []*Instruction
	for p.tok.Type != token.RBRACE && p.tok.Type != token.EOF {
		inst := p.parseLine()
		if inst == nil {
			p.skipLine()
			continue
		}
		insts = append(insts, inst)
		if p.tok.Type == token.NEWLINE {
			p.next()
		} else if p.tok.Type != token.RBRACE {
			p.errorf(p.tok.Pos, "unexpected %s %q after instruction", p.tok.Type, p.tok.Literal)
			p.skipLine()
		}
	}
	p.expect(token.RBRACE)

	p.resolveLabels()
	propagateVarTypes(insts)
	return NewMethod(name.Literal, params, insts)
}

func (p *parser) parseLine() *Instruction {
	// Label definition.
	if p.tok.Type == token.IDENT && p.peekTok.Type == token.COLON {
		inst := &Instruction{Op: OpLabel}
		p.labelRef(&inst.Params[0], p.tok.Literal)
		p.next()
		p.next()
		return inst
	}

	inst := &Instruction{}
	if p.tok.Type == token.VAR {
		id, _ := strconv.Atoi(p.tok.Literal[1:])
		inst.Result = Var(id)
		p.next()
		if p.tok.Type == token.COLON {
			p.next()
			tn, ok := p.expect(token.IDENT)
			if !ok {
				return nil
			}
			typ, ok := LookupType(tn.Literal)
			if !ok || typ == TypeVoid {
				p.errorf(tn.Pos, "unknown type %q", tn.Literal)
				return nil
			}
			inst.Result.Type = typ
		}
		if _, ok := p.expect(token.ASSIGN); !ok {
			return nil
		}
	}

	opTok, ok := p.expect(token.IDENT)
	if !ok {
		return nil
	}
	op, ok := LookupOp(opTok.Literal)
	if !ok || op == OpLabel || op == OpExitNode {
		p.errorf(opTok.Pos, "unknown instruction %q", opTok.Literal)
		return nil
	}
	inst.Op = op
	shape := shapes[op]
	if inst.Result.Kind != KindNone && shape.result == resultNone {
		p.errorf(opTok.Pos, "%s does not produce a result", op)
		return nil
	}
	if inst.Result.Kind == KindNone && shape.result == resultRequired {
		p.errorf(opTok.Pos, "%s requires a result", op)
		return nil
	}

	if op.IsCall() {
		if !p.parseCall(inst) {
			return nil
		}
		return inst
	}

	n := 0
	for p.tok.Type != token.NEWLINE && p.tok.Type != token.RBRACE && p.tok.Type != token.EOF {
		if n > 0 {
			if _, ok := p.expect(token.COMMA); !ok {
				return nil
			}
		}
		if n == len(inst.Params) {
			p.errorf(p.tok.Pos, "too many operands for %s", op)
			return nil
		}
		if !p.parseOperand(&inst.Params[n]) {
			return nil
		}
		n++
	}
	if n < shape.minParams || n > shape.maxParams {
		p.errorf(opTok.Pos, "%s takes %d operands, found %d", op, shape.maxParams, n)
		return nil
	}
	return inst
}

func (p *parser) parseCall(inst *Instruction) bool {
	if inst.Op == OpICall {
		tok, ok := p.expect(token.VAR)
		if !ok {
			return false
		}
		id, _ := strconv.Atoi(tok.Literal[1:])
		inst.Params[0] = Var(id)
	} else {
		if _, ok := p.expect(token.AT); !ok {
			return false
		}
		name, ok := p.expect(token.IDENT)
		if !ok {
			return false
		}
		inst.Callee = &Callee{Name: name.Literal}
	}
	if _, ok := p.expect(token.LPAREN); !ok {
		return false
	}
	for p.tok.Type != token.RPAREN {
		if len(inst.CallParams) > 0 {
			if _, ok := p.expect(token.COMMA); !ok {
				return false
			}
		}
		var it Item
		if !p.parseOperand(&it) {
			return false
		}
		if it.Kind == KindLabel {
			p.errorf(p.tok.Pos, "labels cannot be passed to calls")
			return false
		}
		inst.CallParams = append(inst.CallParams, it)
	}
	p.next()
	return true
}

func (p *parser) parseOperand(it *Item) bool {
	tok := p.tok
	switch tok.Type {
	case token.VAR:
		id, _ := strconv.Atoi(tok.Literal[1:])
		*it = Var(id)
	case token.INT:
		v, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil {
			p.errorf(tok.Pos, "bad integer %q", tok.Literal)
			return false
		}
		*it = Const(v)
	case token.FLOAT:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf(tok.Pos, "bad float %q", tok.Literal)
			return false
		}
		*it = FConst(f)
	case token.SYMBOL:
		id, _ := strconv.Atoi(tok.Literal[1:])
		*it = Symbol(id)
	case token.IDENT:
		p.labelRef(it, tok.Literal)
	default:
		p.errorf(tok.Pos, "unexpected %s %q in operand", tok.Type, tok.Literal)
		return false
	}
	p.next()
	return true
}

// labelRef records a label operand. Labels named L<n> keep n as their ID;
// other names are numbered after the method is read.
func (p *parser) labelRef(it *Item, name string) {
	it.Kind = KindLabel
	if strings.HasPrefix(name, "L") {
		if n, err := strconv.ParseInt(name[1:], 10, 64); err == nil && n >= 0 {
			it.Value = n
			p.labelIDs[name] = n
			return
		}
	}
	p.pending = append(p.pending, pendingLabel{item: it, name: name})
}

func (p *parser) resolveLabels() {
	next := int64(0)
	for _, id := range p.labelIDs {
		if id >= next {
			next = id + 1
		}
	}
	var names []string
	for _, pl := range p.pending {
		if _, ok := p.labelIDs[pl.name]; !ok {
			p.labelIDs[pl.name] = -1
			names = append(names, pl.name)
		}
	}
	for _, name := range names {
		p.labelIDs[name] = next
		next++
	}
	for _, pl := range p.pending {
		pl.item.Value = p.labelIDs[pl.name]
	}
}

// propagateVarTypes gives every use of a variable the type declared at one
// of its definitions.
func propagateVarTypes(insts []*Instruction) {
	types := make(map[int64]Type)
	for _, inst := range insts {
		if inst.Result.Kind == KindVar && inst.Result.Type != TypeInt {
			if _, ok := types[inst.Result.Value]; !ok {
				types[inst.Result.Value] = inst.Result.Type
			}
		}
	}
	fix := func(it *Item) {
		if it.Kind != KindVar {
			return
		}
		if t, ok := types[it.Value]; ok {
			it.Type = t
		}
	}
	for _, inst := range insts {
		fix(&inst.Result)
		for i := range inst.Params {
			fix(&inst.Params[i])
		}
		for i := range inst.CallParams {
			fix(&inst.CallParams[i])
		}
	}
}
