// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package depend finds the data dependences of a loop, decides which of
// them are carried from one iteration to the next and explains each
// carried dependence with a category.
package depend

import (
	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
	"github.com/probechain/probe-sched/lang/loops"
	"github.com/probechain/probe-sched/log"
)

// Context holds one loop under analysis together with the per-loop facts
// the rules share. Facts are computed on first use and cached.
type Context struct {
	Loop   *loops.Loop
	Info   *analysis.Info
	Config *Config

	executed *bitset.Set
	log      log.Logger

	successors    []int
	cannotBeAlias *bitset.Set
	uniqueValue   *bitset.Set
	cannotChange  *bitset.Set
	memLocs       []int
	bodyStart     *int
}

// Option configures a Context.
type Option func(*Context)

// WithExecuted restricts the analysis to the instructions of a profile.
// A nil set means no profile is available.
func WithExecuted(executed *bitset.Set) Option {
	return func(c *Context) { c.executed = executed }
}

// WithConfig replaces the default routine name lists.
func WithConfig(cfg *Config) Option {
	return func(c *Context) { c.Config = cfg }
}

// WithLogger sets the logger used for tracing decisions.
func WithLogger(l log.Logger) Option {
	return func(c *Context) { c.log = l }
}

// NewContext prepares l for dependence analysis.
func NewContext(l *loops.Loop, opts ...Option) *Context {
	c := &Context{
		Loop:   l,
		Info:   l.Info(),
		Config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.New("loop", l.Header)
	}
	c.successors = l.Successors()
	return c
}

// Executed returns the profile, or nil.
func (c *Context) Executed() *bitset.Set { return c.executed }

func (c *Context) inst(id int) *ir.Instruction { return c.Info.Inst(id) }

func (c *Context) numInsts() int { return c.Info.NumInsts() }

func (c *Context) numVars() int { return c.Info.Method.NumVars() }

func (c *Context) pre(a, b int) bool { return c.Info.Dom.PreDominates(a, b) }

func (c *Context) post(a, b int) bool { return c.Info.Dom.PostDominates(a, b) }

// ran reports whether id executed, and always holds without a profile.
func (c *Context) ran(executed *bitset.Set, id int) bool {
	return executed == nil || executed.Test(id)
}

// members returns the loop instructions, exit node excluded.
func (c *Context) members() []int {
	var out []int
	for _, i := range c.Loop.Members() {
		if i < c.numInsts() {
			out = append(out, i)
		}
	}
	return out
}

// liveAtEntry reports whether the variable defined by id is live at the
// loop header.
func (c *Context) liveAtEntry(id int) bool {
	return c.Info.Live.LiveIn(c.Loop.Header, c.inst(id).Def())
}

// liveAtExit reports whether the variable defined by id is live on entry
// to some instruction the loop exits to.
func (c *Context) liveAtExit(id int) bool {
	v := c.inst(id).Def()
	if v < 0 {
		return false
	}
	for _, s := range c.successors {
		if c.Info.Live.LiveIn(s, v) {
			return true
		}
	}
	return false
}

// dominatesBackEdges reports whether id pre-dominates every back edge
// source of the loop.
func (c *Context) dominatesBackEdges(id int) bool {
	for _, b := range c.Loop.BackEdgeSources() {
		if !c.pre(id, b) {
			return false
		}
	}
	return true
}

// threadSafeDependence reports whether the dependence of a on b only
// orders calls to thread-safe library routines.
func (c *Context) threadSafeDependence(a, b int, t analysis.DepType) bool {
	if t&analysis.DepRAW == 0 && c.threadSafePair(a, b) {
		return true
	}
	return t&analysis.DepWAR == 0 && c.threadSafePair(b, a)
}

func (c *Context) threadSafePair(a, b int) bool {
	x, y := c.inst(a), c.inst(b)
	if !x.IsCall() && !y.IsCall() {
		return false
	}
	return c.Config.IsThreadSafe(x) || c.Config.IsThreadSafe(y)
}

func isLoadStore(inst *ir.Instruction) bool {
	return inst.Op == ir.OpLoadRel || inst.Op == ir.OpStoreRel
}

func isStoreLike(inst *ir.Instruction) bool {
	return inst.Op == ir.OpStoreRel || inst.Op == ir.OpInitMemory
}

// base returns the variable holding the base address of a load or store,
// or -1.
func base(inst *ir.Instruction) int {
	if !isLoadStore(inst) {
		return -1
	}
	return inst.Params[0].VarID()
}
