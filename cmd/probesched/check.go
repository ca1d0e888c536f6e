// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-sched/lang/interp"
	"github.com/probechain/probe-sched/lang/ir"
	"github.com/probechain/probe-sched/lang/sched"
	"github.com/probechain/probe-sched/log"
)

// outcome is the result of one max-move tried by check.
type outcome struct {
	method string
	inst   int
	dir    sched.Direction
	err    error  // rejection, nil when the move was applied
	diff   string // first divergence, empty when none
}

type checker struct {
	inputs [][]int64
	ops    map[ir.Op]bool
	opts   []interp.Option
	log    log.Logger
}

func newChecker(cfg probeschedConfig) *checker {
	c := &checker{opts: cfg.Sched.interpOptions(), log: log.New("cmd", "check")}
	for _, in := range cfg.Check.Inputs {
		args, _ := parseInts(in)
		c.inputs = append(c.inputs, args)
	}
	if len(cfg.Sched.Ops) > 0 {
		c.ops = make(map[ir.Op]bool)
		for _, name := range cfg.Sched.Ops {
			op, _ := ir.LookupOp(name)
			c.ops[op] = true
		}
	}
	return c
}

// runAll runs m on every input. A failed run is recorded by its error
// sentinel so that the same failure before and after compares equal.
func (c *checker) runAll(m *ir.Method) ([]*interp.State, []error, error) {
	in, err := interp.New(m, c.opts...)
	if err != nil {
		return nil, nil, err
	}
	states := make([]*interp.State, len(c.inputs))
	errs := make([]error, len(c.inputs))
	for i, args := range c.inputs {
		states[i], errs[i] = in.Run(args...)
		if errs[i] != nil {
			errs[i] = rootCause(errs[i])
		}
	}
	return states, errs, nil
}

func rootCause(err error) error {
	for _, e := range []error{interp.ErrOutOfGas, interp.ErrDivisionByZero, interp.ErrOutOfMemory,
		interp.ErrInvalidAddress, interp.ErrDoubleFree, interp.ErrUnsupported} {
		if errors.Is(err, e) {
			return e
		}
	}
	return err
}

// method tries every max-move of m on a fresh copy.
func (c *checker) method(m *ir.Method) ([]outcome, error) {
	want, wantErrs, err := c.runAll(m)
	if err != nil {
		return nil, err
	}
	var out []outcome
	for id := 0; id < m.NumInsts(); id++ {
		if c.ops != nil && !c.ops[m.Inst(id).Op] {
			continue
		}
		for _, dir := range []sched.Direction{sched.Upwards, sched.Downwards} {
			o := outcome{method: m.Name, inst: id, dir: dir}
			moved := copyMethod(m)
			s, err := sched.New(moved, sched.WithLogger(c.log.New("method", m.Name)))
			if err != nil {
				return nil, err
			}
			if dir == sched.Upwards {
				_, o.err = s.MoveInstructionOnlyAsHighAsPossible(id)
			} else {
				_, o.err = s.MoveInstructionOnlyAsLowAsPossible(id)
			}
			s.Close()
			if o.err == nil {
				got, gotErrs, err := c.runAll(moved)
				if err != nil {
					return nil, err
				}
				o.diff = compareRuns(c.inputs, want, got, wantErrs, gotErrs)
				if o.diff != "" {
					c.log.Warn("Move changed behaviour", "inst", id, "dir", dir, "method", ir.FormatWithIDs(moved))
				}
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func compareRuns(inputs [][]int64, want, got []*interp.State, wantErrs, gotErrs []error) string {
	for i := range inputs {
		if wantErrs[i] != gotErrs[i] {
			return fmt.Sprintf("args %v: error %v, was %v", inputs[i], gotErrs[i], wantErrs[i])
		}
		if wantErrs[i] != nil {
			continue
		}
		if diff := cmp.Diff(want[i], got[i]); diff != "" {
			return fmt.Sprintf("args %v:\n%s", inputs[i], diff)
		}
	}
	return ""
}

// check is the check command.
func check(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	file, err := inputFile(ctx)
	if err != nil {
		return err
	}
	methods, err := readMethods(file)
	if err != nil {
		return err
	}
	c := newChecker(cfg)
	results := make([][]outcome, len(methods))
	err = forEachMethod(ctx, methods, func(i int, m *ir.Method) error {
		res, err := c.method(m)
		results[i] = res
		return err
	})
	if err != nil {
		return err
	}

	red := color.New(color.FgRed).SprintFunc()
	t := newTable(ctx.App.Writer, "Method", "Inst", "Dir", "Result")
	var moved, diverged int
	for _, res := range results {
		for _, o := range res {
			result := "moved"
			switch {
			case o.err != nil:
				var me *sched.MoveError
				if errors.As(o.err, &me) {
					result = me.Reason.Error()
				} else {
					result = o.err.Error()
				}
			case o.diff != "":
				result = red("DIVERGED")
				diverged++
			default:
				moved++
			}
			t.Append([]string{o.method, strconv.Itoa(o.inst), o.dir.String(), result})
		}
	}
	t.Render()
	fmt.Fprintf(ctx.App.Writer, "%d moves applied, %d diverged\n", moved+diverged, diverged)
	if diverged > 0 {
		for _, res := range results {
			for _, o := range res {
				if o.diff != "" {
					fmt.Fprintf(ctx.App.Writer, "%s inst %d %s: %s\n", o.method, o.inst, o.dir, o.diff)
				}
			}
		}
		return fmt.Errorf("%d moves changed behaviour", diverged)
	}
	return nil
}
