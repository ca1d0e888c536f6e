// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-sched/lang/analysis"
	"github.com/probechain/probe-sched/lang/depend"
	"github.com/probechain/probe-sched/lang/ir"
	"github.com/probechain/probe-sched/lang/loops"
	"github.com/probechain/probe-sched/lang/sched"
	"github.com/probechain/probe-sched/log"
)

var (
	dumpCommand = cli.Command{
		Action:    dump,
		Name:      "dump",
		Usage:     "Print methods with instruction IDs, blocks and loops",
		ArgsUsage: "<file.ir>",
		Category:  "ANALYSIS COMMANDS",
	}
	depsCommand = cli.Command{
		Action:    deps,
		Name:      "deps",
		Usage:     "Print the loop-carried dependences of every loop",
		ArgsUsage: "<file.ir>",
		Flags:     []cli.Flag{methodFlag, allFlag},
		Category:  "ANALYSIS COMMANDS",
		Description: `
The deps command classifies the dependences of every loop of the selected
methods and prints them with their category. With --all the dependences
inside one iteration are listed as well.`,
	}
	hoistCommand = cli.Command{
		Action:    func(ctx *cli.Context) error { return maxMove(ctx, sched.Upwards) },
		Name:      "hoist",
		Usage:     "Move one instruction as high as its dependences allow",
		ArgsUsage: "<file.ir>",
		Flags:     []cli.Flag{methodFlag, instFlag},
		Category:  "SCHEDULING COMMANDS",
	}
	sinkCommand = cli.Command{
		Action:    func(ctx *cli.Context) error { return maxMove(ctx, sched.Downwards) },
		Name:      "sink",
		Usage:     "Move one instruction as low as its dependences allow",
		ArgsUsage: "<file.ir>",
		Flags:     []cli.Flag{methodFlag, instFlag},
		Category:  "SCHEDULING COMMANDS",
	}
	moveCommand = cli.Command{
		Action:    move,
		Name:      "move",
		Usage:     "Move instructions right before or after anchors",
		ArgsUsage: "<file.ir>",
		Flags:     []cli.Flag{methodFlag, instsFlag, beforeFlag, afterFlag},
		Category:  "SCHEDULING COMMANDS",
		Description: `
The move command moves --insts next to the anchors given with exactly one
of --before or --after, cloning them where paths join. The rewritten method
is printed, or the reason the move was refused.`,
	}
	checkCommand = cli.Command{
		Action:    check,
		Name:      "check",
		Usage:     "Try every max-move and compare runs before and after",
		ArgsUsage: "<file.ir>",
		Category:  "SCHEDULING COMMANDS",
		Description: `
The check command hoists and sinks every instruction of every method, one
at a time on a fresh copy, and runs the original and the rewritten method
in the interpreter on each configured input. Any difference in variables,
memory, external calls or returned value is reported as a divergence.`,
	}
)

// forEachMethod runs fn on every method, at most --workers at a time. Each
// method is only touched by the goroutine running fn on it.
func forEachMethod(ctx *cli.Context, methods []*ir.Method, fn func(i int, m *ir.Method) error) error {
	workers := ctx.GlobalInt(workersFlag.Name)
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(context.Background())
	for i, m := range methods {
		i, m := i, m
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return fn(i, m)
		})
	}
	return g.Wait()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	return t
}

func ints(ids []int) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.Itoa(id)
	}
	return strings.Join(s, ",")
}

// dump is the dump command.
func dump(ctx *cli.Context) error {
	file, err := inputFile(ctx)
	if err != nil {
		return err
	}
	methods, err := readMethods(file)
	if err != nil {
		return err
	}
	w := ctx.App.Writer
	for _, m := range methods {
		info := analysis.Analyze(m)
		forest := loops.FindLoops(info)

		fmt.Fprint(w, ir.FormatWithIDs(m))
		blocks := newTable(w, "Block", "Start", "End", "Preds", "Succs", "Loop")
		for _, b := range info.Blocks.List {
			loop := "-"
			if l := forest.Innermost(b.Start); l != nil {
				loop = fmt.Sprintf("L@%d/%d", l.Header, l.Depth())
			}
			blocks.Append([]string{
				strconv.Itoa(b.Pos),
				strconv.Itoa(b.Start),
				strconv.Itoa(b.End),
				ints(info.Graph.Pred[b.Start]),
				ints(info.Graph.Succ[b.End]),
				loop,
			})
		}
		blocks.Render()
		for _, l := range forest.Loops {
			fmt.Fprintf(w, "loop header=%d depth=%d back=%v insts=%s\n", l.Header, l.Depth(), l.BackEdges, l.Insts.Binary())
		}
		fmt.Fprintln(w)
	}
	return nil
}

// deps is the deps command.
func deps(ctx *cli.Context) error {
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
	if ctx.IsSet(methodFlag.Name) {
		m, err := selectMethod(ctx, methods)
		if err != nil {
			return err
		}
		methods = []*ir.Method{m}
	}
	dcfg := cfg.Depend.config()
	all := ctx.Bool(allFlag.Name)

	rows := make([][][]string, len(methods))
	err = forEachMethod(ctx, methods, func(i int, m *ir.Method) error {
		info := analysis.Analyze(m)
		for _, l := range loops.FindLoops(info).Loops {
			c := depend.NewContext(l, depend.WithConfig(dcfg), depend.WithLogger(log.New("method", m.Name, "loop", l.Header)))
			list := c.DependencesAcrossIterations()
			if all {
				list = c.DependencesWithinLoop(list)
			}
			for _, d := range list.All() {
				rows[i] = append(rows[i], []string{
					m.Name,
					strconv.Itoa(l.Header),
					strconv.Itoa(d.Inst1),
					strconv.Itoa(d.Inst2),
					d.Type.String(),
					d.Category.String(),
					d.Condition.String(),
				})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	t := newTable(ctx.App.Writer, "Method", "Loop", "Inst", "On", "Type", "Category", "Condition")
	for _, r := range rows {
		t.AppendBulk(r)
	}
	t.Render()
	return nil
}

// printMove prints the rewritten method and where the clones landed.
func printMove(w io.Writer, m *ir.Method, clones sched.Clones) {
	fmt.Fprint(w, ir.FormatWithIDs(m))
	t := newTable(w, "Original", "Clones")
	for _, id := range sortedKeys(clones) {
		t.Append([]string{strconv.Itoa(id), ints(clones.IDs(id))})
	}
	t.Render()
}

func sortedKeys(c sched.Clones) []int {
	keys := make([]int, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func loadMethod(ctx *cli.Context) (*ir.Method, error) {
	file, err := inputFile(ctx)
	if err != nil {
		return nil, err
	}
	methods, err := readMethods(file)
	if err != nil {
		return nil, err
	}
	return selectMethod(ctx, methods)
}

// maxMove is the hoist and sink command.
func maxMove(ctx *cli.Context, dir sched.Direction) error {
	m, err := loadMethod(ctx)
	if err != nil {
		return err
	}
	id := ctx.Int(instFlag.Name)
	if id < 0 {
		return errors.New("missing --inst")
	}
	s, err := sched.New(m)
	if err != nil {
		return err
	}
	defer s.Close()

	var clones sched.Clones
	if dir == sched.Upwards {
		clones, err = s.MoveInstructionOnlyAsHighAsPossible(id)
	} else {
		clones, err = s.MoveInstructionOnlyAsLowAsPossible(id)
	}
	if err != nil {
		return err
	}
	printMove(ctx.App.Writer, m, clones)
	return nil
}

// move is the move command.
func move(ctx *cli.Context) error {
	m, err := loadMethod(ctx)
	if err != nil {
		return err
	}
	before, after := ctx.String(beforeFlag.Name), ctx.String(afterFlag.Name)
	if (before == "") == (after == "") {
		return errors.New("exactly one of --before and --after is required")
	}
	insts, err := parseIDs(ctx.String(instsFlag.Name), m)
	if err != nil {
		return err
	}
	if insts.Empty() {
		return errors.New("missing --insts")
	}
	s, err := sched.New(m)
	if err != nil {
		return err
	}
	defer s.Close()

	var clones sched.Clones
	if before != "" {
		anchors, err := parseIDs(before, m)
		if err != nil {
			return err
		}
		clones, err = s.MoveInstructionsBefore(insts, anchors)
		if err != nil {
			return err
		}
	} else {
		anchors, err := parseIDs(after, m)
		if err != nil {
			return err
		}
		clones, err = s.MoveInstructionsAfter(insts, anchors)
		if err != nil {
			return err
		}
	}
	printMove(ctx.App.Writer, m, clones)
	return nil
}
