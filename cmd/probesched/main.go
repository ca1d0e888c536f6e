// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command probesched inspects textual IR listings and moves instructions
// across basic blocks.
//
// Usage:
//
//	probesched [global flags] <command> [flags] <file.ir>
//
// Commands:
//
//	dump        print methods with instruction IDs, blocks and loops
//	deps        print the loop-carried dependences of every loop
//	hoist       move one instruction as high as it goes
//	sink        move one instruction as low as it goes
//	move        move instructions before or after anchors
//	check       try every max-move and compare runs in the interpreter
//	dumpconfig  print the effective configuration
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-sched/log"
)

const version = "0.1.0"

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	colorFlag = cli.BoolFlag{
		Name:  "color",
		Usage: "Force colored log output",
	}
	workersFlag = cli.IntFlag{
		Name:  "workers",
		Usage: "Methods analyzed in parallel",
		Value: runtime.NumCPU(),
	}

	methodFlag = cli.StringFlag{
		Name:  "method",
		Usage: "Method to operate on (default: the first one)",
	}
	instFlag = cli.IntFlag{
		Name:  "inst",
		Usage: "Instruction ID",
		Value: -1,
	}
	instsFlag = cli.StringFlag{
		Name:  "insts",
		Usage: "Comma separated instruction IDs to move",
	}
	beforeFlag = cli.StringFlag{
		Name:  "before",
		Usage: "Comma separated anchors to move the instructions above",
	}
	afterFlag = cli.StringFlag{
		Name:  "after",
		Usage: "Comma separated anchors to move the instructions below",
	}
	allFlag = cli.BoolFlag{
		Name:  "all",
		Usage: "Also list the dependences inside one iteration",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "probesched"
	app.Usage = "the IR code motion scheduler"
	app.Version = version
	app.Flags = []cli.Flag{
		configFileFlag,
		verbosityFlag,
		colorFlag,
		workersFlag,
	}
	app.Commands = []cli.Command{
		dumpCommand,
		depsCommand,
		hoistCommand,
		sinkCommand,
		moveCommand,
		checkCommand,
		dumpConfigCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		cfg, err := makeConfig(ctx)
		if err != nil {
			return err
		}
		setupLogging(ctx.App.ErrWriter, cfg.Log)
		return nil
	}
	return app
}

// setupLogging routes the root logger to w, in color when w is a terminal
// or color is forced.
func setupLogging(w io.Writer, cfg logConfig) {
	if w == nil {
		w = os.Stderr
	}
	usecolor := cfg.Color
	if f, ok := w.(*os.File); ok && f == os.Stderr {
		term := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		usecolor = usecolor || (term && os.Getenv("TERM") != "dumb")
		if usecolor {
			w = colorable.NewColorableStderr()
		}
	}
	var h log.Handler = log.StreamHandler(w, log.TerminalFormat(usecolor))
	if cfg.Caller {
		h = log.CallerFileHandler(h)
	}
	if cfg.Verbosity <= 0 {
		h = log.DiscardHandler()
	} else {
		h = log.LvlFilterHandler(log.Lvl(cfg.Verbosity), h)
	}
	log.Root().SetHandler(h)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
