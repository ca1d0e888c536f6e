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
	"os"
	"strconv"
	"strings"

	"github.com/edsrzf/mmap-go"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
	"github.com/probechain/probe-sched/log"
)

// readMethods parses every method of an IR listing. The file is mapped
// rather than read; nothing parsed keeps a reference to the mapping.
func readMethods(file string) ([]*ir.Method, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%s: no methods", file)
	}
	mem, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: mmap failed: %v", file, err)
	}
	defer mem.Unmap()

	methods, err := ir.Parse(file, mem)
	if err != nil {
		return nil, err
	}
	for _, m := range methods {
		if errs := ir.Verify(m); len(errs) > 0 {
			return nil, fmt.Errorf("%s: method %s: %v", file, m.Name, &errs[0])
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%s: no methods", file)
	}
	log.Debug("Loaded IR listing", "file", file, "methods", len(methods), "bytes", fi.Size())
	return methods, nil
}

// inputFile returns the single file argument of a command.
func inputFile(ctx *cli.Context) (string, error) {
	if ctx.NArg() != 1 {
		return "", errors.New("expected exactly one IR file")
	}
	return ctx.Args().First(), nil
}

// selectMethod picks the method named by --method, or the first one.
func selectMethod(ctx *cli.Context, methods []*ir.Method) (*ir.Method, error) {
	name := ctx.String(methodFlag.Name)
	if name == "" {
		return methods[0], nil
	}
	for _, m := range methods {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("no method named %q", name)
}

// copyMethod returns an independent copy of m with the same IDs.
func copyMethod(m *ir.Method) *ir.Method {
	c, err := ir.ParseMethod(ir.Format(m))
	if err != nil {
		panic(fmt.Sprintf("method %s does not reparse: %v", m.Name, err))
	}
	return c
}

// parseInts parses a comma separated list of integers. Blanks are ignored.
func parseInts(s string) ([]int64, error) {
	var out []int64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseIDs parses a comma separated list of instruction IDs of m.
func parseIDs(s string, m *ir.Method) (*bitset.Set, error) {
	vals, err := parseInts(s)
	if err != nil {
		return nil, err
	}
	set := bitset.New(m.NumInsts())
	for _, v := range vals {
		if v < 0 || int(v) >= m.NumInsts() {
			return nil, fmt.Errorf("instruction %d out of range [0,%d)", v, m.NumInsts())
		}
		set.Set(int(v))
	}
	return set, nil
}
