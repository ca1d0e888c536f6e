// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/cp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests are 'smoke tests' for the subcommands. The listings of
// testdata are copied into a temporary directory first.

func tmpListing(t *testing.T) string {
	dir := t.TempDir()
	file := filepath.Join(dir, "methods.ir")
	if err := cp.CopyFile(file, filepath.Join("testdata", "methods.ir")); err != nil {
		t.Fatal(err)
	}
	return file
}

func runProbesched(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"probesched", "--verbosity", "0"}, args...))
	return out.String(), err
}

func TestDump(t *testing.T) {
	out, err := runProbesched(t, "dump", tmpListing(t))
	require.NoError(t, err)
	for _, name := range []string{"straight", "diamond", "dowhile", "fill"} {
		assert.Contains(t, out, "func "+name)
	}
	assert.Contains(t, out, "Block")
	// fill is the only top-tested loop, dowhile has no back edge.
	assert.Contains(t, out, "loop header=2 depth=1")
	assert.NotContains(t, out, "loop header=1 ")
}

func TestDeps(t *testing.T) {
	out, err := runProbesched(t, "deps", "--method", "fill", tmpListing(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Category")
	assert.Contains(t, out, "fill")
	assert.NotContains(t, out, "diamond")
}

func TestHoist(t *testing.T) {
	out, err := runProbesched(t, "hoist", "--method", "diamond", "--inst", "7", tmpListing(t))
	require.NoError(t, err)
	assert.Contains(t, out, "   0  v4 = mul v1, 2")
	assert.Contains(t, out, "Original")
}

func TestSinkRejected(t *testing.T) {
	_, err := runProbesched(t, "sink", "--method", "straight", "--inst", "3", tmpListing(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to move")
}

func TestMove(t *testing.T) {
	file := tmpListing(t)
	out, err := runProbesched(t, "move", "--insts", "7", "--before", "1", "--method", "diamond", file)
	require.NoError(t, err)
	assert.Contains(t, out, "   1  v4 = mul v1, 2")

	_, err = runProbesched(t, "move", "--insts", "7", "--method", "diamond", file)
	assert.Error(t, err)
	_, err = runProbesched(t, "move", "--insts", "7", "--before", "1", "--after", "2", "--method", "diamond", file)
	assert.Error(t, err)
	_, err = runProbesched(t, "move", "--insts", "70", "--before", "1", "--method", "diamond", file)
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	out, err := runProbesched(t, "check", tmpListing(t))
	require.NoError(t, err, out)
	assert.Contains(t, out, " 0 diverged")
	assert.Contains(t, out, "clone on a back edge")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(conf, []byte(`
[Sched]
GasLimit = 5000
Ops = ["mul", "add"]

[Check]
Inputs = ["2,3"]
`), 0644))

	out, err := runProbesched(t, "--config", conf, "dumpconfig")
	require.NoError(t, err)
	assert.Contains(t, out, "GasLimit = 5000")
	assert.Contains(t, out, `Inputs = ["2,3"]`)

	out, err = runProbesched(t, "--config", conf, "check", tmpListing(t))
	require.NoError(t, err, out)
	assert.Contains(t, out, " 0 diverged")
	assert.NotContains(t, out, "branch blocks the move")
}

func TestConfigRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(conf, []byte("[Sched]\nGas = 1\n"), 0644))
	_, err := runProbesched(t, "--config", conf, "dumpconfig")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Gas")
}
