// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-sched/lang/depend"
	"github.com/probechain/probe-sched/lang/interp"
	"github.com/probechain/probe-sched/lang/ir"
	"github.com/probechain/probe-sched/log"
)

var dumpConfigCommand = cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	ArgsUsage:   "[<file>]",
	Category:    "MISCELLANEOUS COMMANDS",
	Description: `The dumpconfig command shows configuration values.`,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		id := fmt.Sprintf("%s.%s", rt.String(), field)
		if deprecated(id) {
			log.Warn("Config field is deprecated and won't have an effect", "name", id)
			return nil
		}
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type logConfig struct {
	Verbosity int
	Color     bool
	Caller    bool
}

type dependConfig struct {
	ThreadSafe  []string
	InputOutput []string
	Libraries   []string `toml:",omitempty"`
}

type schedConfig struct {
	GasLimit    uint64
	MemoryLimit uint64
	// Ops restricts the instructions check tries to move. Empty means all.
	Ops []string `toml:",omitempty"`
}

type checkConfig struct {
	// Inputs are comma separated argument lists every method is run with.
	Inputs []string
}

type probeschedConfig struct {
	Log    logConfig
	Depend dependConfig
	Sched  schedConfig
	Check  checkConfig
}

func defaultConfig() probeschedConfig {
	return probeschedConfig{
		Log: logConfig{Verbosity: 3},
		Depend: dependConfig{
			ThreadSafe:  depend.DefaultThreadSafe,
			InputOutput: depend.DefaultInputOutput,
		},
		Sched: schedConfig{
			GasLimit:    interp.DefaultGasLimit,
			MemoryLimit: interp.DefaultMemoryLimit,
		},
		Check: checkConfig{
			Inputs: []string{"0,0", "1,2", "7,3"},
		},
	}
}

func loadConfig(file string, cfg *probeschedConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the defaults, then the config file, then the flags.
func makeConfig(ctx *cli.Context) (probeschedConfig, error) {
	cfg := defaultConfig()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.GlobalIsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.GlobalInt(verbosityFlag.Name)
	}
	if ctx.GlobalIsSet(colorFlag.Name) {
		cfg.Log.Color = ctx.GlobalBool(colorFlag.Name)
	}
	for _, name := range cfg.Sched.Ops {
		if _, ok := ir.LookupOp(name); !ok {
			return cfg, fmt.Errorf("Sched.Ops: unknown operation %q", name)
		}
	}
	for _, in := range cfg.Check.Inputs {
		if _, err := parseInts(in); err != nil {
			return cfg, fmt.Errorf("Check.Inputs: %v", err)
		}
	}
	return cfg, nil
}

func (c dependConfig) config() *depend.Config {
	return depend.NewConfig(c.ThreadSafe, c.InputOutput, c.Libraries)
}

func (c schedConfig) interpOptions() []interp.Option {
	return []interp.Option{interp.WithGasLimit(c.GasLimit), interp.WithMemoryLimit(c.MemoryLimit)}
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := ctx.App.Writer
	if ctx.NArg() > 0 {
		f, err := os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		dump = f
	}
	_, err = dump.Write(out)
	return err
}

func deprecated(field string) bool {
	return false
}
