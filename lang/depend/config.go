// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package depend

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/probechain/probe-sched/lang/ir"
)

var (
	// DefaultThreadSafe lists the library routines whose calls may run
	// concurrently with each other.
	DefaultThreadSafe = []string{"malloc", "free", "realloc", "exit"}

	// DefaultInputOutput lists the routines that perform input or output.
	DefaultInputOutput = []string{
		"spec_write", "spec_putc", "spec_reset", "spec_rewind", "spec_ungetc",
		"spec_getc", "spec_read", "spec_load", "spec_random_load",
		"BUFFER_setStream", "BUFFER_bsR1", "BUFFER_needToReadNumberOfBits",
		"BUFFER_setNumberOfBytesWritten", "BUFFER_getNumberOfBytesWritten",
		"BUFFER_readBits", "BUFFER_writeBit", "BUFFER_writeBits",
		"BUFFER_writeBitsFromValue", "BUFFER_writeUChar", "BUFFER_writeUInt",
		"BUFFER_flush",
	}
)

// Config names the routines the classifier treats specially. Callees of
// libcall instructions always belong to a library; Libraries adds the
// names of direct calls that do too.
type Config struct {
	ThreadSafe  mapset.Set
	InputOutput mapset.Set
	Libraries   mapset.Set
}

func newSet(names []string) mapset.Set {
	s := mapset.NewSet()
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// NewConfig returns a configuration over the given name lists.
func NewConfig(threadSafe, inputOutput, libraries []string) *Config {
	return &Config{
		ThreadSafe:  newSet(threadSafe),
		InputOutput: newSet(inputOutput),
		Libraries:   newSet(libraries),
	}
}

// DefaultConfig returns the default name lists. The thread-safe routines
// are also the default library routines.
func DefaultConfig() *Config {
	return NewConfig(DefaultThreadSafe, DefaultInputOutput, DefaultThreadSafe)
}

// IsLibraryCall reports whether inst calls a library routine.
func (c *Config) IsLibraryCall(inst *ir.Instruction) bool {
	switch inst.Op {
	case ir.OpLibraryCall:
		return true
	case ir.OpCall, ir.OpNativeCall:
		return c.Libraries.Contains(inst.CalleeName())
	}
	return false
}

// IsThreadSafe reports whether inst calls a thread-safe library routine.
func (c *Config) IsThreadSafe(inst *ir.Instruction) bool {
	return inst.Callee != nil && c.IsLibraryCall(inst) && c.ThreadSafe.Contains(inst.CalleeName())
}

// IsInputOutput reports whether inst directly calls an I/O routine.
func (c *Config) IsInputOutput(inst *ir.Instruction) bool {
	return inst.Op == ir.OpCall && c.InputOutput.Contains(inst.CalleeName())
}
