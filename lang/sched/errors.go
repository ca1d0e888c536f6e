// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sched

import (
	"errors"
	"fmt"
)

// ---- Schedule lifecycle ----------------------------------------------------

// ErrClosed is returned by every operation on a closed schedule.
var ErrClosed = errors.New("sched: schedule closed")

// ErrStale is returned once the method changed after the schedule was built,
// including by a successful move through the schedule itself.
var ErrStale = errors.New("sched: schedule is stale")

// ---- Rejected moves --------------------------------------------------------

var (
	// ErrOverlap: an instruction is both moved and used as an anchor.
	ErrOverlap = errors.New("sched: instructions to move overlap the anchors")

	// ErrNoRegion: no region links the instructions to the anchors.
	ErrNoRegion = errors.New("sched: no region between instructions and anchors")

	// ErrLoopBoundary: the instructions sit inside a loop the anchors are
	// outside of. Moving across the loop boundary is not supported.
	ErrLoopBoundary = errors.New("sched: move crosses a loop boundary")

	// ErrSplitClones: the clones would have to be split between two
	// unrelated insertion points.
	ErrSplitClones = errors.New("sched: clones cannot be placed together")

	// ErrDependence: a data dependence cannot be preserved.
	ErrDependence = errors.New("sched: data dependence prevents the move")

	// ErrMemcpy: the region contains a memcpy, whose dependences are not trusted.
	ErrMemcpy = errors.New("sched: memcpy in region")

	// ErrBackEdgeClone: a clone would land on a loop's own back edge.
	ErrBackEdgeClone = errors.New("sched: clone on a back edge")

	// ErrRedefinition: a clone would clobber a variable live on a path
	// entering the region.
	ErrRedefinition = errors.New("sched: clone redefines a live variable")

	// ErrNotMoved: a requested instruction could not be moved.
	ErrNotMoved = errors.New("sched: instruction would not move")

	// ErrBranch: a branch cannot be passed or moved.
	ErrBranch = errors.New("sched: branch blocks the move")

	// ErrNotWorthIt: the instruction is already as far as it can go.
	ErrNotWorthIt = errors.New("sched: nothing to move")
)

// MoveError describes why a move was rejected. Reason is one of the
// sentinel errors above, so callers can test it with errors.Is.
type MoveError struct {
	Reason error
	Inst   int    // instruction at fault, -1 if none
	Detail string // optional free-form detail
}

func (e *MoveError) Error() string {
	msg := e.Reason.Error()
	if e.Inst >= 0 {
		msg = fmt.Sprintf("%s (inst %d)", msg, e.Inst)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *MoveError) Unwrap() error { return e.Reason }

func reject(reason error, inst int, format string, args ...interface{}) *MoveError {
	e := &MoveError{Reason: reason, Inst: inst}
	if format != "" {
		e.Detail = fmt.Sprintf(format, args...)
	}
	return e
}
