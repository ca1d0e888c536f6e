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

	"github.com/probechain/probe-sched/lang/bitset"
)

// MoveInstructionsBefore moves insts upwards so that they run right before
// the instructions of before, cloning them onto every path leading there.
// On error the method is left untouched.
func (s *Schedule) MoveInstructionsBefore(insts, before *bitset.Set) (Clones, error) {
	return s.moveMany(insts, before, Upwards)
}

// MoveInstructionsAfter moves insts downwards so that they run right after
// the instructions of after. On error the method is left untouched.
func (s *Schedule) MoveInstructionsAfter(insts, after *bitset.Set) (Clones, error) {
	return s.moveMany(insts, after, Downwards)
}

func (s *Schedule) moveMany(insts, anchors *bitset.Set, dir Direction) (Clones, error) {
	r, err := s.prepare(insts, anchors, dir)
	if err != nil {
		return nil, s.rejected(err, "insts", insts, "anchors", anchors, "dir", dir)
	}
	p, err := r.plan()
	if err != nil {
		return nil, s.rejected(err, "insts", insts, "anchors", anchors, "dir", dir)
	}
	r.log.Trace("Moving instructions", "clone", p.clone, "move", p.toMove, "edges", len(p.edges))
	return s.apply(p), nil
}

// plan validates the request and lays out every edit, without touching
// the method.
func (r *request) plan() (*plan, error) {
	clone := r.instsToClone()
	if err := r.canMoveEarly(clone); err != nil {
		return nil, err
	}
	toMove, blocks := r.movable(clone.Copy())

	es := newEdgeSet()
	r.cloneLocations(clone, es)
	r.anchorEdges(clone, es)
	if len(es.list) == 0 {
		return nil, reject(ErrNoRegion, -1, "no edge to place the clones on")
	}
	if err := r.findEntries(es.list); err != nil {
		return nil, err
	}
	succs, err := r.succRelations(clone)
	if err != nil {
		return nil, err
	}
	patches, err := r.branchPatches(blocks)
	if err != nil {
		return nil, err
	}
	p := &plan{
		clone:   clone,
		toMove:  toMove,
		edges:   es.list,
		succs:   succs,
		patches: patches,
	}
	if err := r.canMoveFinally(clone, toMove, p); err != nil {
		return nil, err
	}
	return p, nil
}

// rejected logs why a move was refused and hands the error back.
func (s *Schedule) rejected(err error, ctx ...interface{}) error {
	var me *MoveError
	if errors.As(err, &me) {
		ctx = append(ctx, "reason", me.Reason, "inst", me.Inst)
		if me.Detail != "" {
			ctx = append(ctx, "detail", me.Detail)
		}
	} else {
		ctx = append(ctx, "reason", err)
	}
	s.log.Debug("Move rejected", ctx...)
	return err
}
