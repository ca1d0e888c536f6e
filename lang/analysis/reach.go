// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package analysis

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/probe-sched/lang/bitset"
	"github.com/probechain/probe-sched/lang/ir"
)

// reachCacheSize bounds the number of memoized reach tables.
const reachCacheSize = 512

// Reachability answers path queries over a control-flow graph. Tables are
// computed on demand and kept in an ARC cache; returned sets are shared
// and must not be modified.
type Reachability struct {
	g     *ir.Graph
	cache *lru.ARCCache
}

// NewReachability creates a reachability oracle for g.
func NewReachability(g *ir.Graph) *Reachability {
	cache, _ := lru.NewARC(reachCacheSize)
	return &Reachability{g: g, cache: cache}
}

type reachKey struct {
	id       int
	backward bool
}

// From returns the nodes reachable from id through at least one edge.
// id itself is included only when it lies on a cycle.
func (r *Reachability) From(id int) *bitset.Set {
	return r.table(reachKey{id, false})
}

// To returns the nodes that reach id through at least one edge.
func (r *Reachability) To(id int) *bitset.Set {
	return r.table(reachKey{id, true})
}

// CanReach reports whether a path of length at least one leads from
// 'from' to 'to'.
func (r *Reachability) CanReach(from, to int) bool {
	return r.From(from).Test(to)
}

func (r *Reachability) table(key reachKey) *bitset.Set {
	if s, ok := r.cache.Get(key); ok {
		return s.(*bitset.Set)
	}
	next := r.g.Succ
	if key.backward {
		next = r.g.Pred
	}
	s := bitset.New(r.g.Size())
	work := append([]int(nil), next[key.id]...)
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		if s.Test(n) {
			continue
		}
		s.Set(n)
		work = append(work, next[n]...)
	}
	r.cache.Add(key, s)
	return s
}
