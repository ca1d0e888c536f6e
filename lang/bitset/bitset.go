// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package bitset implements fixed-universe bit sets keyed by dense IDs.
//
// Instruction, variable and basic-block IDs are dense non-negative integers,
// so sets over them are stored as packed 64-bit words. Every set carries its
// universe size; binary operations require both operands to share it.
package bitset

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/imroc/biu"
)

const wordSize = 64

// Set is a bit set over the universe [0, Len()).
type Set struct {
	words []uint64
	n     int
}

// New creates an empty set over a universe of n elements.
func New(n int) *Set {
	if n < 0 {
		panic(fmt.Sprintf("bitset: negative size %d", n))
	}
	return &Set{words: make([]uint64, (n+wordSize-1)/wordSize), n: n}
}

// Of creates a set over n elements with the given members.
func Of(n int, ids ...int) *Set {
	s := New(n)
	for _, id := range ids {
		s.Set(id)
	}
	return s
}

// Full creates a set over n elements with every bit set.
func Full(n int) *Set {
	s := New(n)
	for i := range s.words {
		s.words[i] = ^uint64(0)
	}
	s.trim()
	return s
}

// Len returns the universe size.
func (s *Set) Len() int { return s.n }

func (s *Set) check(i int) {
	if i < 0 || i >= s.n {
		panic(fmt.Sprintf("bitset: index %d out of range [0,%d)", i, s.n))
	}
}

func (s *Set) same(o *Set) {
	if s.n != o.n {
		panic(fmt.Sprintf("bitset: size mismatch %d != %d", s.n, o.n))
	}
}

// trim clears the bits past the universe in the last word.
func (s *Set) trim() {
	if rem := s.n % wordSize; rem != 0 && len(s.words) > 0 {
		s.words[len(s.words)-1] &= (uint64(1) << uint(rem)) - 1
	}
}

// Set adds i to the set.
func (s *Set) Set(i int) {
	s.check(i)
	s.words[i/wordSize] |= 1 << uint(i%wordSize)
}

// Clear removes i from the set.
func (s *Set) Clear(i int) {
	s.check(i)
	s.words[i/wordSize] &^= 1 << uint(i%wordSize)
}

// Test reports whether i is in the set. Out-of-range indices are never members.
func (s *Set) Test(i int) bool {
	if i < 0 || i >= s.n {
		return false
	}
	return s.words[i/wordSize]&(1<<uint(i%wordSize)) != 0
}

// Count returns the number of members.
func (s *Set) Count() int {
	c := 0
	for _, w := range s.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Empty reports whether the set has no members.
func (s *Set) Empty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Reset removes every member.
func (s *Set) Reset() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// Copy returns an independent copy of the set.
func (s *Set) Copy() *Set {
	c := &Set{words: make([]uint64, len(s.words)), n: s.n}
	copy(c.words, s.words)
	return c
}

// Assign overwrites s with the members of o.
func (s *Set) Assign(o *Set) {
	s.same(o)
	copy(s.words, o.words)
}

// Union adds every member of o to s and reports whether s changed.
func (s *Set) Union(o *Set) bool {
	s.same(o)
	changed := false
	for i, w := range o.words {
		if nw := s.words[i] | w; nw != s.words[i] {
			s.words[i] = nw
			changed = true
		}
	}
	return changed
}

// Intersect keeps only members also in o and reports whether s changed.
func (s *Set) Intersect(o *Set) bool {
	s.same(o)
	changed := false
	for i, w := range o.words {
		if nw := s.words[i] & w; nw != s.words[i] {
			s.words[i] = nw
			changed = true
		}
	}
	return changed
}

// Subtract removes every member of o from s and reports whether s changed.
func (s *Set) Subtract(o *Set) bool {
	s.same(o)
	changed := false
	for i, w := range o.words {
		if nw := s.words[i] &^ w; nw != s.words[i] {
			s.words[i] = nw
			changed = true
		}
	}
	return changed
}

// Intersects reports whether s and o share a member.
func (s *Set) Intersects(o *Set) bool {
	s.same(o)
	for i, w := range o.words {
		if s.words[i]&w != 0 {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every member of s is in o.
func (s *Set) SubsetOf(o *Set) bool {
	s.same(o)
	for i, w := range s.words {
		if w&^o.words[i] != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether s and o have the same universe and members.
func (s *Set) Equal(o *Set) bool {
	if s.n != o.n {
		return false
	}
	for i, w := range s.words {
		if w != o.words[i] {
			return false
		}
	}
	return true
}

// Next returns the smallest member >= from, or -1.
func (s *Set) Next(from int) int {
	if from < 0 {
		from = 0
	}
	if from >= s.n {
		return -1
	}
	wi := from / wordSize
	w := s.words[wi] >> uint(from%wordSize)
	if w != 0 {
		return from + bits.TrailingZeros64(w)
	}
	for wi++; wi < len(s.words); wi++ {
		if s.words[wi] != 0 {
			return wi*wordSize + bits.TrailingZeros64(s.words[wi])
		}
	}
	return -1
}

// First returns the smallest member, or -1.
func (s *Set) First() int { return s.Next(0) }

// Each calls fn for every member in ascending order.
func (s *Set) Each(fn func(i int)) {
	for i := s.Next(0); i != -1; i = s.Next(i + 1) {
		fn(i)
	}
}

// Slice returns the members in ascending order.
func (s *Set) Slice() []int {
	out := make([]int, 0, s.Count())
	s.Each(func(i int) { out = append(out, i) })
	return out
}

// String renders the members as {a, b, c}.
func (s *Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	s.Each(func(i int) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%d", i)
	})
	b.WriteByte('}')
	return b.String()
}

// Binary renders the raw bytes of the set, lowest ID first, for debug dumps.
func (s *Set) Binary() string {
	raw := make([]byte, (s.n+7)/8)
	for i := range raw {
		raw[i] = bits.Reverse8(byte(s.words[i/8] >> uint(8*(i%8))))
	}
	return biu.ToBinaryString(raw)
}
