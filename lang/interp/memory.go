// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package interp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DefaultMemoryLimit caps the bytes live at once (1 MiB).
	DefaultMemoryLimit uint64 = 1 << 20

	// wordSize is the allocation granularity and the width of loads and
	// stores.
	wordSize uint64 = 8

	// nullPage is never handed out, so that address 0 stays invalid.
	nullPage uint64 = 64
)

// ErrOutOfMemory is returned when an allocation would exceed the memory limit.
var ErrOutOfMemory = errors.New("interp: out of memory")

// ErrInvalidAddress is returned when an access is not fully inside one live
// allocation.
var ErrInvalidAddress = errors.New("interp: invalid memory address")

// ErrDoubleFree is returned when freeing an address that is not the base of
// a live allocation.
var ErrDoubleFree = errors.New("interp: double free")

type allocation struct {
	base uint64
	size uint64
}

func (a allocation) end() uint64 { return a.base + a.size }

// Memory is the byte-addressable heap of one run. Addresses are handed out
// monotonically and never reused, so two runs performing the same
// allocations in the same order see the same addresses.
type Memory struct {
	data    []byte
	allocs  map[uint64]allocation
	limit   uint64
	used    uint64
	nextPtr uint64
}

// NewMemory creates a heap holding at most limit live bytes. A zero limit
// selects DefaultMemoryLimit.
func NewMemory(limit uint64) *Memory {
	if limit == 0 {
		limit = DefaultMemoryLimit
	}
	return &Memory{
		data:    make([]byte, nullPage, 4096),
		allocs:  make(map[uint64]allocation),
		limit:   limit,
		nextPtr: nullPage,
	}
}

// Alloc reserves size zeroed bytes and returns their base address. A zero
// size still reserves one word.
func (m *Memory) Alloc(size uint64) (uint64, error) {
	aligned := roundUp(size, wordSize)
	if aligned == 0 {
		aligned = wordSize
	}
	if aligned > m.limit || m.used+aligned > m.limit {
		return 0, ErrOutOfMemory
	}
	base := m.nextPtr
	end := base + aligned
	if end > uint64(len(m.data)) {
		grown := make([]byte, end, max64(end, uint64(cap(m.data))*2))
		copy(grown, m.data)
		m.data = grown
	}
	m.allocs[base] = allocation{base: base, size: aligned}
	m.used += aligned
	m.nextPtr = end
	return base, nil
}

// Free releases the allocation starting at base.
func (m *Memory) Free(base uint64) error {
	a, ok := m.allocs[base]
	if !ok {
		return fmt.Errorf("%w: addr=0x%x", ErrDoubleFree, base)
	}
	// Scrub to make reads after free stand out.
	for i := a.base; i < a.end(); i++ {
		m.data[i] = 0xCC
	}
	m.used -= a.size
	delete(m.allocs, base)
	return nil
}

// Realloc moves the allocation at base to a fresh one of size bytes,
// keeping the common prefix. A zero base behaves like Alloc.
func (m *Memory) Realloc(base, size uint64) (uint64, error) {
	if base == 0 {
		return m.Alloc(size)
	}
	old, ok := m.allocs[base]
	if !ok {
		return 0, fmt.Errorf("%w: realloc of 0x%x", ErrInvalidAddress, base)
	}
	keep := make([]byte, old.size)
	copy(keep, m.data[old.base:old.end()])
	if err := m.Free(base); err != nil {
		return 0, err
	}
	nb, err := m.Alloc(size)
	if err != nil {
		return 0, err
	}
	n := m.allocs[nb].size
	if uint64(len(keep)) < n {
		n = uint64(len(keep))
	}
	copy(m.data[nb:], keep[:n])
	return nb, nil
}

// ReadWord loads the little-endian word at addr.
func (m *Memory) ReadWord(addr uint64) (int64, error) {
	if err := m.checkAccess(addr, wordSize); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(m.data[addr:])), nil
}

// WriteWord stores v as a little-endian word at addr.
func (m *Memory) WriteWord(addr uint64, v int64) error {
	if err := m.checkAccess(addr, wordSize); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[addr:], uint64(v))
	return nil
}

// Fill sets size bytes at addr to b.
func (m *Memory) Fill(addr, size uint64, b byte) error {
	if size == 0 {
		return nil
	}
	if err := m.checkAccess(addr, size); err != nil {
		return err
	}
	for i := addr; i < addr+size; i++ {
		m.data[i] = b
	}
	return nil
}

// Copy moves size bytes from src to dst. The ranges may overlap.
func (m *Memory) Copy(dst, src, size uint64) error {
	if size == 0 {
		return nil
	}
	if err := m.checkAccess(src, size); err != nil {
		return err
	}
	if err := m.checkAccess(dst, size); err != nil {
		return err
	}
	copy(m.data[dst:dst+size], m.data[src:src+size])
	return nil
}

// Used returns the number of live bytes.
func (m *Memory) Used() uint64 { return m.used }

// Snapshot returns a copy of every live allocation keyed by base address.
func (m *Memory) Snapshot() map[uint64][]byte {
	out := make(map[uint64][]byte, len(m.allocs))
	for base, a := range m.allocs {
		out[base] = append([]byte(nil), m.data[a.base:a.end()]...)
	}
	return out
}

func (m *Memory) checkAccess(addr, size uint64) error {
	for _, a := range m.allocs {
		if addr >= a.base && addr+size <= a.end() && addr+size >= addr {
			return nil
		}
	}
	return fmt.Errorf("%w: addr=0x%x size=%d", ErrInvalidAddress, addr, size)
}

func roundUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
