// Copyright 2025 The Osmium Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package physmem models physical memory as a page-aligned byte arena
// and tracks frame ownership.
//
// Page tables live inside the arena as ordinary frames; all access to
// them goes through the bounds-checked 64-bit little-endian word
// accessors here, never through pointer reinterpretation. The layout in
// the arena is exactly the hardware layout: 512 8-byte entries per
// table frame.
package physmem

import (
	"encoding/binary"
	"errors"
	"fmt"

	"osmium.dev/osmium/pkg/chunkalloc"
	"osmium.dev/osmium/pkg/memtypes"
)

var (
	// ErrOutOfBounds is returned for accesses outside the arena.
	ErrOutOfBounds = errors.New("physmem: address out of bounds")

	// ErrUnaligned is returned for misaligned word accesses.
	ErrUnaligned = errors.New("physmem: unaligned access")
)

// Memory is the physical-memory arena: a frame-granular byte store
// starting at physical address zero.
type Memory struct {
	data   []byte
	frames memtypes.FrameRange
}

// NewMemory returns an arena of numFrames frames, all zeroed.
func NewMemory(numFrames uint64) *Memory {
	return &Memory{
		data:   make([]byte, numFrames*memtypes.PageSize),
		frames: memtypes.RangeFrom(memtypes.NewFrame(0), numFrames),
	}
}

// FrameRange returns the range of frames backed by this arena.
func (m *Memory) FrameRange() memtypes.FrameRange {
	return m.frames
}

// Contains returns true if the given frame is backed by this arena.
func (m *Memory) Contains(f memtypes.Frame) bool {
	return m.frames.Contains(f)
}

// ReadWord reads the 64-bit little-endian word at addr, which must be
// 8-byte aligned and inside the arena.
func (m *Memory) ReadWord(addr memtypes.PhysicalAddress) (uint64, error) {
	off, err := m.wordOffset(addr)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[off:]), nil
}

// WriteWord writes the 64-bit little-endian word at addr, which must be
// 8-byte aligned and inside the arena.
func (m *Memory) WriteWord(addr memtypes.PhysicalAddress, value uint64) error {
	off, err := m.wordOffset(addr)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[off:], value)
	return nil
}

func (m *Memory) wordOffset(addr memtypes.PhysicalAddress) (uint64, error) {
	v := addr.Value()
	if v%8 != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrUnaligned, v)
	}
	if v+8 > uint64(len(m.data)) {
		return 0, fmt.Errorf("%w: %#x", ErrOutOfBounds, v)
	}
	return v, nil
}

// ReadBytes fills buf from the arena starting at addr.
func (m *Memory) ReadBytes(addr memtypes.PhysicalAddress, buf []byte) error {
	v := addr.Value()
	if v+uint64(len(buf)) > uint64(len(m.data)) {
		return fmt.Errorf("%w: %#x+%d", ErrOutOfBounds, v, len(buf))
	}
	copy(buf, m.data[v:])
	return nil
}

// WriteBytes copies buf into the arena starting at addr.
func (m *Memory) WriteBytes(addr memtypes.PhysicalAddress, buf []byte) error {
	v := addr.Value()
	if v+uint64(len(buf)) > uint64(len(m.data)) {
		return fmt.Errorf("%w: %#x+%d", ErrOutOfBounds, v, len(buf))
	}
	copy(m.data[v:], buf)
	return nil
}

// ZeroFrame zeroes the given frame.
func (m *Memory) ZeroFrame(f memtypes.Frame) error {
	if !m.Contains(f) {
		return fmt.Errorf("%w: frame %d", ErrOutOfBounds, f.Number())
	}
	start := f.StartAddress().Value()
	clear(m.data[start : start+memtypes.PageSize])
	return nil
}

// AllocatedFrames is an exclusively-owned range of physical frames.
// While a handle is live (or its ownership has been moved into page
// table entries via Take), no other handle covers any of its frames.
type AllocatedFrames = chunkalloc.Allocated[memtypes.PhysicalSpace]

// FrameAllocator hands out exclusively-owned frame ranges from an
// arena's frame range.
type FrameAllocator struct {
	inner *chunkalloc.Allocator[memtypes.PhysicalSpace]
}

// NewFrameAllocator returns an allocator over the given frame range.
func NewFrameAllocator(region memtypes.FrameRange) *FrameAllocator {
	return &FrameAllocator{inner: chunkalloc.New(region)}
}

// AllocateFrames returns count exclusively-owned frames.
func (a *FrameAllocator) AllocateFrames(count uint64) (*AllocatedFrames, error) {
	return a.inner.Allocate(count)
}

// AllocateFramesAt returns the count frames starting at the frame
// containing addr, exclusively owned, or an error if any of them is
// unavailable.
func (a *FrameAllocator) AllocateFramesAt(addr memtypes.PhysicalAddress, count uint64) (*AllocatedFrames, error) {
	return a.inner.AllocateAt(memtypes.FrameContaining(addr), count)
}

// Recover reconstitutes a handle for frames whose ownership previously
// moved into page table entries and has now come back from an unmap.
func (a *FrameAllocator) Recover(r memtypes.FrameRange) *AllocatedFrames {
	return a.inner.Recover(r)
}

// FreeCount returns the number of currently free frames.
func (a *FrameAllocator) FreeCount() uint64 {
	return a.inner.FreeCount()
}
