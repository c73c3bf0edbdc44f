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

package memtypes

// Chunk is a page-aligned unit of the address space S, identified by its
// page (or frame) number. It is a pure value type; it never owns the
// memory it names.
type Chunk[S Space] struct {
	number uint64
}

// Page is a page-aligned unit of the virtual address space.
type Page = Chunk[VirtualSpace]

// Frame is a page-aligned unit of the physical address space.
type Frame = Chunk[PhysicalSpace]

// NewChunk returns the chunk with the given number, capped at
// MaxPageNumber.
func NewChunk[S Space](number uint64) Chunk[S] {
	if number > MaxPageNumber {
		number = MaxPageNumber
	}
	return Chunk[S]{number: number}
}

// NewPage returns the page with the given number, capped at
// MaxPageNumber.
func NewPage(number uint64) Page {
	return NewChunk[VirtualSpace](number)
}

// NewFrame returns the frame with the given number, capped at
// MaxPageNumber.
func NewFrame(number uint64) Frame {
	return NewChunk[PhysicalSpace](number)
}

// ChunkContaining returns the chunk containing the given address.
func ChunkContaining[S Space](a Address[S]) Chunk[S] {
	return Chunk[S]{number: a.Value() >> PageShift}
}

// PageContaining returns the page containing the given virtual address.
func PageContaining(a VirtualAddress) Page {
	return ChunkContaining(a)
}

// FrameContaining returns the frame containing the given physical
// address.
func FrameContaining(a PhysicalAddress) Frame {
	return ChunkContaining(a)
}

// Number returns this chunk's page (or frame) number.
func (c Chunk[S]) Number() uint64 {
	return c.number
}

// StartAddress returns the address of the first byte of this chunk.
func (c Chunk[S]) StartAddress() Address[S] {
	return CanonicalAddress[S](c.number << PageShift)
}

// Add returns this chunk plus n chunks, saturating at MaxPageNumber.
func (c Chunk[S]) Add(n uint64) Chunk[S] {
	v := c.number + n
	if v < c.number || v > MaxPageNumber {
		v = MaxPageNumber
	}
	return Chunk[S]{number: v}
}

// Sub returns this chunk minus n chunks, saturating at zero.
func (c Chunk[S]) Sub(n uint64) Chunk[S] {
	if n > c.number {
		return Chunk[S]{}
	}
	return Chunk[S]{number: c.number - n}
}

// Before returns true if this chunk precedes other.
func (c Chunk[S]) Before(other Chunk[S]) bool {
	return c.number < other.number
}
