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

import (
	"fmt"
	"iter"
)

// Range is an inclusive range of chunks in the address space S. A range
// whose end precedes its start is empty; all empty ranges compare equal
// because construction canonicalizes them.
type Range[S Space] struct {
	start Chunk[S]
	end   Chunk[S]
}

// PageRange is an inclusive range of virtual pages.
type PageRange = Range[VirtualSpace]

// FrameRange is an inclusive range of physical frames.
type FrameRange = Range[PhysicalSpace]

// NewRange returns the inclusive range [start, end]. If end precedes
// start, the canonical empty range is returned.
func NewRange[S Space](start, end Chunk[S]) Range[S] {
	if end.Before(start) {
		return EmptyRange[S]()
	}
	return Range[S]{start: start, end: end}
}

// NewPageRange returns the inclusive range of pages [start, end].
func NewPageRange(start, end Page) PageRange {
	return NewRange(start, end)
}

// NewFrameRange returns the inclusive range of frames [start, end].
func NewFrameRange(start, end Frame) FrameRange {
	return NewRange(start, end)
}

// EmptyRange returns the canonical empty range.
func EmptyRange[S Space]() Range[S] {
	return Range[S]{start: Chunk[S]{number: 1}, end: Chunk[S]{number: 0}}
}

// RangeFrom returns the range of count chunks beginning at start. A
// count of zero yields the canonical empty range.
func RangeFrom[S Space](start Chunk[S], count uint64) Range[S] {
	if count == 0 {
		return EmptyRange[S]()
	}
	return Range[S]{start: start, end: start.Add(count - 1)}
}

// RangeContaining returns the minimal range covering sizeInBytes bytes
// beginning at addr. A size of zero yields the canonical empty range.
func RangeContaining[S Space](addr Address[S], sizeInBytes uint64) Range[S] {
	if sizeInBytes == 0 {
		return EmptyRange[S]()
	}
	start := ChunkContaining(addr)
	end := ChunkContaining(addr.Add(sizeInBytes - 1))
	return Range[S]{start: start, end: end}
}

// Start returns the first chunk of this range. Meaningless if the range
// is empty.
func (r Range[S]) Start() Chunk[S] {
	return r.start
}

// End returns the last chunk of this range, inclusive. Meaningless if
// the range is empty.
func (r Range[S]) End() Chunk[S] {
	return r.end
}

// IsEmpty returns true if this range covers no chunks.
func (r Range[S]) IsEmpty() bool {
	return r.end.Before(r.start)
}

// Count returns the number of chunks in this range.
func (r Range[S]) Count() uint64 {
	if r.IsEmpty() {
		return 0
	}
	return r.end.number - r.start.number + 1
}

// SizeInBytes returns the number of bytes this range covers.
func (r Range[S]) SizeInBytes() uint64 {
	return r.Count() * PageSize
}

// StartAddress returns the address of this range's first byte.
func (r Range[S]) StartAddress() Address[S] {
	return r.start.StartAddress()
}

// EndAddress returns the address of this range's last byte, inclusive.
func (r Range[S]) EndAddress() Address[S] {
	return r.end.StartAddress().Add(PageSize - 1)
}

// Contains returns true if c falls within this range.
func (r Range[S]) Contains(c Chunk[S]) bool {
	return !r.IsEmpty() && !c.Before(r.start) && !r.end.Before(c)
}

// ContainsAddress returns true if a falls within this range.
func (r Range[S]) ContainsAddress(a Address[S]) bool {
	return r.Contains(ChunkContaining(a))
}

// ContainsRange returns true if every chunk of other falls within this
// range. An empty other is contained in every range.
func (r Range[S]) ContainsRange(other Range[S]) bool {
	if other.IsEmpty() {
		return true
	}
	return r.Contains(other.start) && r.Contains(other.end)
}

// Overlaps returns true if this range and other share any chunk.
func (r Range[S]) Overlaps(other Range[S]) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	return !r.end.Before(other.start) && !other.end.Before(r.start)
}

// OffsetOfAddress returns the byte offset of a from the start of this
// range, or false if a lies outside it.
func (r Range[S]) OffsetOfAddress(a Address[S]) (uint64, bool) {
	if !r.ContainsAddress(a) {
		return 0, false
	}
	return a.Value() - r.StartAddress().Value(), true
}

// AddressAtOffset returns the address at the given byte offset into this
// range, or false if the offset exceeds the range's size.
func (r Range[S]) AddressAtOffset(offset uint64) (Address[S], bool) {
	if r.IsEmpty() || offset >= r.SizeInBytes() {
		return Address[S]{}, false
	}
	return r.StartAddress().Add(offset), true
}

// SplitAt splits this range into [start, at) and [at, end]. It returns
// false if at is not within (start, end]; splitting at the start or past
// the end would produce an empty half, which callers of SplitAt never
// want.
func (r Range[S]) SplitAt(at Chunk[S]) (Range[S], Range[S], bool) {
	if r.IsEmpty() || !r.Contains(at) || at == r.start {
		return Range[S]{}, Range[S]{}, false
	}
	return Range[S]{start: r.start, end: at.Sub(1)}, Range[S]{start: at, end: r.end}, true
}

// All returns an iterator over the chunks of this range, in ascending
// order. The iterator is restartable; each call to All yields a fresh
// traversal.
func (r Range[S]) All() iter.Seq[Chunk[S]] {
	return func(yield func(Chunk[S]) bool) {
		if r.IsEmpty() {
			return
		}
		for c := r.start; ; c = c.Add(1) {
			if !yield(c) {
				return
			}
			if c == r.end {
				return
			}
		}
	}
}

// String implements fmt.Stringer.String.
func (r Range[S]) String() string {
	if r.IsEmpty() {
		return "[empty]"
	}
	return fmt.Sprintf("[%#x..%#x]", r.StartAddress().Value(), r.EndAddress().Value())
}
