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

// Package memtypes contains the basic value types used for memory
// management.
//
// The types of interest are divided into three categories:
//  1. addresses: VirtualAddress and PhysicalAddress.
//  2. "chunk" types: Page and Frame.
//  3. ranges of chunks: PageRange and FrameRange.
//
// The virtual and physical variants share one generic implementation,
// parameterized by an address-space marker, so that their arithmetic and
// iteration behavior cannot drift apart.
package memtypes

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size of a page (and a frame) in bytes.
	PageSize = 1 << PageShift

	// MaxPageNumber is the largest representable page (or frame) number.
	// Chunk arithmetic saturates at this value rather than wrapping, so
	// it stays total even in interrupt context.
	MaxPageNumber = (1 << (64 - PageShift)) - 1
)

// VirtualSpace marks the virtual address space.
type VirtualSpace struct{}

// PhysicalSpace marks the physical address space.
type PhysicalSpace struct{}

// Space constrains the generic address and chunk machinery to one of the
// two address-space markers.
type Space interface {
	VirtualSpace | PhysicalSpace
	canonicalize(uint64) uint64
	isCanonical(uint64) bool
}

// Virtual addresses are canonical if their upper bits (64:48] are
// sign-extended from bit 47. This is the x86-64 rule; it also matches the
// aarch64 split between TTBR0 (lower-half) and TTBR1 (upper-half) address
// ranges as configured here, where the upper half begins at
// 0xffff_0000_0000_0000.
func (VirtualSpace) canonicalize(v uint64) uint64 {
	return uint64(int64(v<<16) >> 16)
}

func (VirtualSpace) isCanonical(v uint64) bool {
	upper := v >> 47
	return upper == 0 || upper == 0x1ffff
}

// Physical addresses are canonical if their upper bits (64:52] are zero.
func (PhysicalSpace) canonicalize(v uint64) uint64 {
	return v & 0x000f_ffff_ffff_ffff
}

func (PhysicalSpace) isCanonical(v uint64) bool {
	return v>>52 == 0
}

// Address is a memory address in the address space S, a uint64 under the
// hood.
type Address[S Space] struct {
	value uint64
}

// VirtualAddress is an address in the virtual address space.
type VirtualAddress = Address[VirtualSpace]

// PhysicalAddress is an address in the physical address space.
type PhysicalAddress = Address[PhysicalSpace]

// NewAddress returns the given value as an Address, or false if the value
// is not canonical for the address space S.
func NewAddress[S Space](v uint64) (Address[S], bool) {
	var s S
	if !s.isCanonical(v) {
		return Address[S]{}, false
	}
	return Address[S]{value: v}, true
}

// CanonicalAddress forces the given value into canonical form for the
// address space S.
func CanonicalAddress[S Space](v uint64) Address[S] {
	var s S
	return Address[S]{value: s.canonicalize(v)}
}

// NewVirtualAddress returns v as a VirtualAddress, or false if v is not
// canonical.
func NewVirtualAddress(v uint64) (VirtualAddress, bool) {
	return NewAddress[VirtualSpace](v)
}

// NewPhysicalAddress returns v as a PhysicalAddress, or false if v is not
// canonical.
func NewPhysicalAddress(v uint64) (PhysicalAddress, bool) {
	return NewAddress[PhysicalSpace](v)
}

// CanonicalVirtualAddress forces v into canonical virtual form.
func CanonicalVirtualAddress(v uint64) VirtualAddress {
	return CanonicalAddress[VirtualSpace](v)
}

// CanonicalPhysicalAddress forces v into canonical physical form.
func CanonicalPhysicalAddress(v uint64) PhysicalAddress {
	return CanonicalAddress[PhysicalSpace](v)
}

// Value returns the underlying uint64 value of this address.
func (a Address[S]) Value() uint64 {
	return a.value
}

// PageOffset returns the offset of this address from the start of the
// page (or frame) containing it, i.e. its least significant PageShift
// bits.
func (a Address[S]) PageOffset() uint64 {
	return a.value & (PageSize - 1)
}

// Add returns this address plus n bytes, saturating instead of wrapping
// and forced into canonical form.
func (a Address[S]) Add(n uint64) Address[S] {
	v := a.value + n
	if v < a.value {
		v = ^uint64(0)
	}
	return CanonicalAddress[S](v)
}

// Sub returns this address minus n bytes, saturating at zero.
func (a Address[S]) Sub(n uint64) Address[S] {
	if n > a.value {
		return CanonicalAddress[S](0)
	}
	return CanonicalAddress[S](a.value - n)
}

// IsPageAligned returns true if this address lies on a page boundary.
func (a Address[S]) IsPageAligned() bool {
	return a.value&(PageSize-1) == 0
}
