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

package pagetables

import (
	"osmium.dev/osmium/pkg/memtypes"
	"osmium.dev/osmium/pkg/physmem"
	"osmium.dev/osmium/pkg/pteflags"
)

// Entry is a handle on one 64-bit table slot in the arena. Writes here
// change only memory; nothing implicitly flushes a TLB. The separation
// of editing from invalidation is deliberate, so many edits can be
// batched under one shootdown.
type Entry struct {
	mem  *physmem.Memory
	arch pteflags.Arch
	addr memtypes.PhysicalAddress
}

// Raw returns the entry's hardware word.
func (e Entry) Raw() (uint64, error) {
	return e.mem.ReadWord(e.addr)
}

// Flags returns the entry's decoded flags.
func (e Entry) Flags() (pteflags.Flags, error) {
	raw, err := e.mem.ReadWord(e.addr)
	if err != nil {
		return pteflags.Flags{}, err
	}
	return pteflags.Decode(e.arch, raw), nil
}

// Set unconditionally overwrites the slot with the given frame and
// flags.
func (e Entry) Set(frame memtypes.Frame, flags pteflags.Flags) error {
	raw := frame.StartAddress().Value()&pteflags.FrameMask(e.arch) | flags.Encode(e.arch)
	return e.mem.WriteWord(e.addr, raw)
}

// Zero clears the slot.
func (e Entry) Zero() error {
	return e.mem.WriteWord(e.addr, 0)
}

// PointedFrame returns the frame this entry maps, if its valid flag is
// set.
func (e Entry) PointedFrame() (memtypes.Frame, bool, error) {
	raw, err := e.mem.ReadWord(e.addr)
	if err != nil {
		return memtypes.Frame{}, false, err
	}
	flags := pteflags.Decode(e.arch, raw)
	if !flags.IsValid() {
		return memtypes.Frame{}, false, nil
	}
	paddr := memtypes.CanonicalPhysicalAddress(raw & pteflags.FrameMask(e.arch))
	return memtypes.FrameContaining(paddr), true, nil
}

// UnmappedFrame reports what an entry pointed at before it was zeroed.
// If Exclusive, the frame's ownership has passed to the caller, who must
// return it to the frame allocator; otherwise the frame remains owned
// elsewhere (an identity-mapped kernel region, a shared device frame)
// and must not be freed.
type UnmappedFrame struct {
	Frame     memtypes.Frame
	Present   bool
	Exclusive bool
}

// SetUnmapped zeroes the slot and reports whether the frame it mapped
// can be reclaimed. The exclusivity recorded at Set time, from whether
// owned or borrowed frames were mapped, decides reclamation here; this
// is the crux of safe frame reuse.
func (e Entry) SetUnmapped() (UnmappedFrame, error) {
	raw, err := e.mem.ReadWord(e.addr)
	if err != nil {
		return UnmappedFrame{}, err
	}
	if err := e.mem.WriteWord(e.addr, 0); err != nil {
		return UnmappedFrame{}, err
	}
	flags := pteflags.Decode(e.arch, raw)
	if !flags.IsValid() {
		return UnmappedFrame{}, nil
	}
	paddr := memtypes.CanonicalPhysicalAddress(raw & pteflags.FrameMask(e.arch))
	return UnmappedFrame{
		Frame:     memtypes.FrameContaining(paddr),
		Present:   true,
		Exclusive: flags.IsExclusive(),
	}, nil
}
