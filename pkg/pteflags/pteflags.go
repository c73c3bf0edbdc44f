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

// Package pteflags defines the access-control flags of a page table
// entry, independently of any hardware encoding, plus the per
// architecture encoders and decoders that translate them to and from the
// real bit positions.
//
// Flags is a plain value; the builder methods return modified copies so
// flag sets can be composed in one expression:
//
//	f := pteflags.New().Valid(true).Writable(true)
package pteflags

import "strings"

// Arch selects a hardware encoding.
type Arch int

const (
	// X86_64 is the 4-level x86-64 long-mode encoding.
	X86_64 Arch = iota

	// Aarch64 is the ARMv8-A VMSAv8-64 stage-1 encoding.
	Aarch64
)

// String implements fmt.Stringer.String.
func (a Arch) String() string {
	switch a {
	case X86_64:
		return "x86_64"
	case Aarch64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// Flags is the architecture-neutral flag set of one page table entry.
//
// The zero value has every flag cleared; New returns the conventional
// default instead.
type Flags struct {
	valid        bool
	writable     bool
	executable   bool
	deviceMemory bool
	global       bool
	accessed     bool
	dirty        bool
	huge         bool
	exclusive    bool
}

// New returns the default flag set: accessed, and nothing else. The
// accessed bit is set by default because nothing here pages to disk, and
// leaving it clear causes access-flag faults on ARM64 that serve no
// purpose without an eviction policy.
func New() Flags {
	return Flags{accessed: true}
}

// Valid returns a copy of f with the valid ("present") flag set to
// enable. An entry whose valid flag is clear does not translate, and its
// frame field is meaningless.
func (f Flags) Valid(enable bool) Flags {
	f.valid = enable
	return f
}

// Writable returns a copy of f with the writable flag set to enable.
func (f Flags) Writable(enable bool) Flags {
	f.writable = enable
	return f
}

// Executable returns a copy of f with the executable flag set to enable.
func (f Flags) Executable(enable bool) Flags {
	f.executable = enable
	return f
}

// DeviceMemory returns a copy of f with the device-memory flag set to
// enable. Device memory is uncached and unbufferable, for MMIO regions.
func (f Flags) DeviceMemory(enable bool) Flags {
	f.deviceMemory = enable
	return f
}

// Global returns a copy of f with the global flag set to enable. Global
// translations survive an address-space switch.
func (f Flags) Global(enable bool) Flags {
	f.global = enable
	return f
}

// Accessed returns a copy of f with the accessed flag set to enable.
func (f Flags) Accessed(enable bool) Flags {
	f.accessed = enable
	return f
}

// Dirty returns a copy of f with the dirty flag set to enable.
func (f Flags) Dirty(enable bool) Flags {
	f.dirty = enable
	return f
}

// Huge returns a copy of f with the huge flag set to enable. A huge
// entry terminates the table walk above the leaf level.
func (f Flags) Huge(enable bool) Flags {
	f.huge = enable
	return f
}

// Exclusive returns a copy of f with the exclusive flag set to enable.
// The exclusive flag records that the mapped frame was exclusively owned
// at mapping time, so unmapping it transfers ownership back to the
// caller.
func (f Flags) Exclusive(enable bool) Flags {
	f.exclusive = enable
	return f
}

// IsValid returns true if the valid flag is set.
func (f Flags) IsValid() bool { return f.valid }

// IsWritable returns true if the writable flag is set.
func (f Flags) IsWritable() bool { return f.writable }

// IsExecutable returns true if the executable flag is set.
func (f Flags) IsExecutable() bool { return f.executable }

// IsDeviceMemory returns true if the device-memory flag is set.
func (f Flags) IsDeviceMemory() bool { return f.deviceMemory }

// IsGlobal returns true if the global flag is set.
func (f Flags) IsGlobal() bool { return f.global }

// IsAccessed returns true if the accessed flag is set.
func (f Flags) IsAccessed() bool { return f.accessed }

// IsDirty returns true if the dirty flag is set.
func (f Flags) IsDirty() bool { return f.dirty }

// IsHuge returns true if the huge flag is set.
func (f Flags) IsHuge() bool { return f.huge }

// IsExclusive returns true if the exclusive flag is set.
func (f Flags) IsExclusive() bool { return f.exclusive }

// ForParentTable returns the flags suitable for an entry pointing at an
// intermediate (non-leaf) table covering mappings with these flags:
// valid and writable so that leaf permissions govern, executable so that
// the leaf's executability is not vetoed above it, and never exclusive,
// since intermediate tables are bookkept by the walker rather than
// through entry ownership.
func (f Flags) ForParentTable() Flags {
	return Flags{
		valid:      true,
		writable:   true,
		executable: true,
		accessed:   f.accessed,
	}
}

// Encode returns the hardware encoding of f for the given architecture.
// The result occupies only flag bit positions; it never intersects the
// frame-address field.
func (f Flags) Encode(arch Arch) uint64 {
	if arch == Aarch64 {
		return f.encodeAarch64()
	}
	return f.encodeX86()
}

// Decode returns the flags encoded in the given hardware entry word for
// the given architecture. Frame-address bits are ignored.
func Decode(arch Arch, raw uint64) Flags {
	if arch == Aarch64 {
		return decodeAarch64(raw)
	}
	return decodeX86(raw)
}

// FrameMask returns the mask of the frame-address field within an entry
// word for the given architecture.
func FrameMask(arch Arch) uint64 {
	if arch == Aarch64 {
		return aarchFrameMask
	}
	return x86FrameMask
}

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	var parts []string
	add := func(on bool, name string) {
		if on {
			parts = append(parts, name)
		}
	}
	add(f.valid, "valid")
	add(f.writable, "writable")
	add(f.executable, "executable")
	add(f.deviceMemory, "device")
	add(f.global, "global")
	add(f.accessed, "accessed")
	add(f.dirty, "dirty")
	add(f.huge, "huge")
	add(f.exclusive, "exclusive")
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, "|")
}
