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

package pteflags

// ARMv8-A stage-1 descriptor bits. Several senses are inverted relative
// to x86-64: access permission is a read-only bit (writable means the
// bit is clear), globality is a not-global bit, and executability is a
// pair of execute-never bits (privileged and unprivileged) that must
// travel together.
const (
	aarchValid          = 1 << 0
	aarchPageDescriptor = 1 << 1 // clear at L2/L3 means a block (huge) descriptor
	aarchReadOnly       = 1 << 7
	aarchAccessed       = 1 << 10
	aarchNotGlobal      = 1 << 11
	aarchDirty          = 1 << 51
	aarchPrivExecNever  = 1 << 53
	aarchUserExecNever  = 1 << 54
	aarchExclusive      = 1 << 55 // software-available bit
	aarchExecNever      = aarchPrivExecNever | aarchUserExecNever

	aarchFrameMask = 0x0000_ffff_ffff_f000
)

// Cacheability is not a single bit: the MAIR index field (bits [4:2])
// selects a memory-attribute register entry, and the shareability field
// (bits [9:8]) must agree with it. The two fields are always written as
// a pair; updating one without the other produces an architecturally
// unpredictable attribute combination.
const (
	aarchMairShift       = 2
	aarchMairMask        = 7 << aarchMairShift
	aarchMairIndexNormal = 0 << aarchMairShift // MAIR entry 0: normal write-back
	aarchMairIndexDevice = 1 << aarchMairShift // MAIR entry 1: device nGnRE

	aarchShareShift     = 8
	aarchShareMask      = 3 << aarchShareShift
	aarchOuterShareable = 2 << aarchShareShift
	aarchNonShareable   = 0 << aarchShareShift
)

// aarchAttrPair returns the paired MAIR-index and shareability fields for
// the given memory kind. This is the only producer of either field.
func aarchAttrPair(device bool) uint64 {
	if device {
		return aarchMairIndexDevice | aarchNonShareable
	}
	return aarchMairIndexNormal | aarchOuterShareable
}

func (f Flags) encodeAarch64() uint64 {
	var raw uint64
	set := func(on bool, bit uint64) {
		if on {
			raw |= bit
		}
	}
	set(f.valid, aarchValid)
	set(!f.huge, aarchPageDescriptor)
	set(!f.writable, aarchReadOnly)
	set(f.accessed, aarchAccessed)
	set(!f.global, aarchNotGlobal)
	set(f.dirty, aarchDirty)
	set(!f.executable, aarchExecNever)
	set(f.exclusive, aarchExclusive)
	raw |= aarchAttrPair(f.deviceMemory)
	return raw
}

func decodeAarch64(raw uint64) Flags {
	// Match the MAIR index exactly: indices 3, 5, and 7 share bit 2 with
	// the device index and must not read back as device memory.
	device := raw&aarchMairMask == aarchMairIndexDevice
	return Flags{
		valid:        raw&aarchValid != 0,
		writable:     raw&aarchReadOnly == 0,
		executable:   raw&aarchExecNever == 0,
		deviceMemory: device,
		accessed:     raw&aarchAccessed != 0,
		dirty:        raw&aarchDirty != 0,
		huge:         raw&aarchPageDescriptor == 0,
		global:       raw&aarchNotGlobal == 0,
		exclusive:    raw&aarchExclusive != 0,
	}
}
