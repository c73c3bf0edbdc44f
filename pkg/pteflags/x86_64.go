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

// x86-64 long-mode entry bits. Executability is recorded inverted: the
// hardware bit is "no-execute" (bit 63, requires EFER.NXE), so an entry
// with bit 63 clear is executable.
const (
	x86Valid        = 1 << 0
	x86Writable     = 1 << 1
	x86CacheDisable = 1 << 4 // doubles as the device-memory marker
	x86Accessed     = 1 << 5
	x86Dirty        = 1 << 6
	x86Huge         = 1 << 7
	x86Global       = 1 << 8
	x86Exclusive    = 1 << 55 // software-available bit
	x86NoExec       = 1 << 63

	x86FrameMask = 0x000f_ffff_ffff_f000
)

func (f Flags) encodeX86() uint64 {
	var raw uint64
	set := func(on bool, bit uint64) {
		if on {
			raw |= bit
		}
	}
	set(f.valid, x86Valid)
	set(f.writable, x86Writable)
	set(f.deviceMemory, x86CacheDisable)
	set(f.accessed, x86Accessed)
	set(f.dirty, x86Dirty)
	set(f.huge, x86Huge)
	set(f.global, x86Global)
	set(f.exclusive, x86Exclusive)
	set(!f.executable, x86NoExec)
	return raw
}

func decodeX86(raw uint64) Flags {
	return Flags{
		valid:        raw&x86Valid != 0,
		writable:     raw&x86Writable != 0,
		executable:   raw&x86NoExec == 0,
		deviceMemory: raw&x86CacheDisable != 0,
		accessed:     raw&x86Accessed != 0,
		dirty:        raw&x86Dirty != 0,
		huge:         raw&x86Huge != 0,
		global:       raw&x86Global != 0,
		exclusive:    raw&x86Exclusive != 0,
	}
}
