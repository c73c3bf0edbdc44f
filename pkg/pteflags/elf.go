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

// SectionFlags are ELF section header flags, as found in boot metadata
// (ELF section headers or a Multiboot2 sections tag). The bit values are
// the standard sh_flags ones.
type SectionFlags uint64

const (
	// SectionWritable is SHF_WRITE: the section is writable at run time.
	SectionWritable SectionFlags = 0x1

	// SectionAllocated is SHF_ALLOC: the section occupies memory at run
	// time. Unallocated sections (debug info, symbol tables) get no
	// mapping at all.
	SectionAllocated SectionFlags = 0x2

	// SectionExecutable is SHF_EXECINSTR: the section contains code.
	SectionExecutable SectionFlags = 0x4
)

// FromSection translates boot-time section flags into entry flags:
// valid if the section is allocated, writable if it is writable, and
// executable only if it declares code. On x86-64 the executable result
// encodes as the absence of the no-execute bit.
func FromSection(sf SectionFlags) Flags {
	return New().
		Valid(sf&SectionAllocated != 0).
		Writable(sf&SectionWritable != 0).
		Executable(sf&SectionExecutable != 0)
}
