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

package machine

import (
	"strings"
	"testing"

	"osmium.dev/osmium/pkg/memtypes"
	"osmium.dev/osmium/pkg/pteflags"
)

const testConfig = `
arch: x86_64
memory_frames: 1024
cpus: 4
sections:
  - name: .text
    vaddr: 0x100000
    paddr: 0x200000
    size: 0x3000
    flags: [alloc, exec]
  - name: .rodata
    vaddr: 0x104000
    paddr: 0x204000
    size: 0x1000
    flags: [alloc]
  - name: .data
    vaddr: 0x106000
    paddr: 0x206000
    size: 0x2000
    flags: [alloc, write]
  - name: .debug_info
    vaddr: 0x0
    paddr: 0x0
    size: 0x1000
    flags: []
`

func bringUpTest(t *testing.T) *Machine {
	t.Helper()
	cfg, err := ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	m, err := BringUp(cfg)
	if err != nil {
		t.Fatalf("BringUp: %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

func TestParseConfigRejectsBadInput(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		want string
	}{
		{"bad arch", "arch: mips\nmemory_frames: 16\ncpus: 1\n", "unknown arch"},
		{"no memory", "arch: x86_64\nmemory_frames: 0\ncpus: 1\n", "memory_frames"},
		{"no cpus", "arch: x86_64\nmemory_frames: 16\ncpus: 0\n", "cpus"},
		{
			"misaligned section",
			"arch: x86_64\nmemory_frames: 16\ncpus: 1\nsections:\n  - {name: s, vaddr: 0x123, paddr: 0x0, size: 0x1000, flags: [alloc]}\n",
			"page aligned",
		},
		{
			"section past memory",
			"arch: x86_64\nmemory_frames: 16\ncpus: 1\nsections:\n  - {name: s, vaddr: 0x1000, paddr: 0x10000, size: 0x1000, flags: [alloc]}\n",
			"exceeds physical memory",
		},
		{
			"unknown flag",
			"arch: x86_64\nmemory_frames: 16\ncpus: 1\nsections:\n  - {name: s, vaddr: 0x1000, paddr: 0x1000, size: 0x1000, flags: [shiny]}\n",
			"unknown flag",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestBringUpMapsSections(t *testing.T) {
	m := bringUpTest(t)

	// Three allocated sections mapped; the debug section skipped.
	if len(m.Sections) != 3 {
		t.Fatalf("mapped %d sections, want 3", len(m.Sections))
	}
	if _, ok := m.SectionByName(".debug_info"); ok {
		t.Errorf("unallocated section was mapped")
	}

	// Translation agrees with each section's declared placement.
	for _, tc := range []struct {
		vaddr, paddr uint64
	}{
		{0x100000, 0x200000},
		{0x102fff, 0x202fff},
		{0x104010, 0x204010},
		{0x106000, 0x206000},
	} {
		paddr, _, ok := m.Translate(memtypes.CanonicalVirtualAddress(tc.vaddr))
		if !ok {
			t.Errorf("Translate(%#x): no mapping", tc.vaddr)
			continue
		}
		if got := paddr.Value(); got != tc.paddr {
			t.Errorf("Translate(%#x): got %#x, want %#x", tc.vaddr, got, tc.paddr)
		}
	}

	// Permissions follow the section flags: text is read-only exec,
	// rodata neither writable nor executable, data writable only.
	_, text, _ := m.Translate(memtypes.CanonicalVirtualAddress(0x100000))
	if !text.IsExecutable() || text.IsWritable() {
		t.Errorf(".text flags: %v", text)
	}
	_, rodata, _ := m.Translate(memtypes.CanonicalVirtualAddress(0x104000))
	if rodata.IsExecutable() || rodata.IsWritable() {
		t.Errorf(".rodata flags: %v", rodata)
	}
	_, data, _ := m.Translate(memtypes.CanonicalVirtualAddress(0x106000))
	if data.IsExecutable() || !data.IsWritable() {
		t.Errorf(".data flags: %v", data)
	}

	// Sections are shared mappings: nothing about them is exclusive.
	for _, s := range m.Sections {
		if s.Mapped.Flags().IsExclusive() {
			t.Errorf("section %s mapped exclusively", s.Name)
		}
	}

	// CPU 0 runs on the kernel table.
	if !m.Kernel.IsActive(m.CPUs[0]) {
		t.Errorf("kernel table not active on CPU 0")
	}
	// A gap between sections does not translate.
	if _, _, ok := m.Translate(memtypes.CanonicalVirtualAddress(0x105000)); ok {
		t.Errorf("gap page translates")
	}
}

func TestTranslateFillsTLB(t *testing.T) {
	m := bringUpTest(t)
	page := memtypes.PageContaining(memtypes.CanonicalVirtualAddress(0x100000))
	if _, ok := m.CPUs[0].TLB().Lookup(page); ok {
		t.Fatalf("TLB warm before any translation")
	}
	if _, _, ok := m.Translate(memtypes.CanonicalVirtualAddress(0x100123)); !ok {
		t.Fatal("translate failed")
	}
	base, ok := m.CPUs[0].TLB().Lookup(page)
	if !ok {
		t.Fatalf("translation not cached")
	}
	if got := base.Value(); got != 0x200000 {
		t.Errorf("cached base: got %#x", got)
	}
}

// Unmapping through the kernel mapper invalidates every started CPU's
// cache: the coordinator sends one IPI per other CPU and the cached
// entries are gone afterwards.
func TestUnmapShootsDownAllCPUs(t *testing.T) {
	m := bringUpTest(t)
	pages, err := m.Pages.AllocatePages(2)
	if err != nil {
		t.Fatal(err)
	}
	mp, err := m.Kernel.Mapper().MapAllocatedPages(pages, pteflags.New().Writable(true))
	if err != nil {
		t.Fatal(err)
	}
	mappedPage := mp.Range().Start()
	paddr := memtypes.CanonicalPhysicalAddress(0x1000)
	for _, c := range m.CPUs {
		c.TLB().Insert(mappedPage, paddr)
	}

	before := m.Shootdown.IPIsSent()
	if _, _, err := mp.Unmap(); err != nil {
		t.Fatal(err)
	}
	if got := m.Shootdown.IPIsSent() - before; got != 3 {
		t.Errorf("IPIs for unmap: got %d, want 3", got)
	}
	for _, c := range m.CPUs {
		if _, ok := c.TLB().Lookup(mappedPage); ok {
			t.Errorf("cpu %d kept a stale translation", c.ID())
		}
	}
}

func TestBringUpAarch64(t *testing.T) {
	cfg, err := ParseConfig([]byte(strings.Replace(testConfig, "x86_64", "aarch64", 1)))
	if err != nil {
		t.Fatal(err)
	}
	m, err := BringUp(cfg)
	if err != nil {
		t.Fatalf("BringUp: %v", err)
	}
	defer m.Shutdown()
	paddr, flags, ok := m.Translate(memtypes.CanonicalVirtualAddress(0x104000))
	if !ok || paddr.Value() != 0x204000 {
		t.Fatalf("aarch64 translate: %#x ok=%v", paddr.Value(), ok)
	}
	if flags.IsWritable() || flags.IsExecutable() {
		t.Errorf(".rodata flags on aarch64: %v", flags)
	}
}
