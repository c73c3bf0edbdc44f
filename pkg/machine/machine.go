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
	"fmt"

	"github.com/sirupsen/logrus"

	"osmium.dev/osmium/pkg/memtypes"
	"osmium.dev/osmium/pkg/pagealloc"
	"osmium.dev/osmium/pkg/pagetables"
	"osmium.dev/osmium/pkg/physmem"
	"osmium.dev/osmium/pkg/pteflags"
	"osmium.dev/osmium/pkg/tlb"
)

// defaultPageRegion is the virtual region managed for kernel
// allocations when the config declares no sections to derive one from.
var defaultPageRegion = memtypes.RangeFrom(memtypes.NewPage(0x100), 0x10000)

// kernelRegionSlack extends the section-derived page region so the
// kernel has room to allocate beyond its image.
const kernelRegionSlack = 0x1000

// Section is one mapped kernel section.
type Section struct {
	Name   string
	Mapped *pagetables.MappedPages

	// frames holds the section's claim on its load frames; sections are
	// mapped non-exclusively, so unmapping never frees them.
	frames *physmem.AllocatedFrames
}

// Machine is a brought-up instance: arena, allocators, CPUs, shootdown
// coordinator, and the kernel address space with its sections mapped.
type Machine struct {
	Arch      pteflags.Arch
	Memory    *physmem.Memory
	Frames    *physmem.FrameAllocator
	Pages     *pagealloc.PageAllocator
	TempPages *pagealloc.PageAllocator
	CPUs      []*tlb.CPU
	Shootdown *tlb.Shootdown
	Kernel    *pagetables.PageTable
	Sections  []*Section
}

// BringUp constructs the machine a config describes: it builds the
// arena and allocators, starts the CPUs under one shootdown
// coordinator, creates the kernel page table, maps every declared
// section with its translated flags, and switches CPU 0 onto the
// kernel address space.
func BringUp(cfg *Config) (*Machine, error) {
	arch, err := cfg.ParsedArch()
	if err != nil {
		return nil, err
	}

	m := &Machine{
		Arch:      arch,
		Memory:    physmem.NewMemory(cfg.MemoryFrames),
		TempPages: pagealloc.NewPageAllocator(temporaryPageRegion()),
	}
	m.Frames = physmem.NewFrameAllocator(m.Memory.FrameRange())
	m.Pages = pagealloc.NewPageAllocator(pageRegionFor(cfg))

	// Frame 0 stays reserved, so a zeroed root register can never alias
	// a real table.
	if _, err := m.Frames.AllocateFramesAt(memtypes.CanonicalPhysicalAddress(0), 1); err != nil {
		return nil, fmt.Errorf("reserving frame 0: %w", err)
	}

	for i := 0; i < cfg.CPUs; i++ {
		m.CPUs = append(m.CPUs, tlb.NewCPU(i))
	}
	m.Shootdown = tlb.NewShootdown(m.CPUs)
	for _, c := range m.CPUs {
		c.Start(m.Shootdown)
	}

	rootFrames, err := m.Frames.AllocateFrames(1)
	if err != nil {
		m.Shutdown()
		return nil, fmt.Errorf("allocating kernel root: %w", err)
	}
	flusher := tlb.NewFlusher(m.Shootdown, m.CPUs[0])
	m.Kernel, err = pagetables.NewPageTable(m.Memory, arch, rootFrames, m.Frames, flusher)
	if err != nil {
		m.Shutdown()
		return nil, err
	}

	for i := range cfg.Sections {
		if err := m.mapSection(&cfg.Sections[i]); err != nil {
			m.Shutdown()
			return nil, err
		}
	}

	m.Kernel.SwitchTo(m.CPUs[0])
	logrus.WithFields(logrus.Fields{
		"arch":     arch.String(),
		"frames":   cfg.MemoryFrames,
		"cpus":     len(m.CPUs),
		"sections": len(m.Sections),
		"root":     m.Kernel.RootFrame().Number(),
	}).Info("machine brought up")
	return m, nil
}

func (m *Machine) mapSection(sc *SectionConfig) error {
	sf, err := sc.SectionFlags()
	if err != nil {
		return err
	}
	flags := pteflags.FromSection(sf)
	if !flags.IsValid() {
		logrus.WithField("section", sc.Name).Debug("skipping unallocated section")
		return nil
	}
	count := sc.FrameCount()
	if count == 0 {
		return nil
	}
	pages, err := m.Pages.AllocatePagesAt(memtypes.CanonicalVirtualAddress(sc.Vaddr), count)
	if err != nil {
		return fmt.Errorf("section %s pages: %w", sc.Name, err)
	}
	frames, err := m.Frames.AllocateFramesAt(memtypes.CanonicalPhysicalAddress(sc.Paddr), count)
	if err != nil {
		pages.Release()
		return fmt.Errorf("section %s frames: %w", sc.Name, err)
	}
	// The machine keeps ownership of the load frames; the mapping is
	// non-exclusive so tearing it down cannot free the kernel image.
	mapped, err := m.Kernel.Mapper().MapToNonExclusive(pages, frames.Range(), flags)
	if err != nil {
		frames.Release()
		pages.Release()
		return fmt.Errorf("mapping section %s: %w", sc.Name, err)
	}
	m.Sections = append(m.Sections, &Section{Name: sc.Name, Mapped: mapped, frames: frames})
	logrus.WithFields(logrus.Fields{
		"section": sc.Name,
		"range":   mapped.Range().String(),
		"flags":   mapped.Flags().String(),
	}).Debug("section mapped")
	return nil
}

// Shutdown stops every CPU.
func (m *Machine) Shutdown() {
	for _, c := range m.CPUs {
		c.Stop()
	}
}

// Translate resolves vaddr through the kernel address space, filling
// CPU 0's TLB with the page translation the way a hardware walk would.
func (m *Machine) Translate(vaddr memtypes.VirtualAddress) (memtypes.PhysicalAddress, pteflags.Flags, bool) {
	paddr, flags, ok := m.Kernel.Mapper().Translate(vaddr)
	if ok {
		page := memtypes.PageContaining(vaddr)
		base := memtypes.CanonicalPhysicalAddress(paddr.Value() &^ uint64(memtypes.PageSize-1))
		m.CPUs[0].TLB().Insert(page, base)
	}
	return paddr, flags, ok
}

// SectionByName returns the mapped section with the given name.
func (m *Machine) SectionByName(name string) (*Section, bool) {
	for _, s := range m.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// pageRegionFor derives the managed kernel page region: the span of
// all declared sections plus slack, or a default when there are none.
func pageRegionFor(cfg *Config) memtypes.PageRange {
	region := memtypes.EmptyRange[memtypes.VirtualSpace]()
	for i := range cfg.Sections {
		s := &cfg.Sections[i]
		start := memtypes.PageContaining(memtypes.CanonicalVirtualAddress(s.Vaddr))
		r := memtypes.RangeFrom(start, s.FrameCount())
		if region.IsEmpty() {
			region = r
			continue
		}
		lo, hi := region.Start(), region.End()
		if r.Start().Before(lo) {
			lo = r.Start()
		}
		if hi.Before(r.End()) {
			hi = r.End()
		}
		region = memtypes.NewPageRange(lo, hi)
	}
	if region.IsEmpty() {
		return defaultPageRegion
	}
	return memtypes.NewPageRange(region.Start(), region.End().Add(kernelRegionSlack))
}

// temporaryPageRegion covers the fixed area the temporary page probes,
// the last 1024 pages of the address space.
func temporaryPageRegion() memtypes.PageRange {
	end := memtypes.NewPage(memtypes.MaxPageNumber)
	return memtypes.NewPageRange(end.Sub(1023), end)
}
