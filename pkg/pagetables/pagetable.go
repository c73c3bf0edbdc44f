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
	"fmt"

	"osmium.dev/osmium/pkg/memtypes"
	"osmium.dev/osmium/pkg/pagealloc"
	"osmium.dev/osmium/pkg/physmem"
	"osmium.dev/osmium/pkg/pteflags"
)

// RootRegister is a CPU's current-root register, the CR3/TTBR analog.
// It decides which PageTable is active on that CPU.
type RootRegister interface {
	CurrentRoot() memtypes.PhysicalAddress
	SetRoot(memtypes.PhysicalAddress)
}

// PageTable owns one whole hierarchy, rooted at a P4 frame whose
// RecursiveIndex entry points back at that same frame. That single
// invariant slot is what makes every lower table's virtual address
// derivable arithmetically; see NextTableAddress.
type PageTable struct {
	mem    *physmem.Memory
	arch   pteflags.Arch
	root   memtypes.Frame
	mapper *Mapper
}

// recursiveEntryFlags are the flags of the self-referential P4 slot:
// the slot names a table, so it follows the parent-table adjustment and
// is never exclusive.
func recursiveEntryFlags() pteflags.Flags {
	return pteflags.New().Valid(true).Writable(true).ForParentTable()
}

// NewPageTable builds a fresh hierarchy in the given exclusively-owned
// root frame: the frame is zeroed and its only entry set to the
// recursive self-reference. Ownership of the frame moves into the
// PageTable.
func NewPageTable(mem *physmem.Memory, arch pteflags.Arch, rootFrames *physmem.AllocatedFrames, frames *physmem.FrameAllocator, flusher Flusher) (*PageTable, error) {
	if rootFrames.Count() != 1 {
		return nil, fmt.Errorf("page table root is one frame, not %d", rootFrames.Count())
	}
	root := rootFrames.Start()
	if err := mem.ZeroFrame(root); err != nil {
		return nil, err
	}
	pt := &PageTable{
		mem:    mem,
		arch:   arch,
		root:   root,
		mapper: NewMapper(mem, arch, root, frames, flusher),
	}
	if err := pt.mapper.RootTable().Entry(RecursiveIndex).Set(root, recursiveEntryFlags()); err != nil {
		return nil, err
	}
	rootFrames.Take()
	return pt, nil
}

// NewInactivePageTable builds a fresh hierarchy the way a running
// system creates a new address space: the root frame is reached through
// an existing temporary page rather than assumed directly editable, so
// the construction works even when the frame belongs to no current
// mapping. The new table is not active anywhere, so its mapper carries
// no TLB maintenance until it is switched to.
func NewInactivePageTable(tmp *TemporaryPage, mem *physmem.Memory, arch pteflags.Arch, rootFrames *physmem.AllocatedFrames, frames *physmem.FrameAllocator) (*PageTable, error) {
	if rootFrames.Count() != 1 {
		return nil, fmt.Errorf("page table root is one frame, not %d", rootFrames.Count())
	}
	root := rootFrames.Start()
	err := tmp.WithTableAndFrame(root, P4, func(t *Table, frame memtypes.Frame) error {
		if err := t.Zero(); err != nil {
			return err
		}
		return t.Entry(RecursiveIndex).Set(frame, recursiveEntryFlags())
	})
	if err != nil {
		return nil, err
	}
	rootFrames.Take()
	return &PageTable{
		mem:    mem,
		arch:   arch,
		root:   root,
		mapper: NewMapper(mem, arch, root, frames, NoFlush{}),
	}, nil
}

// RootFrame returns the frame of the P4 table.
func (pt *PageTable) RootFrame() memtypes.Frame {
	return pt.root
}

// Mapper returns the mapper editing this hierarchy.
func (pt *PageTable) Mapper() *Mapper {
	return pt.mapper
}

// IsActive returns true if reg currently points at this hierarchy.
func (pt *PageTable) IsActive(reg RootRegister) bool {
	return reg.CurrentRoot() == pt.root.StartAddress()
}

// SwitchTo loads this hierarchy into reg, making it the active address
// space there. From then on, edits through this table's mapper should
// carry real TLB maintenance; the caller rebinds the flusher with
// SetFlusher as part of the switch.
func (pt *PageTable) SwitchTo(reg RootRegister) {
	reg.SetRoot(pt.root.StartAddress())
}

// SetFlusher rebinds the TLB maintenance for this hierarchy, typically
// when it becomes active on a CPU (or stops being active anywhere).
func (pt *PageTable) SetFlusher(f Flusher) {
	pt.mapper.flusher = f
}

// With runs fn against this hierarchy's mapper. If the hierarchy is not
// the one active in reg, TLB maintenance is suppressed for the duration:
// no CPU can hold translations from a hierarchy that is active nowhere.
func (pt *PageTable) With(reg RootRegister, fn func(*Mapper) error) error {
	if pt.IsActive(reg) {
		return fn(pt.mapper)
	}
	quiet := NewMapper(pt.mem, pt.arch, pt.root, pt.mapper.frames, NoFlush{})
	return fn(quiet)
}

// WithTemporaryMapping maps an arbitrary frame through a fresh
// temporary page, hands fn its table view, and tears everything back
// down, returning the slot and unused reserve to the allocators. For
// one-off foreign-table edits.
func (pt *PageTable) WithTemporaryMapping(pages *pagealloc.PageAllocator, frame memtypes.Frame, level Level, fn func(*Table, memtypes.Frame) error) error {
	tmp, err := NewTemporaryPage(pt.mapper, pages, pt.mapper.frames)
	if err != nil {
		return err
	}
	ferr := tmp.WithTableAndFrame(frame, level, fn)
	slot, reserve, perr := tmp.UnmapIntoParts()
	if perr == nil {
		slot.Release()
		for _, af := range reserve {
			af.Release()
		}
	}
	if ferr != nil {
		return ferr
	}
	return perr
}
