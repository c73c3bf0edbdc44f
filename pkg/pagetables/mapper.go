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

	"github.com/sirupsen/logrus"

	"osmium.dev/osmium/pkg/memtypes"
	"osmium.dev/osmium/pkg/pagealloc"
	"osmium.dev/osmium/pkg/physmem"
	"osmium.dev/osmium/pkg/pteflags"
)

// Flusher invalidates translations on every started CPU after an edit
// to live entries. Fresh mappings need no flush (an invalid entry is
// never cached); unmaps and remaps do.
type Flusher interface {
	Flush(r memtypes.PageRange)
}

// LocalFlusher is implemented by flushers that can invalidate on the
// current CPU only. The temporary page uses it: its slot is private to
// the CPU doing the bootstrap edit, so broadcasting for it would stall
// every other CPU for nothing.
type LocalFlusher interface {
	FlushLocal(r memtypes.PageRange)
}

// NoFlush is the Flusher for contexts with no live translations to
// maintain: single-CPU bring-up, or edits to a table that is not active
// anywhere.
type NoFlush struct{}

// Flush implements Flusher.Flush.
func (NoFlush) Flush(memtypes.PageRange) {}

// FlushLocal implements LocalFlusher.FlushLocal.
func (NoFlush) FlushLocal(memtypes.PageRange) {}

// Mapper edits one page-table hierarchy, identified by its root frame.
// Concurrent edits to the same hierarchy are externally serialized by
// the caller; the guarantee here is narrower: once an edit and its
// flush have returned, every started CPU observes the new translation
// or none, never a stale one.
type Mapper struct {
	mem     *physmem.Memory
	arch    pteflags.Arch
	root    memtypes.Frame
	frames  *physmem.FrameAllocator
	flusher Flusher
}

// NewMapper returns a mapper over the hierarchy rooted at root.
func NewMapper(mem *physmem.Memory, arch pteflags.Arch, root memtypes.Frame, frames *physmem.FrameAllocator, flusher Flusher) *Mapper {
	return &Mapper{
		mem:     mem,
		arch:    arch,
		root:    root,
		frames:  frames,
		flusher: flusher,
	}
}

// RootFrame returns the frame of the P4 table this mapper edits.
func (m *Mapper) RootFrame() memtypes.Frame {
	return m.root
}

// RootTable returns the typed P4 view, addressed at the recursive base.
func (m *Mapper) RootTable() *Table {
	return &Table{
		mem:   m.mem,
		arch:  m.arch,
		level: P4,
		frame: m.root,
		vaddr: RecursiveP4Address(),
	}
}

// leafEntry walks to the P1 entry for page. With create set, absent
// intermediate tables are materialized from src using flags' parent
// adjustment; otherwise an absent level ends the walk with a nil-handle
// result.
func (m *Mapper) leafEntry(page memtypes.Page, create bool, flags pteflags.Flags, src FrameSource) (Entry, bool, error) {
	t := m.RootTable()
	for t.Level() > P1 {
		index := IndexAt(t.Level(), page)
		var next *Table
		var err error
		if create {
			next, err = t.NextTableCreate(index, flags, src)
		} else {
			next, err = t.NextTable(index)
		}
		if err != nil {
			return Entry{}, false, err
		}
		if next == nil {
			return Entry{}, false, nil
		}
		t = next
	}
	return t.Entry(IndexAt(P1, page)), true, nil
}

// mapRanges installs one entry per page of pr, pointing at the
// corresponding frame of fr. Any present entry rejects the whole map
// with ErrAlreadyMapped, and entries installed so far are rolled back.
func (m *Mapper) mapRanges(pr memtypes.PageRange, fr memtypes.FrameRange, flags pteflags.Flags, src FrameSource) error {
	if pr.Count() != fr.Count() {
		return fmt.Errorf("%w: %d pages for %d frames", ErrInvalidAddress, pr.Count(), fr.Count())
	}
	frame := fr.Start()
	var installed []Entry
	rollback := func() {
		for _, e := range installed {
			if err := e.Zero(); err != nil {
				logrus.WithError(err).Error("rollback of partial mapping failed")
			}
		}
	}
	for page := range pr.All() {
		e, _, err := m.leafEntry(page, true, flags, src)
		if err != nil {
			rollback()
			return err
		}
		existing, err := e.Flags()
		if err != nil {
			rollback()
			return err
		}
		if existing.IsValid() {
			rollback()
			return fmt.Errorf("%w: page %#x", ErrAlreadyMapped, page.StartAddress().Value())
		}
		if err := e.Set(frame, flags); err != nil {
			rollback()
			return err
		}
		installed = append(installed, e)
		frame = frame.Add(1)
	}
	return nil
}

// MapAllocatedPages maps the owned pages to freshly allocated frames
// with the given flags. The frames are exclusively owned by the new
// mapping; unmapping hands them back. A zero-length allocation maps
// nothing and yields an empty MappedPages.
func (m *Mapper) MapAllocatedPages(pages *pagealloc.AllocatedPages, flags pteflags.Flags) (*MappedPages, error) {
	if pages.Count() == 0 {
		return &MappedPages{mapper: m, pages: pages, flags: flags}, nil
	}
	frames, err := m.frames.AllocateFrames(pages.Count())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	mp, err := m.MapAllocatedPagesTo(pages, frames, flags)
	if err != nil {
		frames.Release()
		return nil, err
	}
	return mp, nil
}

// MapAllocatedPagesTo maps the owned pages to the given exclusively
// owned frames. Ownership of the frames moves into the page table
// entries via the exclusive flag; the spent handle must not be released
// by the caller.
func (m *Mapper) MapAllocatedPagesTo(pages *pagealloc.AllocatedPages, frames *physmem.AllocatedFrames, flags pteflags.Flags) (*MappedPages, error) {
	if pages.Count() != frames.Count() {
		return nil, fmt.Errorf("%w: %d pages for %d frames", ErrInvalidAddress, pages.Count(), frames.Count())
	}
	actual := flags.Valid(true).Huge(false).Exclusive(true)
	if pages.Count() == 0 {
		return &MappedPages{mapper: m, pages: pages, flags: actual}, nil
	}
	if err := m.mapRanges(pages.Range(), frames.Range(), actual, m.frames); err != nil {
		return nil, err
	}
	frames.Take()
	return &MappedPages{mapper: m, pages: pages, flags: actual}, nil
}

// MapToNonExclusive maps the owned pages to frames owned elsewhere,
// for identity maps of kernel sections or MMIO regions. Unmapping such
// a region never frees the frames.
func (m *Mapper) MapToNonExclusive(pages *pagealloc.AllocatedPages, frames memtypes.FrameRange, flags pteflags.Flags) (*MappedPages, error) {
	actual := flags.Valid(true).Huge(false).Exclusive(false)
	if pages.Count() == 0 {
		return &MappedPages{mapper: m, pages: pages, flags: actual}, nil
	}
	if err := m.mapRanges(pages.Range(), frames, actual, m.frames); err != nil {
		return nil, err
	}
	return &MappedPages{mapper: m, pages: pages, flags: actual}, nil
}

// unmapRange zeroes the entries covering r and returns the contiguous
// runs of exclusively-owned frames they pointed at. Every page of r
// must currently be mapped.
func (m *Mapper) unmapRange(r memtypes.PageRange) ([]memtypes.FrameRange, error) {
	var runs []memtypes.FrameRange
	// The zero Range is [0..0], a live claim on frame 0; the accumulator
	// must start canonically empty.
	run := memtypes.EmptyRange[memtypes.PhysicalSpace]()
	for page := range r.All() {
		e, found, err := m.leafEntry(page, false, pteflags.Flags{}, nil)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: page %#x is not mapped", ErrInvalidAddress, page.StartAddress().Value())
		}
		res, err := e.SetUnmapped()
		if err != nil {
			return nil, err
		}
		if !res.Present {
			return nil, fmt.Errorf("%w: page %#x is not mapped", ErrInvalidAddress, page.StartAddress().Value())
		}
		if !res.Exclusive {
			continue
		}
		switch {
		case run.IsEmpty():
			run = memtypes.RangeFrom(res.Frame, 1)
		case run.End().Add(1) == res.Frame:
			run = memtypes.NewFrameRange(run.Start(), res.Frame)
		default:
			runs = append(runs, run)
			run = memtypes.RangeFrom(res.Frame, 1)
		}
	}
	if !run.IsEmpty() {
		runs = append(runs, run)
	}
	m.flusher.Flush(r)
	return runs, nil
}

// flushLocal invalidates r on the current CPU only, falling back to a
// full flush when the flusher has no local path.
func (m *Mapper) flushLocal(r memtypes.PageRange) {
	if lf, ok := m.flusher.(LocalFlusher); ok {
		lf.FlushLocal(r)
		return
	}
	m.flusher.Flush(r)
}

// Translate resolves vaddr through the hierarchy, returning the
// physical address and leaf flags, or false if no translation exists.
// Huge leaves at P3 (1GiB) and P2 (2MiB) resolve here even though the
// walker refuses to navigate through them.
func (m *Mapper) Translate(vaddr memtypes.VirtualAddress) (memtypes.PhysicalAddress, pteflags.Flags, bool) {
	page := memtypes.PageContaining(vaddr)
	t := m.RootTable()
	for t.Level() > P1 {
		e := t.Entry(IndexAt(t.Level(), page))
		flags, err := e.Flags()
		if err != nil {
			logrus.WithError(err).Error("translate: table access failed")
			return memtypes.PhysicalAddress{}, pteflags.Flags{}, false
		}
		if !flags.IsValid() {
			return memtypes.PhysicalAddress{}, pteflags.Flags{}, false
		}
		if flags.IsHuge() {
			if t.Level() == P4 {
				return memtypes.PhysicalAddress{}, pteflags.Flags{}, false
			}
			frame, _, err := e.PointedFrame()
			if err != nil {
				return memtypes.PhysicalAddress{}, pteflags.Flags{}, false
			}
			regionBits := memtypes.PageShift + 9*(uint(t.Level())-1)
			offset := vaddr.Value() & (1<<regionBits - 1)
			base := frame.StartAddress().Value() &^ (1<<regionBits - 1)
			return memtypes.CanonicalPhysicalAddress(base | offset), flags, true
		}
		next, err := t.NextTable(IndexAt(t.Level(), page))
		if err != nil || next == nil {
			return memtypes.PhysicalAddress{}, pteflags.Flags{}, false
		}
		t = next
	}
	e := t.Entry(IndexAt(P1, page))
	frame, ok, err := e.PointedFrame()
	if err != nil || !ok {
		return memtypes.PhysicalAddress{}, pteflags.Flags{}, false
	}
	flags, err := e.Flags()
	if err != nil {
		return memtypes.PhysicalAddress{}, pteflags.Flags{}, false
	}
	return frame.StartAddress().Add(vaddr.PageOffset()), flags, true
}

// TranslatePage resolves one page to its frame and flags.
func (m *Mapper) TranslatePage(page memtypes.Page) (memtypes.Frame, pteflags.Flags, bool) {
	paddr, flags, ok := m.Translate(page.StartAddress())
	if !ok {
		return memtypes.Frame{}, pteflags.Flags{}, false
	}
	return memtypes.FrameContaining(paddr), flags, true
}
