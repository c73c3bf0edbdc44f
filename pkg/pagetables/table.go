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
	"osmium.dev/osmium/pkg/physmem"
	"osmium.dev/osmium/pkg/pteflags"
)

// FrameSource supplies frames for intermediate tables. The general
// frame allocator satisfies it, as does the temporary page's small
// bootstrap reserve.
type FrameSource interface {
	AllocateFrames(count uint64) (*physmem.AllocatedFrames, error)
}

// Table is a typed view of one table frame in the arena: 512 entries at
// a known level. It also carries the virtual address at which the table
// is reachable through the recursive mapping of its hierarchy, kept
// consistent by deriving child addresses with NextTableAddress on every
// navigation.
type Table struct {
	mem   *physmem.Memory
	arch  pteflags.Arch
	level Level
	frame memtypes.Frame
	vaddr memtypes.VirtualAddress
}

// Level returns this table's level.
func (t *Table) Level() Level {
	return t.level
}

// Frame returns the frame holding this table.
func (t *Table) Frame() memtypes.Frame {
	return t.frame
}

// VirtualAddress returns the address at which this table is reachable
// through the recursive mapping.
func (t *Table) VirtualAddress() memtypes.VirtualAddress {
	return t.vaddr
}

// Entry returns a handle on the index'th slot.
func (t *Table) Entry(index int) Entry {
	return Entry{
		mem:  t.mem,
		arch: t.arch,
		addr: t.frame.StartAddress().Add(uint64(index) * EntrySize),
	}
}

// Zero clears all 512 entries.
func (t *Table) Zero() error {
	return t.mem.ZeroFrame(t.frame)
}

// NextTable returns the table one level down behind the index'th entry,
// or nil if the entry is not present. Navigating through a huge-page
// leaf fails with ErrHugePageUnsupported: a huge entry terminates the
// walk and is never a table.
func (t *Table) NextTable(index int) (*Table, error) {
	if t.level == P1 {
		return nil, fmt.Errorf("no next table below level %d", t.level)
	}
	e := t.Entry(index)
	flags, err := e.Flags()
	if err != nil {
		return nil, err
	}
	if !flags.IsValid() {
		return nil, nil
	}
	if flags.IsHuge() {
		return nil, fmt.Errorf("%w: level %d index %d", ErrHugePageUnsupported, t.level, index)
	}
	frame, _, err := e.PointedFrame()
	if err != nil {
		return nil, err
	}
	return &Table{
		mem:   t.mem,
		arch:  t.arch,
		level: t.level - 1,
		frame: frame,
		vaddr: NextTableAddress(t.vaddr, index),
	}, nil
}

// NextTableCreate returns the table one level down behind the index'th
// entry, materializing it from src if absent. This is the only point at
// which intermediate tables come into existence. A fresh frame is zeroed
// before the entry exposes it: its previous contents would otherwise
// read as 512 bogus, possibly valid entries. Calling this twice for the
// same index returns the same table.
func (t *Table) NextTableCreate(index int, flags pteflags.Flags, src FrameSource) (*Table, error) {
	next, err := t.NextTable(index)
	if err != nil || next != nil {
		return next, err
	}
	af, err := src.AllocateFrames(1)
	if err != nil {
		return nil, fmt.Errorf("%w: creating level-%d table: %v", ErrOutOfMemory, t.level-1, err)
	}
	frame := af.Start()
	if err := t.mem.ZeroFrame(frame); err != nil {
		af.Release()
		return nil, err
	}
	if err := t.Entry(index).Set(frame, flags.ForParentTable()); err != nil {
		af.Release()
		return nil, err
	}
	// The frame now lives inside the hierarchy; it comes back out when
	// the hierarchy is torn down, not through this handle.
	af.Take()
	return &Table{
		mem:   t.mem,
		arch:  t.arch,
		level: t.level - 1,
		frame: frame,
		vaddr: NextTableAddress(t.vaddr, index),
	}, nil
}
