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

// temporaryPageSearchStart is the fixed high address the probe starts
// from, descending one page at a time. It sits in the very last P4
// region, well clear of the recursive slot's shadow.
const temporaryPageSearchStart = 0xffff_ffff_ffff_f000

// temporaryPageMaxProbes bounds the descent before giving up with
// ErrNoTemporaryPage.
const temporaryPageMaxProbes = 64

// reserveFrames is the number of frames held back for intermediate
// tables while mapping the temporary page itself: at most one each for
// a missing P3, P2, and P1 on the way down.
const reserveFrames = 3

// tinyReserve is the bootstrap frame source backing the temporary
// page's own mapping. It exists so that mapping the temporary page
// never recurses into the general allocator mid-bootstrap.
type tinyReserve struct {
	frames []*physmem.AllocatedFrames
}

// AllocateFrames implements FrameSource.AllocateFrames. Only
// single-frame requests are served, from the reserve, until it runs
// out.
func (r *tinyReserve) AllocateFrames(count uint64) (*physmem.AllocatedFrames, error) {
	if count != 1 {
		return nil, fmt.Errorf("bootstrap reserve serves single frames, not %d", count)
	}
	if len(r.frames) == 0 {
		return nil, fmt.Errorf("bootstrap reserve exhausted")
	}
	f := r.frames[len(r.frames)-1]
	r.frames = r.frames[:len(r.frames)-1]
	return f, nil
}

// TemporaryPage maps one arbitrary frame, usually a foreign table's
// root, into the current address space just long enough to edit it.
//
// Its lifecycle is explicit: NewTemporaryPage, then any number of
// MapFrame / WithTable / UnmapFrame cycles, then UnmapIntoParts, which
// hands back the page slot and the unused reserve frames exactly once.
// Discarding the value without UnmapIntoParts is a bug: it is logged,
// and the page and reserve leak rather than risk a double release.
type TemporaryPage struct {
	mapper  *Mapper
	page    *pagealloc.AllocatedPages
	reserve *tinyReserve
	frame   memtypes.Frame
	mapped  bool
	spent   bool
}

// NewTemporaryPage reserves a page slot and the bootstrap frame
// reserve. The slot is found by probing downward from a fixed high
// address for a page that is both untranslated and free, one page at a
// time; the general page allocator may not know about early-boot
// mappings, so a miss in its books alone is not trusted. Probing
// exhaustion yields ErrNoTemporaryPage.
func NewTemporaryPage(m *Mapper, pages *pagealloc.PageAllocator, frames *physmem.FrameAllocator) (*TemporaryPage, error) {
	var slot *pagealloc.AllocatedPages
	addr := memtypes.CanonicalVirtualAddress(temporaryPageSearchStart)
	for i := 0; i < temporaryPageMaxProbes; i++ {
		if _, _, ok := m.Translate(addr); !ok {
			if ap, err := pages.AllocatePagesAt(addr, 1); err == nil {
				slot = ap
				break
			}
		}
		addr = addr.Sub(memtypes.PageSize)
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: %d pages probed below %#x", ErrNoTemporaryPage, temporaryPageMaxProbes, uint64(temporaryPageSearchStart))
	}
	reserve := &tinyReserve{}
	for i := 0; i < reserveFrames; i++ {
		af, err := frames.AllocateFrames(1)
		if err != nil {
			for _, f := range reserve.frames {
				f.Release()
			}
			slot.Release()
			return nil, fmt.Errorf("%w: bootstrap reserve: %v", ErrOutOfMemory, err)
		}
		reserve.frames = append(reserve.frames, af)
	}
	return &TemporaryPage{mapper: m, page: slot, reserve: reserve}, nil
}

// Page returns the virtual page this temporary mapping occupies.
func (t *TemporaryPage) Page() memtypes.Page {
	return t.page.Range().Start()
}

// MapFrame maps the given frame at the temporary slot, writable and
// non-exclusive: the frame is owned by whoever handed it in.
func (t *TemporaryPage) MapFrame(frame memtypes.Frame) error {
	if t.spent {
		return fmt.Errorf("map on a torn-down temporary page")
	}
	if t.mapped {
		return fmt.Errorf("temporary page already maps frame %d", t.frame.Number())
	}
	flags := pteflags.New().Valid(true).Writable(true)
	if err := t.mapper.mapRanges(t.page.Range(), memtypes.RangeFrom(frame, 1), flags, t.reserve); err != nil {
		return err
	}
	t.frame = frame
	t.mapped = true
	return nil
}

// WithTable invokes fn with a typed table view of the mapped frame, so
// a table that is not part of the active hierarchy can be edited as if
// it were.
func (t *TemporaryPage) WithTable(level Level, fn func(*Table) error) error {
	if !t.mapped {
		return fmt.Errorf("temporary page is not mapped")
	}
	return fn(&Table{
		mem:   t.mapper.mem,
		arch:  t.mapper.arch,
		level: level,
		frame: t.frame,
		vaddr: t.page.Range().StartAddress(),
	})
}

// UnmapFrame removes the current mapping, keeping the slot for reuse.
// Only the local TLB is invalidated: no other CPU ever translated this
// slot.
func (t *TemporaryPage) UnmapFrame() error {
	if !t.mapped {
		return fmt.Errorf("temporary page is not mapped")
	}
	e, found, err := t.mapper.leafEntry(t.Page(), false, pteflags.Flags{}, nil)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: temporary page entry vanished", ErrInvalidAddress)
	}
	if _, err := e.SetUnmapped(); err != nil {
		return err
	}
	t.mapper.flushLocal(t.page.Range())
	t.mapped = false
	return nil
}

// WithTableAndFrame maps frame, runs fn on its table view, and unmaps
// again, as one step.
func (t *TemporaryPage) WithTableAndFrame(frame memtypes.Frame, level Level, fn func(*Table, memtypes.Frame) error) error {
	if err := t.MapFrame(frame); err != nil {
		return err
	}
	err := t.WithTable(level, func(tbl *Table) error {
		return fn(tbl, frame)
	})
	if uerr := t.UnmapFrame(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// UnmapIntoParts tears the temporary page down and moves out its
// resources: the page slot and every reserve frame not consumed by
// intermediate tables. Each part is returned exactly once; the handle
// is spent afterwards.
func (t *TemporaryPage) UnmapIntoParts() (*pagealloc.AllocatedPages, []*physmem.AllocatedFrames, error) {
	if t.spent {
		return nil, nil, fmt.Errorf("temporary page already torn down")
	}
	if t.mapped {
		if err := t.UnmapFrame(); err != nil {
			return nil, nil, err
		}
	}
	t.spent = true
	frames := t.reserve.frames
	t.reserve.frames = nil
	return t.page, frames, nil
}

// Discard is the end of the road for a TemporaryPage that was never
// torn down properly. Releasing anything here could double-release
// parts already moved out through an interrupted teardown, so the page
// and reserve are deliberately leaked; the leak is bounded at one page
// and three frames per violation.
func (t *TemporaryPage) Discard() {
	if t.spent {
		return
	}
	t.spent = true
	logrus.WithField("page", t.Page().Number()).Error("temporary page discarded without teardown; leaking its page and reserve")
}
