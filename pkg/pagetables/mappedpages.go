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

// MappedPages couples an owned virtual page range with the hierarchy it
// is mapped into and the flags it was mapped with. For the lifetime of
// a live handle, the entries covering its range are present and agree
// with its recorded flags. Unmapping it is the single authoritative way
// those entries disappear and the underlying frames get reclaimed.
type MappedPages struct {
	mapper *Mapper
	pages  *pagealloc.AllocatedPages
	flags  pteflags.Flags
	spent  bool
}

// Range returns the mapped page range.
func (mp *MappedPages) Range() memtypes.PageRange {
	return mp.pages.Range()
}

// Flags returns the flags the range is currently mapped with.
func (mp *MappedPages) Flags() pteflags.Flags {
	return mp.flags
}

// IsEmpty returns true if this mapping covers no pages.
func (mp *MappedPages) IsEmpty() bool {
	return mp.pages.Count() == 0
}

// Unmap removes every translation in the range, broadcasts the
// invalidation, and returns the page ownership plus, when the frames
// were exclusively owned at mapping time, the frame ownership. For a
// shared (non-exclusive) mapping the frame result is nil: the frames
// remain owned elsewhere.
func (mp *MappedPages) Unmap() (*pagealloc.AllocatedPages, *physmem.AllocatedFrames, error) {
	if mp.spent {
		return nil, nil, fmt.Errorf("unmap of spent mapping %v", mp.pages.Range())
	}
	if mp.pages.Count() == 0 {
		mp.spent = true
		return mp.pages, nil, nil
	}
	runs, err := mp.mapper.unmapRange(mp.pages.Range())
	if err != nil {
		return nil, nil, err
	}
	mp.spent = true
	return mp.pages, mp.recoverFrames(runs), nil
}

// UnmapRange removes the translations for r, which must be a prefix or
// suffix of the owned range (or all of it); the handle keeps the rest.
// A range reaching beyond the owned boundary is rejected with
// ErrInvalidAddress.
func (mp *MappedPages) UnmapRange(r memtypes.PageRange) (*pagealloc.AllocatedPages, *physmem.AllocatedFrames, error) {
	if mp.spent {
		return nil, nil, fmt.Errorf("unmap of spent mapping %v", mp.pages.Range())
	}
	owned := mp.pages.Range()
	if !owned.ContainsRange(r) {
		return nil, nil, fmt.Errorf("%w: %v is outside owned range %v", ErrInvalidAddress, r, owned)
	}
	if r == owned || r.IsEmpty() {
		return mp.Unmap()
	}
	var unmapped, rest *pagealloc.AllocatedPages
	switch {
	case r.Start() == owned.Start():
		lo, hi, err := mp.pages.Split(r.End().Add(1))
		if err != nil {
			return nil, nil, err
		}
		unmapped, rest = lo, hi
	case r.End() == owned.End():
		lo, hi, err := mp.pages.Split(r.Start())
		if err != nil {
			return nil, nil, err
		}
		unmapped, rest = hi, lo
	default:
		return nil, nil, fmt.Errorf("unmap of interior range %v from %v", r, owned)
	}
	runs, err := mp.mapper.unmapRange(r)
	if err != nil {
		// Ownership is already split; hand the halves back as they are.
		mp.pages = rest
		return unmapped, nil, err
	}
	mp.pages = rest
	return unmapped, mp.recoverFrames(runs), nil
}

// recoverFrames turns the exclusive frame runs of an unmap into at most
// one owned handle. A single contiguous run, the normal outcome of
// mapping contiguous frames, goes back to the caller; fragmented runs
// are returned to the allocator directly.
func (mp *MappedPages) recoverFrames(runs []memtypes.FrameRange) *physmem.AllocatedFrames {
	switch len(runs) {
	case 0:
		return nil
	case 1:
		return mp.mapper.frames.Recover(runs[0])
	default:
		logrus.WithField("runs", len(runs)).Warn("unmap yielded fragmented exclusive frames; freeing directly")
		for _, run := range runs {
			mp.mapper.frames.Recover(run).Release()
		}
		return nil
	}
}

// Remap rewrites the flags of every entry in the range and broadcasts
// the invalidation. This is the only operation allowed to overwrite
// present entries. Validity, hugeness, and exclusivity cannot be
// changed this way: the first two are structural, the last is
// ownership, fixed at mapping time.
func (mp *MappedPages) Remap(newFlags pteflags.Flags) error {
	if mp.spent {
		return fmt.Errorf("remap of spent mapping %v", mp.pages.Range())
	}
	actual := newFlags.Valid(true).Huge(false).Exclusive(mp.flags.IsExclusive())
	if mp.pages.Count() == 0 {
		mp.flags = actual
		return nil
	}
	for page := range mp.pages.Range().All() {
		e, found, err := mp.mapper.leafEntry(page, false, pteflags.Flags{}, nil)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: page %#x is not mapped", ErrInvalidAddress, page.StartAddress().Value())
		}
		frame, present, err := e.PointedFrame()
		if err != nil {
			return err
		}
		if !present {
			return fmt.Errorf("%w: page %#x is not mapped", ErrInvalidAddress, page.StartAddress().Value())
		}
		if err := e.Set(frame, actual); err != nil {
			return err
		}
	}
	mp.mapper.flusher.Flush(mp.pages.Range())
	mp.flags = actual
	return nil
}
