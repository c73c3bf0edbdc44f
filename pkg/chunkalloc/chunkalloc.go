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

// Package chunkalloc implements an exclusive range allocator over either
// address space. It hands out Allocated handles; at any moment, no two
// live handles cover the same chunk. The physical frame allocator and
// the virtual page allocator are both thin wrappers around this type.
package chunkalloc

import (
	"errors"
	"fmt"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"osmium.dev/osmium/pkg/memtypes"
)

var (
	// ErrExhausted is returned when no free run of the requested length
	// exists.
	ErrExhausted = errors.New("chunkalloc: out of memory")

	// ErrUnavailable is returned by AllocateAt when part of the requested
	// range is already allocated or outside the managed region.
	ErrUnavailable = errors.New("chunkalloc: range unavailable")
)

const btreeDegree = 8

// Allocator hands out exclusively-owned chunk ranges from a managed
// region. It is not safe for concurrent use; callers serialize access
// the same way they serialize page-table edits.
type Allocator[S memtypes.Space] struct {
	region memtypes.Range[S]
	free   *btree.BTreeG[memtypes.Range[S]]
}

// New returns an allocator managing the given region, initially all
// free.
func New[S memtypes.Space](region memtypes.Range[S]) *Allocator[S] {
	a := &Allocator[S]{
		region: region,
		free: btree.NewG(btreeDegree, func(x, y memtypes.Range[S]) bool {
			return x.Start().Before(y.Start())
		}),
	}
	if !region.IsEmpty() {
		a.free.ReplaceOrInsert(region)
	}
	return a
}

// Region returns the region this allocator manages.
func (a *Allocator[S]) Region() memtypes.Range[S] {
	return a.region
}

// FreeCount returns the number of currently free chunks.
func (a *Allocator[S]) FreeCount() uint64 {
	var n uint64
	a.free.Ascend(func(r memtypes.Range[S]) bool {
		n += r.Count()
		return true
	})
	return n
}

// Allocate returns an exclusively-owned range of count chunks, first
// fit. It returns ErrExhausted if no free run is long enough.
func (a *Allocator[S]) Allocate(count uint64) (*Allocated[S], error) {
	if count == 0 {
		return &Allocated[S]{owner: a, r: memtypes.EmptyRange[S]()}, nil
	}
	var found memtypes.Range[S]
	ok := false
	a.free.Ascend(func(r memtypes.Range[S]) bool {
		if r.Count() >= count {
			found = r
			ok = true
			return false
		}
		return true
	})
	if !ok {
		return nil, fmt.Errorf("%w: no free run of %d chunks", ErrExhausted, count)
	}
	a.free.Delete(found)
	taken := memtypes.RangeFrom(found.Start(), count)
	if rest := memtypes.NewRange(found.Start().Add(count), found.End()); !rest.IsEmpty() {
		a.free.ReplaceOrInsert(rest)
	}
	return &Allocated[S]{owner: a, r: taken}, nil
}

// AllocateAt returns the exact range of count chunks starting at start,
// exclusively owned. It returns ErrUnavailable if any part of the range
// is outside the managed region or not currently free.
func (a *Allocator[S]) AllocateAt(start memtypes.Chunk[S], count uint64) (*Allocated[S], error) {
	if count == 0 {
		return &Allocated[S]{owner: a, r: memtypes.EmptyRange[S]()}, nil
	}
	want := memtypes.RangeFrom(start, count)
	if !a.region.ContainsRange(want) {
		return nil, fmt.Errorf("%w: %v outside managed region %v", ErrUnavailable, want, a.region)
	}
	// The free run containing `want` must be the one with the greatest
	// start not after want's start.
	var host memtypes.Range[S]
	ok := false
	a.free.DescendLessOrEqual(want, func(r memtypes.Range[S]) bool {
		host = r
		ok = true
		return false
	})
	if !ok || !host.ContainsRange(want) {
		return nil, fmt.Errorf("%w: %v is already allocated", ErrUnavailable, want)
	}
	a.free.Delete(host)
	if host.Start().Before(want.Start()) {
		a.free.ReplaceOrInsert(memtypes.NewRange(host.Start(), want.Start().Sub(1)))
	}
	if want.End().Before(host.End()) {
		a.free.ReplaceOrInsert(memtypes.NewRange(want.End().Add(1), host.End()))
	}
	return &Allocated[S]{owner: a, r: want}, nil
}

// Recover reconstitutes an Allocated handle for a range whose ownership
// was previously transferred out of the allocator's bookkeeping with
// Allocated.Take, typically when exclusively-mapped chunks come back
// from an unmap. The range must not be free.
func (a *Allocator[S]) Recover(r memtypes.Range[S]) *Allocated[S] {
	return &Allocated[S]{owner: a, r: r}
}

// release returns a range to the free list, merging with adjacent runs.
func (a *Allocator[S]) release(r memtypes.Range[S]) {
	if r.IsEmpty() {
		return
	}
	start, end := r.Start(), r.End()
	// Merge a free run ending immediately before r.
	a.free.DescendLessOrEqual(r, func(prev memtypes.Range[S]) bool {
		if prev.End().Add(1) == start {
			a.free.Delete(prev)
			start = prev.Start()
		}
		return false
	})
	// Merge a free run starting immediately after r.
	a.free.AscendGreaterOrEqual(r, func(next memtypes.Range[S]) bool {
		if next.Start() == end.Add(1) {
			a.free.Delete(next)
			end = next.End()
		}
		return false
	})
	a.free.ReplaceOrInsert(memtypes.NewRange(start, end))
}

// Allocated is an exclusively-owned chunk range. Exactly one of Release
// and Take may be called, once; afterwards the handle is spent.
type Allocated[S memtypes.Space] struct {
	owner *Allocator[S]
	r     memtypes.Range[S]
	spent bool
}

// Range returns the owned range.
func (h *Allocated[S]) Range() memtypes.Range[S] {
	return h.r
}

// Start returns the first owned chunk.
func (h *Allocated[S]) Start() memtypes.Chunk[S] {
	return h.r.Start()
}

// Count returns the number of owned chunks.
func (h *Allocated[S]) Count() uint64 {
	return h.r.Count()
}

// Release returns the range to its allocator. Releasing a spent handle
// is a double-free bug: it is logged and ignored, never honored, so the
// same range can never enter the free list twice.
func (h *Allocated[S]) Release() {
	if h.spent {
		logrus.WithField("range", h.r.String()).Error("double release of allocated range")
		return
	}
	h.spent = true
	h.owner.release(h.r)
}

// Take marks the range's ownership as transferred out of this handle,
// without freeing it: the chunks stay allocated, tracked elsewhere (for
// frames, inside page table entries via the exclusive bit). The
// counterpart is Allocator.Recover. Take on a spent handle is a bug,
// logged and refused.
func (h *Allocated[S]) Take() (memtypes.Range[S], bool) {
	if h.spent {
		logrus.WithField("range", h.r.String()).Error("take of spent allocated range")
		return memtypes.EmptyRange[S](), false
	}
	h.spent = true
	return h.r, true
}

// Split divides the handle into [start, at) and [at, end], consuming it
// and returning two live handles. It fails (and leaves the handle
// intact) if at is not strictly inside the range.
func (h *Allocated[S]) Split(at memtypes.Chunk[S]) (*Allocated[S], *Allocated[S], error) {
	if h.spent {
		return nil, nil, fmt.Errorf("split of spent allocated range %v", h.r)
	}
	lo, hi, ok := h.r.SplitAt(at)
	if !ok {
		return nil, nil, fmt.Errorf("cannot split %v at chunk %d", h.r, at.Number())
	}
	h.spent = true
	return &Allocated[S]{owner: h.owner, r: lo}, &Allocated[S]{owner: h.owner, r: hi}, nil
}
