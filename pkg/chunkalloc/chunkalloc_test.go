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

package chunkalloc

import (
	"errors"
	"testing"

	"osmium.dev/osmium/pkg/memtypes"
)

func newTestAllocator(t *testing.T, start, end uint64) *Allocator[memtypes.PhysicalSpace] {
	t.Helper()
	return New(memtypes.NewFrameRange(memtypes.NewFrame(start), memtypes.NewFrame(end)))
}

func TestAllocateExclusive(t *testing.T) {
	a := newTestAllocator(t, 0, 99)
	x, err := a.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate(10): %v", err)
	}
	y, err := a.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate(10): %v", err)
	}
	if x.Range().Overlaps(y.Range()) {
		t.Errorf("live handles overlap: %v and %v", x.Range(), y.Range())
	}
	if got := a.FreeCount(); got != 80 {
		t.Errorf("FreeCount: got %d, want 80", got)
	}
}

func TestAllocateExhausted(t *testing.T) {
	a := newTestAllocator(t, 0, 9)
	if _, err := a.Allocate(11); !errors.Is(err, ErrExhausted) {
		t.Errorf("Allocate(11): got %v, want ErrExhausted", err)
	}
	// Fragmentation: a released run of 4 with a live neighbor cannot
	// satisfy 5 until the neighbor is released and merged.
	lo, _ := a.Allocate(4)
	mid, _ := a.Allocate(1)
	if _, err := a.Allocate(5); err != nil {
		t.Fatalf("Allocate(5) from the free tail: %v", err)
	}
	lo.Release()
	if _, err := a.Allocate(5); !errors.Is(err, ErrExhausted) {
		t.Errorf("Allocate(5) over fragmented free list: got %v, want ErrExhausted", err)
	}
	mid.Release()
	if _, err := a.Allocate(5); err != nil {
		t.Errorf("Allocate(5) after merge: %v", err)
	}
}

func TestAllocateAtRejectsOverlap(t *testing.T) {
	a := newTestAllocator(t, 0, 99)
	if _, err := a.AllocateAt(memtypes.NewFrame(10), 10); err != nil {
		t.Fatalf("AllocateAt(10, 10): %v", err)
	}
	for _, tc := range []struct {
		start uint64
		count uint64
	}{
		{10, 10}, // exact duplicate
		{15, 10}, // straddles the end
		{5, 10},  // straddles the start
		{95, 10}, // exceeds the region
	} {
		if _, err := a.AllocateAt(memtypes.NewFrame(tc.start), tc.count); !errors.Is(err, ErrUnavailable) {
			t.Errorf("AllocateAt(%d, %d): got %v, want ErrUnavailable", tc.start, tc.count, err)
		}
	}
	if _, err := a.AllocateAt(memtypes.NewFrame(20), 10); err != nil {
		t.Errorf("AllocateAt(20, 10) adjacent to allocated: %v", err)
	}
}

func TestReleaseMergesNeighbors(t *testing.T) {
	a := newTestAllocator(t, 0, 29)
	x, _ := a.AllocateAt(memtypes.NewFrame(0), 10)
	y, _ := a.AllocateAt(memtypes.NewFrame(10), 10)
	z, _ := a.AllocateAt(memtypes.NewFrame(20), 10)
	x.Release()
	z.Release()
	y.Release()
	// After merging, the whole region is one free run again.
	h, err := a.Allocate(30)
	if err != nil {
		t.Fatalf("Allocate(30) after full release: %v", err)
	}
	if h.Range() != a.Region() {
		t.Errorf("merged run: got %v, want %v", h.Range(), a.Region())
	}
}

func TestDoubleReleaseIsRefused(t *testing.T) {
	a := newTestAllocator(t, 0, 9)
	x, _ := a.Allocate(5)
	x.Release()
	x.Release() // logged, ignored
	if got := a.FreeCount(); got != 10 {
		t.Errorf("free count after double release: got %d, want 10", got)
	}
	// The range must not be free twice: allocating everything once
	// still works, twice does not.
	if _, err := a.Allocate(10); err != nil {
		t.Fatalf("Allocate(10): %v", err)
	}
	if _, err := a.Allocate(1); !errors.Is(err, ErrExhausted) {
		t.Errorf("region handed out twice after double release")
	}
}

func TestTakeAndRecover(t *testing.T) {
	a := newTestAllocator(t, 0, 9)
	x, _ := a.Allocate(4)
	r, ok := x.Take()
	if !ok {
		t.Fatalf("Take failed")
	}
	// Ownership moved out: releasing the spent handle must not free.
	x.Release()
	if got := a.FreeCount(); got != 6 {
		t.Errorf("free count after take+release: got %d, want 6", got)
	}
	recovered := a.Recover(r)
	recovered.Release()
	if got := a.FreeCount(); got != 10 {
		t.Errorf("free count after recover+release: got %d, want 10", got)
	}
}

func TestSplit(t *testing.T) {
	a := newTestAllocator(t, 0, 9)
	x, _ := a.AllocateAt(memtypes.NewFrame(0), 10)
	lo, hi, err := x.Split(memtypes.NewFrame(4))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if lo.Range().End().Number() != 3 || hi.Range().Start().Number() != 4 {
		t.Errorf("split halves: %v / %v", lo.Range(), hi.Range())
	}
	if lo.Range().Overlaps(hi.Range()) {
		t.Errorf("split halves overlap")
	}
	// The consumed parent handle is spent.
	if _, _, err := x.Split(memtypes.NewFrame(2)); err == nil {
		t.Errorf("split of spent handle succeeded")
	}
	lo.Release()
	hi.Release()
	if got := a.FreeCount(); got != 10 {
		t.Errorf("free count after releasing halves: got %d", got)
	}
}

func TestZeroCountAllocation(t *testing.T) {
	a := newTestAllocator(t, 0, 9)
	x, err := a.Allocate(0)
	if err != nil {
		t.Fatalf("Allocate(0): %v", err)
	}
	if !x.Range().IsEmpty() {
		t.Errorf("Allocate(0) returned non-empty range %v", x.Range())
	}
	x.Release()
	if got := a.FreeCount(); got != 10 {
		t.Errorf("free count disturbed by empty allocation: %d", got)
	}
}
