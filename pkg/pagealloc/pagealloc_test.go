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

package pagealloc

import (
	"testing"

	"osmium.dev/osmium/pkg/memtypes"
)

func TestAllocatePagesAt(t *testing.T) {
	a := NewPageAllocator(memtypes.RangeFrom(memtypes.NewPage(0x100), 0x100))
	addr := memtypes.NewPage(0x180).StartAddress()
	x, err := a.AllocatePagesAt(addr, 8)
	if err != nil {
		t.Fatalf("AllocatePagesAt: %v", err)
	}
	if x.Start().Number() != 0x180 || x.Count() != 8 {
		t.Errorf("got %v", x.Range())
	}
	if _, err := a.AllocatePagesAt(addr, 1); err == nil {
		t.Errorf("overlapping AllocatePagesAt succeeded")
	}
}

// Splitting an allocation in two models guard-page placement: the
// halves are adjacent, exclusive, and independently releasable.
func TestGuardPageSplit(t *testing.T) {
	a := NewPageAllocator(memtypes.RangeFrom(memtypes.NewPage(0x100), 16))
	stack, err := a.AllocatePages(16)
	if err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	guard, usable, err := stack.Split(stack.Start().Add(1))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if guard.Count() != 1 || usable.Count() != 15 {
		t.Errorf("split: guard %v, usable %v", guard.Range(), usable.Range())
	}
	if guard.Range().End().Add(1) != usable.Range().Start() {
		t.Errorf("halves not adjacent: %v / %v", guard.Range(), usable.Range())
	}
	usable.Release()
	if got := a.FreeCount(); got != 15 {
		t.Errorf("free count with guard held: got %d, want 15", got)
	}
}
