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

package physmem

import (
	"errors"
	"testing"

	"osmium.dev/osmium/pkg/memtypes"
)

func TestWordRoundTrip(t *testing.T) {
	m := NewMemory(4)
	addr := memtypes.CanonicalPhysicalAddress(memtypes.PageSize + 16)
	if err := m.WriteWord(addr, 0xdead_beef_cafe_f00d); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	got, err := m.ReadWord(addr)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0xdead_beef_cafe_f00d {
		t.Errorf("ReadWord: got %#x", got)
	}
	// Little-endian layout in the arena.
	var b [8]byte
	if err := m.ReadBytes(addr, b[:]); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if b[0] != 0x0d || b[7] != 0xde {
		t.Errorf("byte layout: got % x", b)
	}
}

func TestWordAccessChecks(t *testing.T) {
	m := NewMemory(1)
	if _, err := m.ReadWord(memtypes.CanonicalPhysicalAddress(4)); !errors.Is(err, ErrUnaligned) {
		t.Errorf("misaligned read: got %v", err)
	}
	if err := m.WriteWord(memtypes.CanonicalPhysicalAddress(memtypes.PageSize), 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("out-of-bounds write: got %v", err)
	}
	// The last word of the arena is accessible.
	if _, err := m.ReadWord(memtypes.CanonicalPhysicalAddress(memtypes.PageSize - 8)); err != nil {
		t.Errorf("last word: %v", err)
	}
}

func TestZeroFrame(t *testing.T) {
	m := NewMemory(2)
	addr := memtypes.CanonicalPhysicalAddress(memtypes.PageSize)
	if err := m.WriteWord(addr, ^uint64(0)); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if err := m.ZeroFrame(memtypes.NewFrame(1)); err != nil {
		t.Fatalf("ZeroFrame: %v", err)
	}
	if got, _ := m.ReadWord(addr); got != 0 {
		t.Errorf("frame not zeroed: %#x", got)
	}
	if err := m.ZeroFrame(memtypes.NewFrame(2)); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ZeroFrame outside arena: got %v", err)
	}
}

func TestFrameAllocatorAt(t *testing.T) {
	a := NewFrameAllocator(memtypes.RangeFrom(memtypes.NewFrame(0), 64))
	x, err := a.AllocateFramesAt(memtypes.CanonicalPhysicalAddress(8*memtypes.PageSize), 4)
	if err != nil {
		t.Fatalf("AllocateFramesAt: %v", err)
	}
	if x.Start().Number() != 8 || x.Count() != 4 {
		t.Errorf("got %v", x.Range())
	}
	if _, err := a.AllocateFramesAt(memtypes.CanonicalPhysicalAddress(9*memtypes.PageSize), 1); err == nil {
		t.Errorf("overlapping AllocateFramesAt succeeded")
	}
}
