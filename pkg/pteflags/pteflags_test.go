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

package pteflags

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var allFlagCombos = func() []Flags {
	var out []Flags
	for i := 0; i < 1<<6; i++ {
		f := New().
			Valid(i&1 != 0).
			Writable(i&2 != 0).
			Executable(i&4 != 0).
			DeviceMemory(i&8 != 0).
			Global(i&16 != 0).
			Exclusive(i&32 != 0)
		out = append(out, f)
	}
	return out
}()

func TestRoundTrip(t *testing.T) {
	for _, arch := range []Arch{X86_64, Aarch64} {
		for _, f := range allFlagCombos {
			got := Decode(arch, f.Encode(arch))
			if diff := cmp.Diff(f, got, cmp.AllowUnexported(Flags{})); diff != "" {
				t.Errorf("%s round trip of %v: (-want +got)\n%s", arch, f, diff)
			}
		}
	}
}

func TestEncodingAvoidsFrameField(t *testing.T) {
	for _, arch := range []Arch{X86_64, Aarch64} {
		for _, f := range allFlagCombos {
			if raw := f.Encode(arch); raw&FrameMask(arch) != 0 {
				t.Errorf("%s encoding of %v intersects the frame field: %#x", arch, f, raw)
			}
		}
	}
}

func TestX86ExecutableIsInvertedNoExec(t *testing.T) {
	exec := New().Valid(true).Executable(true).Encode(X86_64)
	if exec&x86NoExec != 0 {
		t.Errorf("executable entry has NX set: %#x", exec)
	}
	noExec := New().Valid(true).Encode(X86_64)
	if noExec&x86NoExec == 0 {
		t.Errorf("non-executable entry lacks NX: %#x", noExec)
	}
}

func TestAarch64InvertedSenses(t *testing.T) {
	raw := New().Valid(true).Writable(true).Global(true).Encode(Aarch64)
	if raw&aarchReadOnly != 0 {
		t.Errorf("writable entry has read-only bit set: %#x", raw)
	}
	if raw&aarchNotGlobal != 0 {
		t.Errorf("global entry has not-global bit set: %#x", raw)
	}
	raw = New().Valid(true).Encode(Aarch64)
	if raw&aarchReadOnly == 0 || raw&aarchNotGlobal == 0 {
		t.Errorf("read-only non-global entry: %#x", raw)
	}
}

// The MAIR index and shareability fields must always be written as a
// pair: toggling device memory may never leave one half describing
// normal memory and the other device memory.
func TestAarch64AttributePairing(t *testing.T) {
	for _, f := range allFlagCombos {
		raw := f.Encode(Aarch64)
		mair := raw & aarchMairMask
		share := raw & aarchShareMask
		switch mair {
		case aarchMairIndexNormal:
			if share != aarchOuterShareable {
				t.Errorf("normal memory with shareability %#x in %v", share, f)
			}
		case aarchMairIndexDevice:
			if share != aarchNonShareable {
				t.Errorf("device memory with shareability %#x in %v", share, f)
			}
		default:
			t.Errorf("unexpected MAIR index %#x in %v", mair>>aarchMairShift, f)
		}
	}
}

func TestAarch64MairIndexDecodeIsExact(t *testing.T) {
	// MAIR indices 3, 5, 7 share bit 2 with the device index and must
	// not decode as device memory.
	for _, index := range []uint64{3, 5, 7} {
		raw := uint64(aarchValid) | index<<aarchMairShift
		if Decode(Aarch64, raw).IsDeviceMemory() {
			t.Errorf("MAIR index %d decoded as device memory", index)
		}
	}
}

func TestAarch64ExecNeverBitsTravelTogether(t *testing.T) {
	raw := New().Valid(true).Encode(Aarch64)
	if raw&aarchPrivExecNever == 0 || raw&aarchUserExecNever == 0 {
		t.Errorf("non-executable entry must set both execute-never bits: %#x", raw)
	}
	// An entry with only one of the pair decodes as executable=false,
	// never as executable.
	if Decode(Aarch64, uint64(aarchValid)|aarchPrivExecNever).IsExecutable() {
		t.Errorf("partially execute-never entry decoded as executable")
	}
}

func TestHugeEncoding(t *testing.T) {
	huge := New().Valid(true).Huge(true)
	if raw := huge.Encode(X86_64); raw&x86Huge == 0 {
		t.Errorf("x86 huge entry lacks bit 7: %#x", raw)
	}
	if raw := huge.Encode(Aarch64); raw&aarchPageDescriptor != 0 {
		t.Errorf("aarch64 block entry has the page-descriptor bit set: %#x", raw)
	}
	if !Decode(Aarch64, uint64(aarchValid)).IsHuge() {
		t.Errorf("aarch64 descriptor without the page bit should decode as huge")
	}
}

func TestFromSection(t *testing.T) {
	for _, tc := range []struct {
		name  string
		sf    SectionFlags
		valid bool
		write bool
		exec  bool
	}{
		{"text", SectionAllocated | SectionExecutable, true, false, true},
		{"rodata", SectionAllocated, true, false, false},
		{"data", SectionAllocated | SectionWritable, true, true, false},
		{"debug", SectionWritable, false, true, false},
	} {
		f := FromSection(tc.sf)
		if f.IsValid() != tc.valid || f.IsWritable() != tc.write || f.IsExecutable() != tc.exec {
			t.Errorf("%s: got %v", tc.name, f)
		}
	}
	// A non-executable section must encode with NX on x86-64.
	if raw := FromSection(SectionAllocated).Encode(X86_64); raw&x86NoExec == 0 {
		t.Errorf("rodata section encoding lacks NX: %#x", raw)
	}
}

func TestForParentTable(t *testing.T) {
	leaf := New().Valid(true).Writable(false).Exclusive(true)
	parent := leaf.ForParentTable()
	if !parent.IsValid() || !parent.IsWritable() || !parent.IsExecutable() {
		t.Errorf("parent flags must be valid+writable+executable: %v", parent)
	}
	if parent.IsExclusive() {
		t.Errorf("parent flags must never be exclusive: %v", parent)
	}
}
