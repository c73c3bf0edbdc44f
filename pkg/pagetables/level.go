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
	"osmium.dev/osmium/pkg/memtypes"
)

// Level identifies a table's position in the 4-level hierarchy: P4 is
// the root, P1 the leaf. Only levels above P1 support next-table
// navigation.
type Level int

const (
	// P1 is the leaf level; its entries map 4KiB pages.
	P1 Level = 1
	// P2 maps 2MiB regions per entry, or points at P1 tables.
	P2 Level = 2
	// P3 maps 1GiB regions per entry, or points at P2 tables.
	P3 Level = 3
	// P4 is the root level.
	P4 Level = 4
)

const (
	// EntriesPerTable is the number of entries in one table.
	EntriesPerTable = 512

	// EntrySize is the size of one entry in bytes.
	EntrySize = 8

	// RecursiveIndex is the P4 slot reserved for the recursive
	// self-mapping. No ordinary mapping may ever be installed there; the
	// page allocator's managed regions must exclude the address range it
	// shadows.
	RecursiveIndex = 510
)

// IndexAt returns the table index selecting the given page at the given
// level: bits [39:47] of the address for P4 down to bits [12:20] for P1,
// which in page-number terms is 9-bit groups from bit 27 down.
func IndexAt(level Level, page memtypes.Page) int {
	return int((page.Number() >> (9 * (uint(level) - 1))) & (EntriesPerTable - 1))
}

// NextTableAddress derives the virtual address of the next-lower table
// reached through the given index of the table at tableAddr, under the
// recursive mapping: each indirection through the recursive slot strips
// one table selector off the top of the address and pushes the next
// index in, which is a left shift by 9 plus the index in the page-offset
// position.
func NextTableAddress(tableAddr memtypes.VirtualAddress, index int) memtypes.VirtualAddress {
	return memtypes.CanonicalVirtualAddress(tableAddr.Value()<<9 | uint64(index)<<memtypes.PageShift)
}

// RecursiveP4Address is the virtual address at which the active P4
// table sees itself through the recursive slot: all four table
// selectors equal to RecursiveIndex.
func RecursiveP4Address() memtypes.VirtualAddress {
	n := uint64(RecursiveIndex)
	return memtypes.CanonicalVirtualAddress(n<<39 | n<<30 | n<<21 | n<<memtypes.PageShift)
}
