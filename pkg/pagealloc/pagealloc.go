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

// Package pagealloc tracks ownership of virtual address space. Mapping
// a range of pages requires holding the AllocatedPages covering it, so
// two mappings can never race for the same virtual region.
package pagealloc

import (
	"osmium.dev/osmium/pkg/chunkalloc"
	"osmium.dev/osmium/pkg/memtypes"
)

// AllocatedPages is an exclusively-owned range of virtual pages. Split
// carves it in two, e.g. to place a guard page between a stack and its
// neighbor.
type AllocatedPages = chunkalloc.Allocated[memtypes.VirtualSpace]

// PageAllocator hands out exclusively-owned page ranges from a managed
// region of the virtual address space.
type PageAllocator struct {
	inner *chunkalloc.Allocator[memtypes.VirtualSpace]
}

// NewPageAllocator returns an allocator over the given page range.
func NewPageAllocator(region memtypes.PageRange) *PageAllocator {
	return &PageAllocator{inner: chunkalloc.New(region)}
}

// AllocatePages returns count exclusively-owned pages.
func (a *PageAllocator) AllocatePages(count uint64) (*AllocatedPages, error) {
	return a.inner.Allocate(count)
}

// AllocatePagesAt returns the count pages starting at the page
// containing addr, exclusively owned, or an error if any of them is
// unavailable.
func (a *PageAllocator) AllocatePagesAt(addr memtypes.VirtualAddress, count uint64) (*AllocatedPages, error) {
	return a.inner.AllocateAt(memtypes.PageContaining(addr), count)
}

// Recover reconstitutes a handle for pages whose ownership was moved
// out with Take and has now come back from an unmap.
func (a *PageAllocator) Recover(r memtypes.PageRange) *AllocatedPages {
	return a.inner.Recover(r)
}

// FreeCount returns the number of currently free pages.
func (a *PageAllocator) FreeCount() uint64 {
	return a.inner.FreeCount()
}
