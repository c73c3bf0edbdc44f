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

// Package tlb models per-CPU translation caches and the cross-CPU
// shootdown protocol that keeps them coherent with page-table edits.
//
// Each CPU runs as one goroutine, standing in for a hardware core: it
// owns a TLB, a current-root register (the CR3/TTBR analog), and an
// interrupt delivery channel. The shootdown vector is delivered as a
// non-maskable interrupt, so it reaches a CPU even while that CPU has
// its local interrupts masked.
package tlb

import (
	"sync"

	"osmium.dev/osmium/pkg/memtypes"
)

// TLB is one CPU's translation cache. The owning CPU fills it on
// simulated translations; the shootdown handler invalidates from it. It
// is internally locked because those two run on different goroutines.
type TLB struct {
	mu      sync.Mutex
	entries map[uint64]memtypes.PhysicalAddress
}

// NewTLB returns an empty translation cache.
func NewTLB() *TLB {
	return &TLB{entries: make(map[uint64]memtypes.PhysicalAddress)}
}

// Insert caches a translation for the page containing vaddr.
func (t *TLB) Insert(page memtypes.Page, paddr memtypes.PhysicalAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[page.Number()] = paddr
}

// Lookup returns the cached translation for the given page, if any.
func (t *TLB) Lookup(page memtypes.Page) (memtypes.PhysicalAddress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[page.Number()]
	return p, ok
}

// FlushPage invalidates the cached translation for one page, the
// invlpg/tlbi-vae analog.
func (t *TLB) FlushPage(page memtypes.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, page.Number())
}

// FlushRange invalidates every page of r.
func (t *TLB) FlushRange(r memtypes.PageRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p := range r.All() {
		delete(t.entries, p.Number())
	}
}

// FlushAll invalidates the whole cache, the full-flush analog performed
// on an address-space switch.
func (t *TLB) FlushAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
}

// Len returns the number of cached translations.
func (t *TLB) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
