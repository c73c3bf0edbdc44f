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

package tlb

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"osmium.dev/osmium/pkg/memtypes"
)

// Vector identifies an interrupt vector.
type Vector uint8

// VectorTLBShootdown is the vector used for shootdown IPIs. It is
// delivered non-maskably, like an NMI on x86-64 or a FIQ-class fast
// IPI on ARM64, so a CPU spinning with interrupts masked still handles
// it.
const VectorTLBShootdown Vector = 0x40

// CPU models one core: a TLB, a root register, an interrupt mask, and
// an interrupt delivery loop running as a goroutine between Start and
// Stop.
type CPU struct {
	id      int
	tlb     *TLB
	started atomic.Bool
	masked  atomic.Bool
	root    atomic.Uint64

	coord *Shootdown
	ipi   chan Vector
	done  chan struct{}
	wg    sync.WaitGroup

	// deliverMu fences IPI delivery against Stop: any send that saw the
	// CPU running completes its enqueue before Stop's drain begins.
	deliverMu sync.Mutex
}

// NewCPU returns a stopped CPU with the given id.
func NewCPU(id int) *CPU {
	return &CPU{
		id:  id,
		tlb: NewTLB(),
	}
}

// ID returns this CPU's identifier.
func (c *CPU) ID() int {
	return c.id
}

// TLB returns this CPU's translation cache.
func (c *CPU) TLB() *TLB {
	return c.tlb
}

// Started returns true if this CPU is between Start and Stop.
func (c *CPU) Started() bool {
	return c.started.Load()
}

// CurrentRoot returns the physical address held in this CPU's root
// register, the CR3/TTBR analog naming the active top-level table.
func (c *CPU) CurrentRoot() memtypes.PhysicalAddress {
	return memtypes.CanonicalPhysicalAddress(c.root.Load())
}

// SetRoot loads the root register and flushes all non-global cached
// translations, as a hardware address-space switch does. The model does
// not track globality per cached entry, so it flushes everything.
func (c *CPU) SetRoot(p memtypes.PhysicalAddress) {
	c.root.Store(p.Value())
	c.tlb.FlushAll()
}

// MaskInterrupts disables local interrupt delivery and returns the
// previous state, for restoring afterwards. Non-maskable vectors are
// unaffected.
func (c *CPU) MaskInterrupts() bool {
	return c.masked.Swap(true)
}

// RestoreInterrupts restores a mask state previously returned by
// MaskInterrupts.
func (c *CPU) RestoreInterrupts(prev bool) {
	c.masked.Store(prev)
}

// Start brings the CPU online under the given shootdown coordinator and
// launches its interrupt delivery loop.
func (c *CPU) Start(coord *Shootdown) {
	if c.started.Swap(true) {
		return
	}
	c.coord = coord
	c.ipi = make(chan Vector, 16)
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.run()
}

// Stop takes the CPU offline, waits for its delivery loop to exit, and
// handles any vectors still queued. A shootdown IPI left behind would
// hold its initiator's pending count above zero forever.
func (c *CPU) Stop() {
	if !c.started.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	for {
		select {
		case v := <-c.ipi:
			c.handle(v)
		default:
			return
		}
	}
}

// sendIPI delivers a vector to this CPU. The shootdown vector is
// non-maskable; delivery does not consult the interrupt mask. A CPU
// stopped after the initiator snapshotted it handles the vector in
// place: the sequence in flight still needs its acknowledgement.
func (c *CPU) sendIPI(v Vector) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	select {
	case <-c.done:
		c.handle(v)
	default:
		c.ipi <- v
	}
}

func (c *CPU) run() {
	defer c.wg.Done()
	for {
		select {
		case v := <-c.ipi:
			c.handle(v)
		case <-c.done:
			return
		}
	}
}

func (c *CPU) handle(v Vector) {
	switch v {
	case VectorTLBShootdown:
		r := c.coord.published()
		c.tlb.FlushRange(r)
		c.coord.acknowledge()
	default:
		logrus.WithFields(logrus.Fields{
			"cpu":    c.id,
			"vector": v,
		}).Warn("spurious interrupt vector")
	}
}
