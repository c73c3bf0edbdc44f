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
	"runtime"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"osmium.dev/osmium/pkg/memtypes"
)

// Shootdown coordinates cross-CPU TLB invalidation. One instance exists
// per machine, created at multicore bring-up and injected into every
// mapper; its spin lock, published target range, and pending-ack
// counter are the only machine-wide mutable state in the memory
// subsystem.
type Shootdown struct {
	cpus []*CPU

	// inFlight serializes shootdown sequences machine-wide; it is
	// acquired with a CAS spin because the initiator holds it with
	// interrupts masked and must not sleep.
	inFlight atomic.Bool

	// targetStart/targetEnd publish the page range being invalidated.
	// They are written only while inFlight is held, before the pending
	// count is raised, so receivers that observe pending > 0 see a
	// consistent range.
	targetStart atomic.Uint64
	targetEnd   atomic.Uint64

	// pending counts outstanding acknowledgements for the sequence in
	// flight.
	pending atomic.Int64

	// ipisSent counts every shootdown IPI ever sent, for diagnostics.
	ipisSent atomic.Uint64
}

// NewShootdown returns a coordinator over the given CPUs.
func NewShootdown(cpus []*CPU) *Shootdown {
	return &Shootdown{cpus: cpus}
}

// CPUs returns the CPUs this coordinator manages.
func (s *Shootdown) CPUs() []*CPU {
	return s.cpus
}

// StartedCount returns the number of CPUs currently started.
func (s *Shootdown) StartedCount() int {
	n := 0
	for _, c := range s.cpus {
		if c.Started() {
			n++
		}
	}
	return n
}

// IPIsSent returns the total number of shootdown IPIs sent so far.
func (s *Shootdown) IPIsSent() uint64 {
	return s.ipisSent.Load()
}

// Broadcast makes every other started CPU invalidate r from its TLB and
// returns only once all have acknowledged. The initiator's own TLB is
// not touched; the caller flushes it directly (the local invlpg/tlbi).
//
// With at most one CPU started the protocol is skipped outright. The
// initiator masks its own interrupts for the whole sequence so it
// cannot be interrupted mid-coordination, and busy-waits for the
// acknowledgements rather than blocking: completion must not depend on
// a scheduler. Once initiated, a shootdown cannot be aborted, since a
// partial one would leave stale translations on some CPUs.
func (s *Shootdown) Broadcast(initiator *CPU, r memtypes.PageRange) {
	if r.IsEmpty() {
		return
	}
	var others []*CPU
	for _, c := range s.cpus {
		if c != initiator && c.Started() {
			others = append(others, c)
		}
	}
	if len(others) == 0 {
		return
	}

	prev := initiator.MaskInterrupts()
	defer initiator.RestoreInterrupts(prev)

	for !s.inFlight.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	s.targetStart.Store(r.Start().Number())
	s.targetEnd.Store(r.End().Number())
	s.pending.Store(int64(len(others)))

	for _, c := range others {
		s.ipisSent.Add(1)
		c.sendIPI(VectorTLBShootdown)
	}

	for s.pending.Load() != 0 {
		runtime.Gosched()
	}

	s.targetStart.Store(0)
	s.targetEnd.Store(0)
	s.inFlight.Store(false)

	logrus.WithFields(logrus.Fields{
		"cpu":   initiator.ID(),
		"range": r.String(),
		"acks":  len(others),
	}).Debug("tlb shootdown complete")
}

// published returns the page range currently being invalidated.
func (s *Shootdown) published() memtypes.PageRange {
	start := memtypes.NewPage(s.targetStart.Load())
	end := memtypes.NewPage(s.targetEnd.Load())
	return memtypes.NewPageRange(start, end)
}

// acknowledge records one CPU's completion of the sequence in flight.
func (s *Shootdown) acknowledge() {
	if s.pending.Add(-1) < 0 {
		logrus.Error("shootdown acknowledgement with no sequence in flight")
		s.pending.Store(0)
	}
}

// Flusher is a CPU-bound view of the coordinator: it flushes the local
// TLB and broadcasts to all other started CPUs. Mappers hold one of
// these for the CPU they run on.
type Flusher struct {
	coord *Shootdown
	cpu   *CPU
}

// NewFlusher binds the coordinator to the given initiating CPU.
func NewFlusher(coord *Shootdown, cpu *CPU) *Flusher {
	return &Flusher{coord: coord, cpu: cpu}
}

// CPU returns the CPU this flusher initiates from.
func (f *Flusher) CPU() *CPU {
	return f.cpu
}

// Flush invalidates r on every started CPU: locally by direct TLB
// invalidation, remotely through the shootdown protocol.
func (f *Flusher) Flush(r memtypes.PageRange) {
	if r.IsEmpty() {
		return
	}
	f.cpu.TLB().FlushRange(r)
	f.coord.Broadcast(f.cpu, r)
}

// FlushLocal invalidates r on the bound CPU only, for translations no
// other CPU can hold (the temporary page's private slot).
func (f *Flusher) FlushLocal(r memtypes.PageRange) {
	f.cpu.TLB().FlushRange(r)
}
