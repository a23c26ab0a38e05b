// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bbuf provides block-chained byte buffers for staging in-flight
// data between a producer and a consumer.
//
// The package offers four closely related primitives:
//
//   - Linear: a fixed contiguous buffer with independent read/write
//     cursors, for descriptor I/O staging
//   - SPSCQueue: an unbounded single-producer single-consumer linked
//     queue with node recycling
//   - BlockBuffer: an unbounded FIFO of fixed-size blocks for
//     single-threaded use
//   - SPSCBlockBuffer: BlockBuffer's semantics across one producer
//     goroutine and one consumer goroutine
//
// # Quick Start
//
// Direct constructors (recommended for most cases):
//
//	b := bbuf.NewBlockBuffer(-1)                       // page-sized blocks
//	s := bbuf.NewSPSCBlockBuffer(4096, bbuf.WaitCond)  // cross-goroutine
//	q := bbuf.NewSPSCQueue[Event](bbuf.WaitSpin)
//
// Builder API for the tunable disciplines:
//
//	s := bbuf.New(4096).SpinCond(64).Build()
//	s := bbuf.New(-1).CondTimeout(8, 50*time.Microsecond).Build()
//	s := bbuf.New(-1).EventFD().Build()                // poll s.EventFD()
//
// # Basic Usage
//
// A producer appends bytes into the tail block; when the tail fills, a new
// block rolls on, recycled from the free list when possible. A consumer
// pulls bytes from the head; a fully drained head moves to the preserved
// list, which keeps every pointer handed out by the read operations valid
// until an explicit release:
//
//	bbuf.WriteValue(b, uint64(42))
//	b.WriteString("payload")
//
//	v := bbuf.ReadValue[uint64](b) // borrow into the buffer
//	s := b.GetString()             // copy
//	b.ClearPreserved(8)            // *v may dangle after this
//
// Returned byte slices and value pointers are non-owning borrows. They
// stay valid until a ClearPreserved call whose cumulative byte count
// covers the block they point into; blocks are released whole, so a
// partially covered block keeps all of its pointers alive.
//
// # Contiguous Writes
//
// Write may split its input across blocks. WriteCont never does: when the
// tail lacks room the write lands wholly in a fresh block, which is the
// guarantee ReadCont relies on to return a single contiguous borrow. The
// structured forms (WriteValue, WriteString) frame their payloads with the
// contiguous discipline so values never straddle a boundary. A contiguous
// request larger than one block is a programming error and panics.
//
// # Cross-Goroutine Handoff
//
// SPSCBlockBuffer publishes producer progress by release-storing the
// private write cursor into the tail block's commit field; the consumer
// observes it with an acquire load. That pairing is the sole
// synchronization edge: data bytes themselves are not atomic, and no byte
// is copied on handoff. Six notification disciplines are selectable at
// construction, from pure release stores (WaitFree) through spinning and
// condition variables to eventfd integration with an external poller:
//
//	s := bbuf.NewSPSCBlockBuffer(-1, bbuf.WaitCond)
//
//	go func() { // producer
//	    for ev := range events {
//	        bbuf.WriteValue(s, ev)
//	    }
//	}()
//
//	go func() { // consumer
//	    for {
//	        ev := bbuf.GetValue[Event](s) // blocks per discipline
//	        process(ev)
//	    }
//	}()
//
// In WaitFree mode nothing blocks and the caller owns readiness:
//
//	backoff := iox.Backoff{}
//	for s.Empty() {
//	    backoff.Wait()
//	}
//	v := bbuf.ReadValue[uint64](s)
//
// In WaitEventFD mode the producer side also writes the 64-bit value 1 to
// a non-blocking eventfd after each publication. Consumers poll EventFD()
// externally; kernel counts coalesce, so each wakeup must drain until
// Empty.
//
// # Descriptor I/O
//
// InputFromFD and OutputToFD follow POSIX read(2)/write(2) semantics:
// partial progress is normal, a zero return ends the loop cleanly, and a
// failed syscall surfaces as the operation's error only when the call has
// moved no bytes yet — otherwise the partial count is returned and the
// error is deferred to the next call. EAGAIN/EWOULDBLOCK map to
// [ErrWouldBlock] for ecosystem consistency.
//
// # Thread Safety
//
// SPSCQueue and SPSCBlockBuffer tolerate exactly one producer goroutine
// and one consumer goroutine for their lifetime; BlockBuffer is
// single-threaded; Linear allows one writer and one reader to race on
// data and cursors, but capacity changes must be quiesced. Violating these
// constraints causes undefined behavior including data corruption.
//
// There is no built-in cancellation or shutdown: a WaitCondTimeout expiry
// re-tests the predicate and keeps waiting. Users signal shutdown through
// their own channel and make both sides cease operations before dropping
// the buffer.
//
// # Race Detection
//
// Go's race detector tracks explicit synchronization primitives but cannot
// observe happens-before relationships established through atomic memory
// orderings on separate variables, which is exactly how these buffers
// synchronize. Concurrent tests are skipped under the detector via
// [RaceEnabled]; the algorithms are validated by stress tests without it.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit memory
// ordering, [code.hybscloud.com/spin] for CPU pause instructions,
// golang.org/x/sys/unix for descriptor and eventfd syscalls, and
// github.com/eapache/queue for the single-threaded block lists.
package bbuf
