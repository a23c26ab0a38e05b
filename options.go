// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bbuf

import (
	"os"
	"time"
)

// WaitMode selects how a consumer waits for producer progress and how the
// producer signals it.
//
// [SPSCQueue] accepts WaitFree, WaitSpin and WaitCond. [SPSCBlockBuffer]
// accepts all six modes.
type WaitMode int

const (
	// WaitFree never blocks. The caller must check Empty before Front,
	// Pop or a structured read; violating that is a programming error.
	WaitFree WaitMode = iota

	// WaitSpin busy-loops on the readiness predicate with CPU pause
	// instructions between probes.
	WaitSpin

	// WaitCond blocks on a condition variable. The producer publishes
	// progress under the mutex and signals, so wakeups are never lost.
	WaitCond

	// WaitSpinCond probes the predicate a configured number of times,
	// then falls back to WaitCond.
	WaitSpinCond

	// WaitCondTimeout blocks with a timeout and re-tests the predicate on
	// expiry. The producer signals only every interval writes (see
	// [Builder.CondTimeout]); the
	// timeout is a liveness nudge against the batched wakeups, not an
	// abort.
	WaitCondTimeout

	// WaitEventFD publishes progress with a release store and writes the
	// 64-bit value 1 to a non-blocking eventfd. Consumers integrate by
	// polling the descriptor externally and must drain until Empty on
	// each wakeup; eventfd counts coalesce. Linux only.
	WaitEventFD
)

// Options configures block buffer creation.
type Options struct {
	// blockSize is the byte size of one block; <= 0 means OS page size.
	blockSize int

	// mode is the notification discipline.
	mode WaitMode

	// notifyInterval batches producer notifications (WaitCondTimeout).
	notifyInterval int

	// waitTimeout bounds one consumer wait (WaitCondTimeout).
	waitTimeout time.Duration

	// spinCount is the probe budget before blocking (WaitSpinCond).
	spinCount int
}

// Builder creates block buffers with fluent configuration.
//
// Example:
//
//	// Cross-thread buffer with batched wakeups
//	b := bbuf.New(4096).CondTimeout(8, 50*time.Microsecond).Build()
//
//	// Single-threaded buffer with page-sized blocks
//	b := bbuf.New(-1).BuildBlockBuffer()
//
// Direct constructors ([NewBlockBuffer], [NewSPSCBlockBuffer],
// [NewSPSCQueue]) remain the recommended path when the defaults fit.
type Builder struct {
	opts Options
}

// New creates a buffer builder. blockSize is the byte size of one block;
// pass -1 (or any non-positive value) for the OS page size. The block size
// cannot change after construction.
func New(blockSize int) *Builder {
	return &Builder{opts: Options{
		blockSize:      blockSize,
		mode:           WaitFree,
		notifyInterval: 1,
		waitTimeout:    100 * time.Microsecond,
		spinCount:      1,
	}}
}

// WaitFree selects the wait-free discipline (the default).
func (b *Builder) WaitFree() *Builder {
	b.opts.mode = WaitFree
	return b
}

// Spin selects the busy-spin discipline.
func (b *Builder) Spin() *Builder {
	b.opts.mode = WaitSpin
	return b
}

// Cond selects the condition-variable discipline.
func (b *Builder) Cond() *Builder {
	b.opts.mode = WaitCond
	return b
}

// SpinCond selects the spin-then-block discipline with the given probe
// budget. Panics if spinCount < 1.
func (b *Builder) SpinCond(spinCount int) *Builder {
	if spinCount < 1 {
		panic("bbuf: spin count must be >= 1")
	}
	b.opts.mode = WaitSpinCond
	b.opts.spinCount = spinCount
	return b
}

// CondTimeout selects the timed condition discipline. The producer signals
// every interval writes; the consumer re-tests its predicate every timeout.
// Panics if interval < 1 or timeout <= 0.
func (b *Builder) CondTimeout(interval int, timeout time.Duration) *Builder {
	if interval < 1 {
		panic("bbuf: notify interval must be >= 1")
	}
	if timeout <= 0 {
		panic("bbuf: wait timeout must be positive")
	}
	b.opts.mode = WaitCondTimeout
	b.opts.notifyInterval = interval
	b.opts.waitTimeout = timeout
	return b
}

// EventFD selects the eventfd discipline. Linux only; Build panics on
// other platforms.
func (b *Builder) EventFD() *Builder {
	b.opts.mode = WaitEventFD
	return b
}

// Build creates an [SPSCBlockBuffer] with the configured options.
func (b *Builder) Build() *SPSCBlockBuffer {
	return newSPSCBlockBuffer(b.opts)
}

// BuildBlockBuffer creates a single-threaded [BlockBuffer]. The wait mode
// and notification knobs do not apply to it; only the block size is used.
func (b *Builder) BuildBlockBuffer() *BlockBuffer {
	return NewBlockBuffer(b.opts.blockSize)
}

// BuildQueue creates an [SPSCQueue] with the builder's wait mode.
// Panics if the mode is not WaitFree, WaitSpin or WaitCond.
func BuildQueue[T any](b *Builder) *SPSCQueue[T] {
	return NewSPSCQueue[T](b.opts.mode)
}

// resolveBlockSize maps the "use the page size" sentinel.
func resolveBlockSize(blockSize int) int {
	if blockSize <= 0 {
		return os.Getpagesize()
	}
	return blockSize
}

// pad is cache line padding to prevent false sharing.
type pad [64]byte
