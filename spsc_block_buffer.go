// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bbuf

import (
	"sync"
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// sblock is one fixed-size unit of a cross-thread chain. commit is written
// only by the producer and live-read by the consumer under acquire
// ordering while the block is the tail; once a successor block exists the
// value is final.
type sblock struct {
	data   []byte
	commit atomix.Uint64
}

// SPSCBlockBuffer is an unbounded block-chained byte buffer safe for
// exactly one producer goroutine and one consumer goroutine.
//
// It carries [BlockBuffer]'s operational surface across a thread boundary
// by holding the chain, the free list and the preserved list in
// [SPSCQueue]s and publishing write progress with release stores into the
// tail block's commit field. Handoff is pointer-visible: no byte is copied
// when the consumer starts observing a block.
//
// Field roles:
//
//   - rpos and oneBlockLeft are consumer-only
//   - wposPrivate and notifyCount are producer-only
//   - wpos (the address of the tail's commit field) is written only by
//     the producer, read by both
//   - each commit field is written only by the producer, read by both
//
// The free list runs the producer/consumer split reversed: the consumer
// recycles blocks into it and the producer takes them out, which the
// SPSCQueue guarantees cover without extra synchronization.
//
// oneBlockLeft caches the consumer's view that the chain has collapsed to
// a single block. When it is false there is guaranteed to be more than one
// block and the head's commit is immutable, so no atomics are needed to
// read it; when it is true the consumer re-verifies by comparing the
// head's commit address against wpos.
type SPSCBlockBuffer struct {
	blockSize int
	mode      WaitMode

	chain     *SPSCQueue[*sblock] // producer pushes, consumer pops
	freeList  *SPSCQueue[[]byte]  // consumer pushes, producer pops
	preserved *SPSCQueue[*sblock] // consumer-only on both ends

	_            pad
	rpos         int
	oneBlockLeft bool
	_            pad
	wposPrivate  int
	notifyCount  int
	_            pad
	wpos         atomix.Uintptr // *atomix.Uint64: the tail block's commit
	_            pad

	notifyInterval int
	waitTimeout    time.Duration
	spinCount      int

	mu       sync.Mutex
	notEmpty *sync.Cond
	wake     chan struct{} // WaitCondTimeout wakeups, 1-buffered
	efd      int           // WaitEventFD descriptor
}

// NewSPSCBlockBuffer creates a cross-thread block buffer with the given
// wait mode and default notification knobs. blockSize is the byte size of
// one block; pass -1 (or any non-positive value) for the OS page size.
// Use [New] and the [Builder] to tune the WaitSpinCond and WaitCondTimeout
// knobs.
func NewSPSCBlockBuffer(blockSize int, mode WaitMode) *SPSCBlockBuffer {
	opts := New(blockSize).opts
	opts.mode = mode
	return newSPSCBlockBuffer(opts)
}

func newSPSCBlockBuffer(opts Options) *SPSCBlockBuffer {
	if opts.mode < WaitFree || opts.mode > WaitEventFD {
		panic("bbuf: wait mode out of range")
	}

	b := &SPSCBlockBuffer{
		blockSize:      resolveBlockSize(opts.blockSize),
		mode:           opts.mode,
		chain:          NewSPSCQueue[*sblock](WaitFree),
		freeList:       NewSPSCQueue[[]byte](WaitFree),
		preserved:      NewSPSCQueue[*sblock](WaitFree),
		oneBlockLeft:   true,
		notifyInterval: opts.notifyInterval,
		waitTimeout:    opts.waitTimeout,
		spinCount:      opts.spinCount,
		efd:            -1,
	}
	b.notEmpty = sync.NewCond(&b.mu)

	blk := &sblock{data: make([]byte, b.blockSize)}
	b.chain.Push(blk)
	b.wpos.StoreRelaxed(uintptr(unsafe.Pointer(&blk.commit)))

	switch b.mode {
	case WaitCondTimeout:
		b.wake = make(chan struct{}, 1)
	case WaitEventFD:
		efd, err := newEventFD()
		if err != nil {
			panic("bbuf: eventfd: " + err.Error())
		}
		b.efd = efd
	}
	return b
}

// BlockSize returns the fixed byte size of one block.
func (b *SPSCBlockBuffer) BlockSize() int { return b.blockSize }

// EventFD returns the eventfd written by producer notifications in
// WaitEventFD mode, or -1 in every other mode. Consumers poll it
// externally; counts coalesce, so each readable event must be answered by
// draining until Empty.
func (b *SPSCBlockBuffer) EventFD() int { return b.efd }

// Close releases the eventfd in WaitEventFD mode. Both sides must have
// ceased operations first.
func (b *SPSCBlockBuffer) Close() error {
	if b.efd >= 0 {
		err := closeEventFD(b.efd)
		b.efd = -1
		return err
	}
	return nil
}

// Write appends p (producer only), splitting it across blocks as needed,
// then publishes the progress through the notification discipline.
// Fragmented data must be consumed with per-block ReadCont calls or
// descriptor output.
func (b *SPSCBlockBuffer) Write(p []byte) {
	b.writeRaw(p)
	b.Notify()
}

func (b *SPSCBlockBuffer) writeRaw(p []byte) {
	for len(p) > 0 {
		b.addBlockIfNeeded()
		n := copy(b.tailBlock().data[b.wposPrivate:], p)
		p = p[n:]
		b.wposPrivate += n
	}
}

// WriteCont appends p wholly within one block (producer only), rolling a
// new block first when the tail lacks room, then notifies. A later
// ReadCont of the same length returns a contiguous borrow.
// Panics if len(p) exceeds the block size.
func (b *SPSCBlockBuffer) WriteCont(p []byte) {
	b.writeContRaw(p)
	b.Notify()
}

func (b *SPSCBlockBuffer) writeContRaw(p []byte) {
	if len(p) == 0 {
		return
	}
	if len(p) > b.blockSize {
		panic("bbuf: contiguous write larger than block size")
	}
	b.addBlockIfNeededCont(len(p))
	copy(b.tailBlock().data[b.wposPrivate:], p)
	b.wposPrivate += len(p)
}

// WriteString appends s framed with a host-order uint64 length prefix
// (producer only). Prefix and payload both use the contiguous discipline;
// the frame is published with a single notification.
func (b *SPSCBlockBuffer) WriteString(s string) {
	n := uint64(len(s))
	b.writeContRaw(valueBytes(&n))
	b.writeContRaw(unsafe.Slice(unsafe.StringData(s), len(s)))
	b.Notify()
}

// writeValue implements [ValueWriter] with the contiguous discipline.
func (b *SPSCBlockBuffer) writeValue(p []byte) {
	b.writeContRaw(p)
	b.Notify()
}

// readValue implements [ValueReader], waiting per the buffer's mode until
// the head block holds size committed bytes. The value is never split
// across blocks.
func (b *SPSCBlockBuffer) readValue(size int) unsafe.Pointer {
	b.popBlockIfNeeded(size)
	head := b.headBlock()
	p := unsafe.Pointer(&head.data[b.rpos])
	b.rpos += size
	return p
}

// ReadCont consumes n bytes (consumer only) and returns them as a borrow
// into a single block, waiting per the buffer's mode. The bytes must have
// been written with the contiguous discipline.
// Panics if n exceeds the block size: such a request structurally cannot
// be satisfied even after a block roll.
func (b *SPSCBlockBuffer) ReadCont(n int) []byte {
	if n > b.blockSize {
		panic("bbuf: contiguous read larger than block size")
	}
	b.popBlockIfNeeded(n)
	head := b.headBlock()
	p := head.data[b.rpos : b.rpos+n : b.rpos+n]
	b.rpos += n
	return p
}

// GetCont copies len(dst) consumed bytes into dst (consumer only) and
// releases preserved blocks covered by the copy. Use it when the caller
// owns the destination and does not need pointer stability.
func (b *SPSCBlockBuffer) GetCont(dst []byte) {
	n := len(dst)
	if n > b.blockSize {
		panic("bbuf: contiguous read larger than block size")
	}
	b.popBlockIfNeeded(n)
	head := b.headBlock()
	copy(dst, head.data[b.rpos:b.rpos+n])
	b.rpos += n
	b.ClearPreserved(n)
}

// GetString consumes a length-prefixed string written by WriteString
// (consumer only). The returned string is a copy; the preserved blocks
// covered by the frame are released before returning.
func (b *SPSCBlockBuffer) GetString() string {
	n := int(*ReadValue[uint64](b))
	b.popBlockIfNeeded(n)
	head := b.headBlock()
	s := string(head.data[b.rpos : b.rpos+n])
	b.rpos += n
	b.ClearPreserved(8 + n)
	return s
}

// GetValue consumes one T (consumer only) and returns it by value,
// releasing the preserved blocks its bytes covered. The borrow-returning
// counterpart is [ReadValue].
func GetValue[T any](b *SPSCBlockBuffer) T {
	v := *ReadValue[T](b)
	b.ClearPreserved(int(unsafe.Sizeof(v)))
	return v
}

// EnsureCont returns a borrow of n writable bytes at the write cursor
// (producer only), wholly within one block, without advancing the cursor
// or notifying. The caller advances with a matching WriteCont; passing the
// filled window back to WriteCont is an in-place no-op copy.
// Panics if n exceeds the block size.
func (b *SPSCBlockBuffer) EnsureCont(n int) []byte {
	if n > b.blockSize {
		panic("bbuf: contiguous write larger than block size")
	}
	b.addBlockIfNeededCont(n)
	return b.tailBlock().data[b.wposPrivate : b.wposPrivate+n : b.wposPrivate+n]
}

// Notify publishes the producer's private write cursor into the tail
// block's commit field with a release store, then signals per the
// notification discipline (producer only). Write operations call it
// implicitly; call it directly after staging bytes through EnsureCont.
func (b *SPSCBlockBuffer) Notify() {
	switch b.mode {
	case WaitCond, WaitSpinCond:
		b.mu.Lock()
		// Atomic is still needed because Empty does not take the lock.
		b.curWpos().StoreRelease(uint64(b.wposPrivate))
		b.mu.Unlock()
		b.notEmpty.Signal()
	case WaitCondTimeout:
		b.curWpos().StoreRelease(uint64(b.wposPrivate))
		b.notifyCount++
		if b.notifyCount == b.notifyInterval {
			b.notifyCount = 0
			select {
			case b.wake <- struct{}{}:
			default:
			}
		}
	case WaitEventFD:
		b.curWpos().StoreRelease(uint64(b.wposPrivate))
		notifyEventFD(b.efd)
	default:
		b.curWpos().StoreRelease(uint64(b.wposPrivate))
	}
}

// InputFromFD reads from fd into the buffer (producer only), rolling new
// blocks as needed. With cont false it loops until the descriptor is
// drained; with cont true it performs at most one syscall. maxLen bounds
// the total bytes read; pass a negative value for no bound. A single
// notification is issued when any progress was made. Returns the total
// bytes read; the error is non-nil only when the first syscall failed
// before any progress.
func (b *SPSCBlockBuffer) InputFromFD(fd int, cont bool, maxLen int) (int, error) {
	total := 0
	for {
		b.addBlockIfNeeded()
		win := b.tailBlock().data[b.wposPrivate:]
		if maxLen >= 0 && maxLen-total < len(win) {
			win = win[:maxLen-total]
		}
		n, err := readFD(fd, win)
		if err != nil {
			if total == 0 {
				return 0, err
			}
			break
		}
		if n == 0 {
			break
		}
		b.wposPrivate += n
		total += n
		if cont {
			break
		}
	}
	if total > 0 {
		b.Notify()
	}
	return total, nil
}

// OutputToFD writes buffered bytes to fd (consumer only) without blocking
// on the producer. The head's writable span is bounded by an acquire load
// of its commit while it may still be the tail, or by the plain value once
// a successor exists. Drained non-tail heads move to the preserved list,
// and every preserved block fully covered by this call's progress is
// released before returning. Returns the total bytes written; the error is
// non-nil only when the first syscall failed before any progress.
func (b *SPSCBlockBuffer) OutputToFD(fd int) (int, error) {
	total := 0
	for {
		b.popBlockIfAvailable(1)
		head := b.headBlock()
		var limit int
		if b.oneBlockLeft {
			limit = int(head.commit.LoadAcquire())
		} else {
			limit = int(head.commit.LoadRelaxed())
		}
		n, err := writeFD(fd, head.data[b.rpos:limit])
		if err != nil {
			if total == 0 {
				return 0, err
			}
			break
		}
		if n == 0 {
			break
		}
		b.rpos += n
		total += n
	}
	b.ClearPreserved(total)
	return total, nil
}

// Empty reports whether no unread bytes remain (consumer only). It may
// return true transiently while a producer write is mid-flight; once the
// producer has returned from the write, a subsequent Empty returns false
// until the bytes are drained.
func (b *SPSCBlockBuffer) Empty() bool {
	if !b.oneBlockLeft {
		return false
	}
	b.oneBlockLeft = b.checkOneBlockLeft()
	return b.oneBlockLeft && b.rpos == int(b.pubWpos().LoadAcquire())
}

// ClearPreserved releases preserved blocks from the front while their
// cumulative commit lengths stay within n, recycling each data region onto
// the free list (consumer only). A block only partially covered stays
// preserved; pointers into it remain valid.
func (b *SPSCBlockBuffer) ClearPreserved(n int) {
	cleared := 0
	for !b.preserved.Empty() {
		head := *b.preserved.Front()
		commit := int(head.commit.LoadRelaxed())
		if cleared+commit > n {
			break
		}
		cleared += commit
		b.preserved.Pop()
		b.freeList.Push(head.data)
	}
}

// curWpos returns the producer's own published commit field.
func (b *SPSCBlockBuffer) curWpos() *atomix.Uint64 {
	return (*atomix.Uint64)(unsafe.Pointer(b.wpos.LoadRelaxed()))
}

// pubWpos returns the published commit field from the consumer side.
func (b *SPSCBlockBuffer) pubWpos() *atomix.Uint64 {
	return (*atomix.Uint64)(unsafe.Pointer(b.wpos.LoadAcquire()))
}

func (b *SPSCBlockBuffer) tailBlock() *sblock { return *b.chain.Back() }
func (b *SPSCBlockBuffer) headBlock() *sblock { return *b.chain.Front() }

// checkOneBlockLeft re-verifies the single-block hint: the chain holds one
// block iff the head's commit field is the published write target.
func (b *SPSCBlockBuffer) checkOneBlockLeft() bool {
	return uintptr(unsafe.Pointer(&b.headBlock().commit)) == b.wpos.LoadAcquire()
}

// addBlock finalizes the outgoing tail's commit, rolls a new tail on
// (recycled from the free list when possible), and republishes the write
// target at the new tail's commit field.
func (b *SPSCBlockBuffer) addBlock() {
	b.curWpos().StoreRelease(uint64(b.wposPrivate))
	b.wposPrivate = 0

	var blk *sblock
	if b.freeList.Empty() {
		blk = &sblock{data: make([]byte, b.blockSize)}
	} else {
		blk = &sblock{data: *b.freeList.Front()}
		b.freeList.Pop()
	}
	b.chain.Push(blk)
	b.wpos.StoreRelease(uintptr(unsafe.Pointer(&blk.commit)))
}

func (b *SPSCBlockBuffer) addBlockIfNeeded() {
	if b.wposPrivate == b.blockSize {
		b.addBlock()
	}
}

func (b *SPSCBlockBuffer) addBlockIfNeededCont(n int) {
	if n > b.blockSize-b.wposPrivate {
		b.addBlock()
	}
}

// popBlock demotes the head to the preserved list and refreshes the
// single-block hint.
func (b *SPSCBlockBuffer) popBlock() {
	head := b.headBlock()
	b.chain.Pop()
	b.preserved.Push(head)
	b.rpos = 0
	b.oneBlockLeft = b.checkOneBlockLeft()
}

// popBlockIfAvailable advances to the next block when the finalized head
// cannot satisfy size more bytes, without ever waiting on the producer.
func (b *SPSCBlockBuffer) popBlockIfAvailable(size int) {
	if b.oneBlockLeft {
		if !b.checkOneBlockLeft() && int(b.headBlock().commit.LoadRelaxed())-b.rpos < size {
			b.popBlock()
		}
	} else if int(b.headBlock().commit.LoadRelaxed())-b.rpos < size {
		b.popBlock()
	}
}

// popBlockIfNeeded ensures the head block holds size more committed bytes
// before a structured read, waiting per the buffer's mode.
//
// While more than one block exists the head's commit is immutable and the
// head is simply popped when short; when the chain has collapsed to one
// block the consumer waits on "bytes available at head >= size" under its
// discipline, re-verifying the single-block hint as it goes. WaitFree and
// WaitEventFD use the non-waiting path: wait-free callers must have
// checked readiness, and eventfd callers take readiness from the polled
// descriptor.
func (b *SPSCBlockBuffer) popBlockIfNeeded(size int) {
	if b.mode == WaitFree || b.mode == WaitEventFD {
		b.popBlockIfAvailable(size)
		return
	}

	if b.oneBlockLeft {
		b.wait(func() bool {
			return !(b.checkOneBlockLeft() && int(b.headBlock().commit.LoadAcquire())-b.rpos < size)
		})
		if int(b.headBlock().commit.LoadAcquire())-b.rpos < size {
			b.popBlock()
			if b.oneBlockLeft {
				b.wait(func() bool {
					// rpos is 0 right after a pop
					return int(b.headBlock().commit.LoadAcquire()) >= size
				})
			}
		}
	} else if int(b.headBlock().commit.LoadRelaxed())-b.rpos < size {
		b.popBlock()
		if b.oneBlockLeft {
			b.wait(func() bool {
				return int(b.headBlock().commit.LoadAcquire()) >= size
			})
		}
	}
}

// wait blocks until pred holds, per the buffer's mode.
func (b *SPSCBlockBuffer) wait(pred func() bool) {
	switch b.mode {
	case WaitSpin:
		sw := spin.Wait{}
		for !pred() {
			sw.Once()
		}
	case WaitCond:
		if pred() {
			return
		}
		b.mu.Lock()
		for !pred() {
			b.notEmpty.Wait()
		}
		b.mu.Unlock()
	case WaitSpinCond:
		sw := spin.Wait{}
		for i := 0; i < b.spinCount; i++ {
			if pred() {
				return
			}
			sw.Once()
		}
		b.mu.Lock()
		for !pred() {
			b.notEmpty.Wait()
		}
		b.mu.Unlock()
	case WaitCondTimeout:
		if pred() {
			return
		}
		t := time.NewTimer(b.waitTimeout)
		defer t.Stop()
		for !pred() {
			select {
			case <-b.wake:
			case <-t.C:
				t.Reset(b.waitTimeout)
			}
		}
	}
}
