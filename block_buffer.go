// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bbuf

import (
	"unsafe"

	"github.com/eapache/queue"
)

// commitPending marks the chain's tail block, whose write end is the live
// write cursor rather than a finalized commit.
const commitPending = -1

// block is one fixed-size unit of a single-threaded chain. commit is the
// number of bytes finalized into data, or commitPending for the tail.
type block struct {
	data   []byte
	commit int
}

// BlockBuffer is an unbounded FIFO of fixed-size blocks for staging bytes
// between a writer and a reader on the same goroutine (or externally
// synchronized ones).
//
// Writers append into the tail block; when it fills, a new block is rolled
// on (recycled from the free list when possible). Readers consume from the
// head; a fully drained head moves to the preserved list, which keeps every
// pointer handed out by the read operations valid until ClearPreserved
// releases the covering block. Invariants:
//
//   - the chain is never empty
//   - exactly the last block has commit == commitPending
//   - every preserved block has a finalized commit
//   - block memory never moves
//
// For cross-goroutine use, see [SPSCBlockBuffer].
type BlockBuffer struct {
	blockSize int
	chain     *queue.Queue // of *block
	freeList  *queue.Queue // of []byte
	preserved *queue.Queue // of *block
	rpos      int // into the head block
	wpos      int // into the tail block
}

// NewBlockBuffer creates a block buffer. blockSize is the byte size of one
// block; pass -1 (or any non-positive value) for the OS page size.
func NewBlockBuffer(blockSize int) *BlockBuffer {
	b := &BlockBuffer{
		blockSize: resolveBlockSize(blockSize),
		chain:     queue.New(),
		freeList:  queue.New(),
		preserved: queue.New(),
	}
	b.chain.Add(&block{data: make([]byte, b.blockSize), commit: commitPending})
	return b
}

// BlockSize returns the fixed byte size of one block.
func (b *BlockBuffer) BlockSize() int { return b.blockSize }

// Write appends p, splitting it across blocks as needed. Fragmenting
// writes always make progress; readers of fragmented data must consume it
// with per-block ReadCont calls or descriptor output.
func (b *BlockBuffer) Write(p []byte) {
	for len(p) > 0 {
		b.addBlockIfNeeded()
		n := copy(b.tail().data[b.wpos:], p)
		p = p[n:]
		b.wpos += n
	}
}

// WriteCont appends p wholly within one block. If the tail lacks room, a
// new block is rolled first, so the bytes never straddle a boundary and a
// later ReadCont of the same length returns a contiguous borrow.
// Panics if len(p) exceeds the block size.
func (b *BlockBuffer) WriteCont(p []byte) {
	if len(p) == 0 {
		return
	}
	if len(p) > b.blockSize {
		panic("bbuf: contiguous write larger than block size")
	}
	b.addBlockIfNeededCont(len(p))
	copy(b.tail().data[b.wpos:], p)
	b.wpos += len(p)
}

// WriteString appends s framed with a host-order uint64 length prefix.
// Both the prefix and the payload use the contiguous discipline so that
// GetString can read them back without straddling a block.
func (b *BlockBuffer) WriteString(s string) {
	WriteValue(b, uint64(len(s)))
	b.WriteCont(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// writeValue implements [ValueWriter] with the contiguous discipline.
func (b *BlockBuffer) writeValue(p []byte) {
	b.WriteCont(p)
}

// readValue implements [ValueReader]. If the requested size would cross a
// finalized head block's boundary, the head moves to the preserved list
// first; the value is never split.
func (b *BlockBuffer) readValue(size int) unsafe.Pointer {
	b.popBlockIfNeeded(size)
	head := b.head()
	p := unsafe.Pointer(&head.data[b.rpos])
	b.rpos += size
	return p
}

// ReadCont consumes n bytes and returns them as a borrow into a single
// block. The bytes must have been written with the contiguous discipline.
// Panics if n exceeds the block size.
func (b *BlockBuffer) ReadCont(n int) []byte {
	if n > b.blockSize {
		panic("bbuf: contiguous read larger than block size")
	}
	b.popBlockIfNeeded(n)
	head := b.head()
	p := head.data[b.rpos : b.rpos+n : b.rpos+n]
	b.rpos += n
	return p
}

// GetString consumes a length-prefixed string written by WriteString.
// Unlike the read operations, the returned string is a copy.
func (b *BlockBuffer) GetString() string {
	n := int(*ReadValue[uint64](b))
	b.popBlockIfNeeded(n)
	head := b.head()
	s := string(head.data[b.rpos : b.rpos+n])
	b.rpos += n
	return s
}

// EnsureCont returns a borrow of n writable bytes at the write cursor,
// wholly within one block (rolling a new block if needed), without
// advancing the cursor. The caller advances it with a matching WriteCont;
// passing the filled window back to WriteCont is an in-place no-op copy.
// Panics if n exceeds the block size.
func (b *BlockBuffer) EnsureCont(n int) []byte {
	if n > b.blockSize {
		panic("bbuf: contiguous write larger than block size")
	}
	b.addBlockIfNeededCont(n)
	return b.tail().data[b.wpos : b.wpos+n : b.wpos+n]
}

// InputFromFD reads from fd into the buffer, rolling new blocks as needed.
// With cont false it loops until a read returns zero bytes or fails; with
// cont true it performs at most one syscall. Returns
// the total bytes read; the error is non-nil only when the first syscall
// failed before any progress.
func (b *BlockBuffer) InputFromFD(fd int, cont bool) (int, error) {
	total := 0
	for {
		b.addBlockIfNeeded()
		n, err := readFD(fd, b.tail().data[b.wpos:])
		if err != nil {
			if total == 0 {
				return 0, err
			}
			break
		}
		if n == 0 {
			break
		}
		b.wpos += n
		total += n
		if cont {
			break
		}
	}
	return total, nil
}

// OutputToFD writes buffered bytes to fd, draining block by block. The
// head's writable span is bounded by its commit, or by the live write
// cursor when the head is the tail. A fully drained non-tail head moves to
// the preserved list. Loops until a syscall fails, accepts zero bytes, or
// no committed bytes remain. Returns the total bytes written; the error is
// non-nil only when the first syscall failed before any progress.
func (b *BlockBuffer) OutputToFD(fd int) (int, error) {
	total := 0
	for {
		head := b.head()
		if head.commit != commitPending && b.rpos == head.commit {
			b.popBlock()
			continue
		}
		limit := head.commit
		if limit == commitPending {
			limit = b.wpos
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

		if head.commit != commitPending && b.rpos == head.commit {
			b.preserved.Add(head)
			b.chain.Remove()
			b.rpos = 0
			if b.chain.Length() == 0 {
				break
			}
		}
	}
	return total, nil
}

// Empty reports whether no unread bytes remain: the chain has collapsed to
// its tail block and the cursors meet.
func (b *BlockBuffer) Empty() bool {
	return b.head().commit == commitPending && b.rpos == b.wpos
}

// ClearPreserved releases preserved blocks from the front while their
// cumulative commit lengths stay within n, recycling each onto the free
// list. A block only partially covered by n stays preserved; pointers into
// it remain valid.
func (b *BlockBuffer) ClearPreserved(n int) {
	cleared := 0
	for b.preserved.Length() > 0 {
		head := b.preserved.Peek().(*block)
		if cleared+head.commit > n {
			break
		}
		cleared += head.commit
		b.freeList.Add(head.data)
		b.preserved.Remove()
	}
}

func (b *BlockBuffer) head() *block {
	return b.chain.Peek().(*block)
}

func (b *BlockBuffer) tail() *block {
	return b.chain.Get(-1).(*block)
}

// addBlock finalizes the tail's commit and rolls a new tail on, recycling
// a free block when one is available.
func (b *BlockBuffer) addBlock() {
	b.tail().commit = b.wpos
	b.wpos = 0
	if b.freeList.Length() == 0 {
		b.chain.Add(&block{data: make([]byte, b.blockSize), commit: commitPending})
	} else {
		data := b.freeList.Remove().([]byte)
		b.chain.Add(&block{data: data, commit: commitPending})
	}
}

func (b *BlockBuffer) addBlockIfNeeded() {
	if b.wpos == b.blockSize {
		b.addBlock()
	}
}

func (b *BlockBuffer) addBlockIfNeededCont(n int) {
	if n > b.blockSize-b.wpos {
		b.addBlock()
	}
}

// popBlock demotes the head to the preserved list.
func (b *BlockBuffer) popBlock() {
	b.preserved.Add(b.head())
	b.chain.Remove()
	b.rpos = 0
}

// popBlockIfNeeded rolls the read cursor onto the next block when the
// finalized head cannot satisfy a read of the given size.
func (b *BlockBuffer) popBlockIfNeeded(size int) {
	head := b.head()
	if head.commit != commitPending && head.commit-b.rpos < size {
		b.popBlock()
	}
}
