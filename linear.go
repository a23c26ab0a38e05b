// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bbuf

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// Linear is a contiguous byte buffer with independent read and write
// cursors, designed as a staging area for descriptor I/O.
//
// It is not a ring: the write cursor only moves forward until Reset. Both
// cursors are atomic words published with release ordering and observed
// with acquire ordering, so one writer goroutine and one reader goroutine
// may operate concurrently on data and cursors. Capacity-changing
// operations (Reserve, Enlarge, Reset) are NOT safe against concurrent
// readers or writers; quiesce both sides first.
type Linear struct {
	buf  []byte
	wpos atomix.Uint64 // written by the writer, read by both
	rpos atomix.Uint64 // written by the reader, read by both
}

// NewLinear creates a linear buffer with the given capacity.
func NewLinear(capacity int) *Linear {
	if capacity < 0 {
		panic("bbuf: capacity must be >= 0")
	}
	return &Linear{buf: make([]byte, capacity)}
}

// Reserve sets the capacity to n, preserving buffered bytes up to the new
// capacity. Not safe against concurrent access.
func (l *Linear) Reserve(n int) {
	if n < 0 {
		panic("bbuf: capacity must be >= 0")
	}
	buf := make([]byte, n)
	copy(buf, l.buf)
	l.buf = buf
}

// Enlarge grows the capacity by n bytes. Not safe against concurrent
// access.
func (l *Linear) Enlarge(n int) {
	l.Reserve(len(l.buf) + n)
}

// Reset sets the capacity to n and zeroes both cursors. Not safe against
// concurrent access.
func (l *Linear) Reset(n int) {
	l.Reserve(n)
	l.wpos.StoreRelaxed(0)
	l.rpos.StoreRelaxed(0)
}

// WriteBytes appends p at the write cursor. The caller must have ensured
// WPos()+len(p) <= Cap(); overflow is a programming error.
func (l *Linear) WriteBytes(p []byte) {
	w := int(l.wpos.LoadRelaxed())
	if w+len(p) > len(l.buf) {
		panic("bbuf: linear write past capacity")
	}
	copy(l.buf[w:], p)
	l.wpos.StoreRelease(uint64(w + len(p)))
}

// WriteString appends s prefixed with its length as a host-order uint64.
func (l *Linear) WriteString(s string) {
	WriteValue(l, uint64(len(s)))
	l.WriteBytes([]byte(s))
}

// writeValue implements [ValueWriter].
func (l *Linear) writeValue(p []byte) {
	l.WriteBytes(p)
}

// readValue implements [ValueReader].
func (l *Linear) readValue(size int) unsafe.Pointer {
	r := int(l.rpos.LoadRelaxed())
	if r+size > int(l.wpos.LoadAcquire()) {
		panic("bbuf: linear read past write cursor")
	}
	p := unsafe.Pointer(&l.buf[r])
	l.rpos.StoreRelease(uint64(r + size))
	return p
}

// GetString consumes a length-prefixed string written by WriteString.
// Unlike [ReadValue], the returned string is a copy, not a borrow.
func (l *Linear) GetString() string {
	n := int(*ReadValue[uint64](l))
	r := int(l.rpos.LoadRelaxed())
	if r+n > int(l.wpos.LoadAcquire()) {
		panic("bbuf: linear read past write cursor")
	}
	s := string(l.buf[r : r+n])
	l.rpos.StoreRelease(uint64(r + n))
	return s
}

// RPtr returns the unread window [RPos, WPos) as a borrow.
func (l *Linear) RPtr() []byte {
	return l.buf[l.rpos.LoadRelaxed():l.wpos.LoadAcquire()]
}

// WPtr returns the writable window [WPos, Cap) as a borrow.
func (l *Linear) WPtr() []byte {
	return l.buf[l.wpos.LoadRelaxed():]
}

// AdvanceR moves the read cursor forward by n bytes, typically after the
// caller consumed them through RPtr.
func (l *Linear) AdvanceR(n int) {
	l.rpos.StoreRelease(l.rpos.LoadRelaxed() + uint64(n))
}

// AdvanceW moves the write cursor forward by n bytes, typically after the
// caller filled them through WPtr.
func (l *Linear) AdvanceW(n int) {
	l.wpos.StoreRelease(l.wpos.LoadRelaxed() + uint64(n))
}

// RPos returns the read cursor.
func (l *Linear) RPos() int { return int(l.rpos.LoadAcquire()) }

// WPos returns the write cursor.
func (l *Linear) WPos() int { return int(l.wpos.LoadAcquire()) }

// Size returns the number of bytes written since the last Reset.
func (l *Linear) Size() int { return l.WPos() }

// Cap returns the buffer capacity.
func (l *Linear) Cap() int { return len(l.buf) }

// Remaining returns the number of unread bytes.
func (l *Linear) Remaining() int {
	return int(l.wpos.LoadAcquire() - l.rpos.LoadAcquire())
}

// Empty reports whether all written bytes have been read.
func (l *Linear) Empty() bool {
	return l.wpos.LoadAcquire() == l.rpos.LoadAcquire()
}

// InputFromFD issues a single read(2) into [WPos, Cap) and advances the
// write cursor by the bytes received. Returns the byte count; the error is
// non-nil only when nothing was read.
func (l *Linear) InputFromFD(fd int) (int, error) {
	w := int(l.wpos.LoadRelaxed())
	n, err := readFD(fd, l.buf[w:])
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.wpos.StoreRelease(uint64(w + n))
	}
	return n, nil
}

// OutputToFD issues a single write(2) from [RPos, WPos) and advances the
// read cursor by the bytes accepted. Returns the byte count; the error is
// non-nil only when nothing was written.
func (l *Linear) OutputToFD(fd int) (int, error) {
	r := int(l.rpos.LoadRelaxed())
	w := int(l.wpos.LoadAcquire())
	n, err := writeFD(fd, l.buf[r:w])
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.rpos.StoreRelease(uint64(r + n))
	}
	return n, nil
}
