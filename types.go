// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bbuf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ValueWriter is implemented by buffers that accept raw value writes.
//
// [Linear], [BlockBuffer] and [SPSCBlockBuffer] implement ValueWriter.
// The interface exists so that [WriteValue] can serve all three; it is
// sealed and cannot be implemented outside this package.
type ValueWriter interface {
	// writeValue appends the raw bytes of a value. Block-chained buffers
	// use the contiguous discipline so the value never straddles a block.
	writeValue(p []byte)
}

// ValueReader is implemented by buffers that hand out raw value borrows.
//
// [Linear], [BlockBuffer] and [SPSCBlockBuffer] implement ValueReader.
// The interface exists so that [ReadValue] can serve all three; it is
// sealed and cannot be implemented outside this package.
type ValueReader interface {
	// readValue advances the read cursor by size bytes and returns a
	// pointer to the first of them. The bytes are a borrow into the
	// buffer, not a copy.
	readValue(size int) unsafe.Pointer
}

// WriteValue appends the raw in-memory representation of v to b.
//
// The format is host-endian with the host's in-memory layout; T must be a
// trivially copyable description (no pointers, maps, slices, channels or
// strings). Cross-architecture use requires an endian-normalizing layer
// above this one.
//
// On block-chained buffers the value is written contiguously: it never
// straddles a block boundary, so a later [ReadValue] of the same type
// returns a borrow from a single block.
//
// This is a free function because Go methods cannot carry type parameters.
func WriteValue[T any](b ValueWriter, v T) {
	b.writeValue(valueBytes(&v))
}

// ReadValue consumes sizeof(T) bytes from b and returns a pointer to them.
//
// The pointer is a non-owning borrow into the buffer. For [Linear] it stays
// valid until the buffer is reset or resized; for the block-chained buffers
// it stays valid until a ClearPreserved call covers the block it points
// into. The same trivially-copyable restriction as [WriteValue] applies.
func ReadValue[T any](b ValueReader) *T {
	var v T
	return (*T)(b.readValue(int(unsafe.Sizeof(v))))
}

// valueBytes returns the raw bytes of *v without copying.
func valueBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// readFD performs one read(2) into p. Zero-length p yields (0, nil).
func readFD(fd int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Read(fd, p)
	if err != nil {
		return 0, errFD(err)
	}
	return n, nil
}

// writeFD performs one write(2) from p. Zero-length p yields (0, nil).
func writeFD(fd int, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, p)
	if err != nil {
		return 0, errFD(err)
	}
	return n, nil
}

// errFD maps the kernel's would-block errnos onto the ecosystem sentinel.
// Everything else passes through verbatim.
func errFD(err error) error {
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return ErrWouldBlock
	}
	return err
}
