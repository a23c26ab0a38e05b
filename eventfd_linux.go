// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package bbuf

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// newEventFD opens the WaitEventFD notification channel with non-blocking
// semantics, so producer notifications never stall on a full counter.
func newEventFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK)
}

// notifyEventFD adds 1 to the eventfd counter. Consecutive notifications
// coalesce in the kernel; consumers drain the buffer until Empty on each
// wakeup. A full counter (EAGAIN) is ignored: the pending wakeup already
// covers this notification.
func notifyEventFD(fd int) {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(fd, one[:])
}

func closeEventFD(fd int) error {
	return unix.Close(fd)
}
