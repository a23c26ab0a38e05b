// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bbuf

import "code.hybscloud.com/iox"

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// For InputFromFD: the descriptor has no data available (O_NONBLOCK)
// For OutputToFD: the descriptor cannot accept data right now
//
// ErrWouldBlock is a control flow signal, not a failure. The caller should
// retry the operation later (after poll readiness, or with backoff) rather
// than propagating the error. Descriptor operations return it only when no
// bytes were moved by the call; once partial progress has been made, the
// byte count is returned and the error is deferred to the next call.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
//
// Example:
//
//	backoff := iox.Backoff{}
//	for {
//	    n, err := b.InputFromFD(fd, false, -1)
//	    if err == nil {
//	        backoff.Reset()
//	        break
//	    }
//	    if bbuf.IsWouldBlock(err) {
//	        backoff.Wait()  // Adaptive backpressure
//	        continue
//	    }
//	    return err  // Real I/O failure
//	}
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Returns true for nil or ErrWouldBlock.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}
