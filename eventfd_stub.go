// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package bbuf

import "errors"

// WaitEventFD is a Linux discipline; constructing it elsewhere fails.

func newEventFD() (int, error) {
	return -1, errors.New("eventfd requires linux")
}

func notifyEventFD(int) {}

func closeEventFD(int) error { return nil }
