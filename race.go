// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package bbuf

// RaceEnabled is true when the race detector is active.
// Used by tests to skip concurrent producer/consumer cases, whose
// synchronization runs through acquire/release orderings on commit
// cursors that the detector cannot observe.
const RaceEnabled = true
