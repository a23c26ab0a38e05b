// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !race

package bbuf

// RaceEnabled is false when the race detector is not active.
const RaceEnabled = false
