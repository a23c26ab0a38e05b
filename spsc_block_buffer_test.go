// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bbuf_test

import (
	"bytes"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/bbuf"
	"code.hybscloud.com/iox"
)

// =============================================================================
// SPSCBlockBuffer - Single-Goroutine Surface
// =============================================================================

func TestSPSCBlockBufferEmpty(t *testing.T) {
	b := bbuf.NewSPSCBlockBuffer(64, bbuf.WaitFree)
	if !b.Empty() {
		t.Fatal("new buffer not empty")
	}

	bbuf.WriteValue(b, uint32(5))
	if b.Empty() {
		t.Fatal("buffer empty after a completed write")
	}

	if got := bbuf.GetValue[uint32](b); got != 5 {
		t.Fatalf("GetValue: got %d", got)
	}
	if !b.Empty() {
		t.Fatal("buffer not empty after draining")
	}
}

// TestSPSCBlockBufferEmptyAfterRollover drains a multi-block backlog and
// verifies the single-block hint re-verifies correctly at the end.
func TestSPSCBlockBufferEmptyAfterRollover(t *testing.T) {
	const blockSize = 32
	b := bbuf.NewSPSCBlockBuffer(blockSize, bbuf.WaitFree)

	b.Write(make([]byte, 5*blockSize))
	for range 5 {
		b.ReadCont(blockSize)
	}
	if !b.Empty() {
		t.Fatal("buffer not empty after draining five blocks")
	}

	bbuf.WriteValue(b, byte(1))
	if b.Empty() {
		t.Fatal("buffer empty after write into a new tail block")
	}
}

func TestSPSCBlockBufferFramedStrings(t *testing.T) {
	b := bbuf.NewSPSCBlockBuffer(64, bbuf.WaitFree)

	b.WriteString("hi")
	b.WriteString("world!")
	b.WriteString("")

	for i, want := range []string{"hi", "world!", ""} {
		if got := b.GetString(); got != want {
			t.Fatalf("GetString(%d): got %q, want %q", i, got, want)
		}
	}
}

// TestSPSCBlockBufferFramedStringsRollover forces a block roll inside a
// frame: the second string's payload lands in a new block, apart from its
// length prefix.
func TestSPSCBlockBufferFramedStringsRollover(t *testing.T) {
	const blockSize = 32
	b := bbuf.NewSPSCBlockBuffer(blockSize, bbuf.WaitFree)

	want := []string{"first string", "second string!!", "third"}
	for _, s := range want {
		b.WriteString(s)
	}
	for i, s := range want {
		if got := b.GetString(); got != s {
			t.Fatalf("GetString(%d): got %q, want %q", i, got, s)
		}
	}
	if !b.Empty() {
		t.Fatal("buffer not empty")
	}
}

func TestSPSCBlockBufferGetCont(t *testing.T) {
	b := bbuf.NewSPSCBlockBuffer(64, bbuf.WaitFree)
	b.WriteCont([]byte("copied out"))

	dst := make([]byte, 10)
	b.GetCont(dst)
	if string(dst) != "copied out" {
		t.Fatalf("GetCont: got %q", dst)
	}
}

func TestSPSCBlockBufferEnsureContNotify(t *testing.T) {
	b := bbuf.NewSPSCBlockBuffer(64, bbuf.WaitFree)

	window := b.EnsureCont(4)
	copy(window, "data")
	if !b.Empty() {
		t.Fatal("EnsureCont must not publish progress")
	}

	b.WriteCont(window)
	if b.Empty() {
		t.Fatal("WriteCont must publish progress")
	}
	if got := string(b.ReadCont(4)); got != "data" {
		t.Fatalf("staged bytes: got %q", got)
	}
}

func TestSPSCBlockBufferReadContOversizePanics(t *testing.T) {
	b := bbuf.NewSPSCBlockBuffer(32, bbuf.WaitFree)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for oversized contiguous read")
		}
	}()
	b.ReadCont(33)
}

// =============================================================================
// SPSCBlockBuffer - Preserved Blocks
// =============================================================================

func TestSPSCBlockBufferPreservedRetention(t *testing.T) {
	const blockSize = 128
	b := bbuf.NewSPSCBlockBuffer(blockSize, bbuf.WaitFree)

	blob := make([]byte, 300)
	for i := range blob {
		blob[i] = byte(i)
	}
	b.Write(blob)

	var borrows [][]byte
	for _, n := range []int{128, 128, 44} {
		borrows = append(borrows, b.ReadCont(n))
	}

	off := 0
	for i, p := range borrows {
		if !bytes.Equal(p, blob[off:off+len(p)]) {
			t.Fatalf("borrow %d corrupted before ClearPreserved", i)
		}
		off += len(p)
	}

	b.ClearPreserved(300)
	if !bytes.Equal(borrows[2], blob[256:300]) {
		t.Fatal("borrow into the live tail block must survive ClearPreserved")
	}
}

// =============================================================================
// SPSCBlockBuffer - Notify Modes Equivalence
// =============================================================================

// TestSPSCBlockBufferModeEquivalence runs the same write/read script under
// every in-process discipline; the observable byte stream must match.
func TestSPSCBlockBufferModeEquivalence(t *testing.T) {
	builders := map[string]*bbuf.Builder{
		"WaitFree":        bbuf.New(48).WaitFree(),
		"WaitSpin":        bbuf.New(48).Spin(),
		"WaitCond":        bbuf.New(48).Cond(),
		"WaitSpinCond":    bbuf.New(48).SpinCond(16),
		"WaitCondTimeout": bbuf.New(48).CondTimeout(4, 100*time.Microsecond),
	}

	for name, builder := range builders {
		t.Run(name, func(t *testing.T) {
			b := builder.Build()

			bbuf.WriteValue(b, uint64(77))
			b.WriteString("mode-independent")
			b.Write(make([]byte, 100)) // forces rollover

			if got := bbuf.GetValue[uint64](b); got != 77 {
				t.Fatalf("value: got %d", got)
			}
			if got := b.GetString(); got != "mode-independent" {
				t.Fatalf("string: got %q", got)
			}
			for range 100 {
				if got := *bbuf.ReadValue[byte](b); got != 0 {
					t.Fatalf("padding byte: got %d", got)
				}
			}
			if !b.Empty() {
				t.Fatal("buffer not empty")
			}
		})
	}
}

// =============================================================================
// SPSCBlockBuffer - Cross-Goroutine Handoff
// =============================================================================

// runBufferHandoff is the ordered-handoff scenario: the producer writes
// total consecutive uint64 values, the consumer asserts arrival order.
func runBufferHandoff(t *testing.T, b *bbuf.SPSCBlockBuffer, total int) {
	t.Helper()
	if bbuf.RaceEnabled {
		t.Skip("skip: commit-cursor synchronization is invisible to the race detector")
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := range total {
			bbuf.WriteValue(b, uint64(i))
		}
	}()

	go func() {
		defer wg.Done()
		for i := range total {
			if got := bbuf.GetValue[uint64](b); got != uint64(i) {
				t.Errorf("element %d: got %d", i, got)
				return
			}
		}
	}()

	wg.Wait()
	if !b.Empty() {
		t.Fatal("buffer not empty after handoff")
	}
}

func TestSPSCBlockBufferHandoffCond(t *testing.T) {
	runBufferHandoff(t, bbuf.NewSPSCBlockBuffer(-1, bbuf.WaitCond), 1_000_000)
}

func TestSPSCBlockBufferHandoffSpin(t *testing.T) {
	runBufferHandoff(t, bbuf.NewSPSCBlockBuffer(-1, bbuf.WaitSpin), 1_000_000)
}

func TestSPSCBlockBufferHandoffSpinCond(t *testing.T) {
	runBufferHandoff(t, bbuf.New(-1).SpinCond(64).Build(), 500_000)
}

func TestSPSCBlockBufferHandoffCondTimeout(t *testing.T) {
	// Batched notifications: the timeout covers the unsignalled tail of
	// each batch.
	runBufferHandoff(t, bbuf.New(-1).CondTimeout(8, 200*time.Microsecond).Build(), 500_000)
}

// TestSPSCBlockBufferHandoffWaitFree drives the wait-free discipline with
// explicit readiness checks on the consumer side.
func TestSPSCBlockBufferHandoffWaitFree(t *testing.T) {
	if bbuf.RaceEnabled {
		t.Skip("skip: commit-cursor synchronization is invisible to the race detector")
	}

	const total = 500_000
	b := bbuf.NewSPSCBlockBuffer(-1, bbuf.WaitFree)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := range total {
			bbuf.WriteValue(b, uint64(i))
		}
	}()

	go func() {
		defer wg.Done()
		backoff := iox.Backoff{}
		for i := 0; i < total; {
			if b.Empty() {
				backoff.Wait()
				continue
			}
			backoff.Reset()
			// Drain everything the readiness check covered.
			for !b.Empty() && i < total {
				if got := bbuf.GetValue[uint64](b); got != uint64(i) {
					t.Errorf("element %d: got %d", i, got)
					return
				}
				i++
			}
		}
	}()

	wg.Wait()
}

// TestSPSCBlockBufferByteStream checks prefix-for-prefix byte preservation
// across the thread boundary: both sides derive the same chunk sizes and
// contents from a shared seed, the producer writes contiguously and the
// consumer reads contiguously.
func TestSPSCBlockBufferByteStream(t *testing.T) {
	if bbuf.RaceEnabled {
		t.Skip("skip: commit-cursor synchronization is invisible to the race detector")
	}

	const (
		blockSize = 64
		chunks    = 50_000
		seed      = 42
	)
	b := bbuf.NewSPSCBlockBuffer(blockSize, bbuf.WaitSpin)

	fill := func(p []byte, pos int) {
		for i := range p {
			p[i] = byte((pos + i) * 131)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(seed))
		pos := 0
		chunk := make([]byte, blockSize)
		for range chunks {
			n := 1 + rng.Intn(blockSize)
			fill(chunk[:n], pos)
			b.WriteCont(chunk[:n])
			pos += n
		}
	}()

	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(seed))
		pos := 0
		want := make([]byte, blockSize)
		for c := range chunks {
			n := 1 + rng.Intn(blockSize)
			got := b.ReadCont(n)
			fill(want[:n], pos)
			if !bytes.Equal(got, want[:n]) {
				t.Errorf("chunk %d corrupted", c)
				return
			}
			pos += n
			b.ClearPreserved(blockSize)
		}
	}()

	wg.Wait()
}

// TestSPSCBlockBufferProducerFinishesFirst drains a fully pre-filled
// buffer after the producer is gone.
func TestSPSCBlockBufferProducerFinishesFirst(t *testing.T) {
	b := bbuf.NewSPSCBlockBuffer(128, bbuf.WaitCond)
	const total = 10_000
	for i := range total {
		bbuf.WriteValue(b, uint64(i))
	}

	for i := range total {
		if got := bbuf.GetValue[uint64](b); got != uint64(i) {
			t.Fatalf("element %d: got %d", i, got)
		}
	}
	if !b.Empty() {
		t.Fatal("buffer not empty")
	}
}

// =============================================================================
// SPSCBlockBuffer - Descriptor Echo
// =============================================================================

// TestSPSCBlockBufferFDEcho stages a 1 MiB stream through two pipes: a
// feeder fills pipe-in, one goroutine inputs from it into the buffer,
// another outputs to pipe-out, and the sink verifies byte-for-byte echo.
func TestSPSCBlockBufferFDEcho(t *testing.T) {
	if bbuf.RaceEnabled {
		t.Skip("skip: commit-cursor synchronization is invisible to the race detector")
	}

	const total = 1 << 20
	rIn, wIn, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	rOut, wOut, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer rIn.Close()
	defer rOut.Close()
	defer wOut.Close()

	pattern := func(i int) byte { return byte(i*31 + 7) }

	b := bbuf.NewSPSCBlockBuffer(-1, bbuf.WaitFree)
	var wg sync.WaitGroup
	wg.Add(3)

	// Feeder: fill pipe-in, then EOF.
	go func() {
		defer wg.Done()
		defer wIn.Close()
		buf := make([]byte, 8192)
		for off := 0; off < total; off += len(buf) {
			for i := range buf {
				buf[i] = pattern(off + i)
			}
			if _, err := wIn.Write(buf); err != nil {
				t.Errorf("feeder: %v", err)
				return
			}
		}
	}()

	// Producer: pipe-in -> buffer, one syscall per call so progress is
	// published as it arrives.
	go func() {
		defer wg.Done()
		received := 0
		for received < total {
			n, err := b.InputFromFD(int(rIn.Fd()), true, -1)
			if err != nil {
				t.Errorf("input: %v", err)
				return
			}
			if n == 0 {
				break // EOF
			}
			received += n
		}
	}()

	// Consumer: buffer -> pipe-out.
	go func() {
		defer wg.Done()
		backoff := iox.Backoff{}
		sent := 0
		for sent < total {
			n, err := b.OutputToFD(int(wOut.Fd()))
			if err != nil {
				t.Errorf("output: %v", err)
				return
			}
			if n == 0 {
				backoff.Wait()
				continue
			}
			backoff.Reset()
			sent += n
		}
	}()

	// Sink: verify the echoed stream.
	got := make([]byte, 8192)
	checked := 0
	for checked < total {
		n, err := rOut.Read(got)
		if err != nil {
			t.Fatalf("sink: %v", err)
		}
		for i := range n {
			if got[i] != pattern(checked+i) {
				t.Fatalf("byte %d: got %#x, want %#x", checked+i, got[i], pattern(checked+i))
			}
		}
		checked += n
	}

	wg.Wait()
}
