// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bbuf

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// SPSCQueue is an unbounded single-producer single-consumer linked queue
// with node recycling.
//
// Both the live list and the free list keep a sentinel node, so empty is a
// pointer equality rather than a nil check. Nodes never move after
// allocation; popped nodes return to the free list and are reused by later
// pushes, amortizing allocation across push/pop cycles.
//
// Field roles:
//
//   - head is read and written only by the consumer
//   - tail is written only by the producer, read by both
//   - freeHead is read and written only by the producer
//   - freeTail is written only by the consumer, read by both
//
// The producer's release store on tail pairs with the consumer's acquire
// load; payload bytes written before the store are visible after the load.
// The free list runs the same protocol with the roles reversed.
//
// The queue is empty iff head == tail. Every node stays reachable through
// the plain head/freeHead chains, so holding tail and freeTail as uintptr
// words is safe against the collector.
type SPSCQueue[T any] struct {
	_        pad
	head     *qnode[T] // consumer-owned; head.next is the front
	_        pad
	tail     atomix.Uintptr // *qnode[T]; tail is the back
	_        pad
	freeHead *qnode[T] // producer-owned
	_        pad
	freeTail atomix.Uintptr // *qnode[T]
	_        pad
	mode     WaitMode
	mu       sync.Mutex
	notEmpty *sync.Cond
}

type qnode[T any] struct {
	obj  T
	next *qnode[T]
}

// NewSPSCQueue creates an SPSC queue with the given wait mode.
// Panics unless mode is WaitFree, WaitSpin or WaitCond.
func NewSPSCQueue[T any](mode WaitMode) *SPSCQueue[T] {
	if mode != WaitFree && mode != WaitSpin && mode != WaitCond {
		panic("bbuf: queue wait mode must be WaitFree, WaitSpin or WaitCond")
	}

	q := &SPSCQueue[T]{mode: mode}
	q.head = &qnode[T]{}
	q.tail.StoreRelaxed(uintptr(unsafe.Pointer(q.head)))
	q.freeHead = &qnode[T]{}
	q.freeTail.StoreRelaxed(uintptr(unsafe.Pointer(q.freeHead)))
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends v to the queue (producer only).
//
// The node comes from the free list when one is available, otherwise it is
// freshly allocated. Publication is a release store of the new tail; in
// WaitCond mode the store happens under the mutex and the consumer is
// signalled, so a blocked Front or Pop cannot miss the wakeup.
func (q *SPSCQueue[T]) Push(v T) {
	var n *qnode[T]
	if q.freeListEmpty() {
		n = &qnode[T]{obj: v}
	} else {
		n = q.freeHead
		q.freeHead = n.next
		n.obj = v
		n.next = nil
	}

	tail := (*qnode[T])(unsafe.Pointer(q.tail.LoadRelaxed()))
	tail.next = n

	if q.mode == WaitCond {
		q.mu.Lock()
		// Atomic is still needed because Empty does not take the lock.
		q.tail.StoreRelease(uintptr(unsafe.Pointer(n)))
		q.mu.Unlock()
		q.notEmpty.Signal()
	} else {
		q.tail.StoreRelease(uintptr(unsafe.Pointer(n)))
	}
}

// Front returns a pointer to the element at the front of the queue
// (consumer only), waiting per the queue's mode when the queue is empty.
//
// In WaitFree mode the caller must have observed Empty() == false first;
// calling Front on an empty wait-free queue is a programming error.
func (q *SPSCQueue[T]) Front() *T {
	q.waitNotEmpty()
	return &q.head.next.obj
}

// Back returns a pointer to the element most recently pushed (producer
// only). No ordering is established for the consumer.
func (q *SPSCQueue[T]) Back() *T {
	tail := (*qnode[T])(unsafe.Pointer(q.tail.LoadRelaxed()))
	return &tail.obj
}

// Pop removes the front element (consumer only), waiting per the queue's
// mode when the queue is empty. The vacated node is recycled onto the free
// list with a release store of the new free tail.
//
// In WaitFree mode the caller must have observed Empty() == false first.
func (q *SPSCQueue[T]) Pop() {
	q.waitNotEmpty()

	n := q.head
	q.head = n.next

	freeTail := (*qnode[T])(unsafe.Pointer(q.freeTail.LoadRelaxed()))
	freeTail.next = n
	var zero T
	n.obj = zero // release payload references before recycling
	n.next = nil
	q.freeTail.StoreRelease(uintptr(unsafe.Pointer(n)))
}

// Empty reports whether the queue holds no elements (consumer only).
func (q *SPSCQueue[T]) Empty() bool {
	return uintptr(unsafe.Pointer(q.head)) == q.tail.LoadAcquire()
}

// waitNotEmpty blocks until the queue is non-empty, per mode.
func (q *SPSCQueue[T]) waitNotEmpty() {
	switch q.mode {
	case WaitSpin:
		sw := spin.Wait{}
		for q.Empty() {
			sw.Once()
		}
	case WaitCond:
		if !q.Empty() {
			return
		}
		q.mu.Lock()
		for q.Empty() {
			q.notEmpty.Wait()
		}
		q.mu.Unlock()
	}
}

// freeListEmpty reports whether no recycled node is available (producer
// only).
func (q *SPSCQueue[T]) freeListEmpty() bool {
	return uintptr(unsafe.Pointer(q.freeHead)) == q.freeTail.LoadAcquire()
}
