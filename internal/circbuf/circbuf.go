// SPDX-License-Identifier: MIT
/*
Package circbuf implements a fixed-capacity ring of data slots used to hand
frames from an acquisition producer (audio callback, file reader) to a
consumer task without blocking either side.

Each slot carries a status tag:

	FREE  --GetFreeItemFromHead-->  NEW  --SetItemReady-->  READY
	 ^                               |                        |
	 +---------AbandonItem-----------+                        |
	 +-----------------------ReleaseItem----------------------+

The producer allocates at the head, fills the slot and publishes it as ready.
The consumer takes ready slots from the tail, processes them and releases
them. Slots are handed out strictly in ring order, so the buffer is FIFO.

The buffer does not own the payload memory. Init slices a caller supplied
pool into equal chunks, one per slot; an Item only borrows its chunk.

Every operation is one short critical section. Nothing blocks: a full buffer
and a missing ready item are reported as ErrFull and ErrNoReadyItem and the
caller decides whether to drop, retry or wait on its own signal.
*/
package circbuf

import (
	"errors"
	"fmt"
	"sync"
)

// Status is the lifecycle state of a slot.
type Status uint8

const (
	StatusFree  Status = iota // Slot is available to the producer.
	StatusNew                 // Slot is allocated and being filled.
	StatusReady               // Slot is published and waiting for release.
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusFree:
		return "FREE"
	case StatusNew:
		return "NEW"
	case StatusReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrFull is returned when the head slot is still in use.
	ErrFull = errors.New("circbuf: buffer full")
	// ErrNoReadyItem is returned when the tail slot has not been published.
	ErrNoReadyItem = errors.New("circbuf: no ready item")
	// ErrInvalidItem is returned when an operation would break the slot
	// lifecycle or the item does not belong to the buffer.
	ErrInvalidItem = errors.New("circbuf: invalid item")
	// ErrOutOfMemory is returned when the buffer or its pool cannot be sized.
	ErrOutOfMemory = errors.New("circbuf: out of memory")
)

// Item is one slot of the ring. The payload returned by Data is a borrowed
// view into the pool handed to Init.
type Item[T any] struct {
	idx    int
	status Status
	data   []T
}

// Data returns the slot payload. The slice aliases the caller's pool and is
// only valid while the caller holds the item.
func (it *Item[T]) Data() []T {
	return it.data
}

// Index returns the slot position inside the ring.
func (it *Item[T]) Index() int {
	return it.idx
}

// Buffer is a single-producer single-consumer ring of Items. Multiple
// producers or consumers must serialise among themselves.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []Item[T]
	itemSize int
	head     int // next slot to allocate
	tail     int // next slot to consume

	// pending counts slots allocated at the head and not yet taken from the
	// tail. Without it a consumed-but-unreleased READY slot would be handed
	// out a second time once the tail wraps onto it.
	pending int
}

// New allocates the slot table for itemCount slots. The buffer is unusable
// until Init assigns the payload pool.
func New[T any](itemCount int) (*Buffer[T], error) {
	if itemCount < 1 {
		return nil, fmt.Errorf("%w: item count must be positive, got %d", ErrOutOfMemory, itemCount)
	}

	b := &Buffer[T]{items: make([]Item[T], itemCount)}
	for i := range b.items {
		b.items[i].idx = i
	}
	return b, nil
}

// NewWithPool allocates a buffer together with a pool of itemCount*itemSize
// elements and initialises it.
func NewWithPool[T any](itemCount, itemSize int) (*Buffer[T], error) {
	b, err := New[T](itemCount)
	if err != nil {
		return nil, err
	}
	if itemSize < 1 {
		return nil, fmt.Errorf("%w: item size must be positive, got %d", ErrOutOfMemory, itemSize)
	}
	if err := b.Init(make([]T, itemCount*itemSize), itemSize); err != nil {
		return nil, err
	}
	return b, nil
}

// Init slices pool into ItemsCount chunks of itemSize elements, marks every
// slot FREE and resets the head and tail. The pool must outlive the buffer.
func (b *Buffer[T]) Init(pool []T, itemSize int) error {
	if itemSize < 1 {
		return fmt.Errorf("%w: item size must be positive, got %d", ErrOutOfMemory, itemSize)
	}
	need := len(b.items) * itemSize
	if len(pool) < need {
		return fmt.Errorf("%w: pool holds %d elements, need %d", ErrOutOfMemory, len(pool), need)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.items {
		lo, hi := i*itemSize, (i+1)*itemSize
		b.items[i].status = StatusFree
		b.items[i].data = pool[lo:hi:hi]
	}
	b.itemSize = itemSize
	b.head = 0
	b.tail = 0
	b.pending = 0
	return nil
}

// GetFreeItemFromHead allocates the head slot, marks it NEW and advances the
// head. It returns ErrFull when the head slot is still in use.
func (b *Buffer[T]) GetFreeItemFromHead() (*Item[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	it := &b.items[b.head]
	if it.status != StatusFree {
		return nil, ErrFull
	}
	it.status = StatusNew
	b.head = b.next(b.head)
	b.pending++
	return it, nil
}

// GetReadyItemFromTail takes the tail slot if it is READY and advances the
// tail. The slot stays READY until ReleaseItem. It returns ErrNoReadyItem
// when the tail slot has not been published yet.
func (b *Buffer[T]) GetReadyItemFromTail() (*Item[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	it := &b.items[b.tail]
	if b.pending == 0 || it.status != StatusReady {
		return nil, ErrNoReadyItem
	}
	b.tail = b.next(b.tail)
	b.pending--
	return it, nil
}

// SetItemReady publishes a NEW item. Marking a READY item again is a no-op;
// marking a FREE item is a protocol violation.
func (b *Buffer[T]) SetItemReady(it *Item[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.owns(it) {
		return violation("set ready on foreign item")
	}
	if it.status == StatusFree {
		return violation("set ready on FREE slot %d", it.idx)
	}
	it.status = StatusReady
	return nil
}

// ReleaseItem returns a READY item to the pool. Releasing a FREE item is a
// no-op. Releasing a NEW item is a protocol violation: unpublished data must
// be discarded with AbandonItem.
func (b *Buffer[T]) ReleaseItem(it *Item[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.owns(it) {
		return violation("release of foreign item")
	}
	if it.status == StatusNew {
		return violation("release of NEW slot %d", it.idx)
	}
	it.status = StatusFree
	return nil
}

// AbandonItem discards a NEW item without publishing it and rewinds the
// head. Only the most recent allocation can be abandoned.
func (b *Buffer[T]) AbandonItem(it *Item[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.owns(it) {
		return violation("abandon of foreign item")
	}
	if it.status != StatusNew {
		return violation("abandon of %s slot %d", it.status, it.idx)
	}
	prev := b.prev(b.head)
	if it.idx != prev {
		return violation("abandon of slot %d, newest allocation is slot %d", it.idx, prev)
	}
	it.status = StatusFree
	b.head = prev
	b.pending--
	return nil
}

// IsEmpty reports whether no slot is in use.
func (b *Buffer[T]) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head == b.tail && b.items[b.head].status == StatusFree
}

// IsFull reports whether the head has caught up with an in-use tail slot.
// A slot taken from the tail but not yet released is behind the tail, so
// GetFreeItemFromHead can return ErrFull on it while IsFull reports false.
func (b *Buffer[T]) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head == b.tail && b.items[b.head].status != StatusFree
}

// UsedItemsCount returns the number of slots between the tail and the head.
// Consumed slots awaiting ReleaseItem are not counted.
func (b *Buffer[T]) UsedItemsCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.items)
	if b.head == b.tail {
		if b.items[b.head].status == StatusFree {
			return 0
		}
		return n
	}
	return (b.head - b.tail + n) % n
}

// ItemsCount returns the number of slots.
func (b *Buffer[T]) ItemsCount() int {
	return len(b.items)
}

// ItemSize returns the payload length of each slot in elements.
func (b *Buffer[T]) ItemSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.itemSize
}

// Status returns the current status of it.
func (b *Buffer[T]) Status(it *Item[T]) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.owns(it) {
		return StatusFree, ErrInvalidItem
	}
	return it.status, nil
}

// PeekNextItem returns the slot that follows it in ring order without
// changing any state, or nil if it does not belong to the buffer. It scans
// the slot table and is meant for inspection, not the data path.
func (b *Buffer[T]) PeekNextItem(it *Item[T]) *Item[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.items {
		if &b.items[i] == it {
			return &b.items[b.next(i)]
		}
	}
	return nil
}

func (b *Buffer[T]) owns(it *Item[T]) bool {
	return it != nil && it.idx >= 0 && it.idx < len(b.items) && &b.items[it.idx] == it
}

func (b *Buffer[T]) next(i int) int {
	i++
	if i == len(b.items) {
		return 0
	}
	return i
}

func (b *Buffer[T]) prev(i int) int {
	if i == 0 {
		return len(b.items) - 1
	}
	return i - 1
}

// violation reports a broken slot lifecycle. Debug builds (-tags
// circbufdebug) panic so the offending call site shows up in the trace.
func violation(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if debugChecks {
		panic("circbuf: " + msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidItem, msg)
}
