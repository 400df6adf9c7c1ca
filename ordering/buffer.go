// Package ordering provides the release-when-safe buffer shared by the drift and
// diffusion stages.
//
// Items arrive in an order uncorrelated with their output time. Each item carries
// a release-time bound (its key). The owner advances a watermark: the earliest time
// any not-yet-seen item could still produce. An item may leave the buffer once its
// key is at or below the watermark, which yields a non-decreasing output sequence
// without ever sorting the whole stream.
package ordering

import (
	"cmp"
	"container/heap"
	"slices"
)

// Buffer is a min-ordered buffer keyed by a release-time bound. Items with equal
// keys are released in insertion order. The zero value is not usable; call New.
type Buffer[T any] struct {
	key   func(T) float64
	items entries[T]
	seq   uint64
}

// New creates a buffer that orders items by key.
func New[T any](key func(T) float64) *Buffer[T] {
	return &Buffer[T]{key: key}
}

// Push adds an item.
func (b *Buffer[T]) Push(v T) {
	heap.Push(&b.items, entry[T]{value: v, key: b.key(v), seq: b.seq})
	b.seq++
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	return len(b.items)
}

// Peek returns the item with the smallest key without removing it.
func (b *Buffer[T]) Peek() (T, bool) {
	if len(b.items) == 0 {
		var zero T
		return zero, false
	}
	return b.items[0].value, true
}

// MinKey returns the smallest buffered key.
func (b *Buffer[T]) MinKey() (float64, bool) {
	if len(b.items) == 0 {
		return 0, false
	}
	return b.items[0].key, true
}

// PopReady removes and returns the smallest-key item if its key is at or below
// watermark.
func (b *Buffer[T]) PopReady(watermark float64) (T, bool) {
	if len(b.items) == 0 || b.items[0].key > watermark {
		var zero T
		return zero, false
	}
	e := heap.Pop(&b.items).(entry[T])
	return e.value, true
}

// Drain removes every item and returns them in release order.
func (b *Buffer[T]) Drain() []T {
	out := make([]T, 0, len(b.items))
	for len(b.items) > 0 {
		e := heap.Pop(&b.items).(entry[T])
		out = append(out, e.value)
	}
	return out
}

// Items returns a copy of the buffered items in release order without removing
// them.
func (b *Buffer[T]) Items() []T {
	sorted := slices.Clone(b.items)
	slices.SortFunc(sorted, func(x, y entry[T]) int {
		return cmp.Or(cmp.Compare(x.key, y.key), cmp.Compare(x.seq, y.seq))
	})
	out := make([]T, len(sorted))
	for i, e := range sorted {
		out[i] = e.value
	}
	return out
}

// Reset discards all items.
func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.items = b.items[:0]
	b.seq = 0
}

type entry[T any] struct {
	value T
	key   float64
	seq   uint64
}

// entries implements heap.Interface ordered by (key, seq).
type entries[T any] []entry[T]

func (e entries[T]) Len() int { return len(e) }

func (e entries[T]) Less(i, j int) bool {
	if e[i].key != e[j].key {
		return e[i].key < e[j].key
	}
	return e[i].seq < e[j].seq
}

func (e entries[T]) Swap(i, j int) { e[i], e[j] = e[j], e[i] }

func (e *entries[T]) Push(x any) { *e = append(*e, x.(entry[T])) }

func (e *entries[T]) Pop() any {
	old := *e
	n := len(old)
	item := old[n-1]
	var zero entry[T]
	old[n-1] = zero
	*e = old[:n-1]
	return item
}
