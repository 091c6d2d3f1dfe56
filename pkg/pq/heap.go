// Package pq provides an indexed binary min-heap over dense integer keys.
//
// Every key that was ever inserted keeps its distance and data until Clear,
// so searches can ask whether a key was reached or settled after popping it.
package pq

import "fmt"

const notInserted = -1

type entry[D any] struct {
	key      uint32
	distance int64
	pos      int32 // position in heap, notInserted once removed
	data     D
}

// Heap is a binary min-heap with decrease-key, keyed by integers in [0, size).
type Heap[D any] struct {
	entries []entry[D]
	index   []int32 // key -> entries position
	heap    []int32 // entries positions ordered as a binary heap
}

// New creates a heap for keys in [0, size).
func New[D any](size int) *Heap[D] {
	index := make([]int32, size)
	for i := range index {
		index[i] = notInserted
	}
	return &Heap[D]{
		entries: make([]entry[D], 0, 64),
		index:   index,
		heap:    make([]int32, 0, 64),
	}
}

// Len returns the number of keys still in the heap.
func (h *Heap[D]) Len() int { return len(h.heap) }

// Empty reports whether no key remains in the heap.
func (h *Heap[D]) Empty() bool { return len(h.heap) == 0 }

// Size returns the number of distinct keys inserted since the last Clear.
func (h *Heap[D]) Size() int { return len(h.entries) }

// Insert adds key with the given distance. The key must not be inserted yet.
func (h *Heap[D]) Insert(key uint32, distance int64, data D) {
	if h.index[key] != notInserted {
		panic(fmt.Sprintf("pq: key %d inserted twice", key))
	}
	pos := int32(len(h.entries))
	h.entries = append(h.entries, entry[D]{key: key, distance: distance, pos: int32(len(h.heap)), data: data})
	h.index[key] = pos
	h.heap = append(h.heap, pos)
	h.siftUp(len(h.heap) - 1)
}

// WasInserted reports whether key was inserted since the last Clear.
func (h *Heap[D]) WasInserted(key uint32) bool {
	return h.index[key] != notInserted
}

// WasRemoved reports whether key was inserted and already popped.
func (h *Heap[D]) WasRemoved(key uint32) bool {
	i := h.index[key]
	return i != notInserted && h.entries[i].pos == notInserted
}

// Distance returns the current distance of an inserted key.
func (h *Heap[D]) Distance(key uint32) int64 {
	return h.entries[h.index[key]].distance
}

// Data returns a pointer to the data of an inserted key. The pointer is
// invalidated by the next Insert.
func (h *Heap[D]) Data(key uint32) *D {
	return &h.entries[h.index[key]].data
}

// MinKey returns the key with the smallest distance. The heap must not be empty.
func (h *Heap[D]) MinKey() uint32 {
	return h.entries[h.heap[0]].key
}

// MinDistance returns the smallest distance in the heap. The heap must not be empty.
func (h *Heap[D]) MinDistance() int64 {
	return h.entries[h.heap[0]].distance
}

// DeleteMin pops the key with the smallest distance.
func (h *Heap[D]) DeleteMin() uint32 {
	top := h.heap[0]
	last := len(h.heap) - 1
	h.heap[0] = h.heap[last]
	h.entries[h.heap[0]].pos = 0
	h.heap = h.heap[:last]
	if last > 0 {
		h.siftDown(0)
	}
	h.entries[top].pos = notInserted
	return h.entries[top].key
}

// DecreaseKey lowers the distance of a key that is still in the heap.
func (h *Heap[D]) DecreaseKey(key uint32, distance int64) {
	e := &h.entries[h.index[key]]
	if e.pos == notInserted {
		panic(fmt.Sprintf("pq: decrease of removed key %d", key))
	}
	e.distance = distance
	h.siftUp(int(e.pos))
}

// Clear resets every inserted key. Cost is proportional to the keys touched.
func (h *Heap[D]) Clear() {
	for i := range h.entries {
		h.index[h.entries[i].key] = notInserted
	}
	h.entries = h.entries[:0]
	h.heap = h.heap[:0]
}

// siftUp moves a hole up instead of swapping, one assignment per level.
func (h *Heap[D]) siftUp(i int) {
	item := h.heap[i]
	dist := h.entries[item].distance
	for i > 0 {
		parent := (i - 1) / 2
		p := h.heap[parent]
		if dist >= h.entries[p].distance {
			break
		}
		h.heap[i] = p
		h.entries[p].pos = int32(i)
		i = parent
	}
	h.heap[i] = item
	h.entries[item].pos = int32(i)
}

func (h *Heap[D]) siftDown(i int) {
	n := len(h.heap)
	item := h.heap[i]
	dist := h.entries[item].distance
	for {
		child := 2*i + 1
		if child >= n {
			break
		}
		if right := child + 1; right < n && h.entries[h.heap[right]].distance < h.entries[h.heap[child]].distance {
			child = right
		}
		c := h.heap[child]
		if dist <= h.entries[c].distance {
			break
		}
		h.heap[i] = c
		h.entries[c].pos = int32(i)
		i = child
	}
	h.heap[i] = item
	h.entries[item].pos = int32(i)
}
