// Package timerheap implements the idle-connection timer: an indexed
// min-heap on deadline, keyed by connection fd, built on container/heap the
// way gaio keys its own timeout heap off a pooled aiocb's idx field.
package timerheap

import (
	"container/heap"
	"time"
)

// node is one scheduled timeout. index is maintained by minheap.Swap so it
// always reflects the node's current slot, letting Adjust/DoWork locate and
// re-heapify an arbitrary node in O(log n) via heap.Fix/heap.Remove.
type node struct {
	id      int
	expires time.Time
	cb      func()
	index   int
}

type minheap []*node

func (h minheap) Len() int            { return len(h) }
func (h minheap) Less(i, j int) bool  { return h[i].expires.Before(h[j].expires) }
func (h minheap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *minheap) Push(x any) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *minheap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Heap is the indexed timer min-heap described in spec.md §4.5.
type Heap struct {
	h   minheap
	idx map[int]*node
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{idx: make(map[int]*node)}
}

// Add inserts a new node for id, or if id is already present, updates its
// expiry and callback and re-heapifies in place — exactly the two branches
// spec.md §4.5 documents for Add.
func (t *Heap) Add(id int, timeout time.Duration, cb func()) {
	if n, ok := t.idx[id]; ok {
		n.expires = time.Now().Add(timeout)
		n.cb = cb
		heap.Fix(&t.h, n.index)
		return
	}
	n := &node{id: id, expires: time.Now().Add(timeout), cb: cb}
	t.idx[id] = n
	heap.Push(&t.h, n)
}

// Adjust resets id's expiry to now+timeout and re-heapifies. id must already
// be present.
func (t *Heap) Adjust(id int, timeout time.Duration) {
	n, ok := t.idx[id]
	if !ok {
		return
	}
	n.expires = time.Now().Add(timeout)
	heap.Fix(&t.h, n.index)
}

// DoWork fires id's callback immediately and removes its node, if present.
func (t *Heap) DoWork(id int) {
	n, ok := t.idx[id]
	if !ok {
		return
	}
	n.cb()
	t.remove(n)
}

// Tick fires and removes every node whose deadline has already passed.
func (t *Heap) Tick() {
	now := time.Now()
	for len(t.h) > 0 {
		top := t.h[0]
		if top.expires.After(now) {
			break
		}
		top.cb()
		t.remove(top)
	}
}

// GetNextTick fires due timers via Tick, then returns the delay until the
// new earliest deadline, clamped at 0, or -1 if the heap is now empty.
func (t *Heap) GetNextTick() time.Duration {
	t.Tick()
	if len(t.h) == 0 {
		return -1
	}
	d := time.Until(t.h[0].expires)
	if d < 0 {
		d = 0
	}
	return d
}

// Pop removes the earliest-deadline node without firing its callback.
func (t *Heap) Pop() {
	if len(t.h) == 0 {
		return
	}
	t.remove(t.h[0])
}

// Remove discards id's node, if present, without firing its callback. Used
// when a connection closes through a path other than its own idle timeout,
// so the stale node cannot later fire against a reused fd.
func (t *Heap) Remove(id int) {
	n, ok := t.idx[id]
	if !ok {
		return
	}
	t.remove(n)
}

// Clear discards every node.
func (t *Heap) Clear() {
	t.h = nil
	t.idx = make(map[int]*node)
}

// Len reports how many nodes are scheduled.
func (t *Heap) Len() int { return len(t.h) }

func (t *Heap) remove(n *node) {
	// A callback fired by Tick or DoWork may already have removed its own
	// node (the reactor's idle-timeout callback calls Remove via closeConn).
	if t.idx[n.id] != n {
		return
	}
	heap.Remove(&t.h, n.index)
	delete(t.idx, n.id)
}
