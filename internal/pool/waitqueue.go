package pool

import "container/heap"

// waiter is a blocked acquire() call parked on the queue. result delivers
// either a connection or an error exactly once.
type waiter struct {
	priority Priority
	seq      int64
	result   chan waitResult
	index    int // heap bookkeeping
}

type waitResult struct {
	conn *Conn
	err  error
}

// waitHeap orders by priority descending, then by arrival (seq) ascending —
// a waiter of priority P is never overtaken by a later arrival of
// priority <= P.
type waitHeap []*waiter

func (h waitHeap) Len() int { return len(h) }

func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waitHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// waitQueue wraps waitHeap behind the container/heap interface.
type waitQueue struct {
	h waitHeap
}

func newWaitQueue() *waitQueue {
	q := &waitQueue{}
	heap.Init(&q.h)
	return q
}

func (q *waitQueue) push(w *waiter) { heap.Push(&q.h, w) }

func (q *waitQueue) pop() *waiter {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*waiter)
}

func (q *waitQueue) remove(w *waiter) {
	if w.index < 0 || w.index >= len(q.h) {
		return
	}
	heap.Remove(&q.h, w.index)
}

func (q *waitQueue) len() int { return q.h.Len() }
