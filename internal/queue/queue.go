// Package queue implements the blocking FIFO connecting pipeline stages.
package queue

import "sync"

// Queue is an unbounded FIFO. Push never blocks; Pop blocks until an item
// arrives or the queue is deactivated.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	active bool
	maxLen int
}

// New returns an active queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{active: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v and wakes one waiter.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	if n := len(q.items) - q.head; n > q.maxLen {
		q.maxLen = n
	}
	q.mu.Unlock()

	q.cond.Signal()
}

// Pop removes the oldest item, blocking while the queue is empty.
// It returns false once the queue is deactivated, even if items remain.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) && q.active {
		q.cond.Wait()
	}
	if !q.active {
		var zero T
		return zero, false
	}
	return q.shift(), true
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		var zero T
		return zero, false
	}
	return q.shift(), true
}

func (q *Queue[T]) shift() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v
}

// Drain removes and returns every queued item.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return out
}

// Deactivate wakes all blocked Pop calls with a stop result. Idempotent.
func (q *Queue[T]) Deactivate() {
	q.mu.Lock()
	if !q.active {
		q.mu.Unlock()
		return
	}
	q.active = false
	q.mu.Unlock()

	q.cond.Broadcast()
}

// Activate makes Pop block again.
func (q *Queue[T]) Activate() {
	q.mu.Lock()
	q.active = true
	q.mu.Unlock()
}

// Active reports the activation state.
func (q *Queue[T]) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// MaxLen returns the largest length observed.
func (q *Queue[T]) MaxLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxLen
}
