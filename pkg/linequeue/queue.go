// Package linequeue provides a thread-safe FIFO of strings with atomic drain.
package linequeue

import "sync"

// Queue is a thread-safe FIFO of strings. Items are consumed destructively:
// once returned by DrainAll an item never reappears.
type Queue struct {
	mu    sync.Mutex
	items []string
}

// New creates an empty queue
func New() *Queue {
	return &Queue{}
}

// Enqueue appends an item to the back of the queue
func (q *Queue) Enqueue(item string) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// DrainAll returns every queued item in insertion order and empties the queue
// in the same critical section. The result is never nil.
func (q *Queue) DrainAll() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return []string{}
	}

	drained := q.items
	q.items = nil
	return drained
}

// Len returns the number of items currently queued
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
