package memds

import (
	"slices"
)

// thread unsafe FIFO array queue, dequeued slots are reclaimed once half of the backing array is unused.
type ArrayQueue[T any] struct {
	elements []T
	head     int
}

func NewArrayQueue[T any]() *ArrayQueue[T] {
	return &ArrayQueue[T]{}
}

// Enqueue adds a value to the end of the queue.
func (q *ArrayQueue[T]) Enqueue(value T) {
	q.elements = append(q.elements, value)
}

// EnqueueAll adds values to the end of the queue, preserving their order.
func (q *ArrayQueue[T]) EnqueueAll(values ...T) {
	q.elements = append(q.elements, values...)
}

// Dequeue removes first element of the queue and returns it.
// Second return parameter is true, unless the queue was empty and there was nothing to dequeue.
func (q *ArrayQueue[T]) Dequeue() (value T, ok bool) {
	if q.head >= len(q.elements) {
		return
	}
	elem := q.elements[q.head]

	var zero T
	q.elements[q.head] = zero //release the reference
	q.head++

	if q.head == len(q.elements) {
		q.elements = q.elements[:0]
		q.head = 0
	} else if q.head > len(q.elements)/2 {
		n := copy(q.elements, q.elements[q.head:])
		q.elements = q.elements[:n]
		q.head = 0
	}
	return elem, true
}

// Peek returns first element of the queue without removing it.
// Second return parameter is true, unless the queue was empty and there was nothing to peek.
func (q *ArrayQueue[T]) Peek() (value T, ok bool) {
	if q.head >= len(q.elements) {
		return
	}
	return q.elements[q.head], true
}

// Empty returns true if queue does not contain any elements.
func (q *ArrayQueue[T]) Empty() bool {
	return q.head >= len(q.elements)
}

// Size returns the number of elements within the queue.
func (q *ArrayQueue[T]) Size() int {
	return len(q.elements) - q.head
}

// Clear removes all elements from the queue.
func (q *ArrayQueue[T]) Clear() {
	clear(q.elements)
	q.elements = q.elements[:0]
	q.head = 0
}

// Values returns all elements in the queue (FIFO order).
func (q *ArrayQueue[T]) Values() []T {
	return slices.Clone(q.elements[q.head:])
}
