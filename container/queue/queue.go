// Overmesh - decentralized key-based routing
// Copyright 2026 The Overmesh Authors. All rights reserved.
//
// Overmesh is free software: you can redistribute it and/or modify it under
// the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// Overmesh is distributed in the hope that it will be useful, but WITHOUT ANY
// WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS
// FOR A PARTICULAR PURPOSE. See the GNU General Public License for more
// details.

// Package queue implements a FIFO (first in first out) data structure
// supporting arbitrary types (even a mixture).
//
// Internally it uses a dynamically growing circular slice, doubling in place
// whenever the occupancy reaches the capacity.
package queue

// Minimum capacity allocated for a new queue.
const minCapacity = 64

// First in, first out data structure.
type Queue struct {
	ring  []interface{}
	head  int
	count int
}

// Creates a new, empty queue.
func New() *Queue {
	return &Queue{
		ring: make([]interface{}, minCapacity),
	}
}

// Pushes a new element into the queue, expanding it if necessary.
func (q *Queue) Push(data interface{}) {
	if q.count == len(q.ring) {
		q.grow()
	}
	q.ring[(q.head+q.count)%len(q.ring)] = data
	q.count++
}

// Pops out an element from the queue. Note, no bounds checking are done.
func (q *Queue) Pop() interface{} {
	data := q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return data
}

// Returns the first element in the queue. Note, no bounds checking are done.
func (q *Queue) Front() interface{} {
	return q.ring[q.head]
}

// Checks whether the queue is empty.
func (q *Queue) Empty() bool {
	return q.count == 0
}

// Returns the number of elements in the queue.
func (q *Queue) Size() int {
	return q.count
}

// Clears out the contents of the queue.
func (q *Queue) Reset() {
	for i := range q.ring {
		q.ring[i] = nil
	}
	q.head = 0
	q.count = 0
}

// Doubles the capacity of the queue, unrolling the circular contents into
// the head of the new buffer.
func (q *Queue) grow() {
	ring := make([]interface{}, 2*len(q.ring))
	for i := 0; i < q.count; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
}
