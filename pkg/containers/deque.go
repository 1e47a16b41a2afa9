// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package containers

import (
	"sync"

	"github.com/edwingeng/deque"
)

// Deque is a goroutine safe double ended queue built on edwingeng/deque.
//
//nolint:structcheck
type Deque[T any] struct {
	// mu protects deque, because it is not thread-safe.
	mu    sync.RWMutex
	deque deque.Deque
}

// NewDeque creates a new Deque instance
func NewDeque[T any]() *Deque[T] {
	return &Deque[T]{
		deque: deque.NewDeque(),
	}
}

// Push appends elem at the back.
func (d *Deque[T]) Push(elem T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deque.PushBack(elem)
}

// PushFront puts elem before every queued element.
func (d *Deque[T]) PushFront(elem T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deque.PushFront(elem)
}

// Pop removes the front element.
func (d *Deque[T]) Pop() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deque.Empty() {
		var noVal T
		return noVal, false
	}

	return d.deque.PopFront().(T), true
}

// Peek returns the front element without removing it.
func (d *Deque[T]) Peek() (T, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.deque.Empty() {
		var noVal T
		return noVal, false
	}

	return d.deque.Front().(T), true
}

// Size returns the number of queued elements.
func (d *Deque[T]) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.deque.Len()
}

// Range calls fn on every element from front to back until fn returns false.
func (d *Deque[T]) Range(fn func(elem T) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := d.deque.Len()
	for i := 0; i < n; i++ {
		if !fn(d.deque.Peek(i).(T)) {
			return
		}
	}
}
