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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDequeBasics(t *testing.T) {
	t.Parallel()

	d := NewDeque[int]()
	_, ok := d.Pop()
	require.False(t, ok)

	d.Push(1)
	d.Push(2)
	d.PushFront(0)
	require.Equal(t, 3, d.Size())

	v, ok := d.Peek()
	require.True(t, ok)
	require.Equal(t, 0, v)

	var seen []int
	d.Range(func(elem int) bool {
		seen = append(seen, elem)
		return true
	})
	require.Equal(t, []int{0, 1, 2}, seen)

	for i := 0; i < 3; i++ {
		v, ok := d.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	require.Equal(t, 0, d.Size())
}

func TestSliceQueueBasics(t *testing.T) {
	t.Parallel()

	q := NewSliceQueue[string]()
	_, ok := q.Pop()
	require.False(t, ok)

	q.Push("a")
	q.Push("b")
	require.Equal(t, 2, q.Size())
	<-q.C

	v, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, "a", v)

	v, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, "a", v)
	// an element remains, so the signal is raised again
	<-q.C
	v, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, "b", v)

	select {
	case <-q.C:
		t.Fatal("unexpected signal on empty queue")
	default:
	}
}

func TestSliceQueueConcurrentWriteAndRead(t *testing.T) {
	t.Parallel()

	const (
		numWriters = 4
		perWriter  = 1000
	)
	q := NewSliceQueue[int]()

	var wg sync.WaitGroup
	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				q.Push(base*perWriter + j)
			}
		}(i)
	}

	received := make(map[int]struct{})
	for len(received) < numWriters*perWriter {
		<-q.C
		for {
			v, ok := q.Pop()
			if !ok {
				break
			}
			received[v] = struct{}{}
		}
	}
	wg.Wait()
	require.Len(t, received, numWriters*perWriter)
}
