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

package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/containers"
	"go.uber.org/atomic"
)

const receiverBufferSize = 16

type receiverID = int64

// Notifier is the sending endpoint of an event notification mechanism.
// It broadcasts a stream of events to a number of receivers. Events
// notified while no receiver exists are dropped.
type Notifier[T any] struct {
	receivers    sync.Map // receiverID -> *Receiver[T]
	numReceivers atomic.Int64
	nextID       atomic.Int64

	// lossy notifiers skip receivers whose buffer is full. They send from
	// Notify directly, holding sendMu for reading; closing a receiver
	// channel takes it for writing.
	lossy  bool
	sendMu sync.RWMutex

	// queue is unbounded.
	queue *containers.SliceQueue[T]

	closed        atomic.Bool
	closeCh       chan struct{}
	synchronizeCh chan struct{}

	wg sync.WaitGroup
}

// Receiver is the receiving endpoint of a single-producer-multiple-consumer
// notification mechanism.
type Receiver[T any] struct {
	// C is a channel to read the events from.
	// Note that it is part of the public interface of this package.
	C chan T

	id receiverID

	closeOnce sync.Once

	// closed MUST be closed before closing `C`.
	closed chan struct{}

	notifier *Notifier[T]
}

// Close closes the receiver
func (r *Receiver[T]) Close() {
	r.closeOnce.Do(
		func() {
			close(r.closed)
			// Waits for the synchronization barrier, which means that run()
			// has finished the last iteration and will not write to `C`.
			<-r.notifier.synchronizeCh
			r.notifier.sendMu.Lock()
			r.notifier.receivers.Delete(r.id)
			r.notifier.numReceivers.Dec()
			close(r.C)
			r.notifier.sendMu.Unlock()
		})
}

// NewNotifier creates a new Notifier. A slow receiver applies back
// pressure to the whole notifier.
func NewNotifier[T any]() *Notifier[T] {
	return newNotifier[T](false)
}

// NewLossyNotifier creates a Notifier that drops an event for every
// receiver that has not drained its buffer.
func NewLossyNotifier[T any]() *Notifier[T] {
	return newNotifier[T](true)
}

func newNotifier[T any](lossy bool) *Notifier[T] {
	ret := &Notifier[T]{
		receivers:     sync.Map{},
		lossy:         lossy,
		queue:         containers.NewSliceQueue[T](),
		closeCh:       make(chan struct{}),
		synchronizeCh: make(chan struct{}),
	}

	ret.wg.Add(1)
	go func() {
		defer ret.wg.Done()
		ret.run()
	}()
	return ret
}

// NewReceiver creates a new Receiver associated with
// the given Notifier.
func (n *Notifier[T]) NewReceiver() *Receiver[T] {
	ch := make(chan T, receiverBufferSize)
	receiver := &Receiver[T]{
		id:       n.nextID.Add(1),
		C:        ch,
		closed:   make(chan struct{}),
		notifier: n,
	}

	n.sendMu.Lock()
	n.receivers.Store(receiver.id, receiver)
	n.numReceivers.Inc()
	n.sendMu.Unlock()
	return receiver
}

// Notify sends a new notification event. The event only reaches receivers
// that exist when Notify is called.
func (n *Notifier[T]) Notify(event T) {
	if n.closed.Load() || n.numReceivers.Load() == 0 {
		return
	}
	if n.lossy {
		n.sendMu.RLock()
		n.broadcast(event)
		n.sendMu.RUnlock()
		return
	}
	n.queue.Push(event)
}

// Close closes the notifier.
func (n *Notifier[T]) Close() {
	if n.closed.Swap(true) {
		// Ensures idempotency of closing once.
		return
	}

	close(n.closeCh)
	n.wg.Wait()

	n.receivers.Range(func(_, value any) bool {
		receiver := value.(*Receiver[T])
		receiver.Close()
		return true
	})
}

// Flush flushes all pending notifications.
// Note that for Flush to work as expected, a
// quiescent period is required, i.e. you should
// not send more events until Flush returns.
func (n *Notifier[T]) Flush(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-n.closeCh:
			return nil
		case <-n.synchronizeCh:
			// Checks the queue size after each iteration
			// of run().
		}

		if n.queue.Size() == 0 {
			return nil
		}
	}
}

func (n *Notifier[T]) run() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	defer func() {
		close(n.synchronizeCh)
	}()

	for {
		select {
		case <-n.closeCh:
			return
		case n.synchronizeCh <- struct{}{}:
			// no-op here. Just a synchronization barrier.
		case <-ticker.C:
		case <-n.queue.C:
		Inner:
			for {
				event, ok := n.queue.Pop()
				if !ok {
					break Inner
				}
				n.broadcast(event)

				select {
				case <-n.closeCh:
					return
				default:
				}
			}
		}
	}
}

func (n *Notifier[T]) broadcast(event T) {
	n.receivers.Range(func(_, value any) bool {
		receiver := value.(*Receiver[T])

		if n.lossy {
			select {
			case <-receiver.closed:
			case receiver.C <- event:
			default:
			}
			return true
		}

		select {
		case <-n.closeCh:
			return false
		case <-receiver.closed:
			// Receiver has been closed.
		case receiver.C <- event:
			// send the event to the receiver.
		}
		return true
	})
}
