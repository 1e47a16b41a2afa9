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

package transport

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/containers"
	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/notifier"
	"go.uber.org/atomic"
)

var defaultHub = NewHub()

// Hub resolves inproc addresses. Endpoints opened on different hubs never
// see each other.
type Hub struct {
	mu       sync.Mutex
	queues   map[string]*containers.SliceQueue[[]byte]
	replies  map[string]*replyChannel
	topics   map[string]*notifier.Notifier[[]byte]
	isClosed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		queues:  make(map[string]*containers.SliceQueue[[]byte]),
		replies: make(map[string]*replyChannel),
		topics:  make(map[string]*notifier.Notifier[[]byte]),
	}
}

// Close stops the fan-out goroutines of all publish/subscribe addresses.
// Subscribers of the hub return ErrTransportClosed afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	topics := h.topics
	h.topics = make(map[string]*notifier.Notifier[[]byte])
	h.isClosed = true
	h.mu.Unlock()

	for _, topic := range topics {
		topic.Close()
	}
}

func (h *Hub) queue(name string) *containers.SliceQueue[[]byte] {
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.queues[name]
	if !ok {
		q = containers.NewSliceQueue[[]byte]()
		h.queues[name] = q
	}
	return q
}

func (h *Hub) replyChannel(name string) *replyChannel {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.replyChannelLocked(name)
}

func (h *Hub) replyChannelLocked(name string) *replyChannel {
	rc, ok := h.replies[name]
	if !ok {
		rc = &replyChannel{requests: make(chan *inprocRequest)}
		h.replies[name] = rc
	}
	return rc
}

// topic returns nil once the hub is closed.
func (h *Hub) topic(name string) *notifier.Notifier[[]byte] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isClosed {
		return nil
	}
	n, ok := h.topics[name]
	if !ok {
		n = notifier.NewLossyNotifier[[]byte]()
		h.topics[name] = n
	}
	return n
}

func cloneFrame(frame []byte) []byte {
	return append(make([]byte, 0, len(frame)), frame...)
}

type inprocPuller struct {
	queue     *containers.SliceQueue[[]byte]
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (h *Hub) bindPull(name string) *inprocPuller {
	return &inprocPuller{
		queue:   h.queue(name),
		closeCh: make(chan struct{}),
	}
}

func (p *inprocPuller) Pull(ctx context.Context) ([]byte, error) {
	for {
		if frame, ok := p.queue.Pop(); ok {
			return frame, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-p.closeCh:
			return nil, jmerrors.ErrTransportClosed.GenWithStackByArgs()
		case <-p.queue.C:
		}
	}
}

func (p *inprocPuller) Close() error {
	p.closeOnce.Do(func() { close(p.closeCh) })
	return nil
}

type inprocPusher struct {
	queue  *containers.SliceQueue[[]byte]
	closed atomic.Bool
}

func (h *Hub) connectPush(name string) *inprocPusher {
	return &inprocPusher{queue: h.queue(name)}
}

func (p *inprocPusher) Push(ctx context.Context, frame []byte) error {
	if p.closed.Load() {
		return jmerrors.ErrTransportClosed.GenWithStackByArgs()
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	p.queue.Push(cloneFrame(frame))
	return nil
}

func (p *inprocPusher) Close() error {
	p.closed.Store(true)
	return nil
}

type inprocRequest struct {
	frame   []byte
	replyCh chan []byte
}

type replyChannel struct {
	requests chan *inprocRequest
	// bound is protected by Hub.mu.
	bound bool
}

type inprocReplier struct {
	hub       *Hub
	channel   *replyChannel
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (h *Hub) bindReply(addr, name string) (*inprocReplier, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rc := h.replyChannelLocked(name)
	if rc.bound {
		return nil, jmerrors.ErrAddressInUse.GenWithStackByArgs(addr)
	}
	rc.bound = true
	return &inprocReplier{
		hub:     h,
		channel: rc,
		closeCh: make(chan struct{}),
	}, nil
}

func (r *inprocReplier) Serve(ctx context.Context, handler ReplyHandler) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-r.closeCh:
			return jmerrors.ErrTransportClosed.GenWithStackByArgs()
		case req := <-r.channel.requests:
			req.replyCh <- handler(ctx, req.frame)
		}
	}
}

func (r *inprocReplier) Close() error {
	r.closeOnce.Do(func() {
		r.hub.mu.Lock()
		r.channel.bound = false
		r.hub.mu.Unlock()
		close(r.closeCh)
	})
	return nil
}

type inprocRequester struct {
	mu      sync.Mutex
	channel *replyChannel
	closed  atomic.Bool
}

func (h *Hub) connectRequest(name string) *inprocRequester {
	return &inprocRequester{channel: h.replyChannel(name)}
}

func (r *inprocRequester) Request(ctx context.Context, frame []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil, jmerrors.ErrTransportClosed.GenWithStackByArgs()
	}
	req := &inprocRequest{
		frame:   cloneFrame(frame),
		replyCh: make(chan []byte, 1),
	}
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case r.channel.requests <- req:
	}
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case reply := <-req.replyCh:
		return reply, nil
	}
}

func (r *inprocRequester) Close() error {
	r.closed.Store(true)
	return nil
}

type inprocPublisher struct {
	topic  *notifier.Notifier[[]byte]
	closed atomic.Bool
}

func (h *Hub) connectPublish(name string) *inprocPublisher {
	return &inprocPublisher{topic: h.topic(name)}
}

func (p *inprocPublisher) Publish(frame []byte) {
	if p.topic == nil || p.closed.Load() {
		return
	}
	p.topic.Notify(cloneFrame(frame))
}

func (p *inprocPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

type inprocSubscriber struct {
	receiver *notifier.Receiver[[]byte]
}

func (h *Hub) bindSubscribe(name string) *inprocSubscriber {
	topic := h.topic(name)
	if topic == nil {
		return &inprocSubscriber{}
	}
	return &inprocSubscriber{receiver: topic.NewReceiver()}
}

func (s *inprocSubscriber) Receive(ctx context.Context) ([]byte, error) {
	if s.receiver == nil {
		return nil, jmerrors.ErrTransportClosed.GenWithStackByArgs()
	}
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case frame, ok := <-s.receiver.C:
		if !ok {
			return nil, jmerrors.ErrTransportClosed.GenWithStackByArgs()
		}
		return frame, nil
	}
}

func (s *inprocSubscriber) Close() error {
	if s.receiver != nil {
		s.receiver.Close()
	}
	return nil
}
