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
	"math"

	"github.com/docker/go-units"
	"github.com/pingcap/jobmesh/pkg/errors"
)

// DefaultMaxFrameSize is the largest frame accepted on tcp connections.
const DefaultMaxFrameSize = 64 * units.MiB

// Pusher sends frames to the puller bound to an address.
type Pusher interface {
	// Push blocks until the frame is handed to the substrate.
	Push(ctx context.Context, frame []byte) error
	Close() error
}

// Puller receives the frames pushed to the address it is bound to. Several
// pullers bound to one inproc address compete for frames.
type Puller interface {
	// Pull blocks until a frame arrives, ctx is done or the puller is closed.
	Pull(ctx context.Context) ([]byte, error)
	Close() error
}

// Requester sends a request and waits for its reply. Requests on one
// Requester are not pipelined.
type Requester interface {
	Request(ctx context.Context, frame []byte) ([]byte, error)
	Close() error
}

// ReplyHandler computes the reply to one request.
type ReplyHandler func(ctx context.Context, request []byte) []byte

// Replier answers requests one at a time in arrival order.
type Replier interface {
	// Serve handles requests until ctx is done or the replier is closed.
	Serve(ctx context.Context, handler ReplyHandler) error
	Close() error
}

// Publisher broadcasts frames to the subscribers of an address. Publish
// never blocks and frames nobody receives are dropped.
type Publisher interface {
	Publish(frame []byte)
	Close() error
}

// Subscriber receives published frames.
type Subscriber interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Transport opens channel endpoints for inproc:// and tcp:// addresses.
type Transport struct {
	hub          *Hub
	maxFrameSize int
}

// Option configures a Transport.
type Option func(*Transport)

// WithMaxFrameSize limits the size of frames read from tcp connections.
func WithMaxFrameSize(size int) Option {
	return func(t *Transport) {
		if size > 0 {
			t.maxFrameSize = size
		}
	}
}

// ParseFrameSize parses a human readable size such as "64MiB" or "512k".
func ParseFrameSize(size string) (int, error) {
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, errors.WrapError(errors.ErrInvalidArgument, err, "frame size "+size)
	}
	if n <= 0 || n > math.MaxInt32 {
		return 0, errors.ErrInvalidArgument.GenWithStackByArgs("frame size out of range: " + size)
	}
	return int(n), nil
}

// New creates a Transport resolving inproc addresses in hub. A nil hub
// selects the process wide default hub.
func New(hub *Hub, opts ...Option) *Transport {
	if hub == nil {
		hub = defaultHub
	}
	t := &Transport{
		hub:          hub,
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaxFrameSize returns the frame size limit of tcp connections.
func (t *Transport) MaxFrameSize() int {
	return t.maxFrameSize
}

// Hub returns the hub used for inproc addresses.
func (t *Transport) Hub() *Hub {
	return t.hub
}

// BindPull binds a puller to addr.
func (t *Transport) BindPull(addr string) (Puller, error) {
	scheme, target, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if scheme == SchemeInproc {
		return t.hub.bindPull(target), nil
	}
	puller, err := listenPull(target, t.maxFrameSize)
	if err != nil {
		return nil, err
	}
	return puller, nil
}

// ConnectPush connects a pusher to addr. Tcp pushers dial lazily.
func (t *Transport) ConnectPush(addr string) (Pusher, error) {
	scheme, target, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if scheme == SchemeInproc {
		return t.hub.connectPush(target), nil
	}
	return newTCPPusher(target, t.maxFrameSize), nil
}

// BindReply binds a replier to addr. Only one replier may be bound to an
// address.
func (t *Transport) BindReply(addr string) (Replier, error) {
	scheme, target, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if scheme == SchemeInproc {
		replier, err := t.hub.bindReply(addr, target)
		if err != nil {
			return nil, err
		}
		return replier, nil
	}
	replier, err := listenReply(target, t.maxFrameSize)
	if err != nil {
		return nil, err
	}
	return replier, nil
}

// ConnectRequest connects a requester to addr.
func (t *Transport) ConnectRequest(addr string) (Requester, error) {
	scheme, target, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if scheme == SchemeInproc {
		return t.hub.connectRequest(target), nil
	}
	return newTCPRequester(target, t.maxFrameSize), nil
}

// BindSubscribe binds a subscriber to addr.
func (t *Transport) BindSubscribe(addr string) (Subscriber, error) {
	scheme, target, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if scheme == SchemeInproc {
		return t.hub.bindSubscribe(target), nil
	}
	sub, err := listenSubscribe(target, t.maxFrameSize)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ConnectPublish connects a publisher to addr.
func (t *Transport) ConnectPublish(addr string) (Publisher, error) {
	scheme, target, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if scheme == SchemeInproc {
		return t.hub.connectPublish(target), nil
	}
	return newTCPPublisher(target, t.maxFrameSize), nil
}
