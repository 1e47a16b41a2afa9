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
	"net"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/containers"
	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/retry"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	dialTimeout            = 3 * time.Second
	dialMaxTries           = 5
	dialBaseDelay          = 20 * time.Millisecond
	dialMaxDelay           = 500 * time.Millisecond
	publishBufferSize      = 1024
	publishWriteTimeout    = time.Second
	publishRedialInterval  = 100 * time.Millisecond
	subscriberMaxQueueSize = 4096
)

func dial(ctx context.Context, target string) (net.Conn, error) {
	var conn net.Conn
	err := retry.Do(ctx, func() error {
		dialer := net.Dialer{Timeout: dialTimeout}
		c, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			return errors.Trace(err)
		}
		conn = c
		return nil
	}, retry.WithMaxTries(dialMaxTries),
		retry.WithDelay(dialBaseDelay, dialMaxDelay),
		retry.WithRetryable(func(err error) bool {
			return ctx.Err() == nil
		}),
		retry.WithOnRetry(func(err error, next time.Duration) {
			log.Debug("dial failed, retrying",
				zap.String("target", target),
				zap.Duration("backoff", next),
				zap.Error(err))
		}))
	return conn, err
}

func setDeadline(ctx context.Context, conn net.Conn) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	return errors.Trace(conn.SetDeadline(deadline))
}

// tcpListener accepts connections and runs a handler per connection until
// it is closed.
type tcpListener struct {
	ln           net.Listener
	maxFrameSize int

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newTCPListener(target string, maxFrameSize int) (*tcpListener, error) {
	ln, err := net.Listen("tcp", target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &tcpListener{
		ln:           ln,
		maxFrameSize: maxFrameSize,
		conns:        make(map[net.Conn]struct{}),
		closeCh:      make(chan struct{}),
	}, nil
}

func (l *tcpListener) serve(onConn func(conn net.Conn)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			conn, err := l.ln.Accept()
			if err != nil {
				select {
				case <-l.closeCh:
				default:
					log.Warn("tcp listener stopped accepting",
						zap.String("addr", l.ln.Addr().String()), zap.Error(err))
				}
				return
			}
			if !l.track(conn) {
				_ = conn.Close()
				return
			}
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				defer l.untrack(conn)
				onConn(conn)
			}()
		}
	}()
}

func (l *tcpListener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closeCh:
		return false
	default:
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *tcpListener) untrack(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.conns[conn]; ok {
		delete(l.conns, conn)
		_ = conn.Close()
	}
}

func (l *tcpListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		close(l.closeCh)
		err = l.ln.Close()
		for conn := range l.conns {
			err = multierr.Append(err, conn.Close())
		}
		l.conns = make(map[net.Conn]struct{})
		l.mu.Unlock()
		l.wg.Wait()
	})
	return errors.Trace(err)
}

// queueReceiver implements Pull and Receive on top of a SliceQueue filled by
// connection read loops.
type queueReceiver struct {
	*tcpListener
	queue   *containers.SliceQueue[[]byte]
	maxSize int
}

func (r *queueReceiver) readLoop(conn net.Conn) {
	for {
		frame, err := readFrame(conn, r.maxFrameSize)
		if err != nil {
			return
		}
		if r.maxSize > 0 && r.queue.Size() >= r.maxSize {
			continue
		}
		r.queue.Push(frame)
	}
}

func (r *queueReceiver) next(ctx context.Context) ([]byte, error) {
	for {
		if frame, ok := r.queue.Pop(); ok {
			return frame, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-r.closeCh:
			return nil, jmerrors.ErrTransportClosed.GenWithStackByArgs()
		case <-r.queue.C:
		}
	}
}

type tcpPuller struct {
	queueReceiver
}

func listenPull(target string, maxFrameSize int) (*tcpPuller, error) {
	l, err := newTCPListener(target, maxFrameSize)
	if err != nil {
		return nil, err
	}
	p := &tcpPuller{queueReceiver{tcpListener: l, queue: containers.NewSliceQueue[[]byte]()}}
	l.serve(p.readLoop)
	return p, nil
}

func (p *tcpPuller) Pull(ctx context.Context) ([]byte, error) {
	return p.next(ctx)
}

type tcpSubscriber struct {
	queueReceiver
}

func listenSubscribe(target string, maxFrameSize int) (*tcpSubscriber, error) {
	l, err := newTCPListener(target, maxFrameSize)
	if err != nil {
		return nil, err
	}
	s := &tcpSubscriber{queueReceiver{
		tcpListener: l,
		queue:       containers.NewSliceQueue[[]byte](),
		maxSize:     subscriberMaxQueueSize,
	}}
	l.serve(s.readLoop)
	return s, nil
}

func (s *tcpSubscriber) Receive(ctx context.Context) ([]byte, error) {
	return s.next(ctx)
}

type tcpRequest struct {
	frame   []byte
	replyCh chan []byte
}

type tcpReplier struct {
	*tcpListener
	requests chan *tcpRequest
}

func listenReply(target string, maxFrameSize int) (*tcpReplier, error) {
	l, err := newTCPListener(target, maxFrameSize)
	if err != nil {
		return nil, err
	}
	r := &tcpReplier{tcpListener: l, requests: make(chan *tcpRequest)}
	l.serve(r.handleConn)
	return r, nil
}

func (r *tcpReplier) handleConn(conn net.Conn) {
	for {
		frame, err := readFrame(conn, r.maxFrameSize)
		if err != nil {
			return
		}
		req := &tcpRequest{frame: frame, replyCh: make(chan []byte, 1)}
		select {
		case <-r.closeCh:
			return
		case r.requests <- req:
		}
		var reply []byte
		select {
		case <-r.closeCh:
			return
		case reply = <-req.replyCh:
		}
		if err := writeFrame(conn, reply, r.maxFrameSize); err != nil {
			log.Warn("failed to write reply", zap.Error(err))
			return
		}
	}
}

func (r *tcpReplier) Serve(ctx context.Context, handler ReplyHandler) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-r.closeCh:
			return jmerrors.ErrTransportClosed.GenWithStackByArgs()
		case req := <-r.requests:
			req.replyCh <- handler(ctx, req.frame)
		}
	}
}

type tcpPusher struct {
	target       string
	maxFrameSize int

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func newTCPPusher(target string, maxFrameSize int) *tcpPusher {
	return &tcpPusher{target: target, maxFrameSize: maxFrameSize}
}

func (p *tcpPusher) Push(ctx context.Context, frame []byte) error {
	if len(frame) > p.maxFrameSize {
		return jmerrors.ErrFrameTooLarge.GenWithStackByArgs(len(frame))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return jmerrors.ErrTransportClosed.GenWithStackByArgs()
	}

	// A broken connection is redialed once, frames are never split.
	for attempt := 0; attempt < 2; attempt++ {
		if p.conn == nil {
			conn, err := dial(ctx, p.target)
			if err != nil {
				return err
			}
			p.conn = conn
		}
		if err := setDeadline(ctx, p.conn); err != nil {
			return err
		}
		err := writeFrame(p.conn, frame, p.maxFrameSize)
		if err == nil {
			return nil
		}
		_ = p.conn.Close()
		p.conn = nil
		if attempt == 1 || ctx.Err() != nil {
			return err
		}
	}
	return nil
}

func (p *tcpPusher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return errors.Trace(err)
	}
	return nil
}

type tcpRequester struct {
	target       string
	maxFrameSize int

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func newTCPRequester(target string, maxFrameSize int) *tcpRequester {
	return &tcpRequester{target: target, maxFrameSize: maxFrameSize}
}

func (r *tcpRequester) Request(ctx context.Context, frame []byte) ([]byte, error) {
	if len(frame) > r.maxFrameSize {
		return nil, jmerrors.ErrFrameTooLarge.GenWithStackByArgs(len(frame))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, jmerrors.ErrTransportClosed.GenWithStackByArgs()
	}
	if r.conn == nil {
		conn, err := dial(ctx, r.target)
		if err != nil {
			return nil, err
		}
		r.conn = conn
	}

	reply, err := r.roundTrip(ctx, frame)
	if err != nil {
		_ = r.conn.Close()
		r.conn = nil
		return nil, err
	}
	return reply, nil
}

func (r *tcpRequester) roundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	if err := setDeadline(ctx, r.conn); err != nil {
		return nil, err
	}
	if err := writeFrame(r.conn, frame, r.maxFrameSize); err != nil {
		return nil, err
	}
	return readFrame(r.conn, r.maxFrameSize)
}

func (r *tcpRequester) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		return errors.Trace(err)
	}
	return nil
}

type tcpPublisher struct {
	target       string
	maxFrameSize int

	frames chan []byte
	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTCPPublisher(target string, maxFrameSize int) *tcpPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &tcpPublisher{
		target:       target,
		maxFrameSize: maxFrameSize,
		frames:       make(chan []byte, publishBufferSize),
		cancel:       cancel,
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
	return p
}

func (p *tcpPublisher) Publish(frame []byte) {
	if p.closed.Load() || len(frame) > p.maxFrameSize {
		return
	}
	select {
	case p.frames <- cloneFrame(frame):
	default:
	}
}

func (p *tcpPublisher) run(ctx context.Context) {
	var (
		conn       net.Conn
		lastFailed time.Time
	)
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		var frame []byte
		select {
		case <-ctx.Done():
			return
		case frame = <-p.frames:
		}

		if conn == nil {
			if time.Since(lastFailed) < publishRedialInterval {
				continue
			}
			dialer := net.Dialer{Timeout: dialTimeout}
			c, err := dialer.DialContext(ctx, "tcp", p.target)
			if err != nil {
				lastFailed = time.Now()
				continue
			}
			conn = c
		}
		_ = conn.SetWriteDeadline(time.Now().Add(publishWriteTimeout))
		if err := writeFrame(conn, frame, p.maxFrameSize); err != nil {
			_ = conn.Close()
			conn = nil
		}
	}
}

func (p *tcpPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	return nil
}
