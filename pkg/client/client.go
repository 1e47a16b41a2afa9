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

package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	perrors "github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/cache"
	"github.com/pingcap/jobmesh/pkg/clock"
	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/monitor"
	"github.com/pingcap/jobmesh/pkg/transport"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const maxDiscarded = 4096

// Client submits jobs to a master, collects their results and issues cache
// commands.
//
// Results arrive asynchronously on the result address of the client. A
// result nobody waits for yet is buffered until AwaitResult or Discard
// claims it.
type Client struct {
	cfg      *Config
	clk      clock.Clock
	logger   *zap.Logger
	reporter *monitor.Reporter
	session  string
	seq      atomic.Uint64

	pusher transport.Pusher
	puller transport.Puller
	cache  *cache.Client

	mu        sync.Mutex
	buffered  map[string]*message.Message
	waiters   map[string]chan *message.Message
	// discarded remembers the most recent ids whose results are unwanted.
	discarded *lru.Cache

	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Client.
type Option func(*Client)

// WithClock replaces the clock driving await timeouts.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clk = clk
	}
}

// New connects a client. cfg must have been adjusted.
func New(tp *transport.Transport, cfg *Config, opts ...Option) (_ *Client, err error) {
	c := &Client{
		cfg:       cfg,
		clk:       clock.New(),
		session:   uuid.NewString(),
		buffered:  make(map[string]*message.Message),
		waiters:   make(map[string]chan *message.Message),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.discarded, err = lru.New(maxDiscarded); err != nil {
		return nil, perrors.Trace(err)
	}

	defer func() {
		if err != nil {
			close(c.done)
			_ = c.closeChannels()
		}
	}()

	c.reporter, err = monitor.NewReporter(tp, cfg.Name, cfg.Monitor, c.clk)
	if err != nil {
		return nil, err
	}
	c.logger = c.reporter.WrapLogger(logutil.NewLogger4Component("client", cfg.Name))

	if c.puller, err = tp.BindPull(cfg.ResultAddr); err != nil {
		return nil, err
	}
	if c.pusher, err = tp.ConnectPush(cfg.MasterAddr); err != nil {
		return nil, err
	}
	if c.cache, err = cache.NewClient(tp, cfg.CacheAddr, cfg.Name); err != nil {
		return nil, err
	}

	var ctx context.Context
	ctx, c.cancel = context.WithCancel(context.Background())
	go c.readResults(ctx)
	return c, nil
}

// Session returns the id prefixed to every correlation id of the client.
func (c *Client) Session() string {
	return c.session
}

// Submit sends a job to the master and returns its correlation id without
// waiting for the result.
func (c *Client) Submit(ctx context.Context, function string, payload []byte) (string, error) {
	if c.isClosed() {
		return "", errors.ErrClientClosed.GenWithStackByArgs()
	}
	cid := fmt.Sprintf("%s-%d", c.session, c.seq.Inc())
	job := message.NewJob(cid, c.cfg.Name, function, payload)
	job.ReplyTo = c.cfg.ResultAddr
	if err := job.Validate(); err != nil {
		return "", err
	}

	frame, err := message.Encode(job)
	if err != nil {
		return "", err
	}
	if err := c.pusher.Push(ctx, frame); err != nil {
		return "", err
	}
	c.logger.Debug("job submitted", zap.String("cid", cid), zap.String("function", function))
	return cid, nil
}

// AwaitResult blocks until the result of cid arrives and returns its
// payload, or the coded error the job failed with. It returns ErrTimeout
// once timeout elapses, a non-positive timeout uses the configured one.
// The job itself is not cancelled, a result arriving later stays buffered.
func (c *Client) AwaitResult(ctx context.Context, cid string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.cfg.AwaitTimeout
	}

	c.mu.Lock()
	if msg, ok := c.buffered[cid]; ok {
		delete(c.buffered, cid)
		c.mu.Unlock()
		return resultOf(msg)
	}
	if _, ok := c.waiters[cid]; ok {
		c.mu.Unlock()
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("result of " + cid + " is already awaited")
	}
	if c.isClosed() {
		c.mu.Unlock()
		return nil, errors.ErrClientClosed.GenWithStackByArgs()
	}
	c.discarded.Remove(cid)
	ch := make(chan *message.Message, 1)
	c.waiters[cid] = ch
	c.mu.Unlock()

	timer := c.clk.Timer(timeout)
	defer timer.Stop()

	var err error
	select {
	case msg := <-ch:
		return resultOf(msg)
	case <-timer.C:
		err = errors.ErrTimeout.GenWithStackByArgs(cid)
	case <-ctx.Done():
		err = perrors.Trace(ctx.Err())
	case <-c.done:
		err = errors.ErrClientClosed.GenWithStackByArgs()
	}

	c.mu.Lock()
	delete(c.waiters, cid)
	// The result may have been handed over while giving up.
	select {
	case msg := <-ch:
		c.buffered[cid] = msg
	default:
	}
	c.mu.Unlock()
	return nil, err
}

// Call submits a job and waits for its result.
func (c *Client) Call(ctx context.Context, function string, payload []byte, timeout time.Duration) ([]byte, error) {
	cid, err := c.Submit(ctx, function, payload)
	if err != nil {
		return nil, err
	}
	return c.AwaitResult(ctx, cid, timeout)
}

// Discard drops the result of cid, whether it is buffered already or
// still to come.
func (c *Client) Discard(cid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buffered[cid]; ok {
		delete(c.buffered, cid)
		return
	}
	c.discarded.Add(cid, struct{}{})
}

// Buffered returns how many results wait to be claimed.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffered)
}

func resultOf(msg *message.Message) ([]byte, error) {
	if msg.Failed() {
		return nil, msg.Err()
	}
	if msg.Payload == nil {
		return []byte{}, nil
	}
	return msg.Payload, nil
}

func (c *Client) readResults(ctx context.Context) {
	defer close(c.done)
	for {
		frame, err := c.puller.Pull(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("result reader stopped", zap.Error(err))
			}
			return
		}
		msg, err := message.Decode(frame)
		if err != nil {
			c.logger.Warn("dropping undecodable result frame", zap.Error(err))
			continue
		}
		if msg.Kind != message.KindResult || msg.CorrelationID == "" {
			c.logger.Warn("unexpected message on result channel",
				zap.Stringer("kind", msg.Kind), zap.String("sender", msg.Sender))
			continue
		}
		c.deliver(msg)
	}
}

func (c *Client) deliver(msg *message.Message) {
	cid := msg.CorrelationID
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.waiters[cid]; ok {
		delete(c.waiters, cid)
		ch <- msg
		return
	}
	if c.discarded.Contains(cid) {
		c.discarded.Remove(cid)
		return
	}
	if _, ok := c.buffered[cid]; ok {
		c.logger.Warn("dropping duplicate result", zap.String("cid", cid), zap.String("sender", msg.Sender))
		return
	}
	c.buffered[cid] = msg
}

// Set stores value under key, or under a generated key when key is empty,
// and returns the key the master chose.
func (c *Client) Set(ctx context.Context, value []byte, key string) (string, error) {
	return c.cache.Set(ctx, value, key)
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.cache.Get(ctx, key)
}

// Delete removes key and returns it, or ErrKeyNotFound.
func (c *Client) Delete(ctx context.Context, key string) (string, error) {
	return c.cache.Delete(ctx, key)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close stops the result reader and releases all channels. Pending
// AwaitResult calls return ErrClientClosed.
func (c *Client) Close() error {
	c.cancel()
	<-c.done
	return c.closeChannels()
}

func (c *Client) closeChannels() error {
	var err error
	for _, closer := range []interface{ Close() error }{c.puller, c.pusher} {
		if closer != nil {
			err = multierr.Append(err, closer.Close())
		}
	}
	if c.cache != nil {
		err = multierr.Append(err, c.cache.Close())
	}
	return multierr.Append(err, c.reporter.Close())
}
