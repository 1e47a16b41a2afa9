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

package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	perrors "github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/cache"
	"github.com/pingcap/jobmesh/pkg/clock"
	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// fakeMaster receives what workers push and serves the cache.
type fakeMaster struct {
	t      *testing.T
	tp     *transport.Transport
	store  *cache.Store
	addr   string
	cache  string
	puller transport.Puller
}

func newFakeMaster(t *testing.T) *fakeMaster {
	hub := transport.NewHub()
	t.Cleanup(hub.Close)
	tp := transport.New(hub)

	m := &fakeMaster{
		t:     t,
		tp:    tp,
		store: cache.NewStore(),
		addr:  transport.NewInprocAddress("master"),
		cache: transport.NewInprocAddress("cache"),
	}
	var err error
	m.puller, err = tp.BindPull(m.addr)
	require.NoError(t, err)
	replier, err := tp.BindReply(m.cache)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = replier.Serve(ctx, cache.NewReplyHandler(m.store, "master"))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = replier.Close()
		_ = m.puller.Close()
	})
	return m
}

func (m *fakeMaster) newConfig(name string) *Config {
	cfg := GetDefaultWorkerConfig()
	cfg.Name = name
	cfg.JobAddr = transport.NewInprocAddress(name)
	cfg.MasterAddr = m.addr
	cfg.CacheAddr = m.cache
	require.NoError(m.t, cfg.Adjust())
	return cfg
}

func (m *fakeMaster) receive() *message.Message {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	frame, err := m.puller.Pull(ctx)
	require.NoError(m.t, err)
	msg, err := message.Decode(frame)
	require.NoError(m.t, err)
	return msg
}

// receiveResult skips heartbeats.
func (m *fakeMaster) receiveResult() *message.Message {
	for {
		msg := m.receive()
		if msg.Kind == message.KindResult {
			return msg
		}
		require.Equal(m.t, message.KindHeartbeat, msg.Kind)
	}
}

func (m *fakeMaster) dispatch(addr string, job *message.Message) {
	pusher, err := m.tp.ConnectPush(addr)
	require.NoError(m.t, err)
	defer pusher.Close()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(m.t, pusher.Push(ctx, message.MustEncode(job)))
}

func runWorker(t *testing.T, run func(ctx context.Context) error, closer func() error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		require.ErrorIs(t, perrors.Cause(<-done), context.Canceled)
		require.NoError(t, closer())
	})
}

func TestWorkerExecutesJobs(t *testing.T) {
	t.Parallel()

	m := newFakeMaster(t)
	registry := NewDefaultRegistry()
	registry.MustRegister("upper", func(_ context.Context, job *Job) ([]byte, error) {
		out := make([]byte, len(job.Payload))
		for i, b := range job.Payload {
			if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			out[i] = b
		}
		return out, nil
	})
	registry.MustRegister("fail", func(context.Context, *Job) ([]byte, error) {
		return []byte("ignored"), fmt.Errorf("disk full")
	})
	registry.MustRegister("missing", func(ctx context.Context, job *Job) ([]byte, error) {
		return job.Cache.Get(ctx, "nope")
	})
	registry.MustRegister("panic", func(context.Context, *Job) ([]byte, error) {
		panic("boom")
	})

	cfg := m.newConfig("w1")
	w, err := New(m.tp, cfg, registry, WithClock(clock.NewMock()))
	require.NoError(t, err)
	require.Equal(t, "w1", w.Name())
	runWorker(t, w.Run, w.Close)

	// Workers announce themselves right away.
	hb := m.receive()
	require.Equal(t, message.KindHeartbeat, hb.Kind)
	require.Equal(t, "w1", hb.Sender)
	require.Equal(t, cfg.JobAddr, hb.ReplyTo)

	m.dispatch(cfg.JobAddr, message.NewJob("c-1", "client", "upper", []byte("hello")))
	result := m.receiveResult()
	require.Equal(t, "c-1", result.CorrelationID)
	require.Equal(t, "w1", result.Sender)
	require.False(t, result.Failed())
	require.Equal(t, []byte("HELLO"), result.Payload)

	cases := []struct {
		function string
		rfcErr   *perrors.Error
	}{
		{function: "no-such-function", rfcErr: errors.ErrUnknownFunction},
		{function: "fail", rfcErr: errors.ErrHandlerFailed},
		{function: "missing", rfcErr: errors.ErrKeyNotFound},
		{function: "panic", rfcErr: errors.ErrHandlerPanic},
	}
	for i, tc := range cases {
		cid := fmt.Sprintf("c-fail-%d", i)
		m.dispatch(cfg.JobAddr, message.NewJob(cid, "client", tc.function, nil))
		result := m.receiveResult()
		require.Equal(t, cid, result.CorrelationID, tc.function)
		require.True(t, result.Failed(), tc.function)
		require.Nil(t, result.Payload, tc.function)
		require.True(t, errors.Is(result.Err(), tc.rfcErr), tc.function)
	}
	require.Contains(t, func() string {
		m.dispatch(cfg.JobAddr, message.NewJob("c-disk", "client", "fail", nil))
		return m.receiveResult().Error.Message
	}(), "disk full")

	// The worker keeps serving after failures.
	m.dispatch(cfg.JobAddr, message.NewJob("c-2", "client", FuncEcho, []byte("still here")))
	require.Equal(t, []byte("still here"), m.receiveResult().Payload)
	require.Equal(t, int64(7), w.Executed())
}

func TestWorkerUsesCache(t *testing.T) {
	t.Parallel()

	m := newFakeMaster(t)
	cfg := m.newConfig("w1")
	w, err := New(m.tp, cfg, NewDefaultRegistry(), WithClock(clock.NewMock()))
	require.NoError(t, err)
	runWorker(t, w.Run, w.Close)

	m.dispatch(cfg.JobAddr, message.NewJob("c-set", "client", FuncCacheSet, []byte("cached")))
	result := m.receiveResult()
	require.False(t, result.Failed())
	key := string(result.Payload)
	stored, err := m.store.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("cached"), stored)

	m.store.Set([]byte("from master"), "k")
	m.dispatch(cfg.JobAddr, message.NewJob("c-get", "client", FuncCacheGet, []byte("k")))
	require.Equal(t, []byte("from master"), m.receiveResult().Payload)
}

func TestWorkerHeartbeats(t *testing.T) {
	t.Parallel()

	m := newFakeMaster(t)
	clk := clock.NewMock()
	cfg := m.newConfig("w1")
	w, err := New(m.tp, cfg, NewDefaultRegistry(), WithClock(clk))
	require.NoError(t, err)
	runWorker(t, w.Run, w.Close)

	require.Equal(t, message.KindHeartbeat, m.receive().Kind)
	for i := 0; i < 3; i++ {
		clk.Add(cfg.HeartbeatInterval)
		hb := m.receive()
		require.Equal(t, message.KindHeartbeat, hb.Kind)
		require.Equal(t, "w1", hb.Sender)
	}
}

func TestPool(t *testing.T) {
	t.Parallel()

	m := newFakeMaster(t)
	cfg := m.newConfig("w")
	cfg.Replicas = 3
	pool, err := NewPool(m.tp, cfg, NewDefaultRegistry(), WithClock(clock.NewMock()))
	require.NoError(t, err)
	runWorker(t, pool.Run, pool.Close)

	workers := pool.Workers()
	require.Len(t, workers, 3)
	senders := make(map[string]string)
	for i := 0; i < 3; i++ {
		hb := m.receive()
		require.Equal(t, message.KindHeartbeat, hb.Kind)
		senders[hb.Sender] = hb.ReplyTo
	}
	require.Len(t, senders, 3)
	require.Equal(t, cfg.JobAddr, senders["w-0"])
	require.Equal(t, cfg.JobAddr+"-1", senders["w-1"])
	require.Equal(t, cfg.JobAddr+"-2", senders["w-2"])

	for name, addr := range senders {
		m.dispatch(addr, message.NewJob("c-"+name, "client", FuncEcho, []byte(name)))
		result := m.receiveResult()
		require.Equal(t, name, result.Sender)
		require.Equal(t, []byte(name), result.Payload)
	}
}

func TestPoolRejectsUnderivableAddress(t *testing.T) {
	t.Parallel()

	m := newFakeMaster(t)
	cfg := m.newConfig("w")
	// The first replica listens on a random port, the second one cannot
	// derive its own.
	cfg.JobAddr = "tcp://127.0.0.1:0"
	cfg.Replicas = 2
	_, err := NewPool(m.tp, cfg, NewDefaultRegistry())
	require.True(t, errors.Is(err, errors.ErrInvalidAddress))
}
