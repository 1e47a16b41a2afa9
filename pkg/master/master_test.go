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

package master

import (
	"context"
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

const (
	waitTimeout = 5 * time.Second
	waitTick    = 10 * time.Millisecond
)

type testEnv struct {
	tp     *transport.Transport
	clk    *clock.Mock
	cfg    *Config
	master *Master
}

func newTestConfig(t *testing.T) *Config {
	cfg := GetDefaultMasterConfig()
	cfg.ClientAddr = transport.NewInprocAddress("client")
	cfg.WorkerAddr = transport.NewInprocAddress("worker")
	cfg.CacheAddr = transport.NewInprocAddress("cache")
	cfg.MaxRedispatch = 1
	require.NoError(t, cfg.Adjust())
	return cfg
}

func startTestMaster(t *testing.T, cfg *Config) *testEnv {
	hub := transport.NewHub()
	tp := transport.New(hub)
	clk := clock.NewMock()
	m, err := New(tp, cfg, WithClock(clk))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		require.ErrorIs(t, perrors.Cause(<-done), context.Canceled)
		require.NoError(t, m.Close())
		hub.Close()
	})
	return &testEnv{tp: tp, clk: clk, cfg: cfg, master: m}
}

// peer is a bare job or result endpoint driven by the test.
type peer struct {
	t      *testing.T
	id     string
	addr   string
	puller transport.Puller
	pusher transport.Pusher
}

func (e *testEnv) newPeer(t *testing.T, id string, pushAddr string) *peer {
	addr := transport.NewInprocAddress(id)
	puller, err := e.tp.BindPull(addr)
	require.NoError(t, err)
	pusher, err := e.tp.ConnectPush(pushAddr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = puller.Close()
		_ = pusher.Close()
	})
	return &peer{t: t, id: id, addr: addr, puller: puller, pusher: pusher}
}

func (p *peer) send(msg *message.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(p.t, p.pusher.Push(ctx, message.MustEncode(msg)))
}

func (p *peer) receive(timeout time.Duration) (*message.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	frame, err := p.puller.Pull(ctx)
	if err != nil {
		return nil, err
	}
	return message.Decode(frame)
}

func (p *peer) mustReceive() *message.Message {
	msg, err := p.receive(waitTimeout)
	require.NoError(p.t, err)
	return msg
}

func (p *peer) requireSilent() {
	_, err := p.receive(100 * time.Millisecond)
	require.ErrorIs(p.t, perrors.Cause(err), context.DeadlineExceeded)
}

func (p *peer) heartbeat() {
	p.send(message.NewHeartbeat(p.id, p.addr))
}

func (p *peer) submit(cid, function string, payload []byte) {
	job := message.NewJob(cid, p.id, function, payload)
	job.ReplyTo = p.addr
	p.send(job)
}

func (e *testEnv) waitWorkers(t *testing.T, n int) {
	require.Eventually(t, func() bool {
		return len(e.master.Workers()) == n
	}, waitTimeout, waitTick)
}

func TestMasterRoutesJobs(t *testing.T) {
	t.Parallel()

	env := startTestMaster(t, newTestConfig(t))
	client := env.newPeer(t, "client", env.cfg.ClientAddr)
	worker := env.newPeer(t, "w1", env.cfg.WorkerAddr)

	// The job waits in the backlog until a worker shows up.
	client.submit("c-1", "echo", []byte("hello"))
	require.Eventually(t, func() bool {
		return env.master.BacklogLen() == 1
	}, waitTimeout, waitTick)
	worker.heartbeat()

	job := worker.mustReceive()
	require.Equal(t, message.KindJob, job.Kind)
	require.Equal(t, "c-1", job.CorrelationID)
	require.Equal(t, "echo", job.Function)
	require.Equal(t, []byte("hello"), job.Payload)

	worker.send(message.NewResult(job, worker.id, []byte("hello"), nil))
	result := client.mustReceive()
	require.Equal(t, message.KindResult, result.Kind)
	require.Equal(t, "c-1", result.CorrelationID)
	require.False(t, result.Failed())
	require.Equal(t, []byte("hello"), result.Payload)

	require.Eventually(t, func() bool {
		workers := env.master.Workers()
		return len(workers) == 1 && workers[0].Status == WorkerAvailable
	}, waitTimeout, waitTick)
	require.Empty(t, env.master.Jobs())

	// Failures reach the client unchanged.
	client.submit("c-2", "boom", nil)
	job = worker.mustReceive()
	worker.send(message.NewResult(job, worker.id, nil, errors.ErrUnknownFunction.GenWithStackByArgs("boom")))
	result = client.mustReceive()
	require.Equal(t, "c-2", result.CorrelationID)
	require.True(t, errors.Is(result.Err(), errors.ErrUnknownFunction))

	// Duplicates of a pending job are rejected.
	client.submit("c-3", "echo", nil)
	worker.mustReceive()
	client.submit("c-3", "echo", nil)
	result = client.mustReceive()
	require.True(t, errors.Is(result.Err(), errors.ErrDuplicateJob))
}

func TestMasterServesCache(t *testing.T) {
	t.Parallel()

	env := startTestMaster(t, newTestConfig(t))
	cli, err := cache.NewClient(env.tp, env.cfg.CacheAddr, "client")
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	key, err := cli.Set(ctx, []byte("python"), "")
	require.NoError(t, err)
	require.NotEmpty(t, key)
	value, err := cli.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("python"), value)
	require.Equal(t, 1, env.master.Store().Len())

	_, err = cli.Delete(ctx, key)
	require.NoError(t, err)
	_, err = cli.Get(ctx, key)
	require.True(t, errors.Is(err, errors.ErrKeyNotFound))
}

func TestMasterRedispatchesOnWorkerDeath(t *testing.T) {
	t.Parallel()

	env := startTestMaster(t, newTestConfig(t))
	client := env.newPeer(t, "client", env.cfg.ClientAddr)
	w1 := env.newPeer(t, "w1", env.cfg.WorkerAddr)
	w2 := env.newPeer(t, "w2", env.cfg.WorkerAddr)

	w1.heartbeat()
	env.waitWorkers(t, 1)
	client.submit("c-1", "echo", []byte("x"))
	job := w1.mustReceive()
	require.Equal(t, "c-1", job.CorrelationID)

	w2.heartbeat()
	env.waitWorkers(t, 2)

	// Only w2 keeps beating.
	env.clk.Add(2 * time.Second)
	w2.heartbeat()
	require.Eventually(t, func() bool {
		return env.master.Workers()[1].LastHeartbeat.Equal(env.clk.Now())
	}, waitTimeout, waitTick)
	env.clk.Add(2 * time.Second)

	redispatched := w2.mustReceive()
	require.Equal(t, "c-1", redispatched.CorrelationID)
	workers := env.master.Workers()
	require.Equal(t, WorkerPresumedDead, workers[0].Status)
	require.Equal(t, WorkerBusy, workers[1].Status)

	// The late result of w1 is dropped.
	w1.send(message.NewResult(job, w1.id, []byte("late"), nil))
	client.requireSilent()

	w2.send(message.NewResult(redispatched, w2.id, []byte("x"), nil))
	result := client.mustReceive()
	require.Equal(t, "c-1", result.CorrelationID)
	require.Equal(t, []byte("x"), result.Payload)
	require.Empty(t, env.master.Jobs())

	// A heartbeat brings w1 back.
	w1.heartbeat()
	require.Eventually(t, func() bool {
		return env.master.Workers()[0].Status == WorkerAvailable
	}, waitTimeout, waitTick)
}

func TestMasterNewFailsOnBusyAddress(t *testing.T) {
	t.Parallel()

	env := startTestMaster(t, newTestConfig(t))
	cfg := newTestConfig(t)
	cfg.CacheAddr = env.cfg.CacheAddr
	_, err := New(env.tp, cfg)
	require.True(t, errors.Is(err, errors.ErrAddressInUse))
}
