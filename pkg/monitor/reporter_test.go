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

package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap/jobmesh/pkg/clock"
	"github.com/pingcap/jobmesh/pkg/leakutil"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

var testAddrs = Addresses{
	LogAddr:  "inproc://log",
	PerfAddr: "inproc://perf",
	PingAddr: "inproc://ping",
}

func receive(t *testing.T, sub transport.Subscriber) *message.Event {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := sub.Receive(ctx)
	require.NoError(t, err)
	ev, err := message.DecodeEvent(frame)
	require.NoError(t, err)
	return ev
}

func TestReporterStreams(t *testing.T) {
	hub := transport.NewHub()
	defer hub.Close()
	tp := transport.New(hub)

	subs := make(map[message.Stream]transport.Subscriber)
	for _, stream := range []message.Stream{message.StreamLog, message.StreamPerf, message.StreamPing} {
		sub, err := tp.BindSubscribe(testAddrs.Addr(stream))
		require.NoError(t, err)
		defer sub.Close()
		subs[stream] = sub
	}

	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))
	r, err := NewReporter(tp, "worker-0", testAddrs, clk)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, "worker-0", r.Component())

	r.Ping()
	ev := receive(t, subs[message.StreamPing])
	require.Equal(t, "worker-0", ev.Component)
	require.True(t, ev.Timestamp.Equal(clk.Now()))

	r.Perf("jobs_per_second", 12.5)
	ev = receive(t, subs[message.StreamPerf])
	require.Equal(t, "jobs_per_second", ev.Metric)
	require.Equal(t, 12.5, ev.Value)

	r.Log("hello")
	ev = receive(t, subs[message.StreamLog])
	require.Equal(t, "hello", ev.Text)
	require.Equal(t, message.StreamLog, ev.Stream)
}

func TestWrapLoggerTeesIntoLogStream(t *testing.T) {
	hub := transport.NewHub()
	defer hub.Close()
	tp := transport.New(hub)

	sub, err := tp.BindSubscribe(testAddrs.LogAddr)
	require.NoError(t, err)
	defer sub.Close()

	r, err := NewReporter(tp, "master", Addresses{LogAddr: testAddrs.LogAddr}, clock.New())
	require.NoError(t, err)
	defer r.Close()

	core, logs := observer.New(zap.InfoLevel)
	lg := r.WrapLogger(zap.New(core)).With(zap.String("component", "master"))
	lg.Info("worker registered", zap.String("worker", "w1"))

	require.Equal(t, 1, logs.Len())
	ev := receive(t, sub)
	require.Contains(t, ev.Text, `"msg":"worker registered"`)
	require.Contains(t, ev.Text, `"worker":"w1"`)
	require.Contains(t, ev.Text, `"component":"master"`)

	lg.Debug("filtered")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = sub.Receive(ctx)
	require.Error(t, err)
}

func TestNilReporter(t *testing.T) {
	var r *Reporter
	r.Log("x")
	r.Perf("m", 1)
	r.Ping()
	require.NoError(t, r.Close())
	lg := zap.NewNop()
	require.Equal(t, lg, r.WrapLogger(lg))

	// no log stream configured
	r, err := NewReporter(transport.New(transport.NewHub()), "c", Addresses{}, clock.New())
	require.NoError(t, err)
	require.Equal(t, lg, r.WrapLogger(lg))
	r.Ping()
	require.NoError(t, r.Close())
}
