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
	"sync"

	"github.com/pingcap/jobmesh/pkg/clock"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Addresses are the three monitoring channels of the EndPoint. An empty
// address disables the stream.
type Addresses struct {
	LogAddr  string `toml:"log-addr" json:"log-addr"`
	PerfAddr string `toml:"perf-addr" json:"perf-addr"`
	PingAddr string `toml:"ping-addr" json:"ping-addr"`
}

// Addr returns the address of stream.
func (a Addresses) Addr(stream message.Stream) string {
	switch stream {
	case message.StreamLog:
		return a.LogAddr
	case message.StreamPerf:
		return a.PerfAddr
	case message.StreamPing:
		return a.PingAddr
	}
	return ""
}

// Reporter publishes the log, performance and liveness events of one
// component. A nil *Reporter discards everything.
type Reporter struct {
	component string
	clk       clock.Clock
	// publishers is not modified after NewReporter returns.
	publishers map[message.Stream]transport.Publisher
	closeOnce  sync.Once
}

// NewReporter connects publishers for every configured stream of addrs.
func NewReporter(tp *transport.Transport, component string, addrs Addresses, clk clock.Clock) (*Reporter, error) {
	r := &Reporter{
		component:  component,
		clk:        clk,
		publishers: make(map[message.Stream]transport.Publisher),
	}
	for _, stream := range []message.Stream{message.StreamLog, message.StreamPerf, message.StreamPing} {
		addr := addrs.Addr(stream)
		if addr == "" {
			continue
		}
		pub, err := tp.ConnectPublish(addr)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.publishers[stream] = pub
	}
	return r, nil
}

// Component returns the name events are published under.
func (r *Reporter) Component() string {
	if r == nil {
		return ""
	}
	return r.component
}

// Log publishes a log line.
func (r *Reporter) Log(text string) {
	r.publish(&message.Event{Stream: message.StreamLog, Text: text})
}

// Perf publishes a performance sample.
func (r *Reporter) Perf(metric string, value float64) {
	r.publish(&message.Event{Stream: message.StreamPerf, Metric: metric, Value: value})
}

// Ping publishes a liveness ping.
func (r *Reporter) Ping() {
	r.publish(&message.Event{Stream: message.StreamPing})
}

func (r *Reporter) publish(ev *message.Event) {
	if r == nil {
		return
	}
	pub, ok := r.publishers[ev.Stream]
	if !ok {
		return
	}
	ev.Component = r.component
	ev.Timestamp = r.clk.Now()
	frame, err := message.EncodeEvent(ev)
	if err != nil {
		log.Warn("failed to encode monitoring event",
			zap.String("component", r.component), zap.Error(err))
		return
	}
	pub.Publish(frame)
}

// Close closes all publishers.
func (r *Reporter) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.closeOnce.Do(func() {
		for _, pub := range r.publishers {
			err = multierr.Append(err, pub.Close())
		}
	})
	return err
}
