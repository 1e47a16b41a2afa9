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

package endpoint

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/containers"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PerfStat aggregates the samples of one metric of one component.
type PerfStat struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Last  float64 `json:"last"`
}

// Mean returns the average of the samples.
func (s PerfStat) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Snapshot is a copy of everything an EndPoint has aggregated.
type Snapshot struct {
	Total      int64                          `json:"total"`
	Events     map[string]int64               `json:"events"`
	LastPing   map[string]time.Time           `json:"last-ping"`
	Perf       map[string]map[string]PerfStat `json:"perf"`
	RecentLogs []message.Event                `json:"recent-logs"`
}

// EndPoint subscribes to the log, perf and ping streams of every component.
// It only aggregates, nothing flows back into the system.
type EndPoint struct {
	cfg    *Config
	subs   map[message.Stream]transport.Subscriber
	logger *zap.Logger

	mu       sync.Mutex
	total    int64
	counts   map[message.Stream]int64
	lastPing map[string]time.Time
	perf     map[string]map[string]*PerfStat
	recent   *containers.Deque[message.Event]
}

// New binds the subscribers of cfg.Monitor.
func New(tp *transport.Transport, cfg *Config) (*EndPoint, error) {
	e := &EndPoint{
		cfg:      cfg,
		subs:     make(map[message.Stream]transport.Subscriber),
		logger:   logutil.NewLogger4Component("endpoint", cfg.Name),
		counts:   make(map[message.Stream]int64),
		lastPing: make(map[string]time.Time),
		perf:     make(map[string]map[string]*PerfStat),
		recent:   containers.NewDeque[message.Event](),
	}
	for _, stream := range []message.Stream{message.StreamLog, message.StreamPerf, message.StreamPing} {
		addr := cfg.Monitor.Addr(stream)
		if addr == "" {
			continue
		}
		sub, err := tp.BindSubscribe(addr)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.subs[stream] = sub
	}
	return e, nil
}

// Run receives events until ctx is done or the message budget is spent. A
// spent budget is a normal exit and returns nil.
func (e *EndPoint) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		budgetOnce  sync.Once
		budgetSpent = make(chan struct{})
	)
	onBudgetSpent := func() {
		budgetOnce.Do(func() {
			close(budgetSpent)
			cancel()
		})
	}

	e.logger.Info("endpoint started", zap.Int64("max-messages", e.cfg.MaxMessages))
	errg, ctx := errgroup.WithContext(ctx)
	for stream, sub := range e.subs {
		stream, sub := stream, sub
		errg.Go(func() error {
			return e.receiveLoop(ctx, stream, sub, onBudgetSpent)
		})
	}
	err := errg.Wait()

	select {
	case <-budgetSpent:
		e.logger.Info("endpoint reached its message budget", zap.Int64("total", e.Snapshot().Total))
		return nil
	default:
	}
	return errors.Trace(err)
}

func (e *EndPoint) receiveLoop(
	ctx context.Context, stream message.Stream, sub transport.Subscriber, onBudgetSpent func(),
) error {
	for {
		frame, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		ev, err := message.DecodeEvent(frame)
		if err != nil {
			e.logger.Warn("dropping undecodable event", zap.Stringer("stream", stream), zap.Error(err))
			continue
		}
		ev.Stream = stream
		if e.record(ev) {
			onBudgetSpent()
			return nil
		}
	}
}

// record returns true once the message budget is spent.
func (e *EndPoint) record(ev *message.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.MaxMessages > 0 && e.total >= e.cfg.MaxMessages {
		return true
	}
	e.total++
	e.counts[ev.Stream]++
	eventCounter.WithLabelValues(ev.Stream.String()).Inc()

	switch ev.Stream {
	case message.StreamPing:
		e.lastPing[ev.Component] = ev.Timestamp
		componentPingGauge.WithLabelValues(ev.Component).Set(float64(ev.Timestamp.Unix()))
	case message.StreamPerf:
		metrics, ok := e.perf[ev.Component]
		if !ok {
			metrics = make(map[string]*PerfStat)
			e.perf[ev.Component] = metrics
		}
		stat, ok := metrics[ev.Metric]
		if !ok {
			stat = &PerfStat{Min: ev.Value, Max: ev.Value}
			metrics[ev.Metric] = stat
		}
		stat.Count++
		stat.Sum += ev.Value
		stat.Last = ev.Value
		if ev.Value < stat.Min {
			stat.Min = ev.Value
		}
		if ev.Value > stat.Max {
			stat.Max = ev.Value
		}
		perfGauge.WithLabelValues(ev.Component, ev.Metric).Set(ev.Value)
	case message.StreamLog:
		e.recent.Push(*ev)
		for e.recent.Size() > e.cfg.RecentLogSize {
			e.recent.Pop()
		}
		e.logger.Debug("component log", zap.String("from", ev.Component), zap.String("text", ev.Text))
	}

	return e.cfg.MaxMessages > 0 && e.total >= e.cfg.MaxMessages
}

// Snapshot returns a copy of the aggregated state.
func (e *EndPoint) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Total:      e.total,
		Events:     make(map[string]int64, len(e.counts)),
		LastPing:   make(map[string]time.Time, len(e.lastPing)),
		Perf:       make(map[string]map[string]PerfStat, len(e.perf)),
		RecentLogs: make([]message.Event, 0, e.recent.Size()),
	}
	for stream, n := range e.counts {
		snap.Events[stream.String()] = n
	}
	for component, ts := range e.lastPing {
		snap.LastPing[component] = ts
	}
	for component, metrics := range e.perf {
		copied := make(map[string]PerfStat, len(metrics))
		for metric, stat := range metrics {
			copied[metric] = *stat
		}
		snap.Perf[component] = copied
	}
	e.recent.Range(func(ev message.Event) bool {
		snap.RecentLogs = append(snap.RecentLogs, ev)
		return true
	})
	return snap
}

// Close releases the subscribers.
func (e *EndPoint) Close() error {
	var err error
	for _, sub := range e.subs {
		err = multierr.Append(err, sub.Close())
	}
	return err
}
