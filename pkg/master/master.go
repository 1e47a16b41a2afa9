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
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/cache"
	"github.com/pingcap/jobmesh/pkg/clock"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/monitor"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Master routes client jobs to workers, routes results back to clients,
// serves the cache and tracks worker liveness.
type Master struct {
	cfg      *Config
	clk      clock.Clock
	logger   *zap.Logger
	reporter *monitor.Reporter
	sampler  *monitor.ProcessSampler
	registry *prometheus.Registry

	store  *cache.Store
	router *transport.Router

	clientPuller transport.Puller
	workerPuller transport.Puller
	cacheReplier transport.Replier

	// mu serializes every access to sched.
	mu    sync.Mutex
	sched *scheduler
}

// Option customizes a Master.
type Option func(*Master)

// WithClock replaces the clock driving liveness checks.
func WithClock(clk clock.Clock) Option {
	return func(m *Master) {
		m.clk = clk
	}
}

// WithRegistry registers the master metrics in registry instead of a
// private one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Master) {
		m.registry = registry
	}
}

// New binds the channels of cfg. cfg must have been adjusted.
func New(tp *transport.Transport, cfg *Config, opts ...Option) (_ *Master, err error) {
	m := &Master{
		cfg:   cfg,
		clk:   clock.New(),
		store: cache.NewStore(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		InitMetrics(m.registry)
	}

	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()

	m.reporter, err = monitor.NewReporter(tp, cfg.Name, cfg.Monitor, m.clk)
	if err != nil {
		return nil, err
	}
	m.logger = m.reporter.WrapLogger(logutil.NewLogger4Component("master", cfg.Name))
	if sampler, serr := monitor.NewProcessSampler(); serr == nil {
		m.sampler = sampler
	} else {
		m.logger.Warn("process samples disabled", zap.Error(serr))
	}
	m.router = transport.NewRouter(tp)
	m.sched = newScheduler(schedulerConfig{
		name:             cfg.Name,
		resultAddr:       cfg.ResultAddr,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		maxRedispatch:    cfg.MaxRedispatch,
		maxBacklog:       cfg.MaxBacklog,
	}, m.logger)

	if m.clientPuller, err = tp.BindPull(cfg.ClientAddr); err != nil {
		return nil, err
	}
	if m.workerPuller, err = tp.BindPull(cfg.WorkerAddr); err != nil {
		return nil, err
	}
	if m.cacheReplier, err = tp.BindReply(cfg.CacheAddr); err != nil {
		return nil, err
	}
	return m, nil
}

// Run runs the routing loops until ctx is done or one of them fails.
func (m *Master) Run(ctx context.Context) error {
	m.logger.Info("master started",
		zap.String("client-addr", m.cfg.ClientAddr),
		zap.String("worker-addr", m.cfg.WorkerAddr),
		zap.String("cache-addr", m.cfg.CacheAddr),
		zap.Duration("heartbeat-timeout", m.cfg.HeartbeatTimeout))

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return m.clientLoop(ctx)
	})
	errg.Go(func() error {
		return m.workerLoop(ctx)
	})
	errg.Go(func() error {
		return m.cacheReplier.Serve(ctx, m.cacheHandler())
	})
	errg.Go(func() error {
		return m.livenessLoop(ctx)
	})
	errg.Go(func() error {
		return m.perfLoop(ctx)
	})
	if m.cfg.StatusAddr != "" {
		errg.Go(func() error {
			return m.serveStatus(ctx)
		})
	}

	err := errg.Wait()
	m.logger.Info("master exited", logutil.ZapErrorFilter(err, context.Canceled))
	return errors.Trace(err)
}

func (m *Master) clientLoop(ctx context.Context) error {
	for {
		frame, err := m.clientPuller.Pull(ctx)
		if err != nil {
			return err
		}
		msg, err := message.Decode(frame)
		if err != nil {
			m.logger.Warn("dropping undecodable client frame", zap.Error(err))
			continue
		}
		if msg.Kind != message.KindJob {
			m.logger.Warn("unexpected message on client channel",
				zap.Stringer("kind", msg.Kind), zap.String("sender", msg.Sender))
			continue
		}
		m.apply(ctx, func(now time.Time) []delivery {
			return m.sched.acceptJob(now, msg)
		})
	}
}

func (m *Master) workerLoop(ctx context.Context) error {
	for {
		frame, err := m.workerPuller.Pull(ctx)
		if err != nil {
			return err
		}
		msg, err := message.Decode(frame)
		if err != nil {
			m.logger.Warn("dropping undecodable worker frame", zap.Error(err))
			continue
		}
		if err := msg.Validate(); err != nil {
			m.logger.Warn("dropping invalid worker message", zap.Error(err))
			continue
		}
		switch msg.Kind {
		case message.KindResult:
			m.apply(ctx, func(now time.Time) []delivery {
				return m.sched.acceptResult(now, msg)
			})
		case message.KindHeartbeat:
			m.apply(ctx, func(now time.Time) []delivery {
				return m.sched.heartbeat(now, msg)
			})
		default:
			m.logger.Warn("unexpected message on worker channel",
				zap.Stringer("kind", msg.Kind), zap.String("sender", msg.Sender))
		}
	}
}

func (m *Master) livenessLoop(ctx context.Context) error {
	ticker := m.clk.Ticker(m.cfg.LivenessCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-ticker.C:
		}
		m.apply(ctx, m.sched.checkLiveness)
	}
}

func (m *Master) perfLoop(ctx context.Context) error {
	ticker := m.clk.Ticker(m.cfg.PerfInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-ticker.C:
		}
		m.mu.Lock()
		pending, backlog := len(m.sched.pending), m.sched.backlogLen()
		m.mu.Unlock()

		m.reporter.Ping()
		m.reporter.Perf("pending_jobs", float64(pending))
		m.reporter.Perf("backlog_len", float64(backlog))
		m.reporter.Perf("cache_entries", float64(m.store.Len()))
		m.sampler.Publish(m.reporter)
	}
}

func (m *Master) cacheHandler() transport.ReplyHandler {
	serve := cache.NewReplyHandler(m.store, m.cfg.Name)
	return func(ctx context.Context, frame []byte) []byte {
		raw := serve(ctx, frame)
		if reply, err := message.Decode(raw); err == nil {
			result := "ok"
			if reply.Failed() {
				result = "error"
			}
			cacheCommandCounter.WithLabelValues(reply.Kind.String(), result).Inc()
		}
		return raw
	}
}

// apply runs fn under the scheduler lock and pushes the deliveries it
// produced. A job that cannot be pushed to its worker makes the worker
// presumed dead.
func (m *Master) apply(ctx context.Context, fn func(now time.Time) []delivery) {
	m.mu.Lock()
	deliveries := fn(m.clk.Now())
	m.mu.Unlock()

	for _, d := range deliveries {
		frame, err := message.Encode(d.msg)
		if err == nil {
			err = m.router.Push(ctx, d.addr, frame)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if d.workerID != "" {
			workerID := d.workerID
			m.apply(ctx, func(time.Time) []delivery {
				return m.sched.dispatchFailed(workerID, err)
			})
			continue
		}
		m.logger.Warn("failed to push result to client",
			zap.String("cid", d.msg.CorrelationID), zap.String("addr", d.addr), zap.Error(err))
	}
}

// Store returns the cache owned by the master.
func (m *Master) Store() *cache.Store {
	return m.store
}

// Workers returns a snapshot of the worker table.
func (m *Master) Workers() []WorkerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.workerSnapshot()
}

// Jobs returns a snapshot of the pending jobs.
func (m *Master) Jobs() []PendingJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.jobSnapshot()
}

// BacklogLen returns the number of jobs waiting for a worker.
func (m *Master) BacklogLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sched.backlogLen()
}

// Close releases all channels of the master.
func (m *Master) Close() error {
	var err error
	for _, c := range []interface{ Close() error }{m.clientPuller, m.workerPuller, m.cacheReplier} {
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
	}
	if m.router != nil {
		err = multierr.Append(err, m.router.Close())
	}
	return multierr.Append(err, m.reporter.Close())
}
