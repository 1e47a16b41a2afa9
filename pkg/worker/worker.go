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
	"time"

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
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// heartbeatLogInterval limits how often sent heartbeats are logged.
const heartbeatLogInterval = time.Minute

// Worker pulls jobs from its job address, runs the matching handler and
// pushes the result to the master. It heartbeats to the master on a fixed
// interval whether or not it is busy.
type Worker struct {
	cfg      *Config
	clk      clock.Clock
	logger   *zap.Logger
	reporter *monitor.Reporter
	registry *Registry

	puller transport.Puller
	pusher transport.Pusher
	cache  *cache.Client

	heartbeatLogLimiter *rate.Limiter
	executed            atomic.Int64
}

// Option customizes a Worker.
type Option func(*Worker)

// WithClock replaces the clock driving heartbeats.
func WithClock(clk clock.Clock) Option {
	return func(w *Worker) {
		w.clk = clk
	}
}

// New creates a worker serving the handlers of registry. cfg must have
// been adjusted and describe a single replica.
func New(tp *transport.Transport, cfg *Config, registry *Registry, opts ...Option) (_ *Worker, err error) {
	w := &Worker{
		cfg:                 cfg,
		clk:                 clock.New(),
		registry:            registry,
		heartbeatLogLimiter: rate.NewLimiter(rate.Every(heartbeatLogInterval), 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	w.reporter, err = monitor.NewReporter(tp, cfg.Name, cfg.Monitor, w.clk)
	if err != nil {
		return nil, err
	}
	w.logger = w.reporter.WrapLogger(logutil.NewLogger4Component("worker", cfg.Name))

	if w.puller, err = tp.BindPull(cfg.JobAddr); err != nil {
		return nil, err
	}
	if w.pusher, err = tp.ConnectPush(cfg.MasterAddr); err != nil {
		return nil, err
	}
	if cfg.CacheAddr != "" {
		if w.cache, err = cache.NewClient(tp, cfg.CacheAddr, cfg.Name); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Name returns the name the worker registers under.
func (w *Worker) Name() string {
	return w.cfg.Name
}

// Executed returns how many jobs the worker has run.
func (w *Worker) Executed() int64 {
	return w.executed.Load()
}

// Run runs the job loop and the heartbeat loop until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		zap.String("job-addr", w.cfg.JobAddr),
		zap.String("master-addr", w.cfg.MasterAddr),
		zap.Strings("functions", w.registry.Names()))

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return w.jobLoop(ctx)
	})
	errg.Go(func() error {
		return w.heartbeatLoop(ctx)
	})

	err := errg.Wait()
	w.logger.Info("worker exited", logutil.ZapErrorFilter(err, context.Canceled))
	return perrors.Trace(err)
}

func (w *Worker) jobLoop(ctx context.Context) error {
	for {
		frame, err := w.puller.Pull(ctx)
		if err != nil {
			return err
		}
		job, err := message.Decode(frame)
		if err != nil {
			w.logger.Warn("dropping undecodable job frame", zap.Error(err))
			continue
		}
		if job.Kind != message.KindJob {
			w.logger.Warn("unexpected message on job channel",
				zap.Stringer("kind", job.Kind), zap.String("sender", job.Sender))
			continue
		}

		result := w.execute(ctx, job)
		if err := w.send(ctx, result); err != nil {
			if ctx.Err() != nil {
				return perrors.Trace(ctx.Err())
			}
			w.logger.Warn("failed to push result",
				zap.String("cid", job.CorrelationID), zap.Error(err))
		}
	}
}

// execute runs the handler of job and builds the result. It never panics.
func (w *Worker) execute(ctx context.Context, job *message.Message) *message.Message {
	w.executed.Inc()
	handler, ok := w.registry.Lookup(job.Function)
	if !ok {
		err := errors.ErrUnknownFunction.GenWithStackByArgs(job.Function)
		w.logger.Warn("job names an unknown function",
			zap.String("cid", job.CorrelationID), zap.Error(err))
		jobCounter.WithLabelValues(w.cfg.Name, jobResultFailed).Inc()
		return message.NewResult(job, w.cfg.Name, nil, err)
	}

	start := w.clk.Mono()
	output, err := w.call(ctx, handler, &Job{
		CorrelationID: job.CorrelationID,
		Function:      job.Function,
		Payload:       job.Payload,
		Cache:         w.cache,
	})
	handlerDurationHistogram.WithLabelValues(job.Function).Observe(w.clk.Mono().Sub(start).Seconds())
	if err != nil {
		w.logger.Warn("handler failed",
			zap.String("cid", job.CorrelationID), zap.String("function", job.Function), zap.Error(err))
		jobCounter.WithLabelValues(w.cfg.Name, jobResultFailed).Inc()
		return message.NewResult(job, w.cfg.Name, nil, err)
	}
	jobCounter.WithLabelValues(w.cfg.Name, jobResultOK).Inc()
	return message.NewResult(job, w.cfg.Name, output, nil)
}

// call invokes handler, turning panics into ErrHandlerPanic and uncoded
// errors into ErrHandlerFailed.
func (w *Worker) call(ctx context.Context, handler HandlerFunc, job *Job) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = errors.ErrHandlerPanic.GenWithStackByArgs(job.Function, r)
		}
	}()

	output, err = handler(ctx, job)
	if err == nil {
		return output, nil
	}
	if code, _ := errors.Code(err); code == string(errors.ErrUnknown.RFCCode()) {
		return nil, errors.ErrHandlerFailed.GenWithStackByArgs(job.Function, err.Error())
	}
	return nil, err
}

func (w *Worker) send(ctx context.Context, msg *message.Message) error {
	frame, err := message.Encode(msg)
	if err != nil {
		return err
	}
	return w.pusher.Push(ctx, frame)
}

func (w *Worker) heartbeatLoop(ctx context.Context) error {
	ticker := w.clk.Ticker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		w.heartbeat(ctx)
		select {
		case <-ctx.Done():
			return perrors.Trace(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	w.reporter.Ping()
	w.reporter.Perf("jobs_executed", float64(w.Executed()))
	if err := w.send(ctx, message.NewHeartbeat(w.cfg.Name, w.cfg.JobAddr)); err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("failed to send heartbeat", zap.Error(err))
		}
		return
	}
	heartbeatCounter.WithLabelValues(w.cfg.Name).Inc()
	if w.heartbeatLogLimiter.Allow() {
		w.logger.Info("heartbeat sent",
			zap.String("master-addr", w.cfg.MasterAddr), zap.Int64("executed", w.Executed()))
	}
}

// Close releases the channels of the worker.
func (w *Worker) Close() error {
	var err error
	if w.puller != nil {
		err = multierr.Append(err, w.puller.Close())
	}
	if w.pusher != nil {
		err = multierr.Append(err, w.pusher.Close())
	}
	if w.cache != nil {
		err = multierr.Append(err, w.cache.Close())
	}
	return multierr.Append(err, w.reporter.Close())
}
