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

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/transport"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Pool runs cfg.Replicas workers sharing one handler registry.
type Pool struct {
	workers []*Worker
}

// NewPool creates the replicas described by cfg. cfg must have been adjusted.
func NewPool(tp *transport.Transport, cfg *Config, registry *Registry, opts ...Option) (_ *Pool, err error) {
	p := &Pool{workers: make([]*Worker, 0, cfg.Replicas)}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	for i := 0; i < cfg.Replicas; i++ {
		var (
			replicaCfg *Config
			w          *Worker
		)
		if replicaCfg, err = cfg.replica(i); err != nil {
			return nil, err
		}
		if w, err = New(tp, replicaCfg, registry, opts...); err != nil {
			return nil, err
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

// Workers returns the replicas of the pool.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Run runs every replica until ctx is done or one of them fails.
func (p *Pool) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		errg.Go(func() error {
			return w.Run(ctx)
		})
	}
	return errors.Trace(errg.Wait())
}

// Close closes every replica.
func (p *Pool) Close() error {
	var err error
	for _, w := range p.workers {
		err = multierr.Append(err, w.Close())
	}
	return err
}
