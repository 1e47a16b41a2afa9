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

package standalone

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/client"
	"github.com/pingcap/jobmesh/pkg/endpoint"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/master"
	"github.com/pingcap/jobmesh/pkg/monitor"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/pingcap/jobmesh/pkg/worker"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Config describes a cluster running in one process.
type Config struct {
	Master   *master.Config
	Worker   *worker.Config
	EndPoint *endpoint.Config
}

// NewInprocConfig returns a configuration wiring a master, a pool of
// replicas workers and an endpoint through fresh inproc addresses.
func NewInprocConfig(replicas int) (*Config, error) {
	mon := monitor.Addresses{
		LogAddr:  transport.NewInprocAddress("log"),
		PerfAddr: transport.NewInprocAddress("perf"),
		PingAddr: transport.NewInprocAddress("ping"),
	}

	masterCfg := master.GetDefaultMasterConfig()
	masterCfg.ClientAddr = transport.NewInprocAddress("master-client")
	masterCfg.WorkerAddr = transport.NewInprocAddress("master-worker")
	masterCfg.CacheAddr = transport.NewInprocAddress("master-cache")
	masterCfg.Monitor = mon

	workerCfg := worker.GetDefaultWorkerConfig()
	workerCfg.Name = "worker"
	workerCfg.JobAddr = transport.NewInprocAddress("worker")
	workerCfg.MasterAddr = masterCfg.WorkerAddr
	workerCfg.CacheAddr = masterCfg.CacheAddr
	workerCfg.Monitor = mon
	workerCfg.Replicas = replicas

	endpointCfg := endpoint.GetDefaultConfig()
	endpointCfg.Monitor = mon

	cfg := &Config{Master: masterCfg, Worker: workerCfg, EndPoint: endpointCfg}
	if err := cfg.Adjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Adjust adjusts every component configuration.
func (c *Config) Adjust() error {
	if err := c.Master.Adjust(); err != nil {
		return err
	}
	if err := c.Worker.Adjust(); err != nil {
		return err
	}
	if c.EndPoint != nil {
		return c.EndPoint.Adjust()
	}
	return nil
}

// ClientConfig returns the configuration of a client of the cluster that
// receives its results on a fresh inproc address.
func (c *Config) ClientConfig(name string) (*client.Config, error) {
	cfg := client.GetDefaultClientConfig()
	cfg.Name = name
	cfg.MasterAddr = c.Master.ClientAddr
	cfg.CacheAddr = c.Master.CacheAddr
	cfg.ResultAddr = transport.NewInprocAddress(name + "-results")
	cfg.Monitor = c.Master.Monitor
	if err := cfg.Adjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Cluster is a master, a worker pool and an optional endpoint sharing one
// transport.
type Cluster struct {
	cfg *Config
	tp  *transport.Transport

	Master   *master.Master
	Pool     *worker.Pool
	EndPoint *endpoint.EndPoint
}

// New creates the components of cfg. The endpoint is created first so that
// no monitoring event of the other components is lost.
func New(
	tp *transport.Transport, cfg *Config, registry *worker.Registry,
	masterOpts []master.Option, workerOpts []worker.Option,
) (_ *Cluster, err error) {
	c := &Cluster{cfg: cfg, tp: tp}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if cfg.EndPoint != nil {
		if c.EndPoint, err = endpoint.New(tp, cfg.EndPoint); err != nil {
			return nil, err
		}
	}
	if c.Master, err = master.New(tp, cfg.Master, masterOpts...); err != nil {
		return nil, err
	}
	if c.Pool, err = worker.NewPool(tp, cfg.Worker, registry, workerOpts...); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClient connects a client to the cluster.
func (c *Cluster) NewClient(name string, opts ...client.Option) (*client.Client, error) {
	cfg, err := c.cfg.ClientConfig(name)
	if err != nil {
		return nil, err
	}
	return client.New(c.tp, cfg, opts...)
}

// Run runs every component until ctx is done or one of them fails.
func (c *Cluster) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)
	if c.EndPoint != nil {
		errg.Go(func() error {
			err := c.EndPoint.Run(ctx)
			if err == nil {
				// The endpoint spent its budget, the cluster keeps going.
				log.Info("standalone endpoint stopped")
			}
			return err
		})
	}
	errg.Go(func() error {
		return c.Master.Run(ctx)
	})
	errg.Go(func() error {
		return c.Pool.Run(ctx)
	})
	err := errg.Wait()
	log.Info("standalone cluster exited", logutil.ZapErrorFilter(err, context.Canceled))
	return errors.Trace(err)
}

// Close closes every component.
func (c *Cluster) Close() error {
	var err error
	if c.Pool != nil {
		err = multierr.Append(err, c.Pool.Close())
	}
	if c.Master != nil {
		err = multierr.Append(err, c.Master.Close())
	}
	if c.EndPoint != nil {
		err = multierr.Append(err, c.EndPoint.Close())
	}
	return err
}
