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
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/monitor"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/pingcap/log"
	"github.com/thanhpk/randstr"
)

const (
	defaultJobAddr           = "tcp://127.0.0.1:5570"
	defaultMasterAddr        = "tcp://127.0.0.1:5556"
	defaultCacheAddr         = "tcp://127.0.0.1:5557"
	defaultHeartbeatInterval = "500ms"
)

// Config is the configuration of a worker, or of a pool of identical
// workers when Replicas is greater than one.
type Config struct {
	LogConf logutil.Config `toml:"log" json:"log"`

	// Name identifies the worker to the master. Replicas are named
	// "<name>-<i>".
	Name string `toml:"name" json:"name"`
	// JobAddr is the pull channel receiving jobs. Replicas listen on
	// addresses derived from it.
	JobAddr string `toml:"job-addr" json:"job-addr"`
	// MasterAddr is the worker-facing pull channel of the master.
	MasterAddr string `toml:"master-addr" json:"master-addr"`
	// CacheAddr is the cache channel of the master, empty disables cache
	// access from handlers.
	CacheAddr string            `toml:"cache-addr" json:"cache-addr"`
	Monitor   monitor.Addresses `toml:"monitor" json:"monitor"`

	HeartbeatIntervalStr string `toml:"heartbeat-interval" json:"heartbeat-interval"`
	Replicas             int    `toml:"replicas" json:"replicas"`

	HeartbeatInterval time.Duration `toml:"-" json:"-"`
}

// String implements fmt.Stringer
func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("fail to marshal config to json", logutil.ShortError(err))
	}
	return string(cfg)
}

// Adjust validates the configuration and fills defaults.
func (c *Config) Adjust() (err error) {
	if c.Name == "" {
		c.Name = fmt.Sprintf("worker-%s", randstr.Hex(4))
	}
	for _, addr := range []string{c.JobAddr, c.MasterAddr} {
		if _, _, err := transport.ParseAddress(addr); err != nil {
			return err
		}
	}
	if c.CacheAddr != "" {
		if _, _, err := transport.ParseAddress(c.CacheAddr); err != nil {
			return err
		}
	}
	if c.Replicas == 0 {
		c.Replicas = 1
	}
	if c.Replicas < 0 {
		return errors.ErrInvalidArgument.GenWithStackByArgs("replicas must be positive")
	}

	c.HeartbeatInterval, err = time.ParseDuration(c.HeartbeatIntervalStr)
	if err != nil {
		return errors.WrapError(errors.ErrInvalidArgument, err, "heartbeat-interval")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.ErrInvalidArgument.GenWithStackByArgs("heartbeat-interval must be positive")
	}
	c.LogConf.Adjust()
	return nil
}

// replica returns the configuration of the i-th replica.
func (c *Config) replica(i int) (*Config, error) {
	if c.Replicas == 1 {
		return c, nil
	}
	clone := *c
	clone.Name = fmt.Sprintf("%s-%d", c.Name, i)
	jobAddr, err := transport.DeriveAddress(c.JobAddr, i)
	if err != nil {
		return nil, err
	}
	clone.JobAddr = jobAddr
	clone.Replicas = 1
	return &clone, nil
}

// GetDefaultWorkerConfig returns a default worker config.
func GetDefaultWorkerConfig() *Config {
	return &Config{
		LogConf: logutil.Config{
			Level: "info",
		},
		JobAddr:              defaultJobAddr,
		MasterAddr:           defaultMasterAddr,
		CacheAddr:            defaultCacheAddr,
		HeartbeatIntervalStr: defaultHeartbeatInterval,
		Replicas:             1,
	}
}
