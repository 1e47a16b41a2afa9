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
	"bytes"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/monitor"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatTimeout      = "3s"
	defaultLivenessCheckInterval = "500ms"
	defaultPerfInterval          = "5s"
	defaultMaxRedispatch         = 3
	defaultMaxBacklog            = 4096

	defaultClientAddr = "tcp://127.0.0.1:5555"
	defaultWorkerAddr = "tcp://127.0.0.1:5556"
	defaultCacheAddr  = "tcp://127.0.0.1:5557"
)

// Config is the configuration for the master.
type Config struct {
	LogConf logutil.Config `toml:"log" json:"log"`

	Name string `toml:"name" json:"name"`

	// ClientAddr is the pull channel receiving jobs from clients.
	ClientAddr string `toml:"client-addr" json:"client-addr"`
	// WorkerAddr is the pull channel receiving results and heartbeats.
	WorkerAddr string `toml:"worker-addr" json:"worker-addr"`
	// CacheAddr is the request/reply channel serving cache commands.
	CacheAddr string `toml:"cache-addr" json:"cache-addr"`
	// ResultAddr receives the results of jobs that carry no reply address.
	ResultAddr string `toml:"result-addr" json:"result-addr"`
	// StatusAddr is the listen address of the HTTP status API, empty
	// disables it.
	StatusAddr string `toml:"status-addr" json:"status-addr"`

	Monitor monitor.Addresses `toml:"monitor" json:"monitor"`

	HeartbeatTimeoutStr string `toml:"heartbeat-timeout" json:"heartbeat-timeout"`
	// time interval string to check worker aliveness
	LivenessCheckIntervalStr string `toml:"liveness-check-interval" json:"liveness-check-interval"`
	PerfIntervalStr          string `toml:"perf-interval" json:"perf-interval"`

	// MaxRedispatch is how many times a job orphaned by a dead worker is
	// queued again before its client gets ErrRedispatchExhausted.
	MaxRedispatch int `toml:"max-redispatch" json:"max-redispatch"`
	// MaxBacklog bounds the jobs waiting for a worker, 0 is unbounded.
	MaxBacklog int `toml:"max-backlog" json:"max-backlog"`

	HeartbeatTimeout      time.Duration `toml:"-" json:"-"`
	LivenessCheckInterval time.Duration `toml:"-" json:"-"`
	PerfInterval          time.Duration `toml:"-" json:"-"`
}

func (c *Config) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.L().Error("marshal to json", zap.Reflect("master config", c), logutil.ShortError(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer

	err := toml.NewEncoder(&b).Encode(c)
	if err != nil {
		log.L().Error("fail to marshal config to toml", logutil.ShortError(err))
	}

	return b.String(), nil
}

// Adjust adjusts the master configuration
func (c *Config) Adjust() (err error) {
	c.LogConf.Adjust()
	if c.Name == "" {
		c.Name = "master"
	}

	for _, addr := range []string{c.ClientAddr, c.WorkerAddr, c.CacheAddr} {
		if _, _, err := transport.ParseAddress(addr); err != nil {
			return err
		}
	}
	if c.ResultAddr != "" {
		if _, _, err := transport.ParseAddress(c.ResultAddr); err != nil {
			return err
		}
	}

	c.HeartbeatTimeout, err = parsePositiveDuration("heartbeat-timeout", c.HeartbeatTimeoutStr)
	if err != nil {
		return err
	}
	c.LivenessCheckInterval, err = parsePositiveDuration("liveness-check-interval", c.LivenessCheckIntervalStr)
	if err != nil {
		return err
	}
	c.PerfInterval, err = parsePositiveDuration("perf-interval", c.PerfIntervalStr)
	if err != nil {
		return err
	}

	if c.MaxRedispatch < 0 {
		return errors.ErrInvalidArgument.GenWithStackByArgs("max-redispatch must not be negative")
	}
	if c.MaxBacklog < 0 {
		return errors.ErrInvalidArgument.GenWithStackByArgs("max-backlog must not be negative")
	}
	return nil
}

func parsePositiveDuration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.WrapError(errors.ErrInvalidArgument, err, name)
	}
	if d <= 0 {
		return 0, errors.ErrInvalidArgument.GenWithStackByArgs(name + " must be positive")
	}
	return d, nil
}

// GetDefaultMasterConfig returns a default master config
func GetDefaultMasterConfig() *Config {
	return &Config{
		LogConf: logutil.Config{
			Level: "info",
			File:  "",
		},
		Name:                     "master",
		ClientAddr:               defaultClientAddr,
		WorkerAddr:               defaultWorkerAddr,
		CacheAddr:                defaultCacheAddr,
		HeartbeatTimeoutStr:      defaultHeartbeatTimeout,
		LivenessCheckIntervalStr: defaultLivenessCheckInterval,
		PerfIntervalStr:          defaultPerfInterval,
		MaxRedispatch:            defaultMaxRedispatch,
		MaxBacklog:               defaultMaxBacklog,
	}
}
