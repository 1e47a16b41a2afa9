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

package client

import (
	"fmt"
	"time"

	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/monitor"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/thanhpk/randstr"
)

const (
	defaultMasterAddr   = "tcp://127.0.0.1:5555"
	defaultCacheAddr    = "tcp://127.0.0.1:5557"
	defaultResultAddr   = "tcp://127.0.0.1:5580"
	defaultAwaitTimeout = "10s"
)

// Config is the configuration of a Client.
type Config struct {
	LogConf logutil.Config `toml:"log" json:"log"`

	Name string `toml:"name" json:"name"`
	// MasterAddr is the client-facing pull channel of the master.
	MasterAddr string `toml:"master-addr" json:"master-addr"`
	// CacheAddr is the cache channel of the master.
	CacheAddr string `toml:"cache-addr" json:"cache-addr"`
	// ResultAddr is the pull channel the master pushes results to.
	ResultAddr string            `toml:"result-addr" json:"result-addr"`
	Monitor    monitor.Addresses `toml:"monitor" json:"monitor"`

	AwaitTimeoutStr string        `toml:"await-timeout" json:"await-timeout"`
	AwaitTimeout    time.Duration `toml:"-" json:"-"`
}

// Adjust validates the configuration and fills defaults.
func (c *Config) Adjust() (err error) {
	if c.Name == "" {
		c.Name = fmt.Sprintf("client-%s", randstr.Hex(4))
	}
	for _, addr := range []string{c.MasterAddr, c.CacheAddr, c.ResultAddr} {
		if _, _, err := transport.ParseAddress(addr); err != nil {
			return err
		}
	}
	c.AwaitTimeout, err = time.ParseDuration(c.AwaitTimeoutStr)
	if err != nil {
		return errors.WrapError(errors.ErrInvalidArgument, err, "await-timeout")
	}
	if c.AwaitTimeout <= 0 {
		return errors.ErrInvalidArgument.GenWithStackByArgs("await-timeout must be positive")
	}
	c.LogConf.Adjust()
	return nil
}

// GetDefaultClientConfig returns a default client config.
func GetDefaultClientConfig() *Config {
	return &Config{
		LogConf: logutil.Config{
			Level: "warn",
		},
		MasterAddr:      defaultMasterAddr,
		CacheAddr:       defaultCacheAddr,
		ResultAddr:      defaultResultAddr,
		AwaitTimeoutStr: defaultAwaitTimeout,
	}
}
