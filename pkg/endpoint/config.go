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
	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/monitor"
)

const defaultRecentLogSize = 256

// Config is the configuration of an EndPoint.
type Config struct {
	Name    string            `toml:"name" json:"name"`
	Monitor monitor.Addresses `toml:"monitor" json:"monitor"`
	// MaxMessages stops the EndPoint after that many events, 0 never stops.
	MaxMessages   int64          `toml:"max-messages" json:"max-messages"`
	RecentLogSize int            `toml:"recent-log-size" json:"recent-log-size"`
	LogConf       logutil.Config `toml:"log" json:"log"`
}

// GetDefaultConfig returns the default EndPoint configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Name: "endpoint",
		Monitor: monitor.Addresses{
			LogAddr:  "tcp://127.0.0.1:5560",
			PerfAddr: "tcp://127.0.0.1:5561",
			PingAddr: "tcp://127.0.0.1:5562",
		},
		RecentLogSize: defaultRecentLogSize,
		LogConf: logutil.Config{
			Level: "info",
		},
	}
}

// Adjust validates the configuration and fills defaults.
func (c *Config) Adjust() error {
	if c.Name == "" {
		c.Name = "endpoint"
	}
	if c.Monitor.LogAddr == "" && c.Monitor.PerfAddr == "" && c.Monitor.PingAddr == "" {
		return errors.ErrInvalidArgument.GenWithStackByArgs("endpoint has no monitoring address")
	}
	if c.MaxMessages < 0 {
		return errors.ErrInvalidArgument.GenWithStackByArgs("max-messages must not be negative")
	}
	if c.RecentLogSize <= 0 {
		c.RecentLogSize = defaultRecentLogSize
	}
	c.LogConf.Adjust()
	return nil
}
