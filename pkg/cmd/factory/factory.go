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

package factory

import (
	"github.com/pingcap/jobmesh/pkg/client"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/spf13/cobra"
)

// Factory defines the client-side construction factory.
type Factory interface {
	ClientConfig() (*client.Config, error)
	Client() (*client.Client, error)
}

// ClientFlags holds the flags describing how to reach a master.
type ClientFlags struct {
	name         string
	masterAddr   string
	cacheAddr    string
	resultAddr   string
	awaitTimeout string
}

// NewClientFlags creates ClientFlags with the default client config.
func NewClientFlags() *ClientFlags {
	def := client.GetDefaultClientConfig()
	return &ClientFlags{
		masterAddr:   def.MasterAddr,
		cacheAddr:    def.CacheAddr,
		resultAddr:   def.ResultAddr,
		awaitTimeout: def.AwaitTimeoutStr,
	}
}

// AddFlags receives a *cobra.Command reference and binds
// flags related to the master addresses to it.
func (f *ClientFlags) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.name, "name", f.name, "Name of the client, generated when empty")
	cmd.PersistentFlags().StringVar(&f.masterAddr, "master-addr", f.masterAddr, "Client-facing address of the master")
	cmd.PersistentFlags().StringVar(&f.cacheAddr, "cache-addr", f.cacheAddr, "Cache address of the master")
	cmd.PersistentFlags().StringVar(&f.resultAddr, "result-addr", f.resultAddr, "Address the master pushes results to")
	cmd.PersistentFlags().StringVar(&f.awaitTimeout, "timeout", f.awaitTimeout, "How long to wait for a job result")
}

type factoryImpl struct {
	flags *ClientFlags
	tp    *transport.Transport
}

// NewFactory creates a Factory connecting clients through tp.
func NewFactory(flags *ClientFlags, tp *transport.Transport) Factory {
	return &factoryImpl{flags: flags, tp: tp}
}

// ClientConfig returns the adjusted client config described by the flags.
func (f *factoryImpl) ClientConfig() (*client.Config, error) {
	cfg := client.GetDefaultClientConfig()
	cfg.Name = f.flags.name
	cfg.MasterAddr = f.flags.masterAddr
	cfg.CacheAddr = f.flags.cacheAddr
	cfg.ResultAddr = f.flags.resultAddr
	cfg.AwaitTimeoutStr = f.flags.awaitTimeout
	if err := cfg.Adjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Client connects a new client.
func (f *factoryImpl) Client() (*client.Client, error) {
	cfg, err := f.ClientConfig()
	if err != nil {
		return nil, err
	}
	return client.New(f.tp, cfg)
}
