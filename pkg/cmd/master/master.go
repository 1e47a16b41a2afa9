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

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/cmd/util"
	"github.com/pingcap/jobmesh/pkg/master"
	"github.com/pingcap/jobmesh/pkg/version"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// options defines flags for the `master` command.
type options struct {
	configFilePath string

	masterConfig *master.Config
}

// newOptions creates new options for the `master` command.
func newOptions() *options {
	return &options{
		masterConfig: master.GetDefaultMasterConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(cmd *cobra.Command) {
	def := master.GetDefaultMasterConfig()
	cmd.Flags().StringVar(&o.masterConfig.Name, "name", def.Name, "Name of the master")
	cmd.Flags().StringVar(&o.masterConfig.ClientAddr, "client-addr", def.ClientAddr, "Address receiving jobs from clients")
	cmd.Flags().StringVar(&o.masterConfig.WorkerAddr, "worker-addr", def.WorkerAddr, "Address receiving results and heartbeats from workers")
	cmd.Flags().StringVar(&o.masterConfig.CacheAddr, "cache-addr", def.CacheAddr, "Address serving cache commands")
	cmd.Flags().StringVar(&o.masterConfig.ResultAddr, "result-addr", def.ResultAddr, "Address receiving results of jobs without a reply address")
	cmd.Flags().StringVar(&o.masterConfig.StatusAddr, "status-addr", def.StatusAddr, "Listen address of the HTTP status API, disabled when empty")
	cmd.Flags().StringVar(&o.masterConfig.HeartbeatTimeoutStr, "heartbeat-timeout", def.HeartbeatTimeoutStr, "Time without heartbeat after which a worker is presumed dead")
	cmd.Flags().StringVar(&o.masterConfig.LivenessCheckIntervalStr, "liveness-check-interval", def.LivenessCheckIntervalStr, "Interval of worker liveness checks")
	cmd.Flags().IntVar(&o.masterConfig.MaxRedispatch, "max-redispatch", def.MaxRedispatch, "How many times a job of a dead worker is dispatched again")
	cmd.Flags().IntVar(&o.masterConfig.MaxBacklog, "max-backlog", def.MaxBacklog, "Maximum number of jobs waiting for a worker, 0 is unbounded")
	cmd.Flags().StringVar(&o.masterConfig.Monitor.LogAddr, "log-addr", def.Monitor.LogAddr, "Monitoring address of the log stream")
	cmd.Flags().StringVar(&o.masterConfig.Monitor.PerfAddr, "perf-addr", def.Monitor.PerfAddr, "Monitoring address of the perf stream")
	cmd.Flags().StringVar(&o.masterConfig.Monitor.PingAddr, "ping-addr", def.Monitor.PingAddr, "Monitoring address of the ping stream")
	cmd.Flags().StringVar(&o.masterConfig.LogConf.File, "log-file", def.LogConf.File, "log file path")
	cmd.Flags().StringVar(&o.masterConfig.LogConf.Level, "log-level", def.LogConf.Level, "log level (etc: debug|info|warn|error)")
	cmd.Flags().StringVar(&o.configFilePath, "config", "", "Path of the configuration file")
}

// loadAndVerifyConfig merges the configuration file and the flags set
// explicitly, flags win.
func (o *options) loadAndVerifyConfig(cmd *cobra.Command) (*master.Config, error) {
	conf := master.GetDefaultMasterConfig()
	if len(o.configFilePath) > 0 {
		if err := util.StrictDecodeFile(o.configFilePath, "jobmesh master", conf); err != nil {
			return nil, err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "name":
			conf.Name = o.masterConfig.Name
		case "client-addr":
			conf.ClientAddr = o.masterConfig.ClientAddr
		case "worker-addr":
			conf.WorkerAddr = o.masterConfig.WorkerAddr
		case "cache-addr":
			conf.CacheAddr = o.masterConfig.CacheAddr
		case "result-addr":
			conf.ResultAddr = o.masterConfig.ResultAddr
		case "status-addr":
			conf.StatusAddr = o.masterConfig.StatusAddr
		case "heartbeat-timeout":
			conf.HeartbeatTimeoutStr = o.masterConfig.HeartbeatTimeoutStr
		case "liveness-check-interval":
			conf.LivenessCheckIntervalStr = o.masterConfig.LivenessCheckIntervalStr
		case "max-redispatch":
			conf.MaxRedispatch = o.masterConfig.MaxRedispatch
		case "max-backlog":
			conf.MaxBacklog = o.masterConfig.MaxBacklog
		case "log-addr":
			conf.Monitor.LogAddr = o.masterConfig.Monitor.LogAddr
		case "perf-addr":
			conf.Monitor.PerfAddr = o.masterConfig.Monitor.PerfAddr
		case "ping-addr":
			conf.Monitor.PingAddr = o.masterConfig.Monitor.PingAddr
		case "log-file":
			conf.LogConf.File = o.masterConfig.LogConf.File
		case "log-level":
			conf.LogConf.Level = o.masterConfig.LogConf.Level
		case "config":
			// do nothing
		default:
			if util.IsTransportFlag(flag.Name) {
				return
			}
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})
	if err := conf.Adjust(); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

func (o *options) run(cmd *cobra.Command) error {
	conf, err := o.loadAndVerifyConfig(cmd)
	if err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := util.InitCmd(cmd, &conf.LogConf)
	defer cancel()
	version.LogVersionInfo("jobmesh master")
	log.Info("master config", zap.Stringer("config", conf))

	tp, err := util.NewTransport(cmd)
	if err != nil {
		return errors.Trace(err)
	}
	m, err := master.New(tp, conf)
	if err != nil {
		return errors.Annotate(err, "new master")
	}
	defer m.Close()

	err = m.Run(ctx)
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Error("run master", zap.String("error", errors.ErrorStack(err)))
		return errors.Annotate(err, "run master")
	}
	log.Info("jobmesh master exits successfully")
	return nil
}

// NewCmdMaster creates the `master` command.
func NewCmdMaster() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "master",
		Short: "Start a jobmesh master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	util.AddTransportFlags(command)
	return command
}
