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
	"github.com/pingcap/jobmesh/pkg/cmd/util"
	"github.com/pingcap/jobmesh/pkg/version"
	"github.com/pingcap/jobmesh/pkg/worker"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// options defines flags for the `worker` command.
type options struct {
	configFilePath string

	workerConfig *worker.Config
}

// newOptions creates new options for the `worker` command.
func newOptions() *options {
	return &options{
		workerConfig: worker.GetDefaultWorkerConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(cmd *cobra.Command) {
	def := worker.GetDefaultWorkerConfig()
	cmd.Flags().StringVar(&o.workerConfig.Name, "name", def.Name, "Name of the worker, generated when empty")
	cmd.Flags().StringVar(&o.workerConfig.JobAddr, "job-addr", def.JobAddr, "Address receiving jobs from the master")
	cmd.Flags().StringVar(&o.workerConfig.MasterAddr, "master-addr", def.MasterAddr, "Worker-facing address of the master")
	cmd.Flags().StringVar(&o.workerConfig.CacheAddr, "cache-addr", def.CacheAddr, "Cache address of the master, empty disables cache access")
	cmd.Flags().StringVar(&o.workerConfig.HeartbeatIntervalStr, "heartbeat-interval", def.HeartbeatIntervalStr, "Interval of heartbeats to the master")
	cmd.Flags().IntVar(&o.workerConfig.Replicas, "replicas", def.Replicas, "Number of workers to run, replicas listen on consecutive ports")
	cmd.Flags().StringVar(&o.workerConfig.Monitor.LogAddr, "log-addr", def.Monitor.LogAddr, "Monitoring address of the log stream")
	cmd.Flags().StringVar(&o.workerConfig.Monitor.PerfAddr, "perf-addr", def.Monitor.PerfAddr, "Monitoring address of the perf stream")
	cmd.Flags().StringVar(&o.workerConfig.Monitor.PingAddr, "ping-addr", def.Monitor.PingAddr, "Monitoring address of the ping stream")
	cmd.Flags().StringVar(&o.workerConfig.LogConf.File, "log-file", def.LogConf.File, "log file path")
	cmd.Flags().StringVar(&o.workerConfig.LogConf.Level, "log-level", def.LogConf.Level, "log level (etc: debug|info|warn|error)")
	cmd.Flags().StringVar(&o.configFilePath, "config", "", "Path of the configuration file")
}

// loadAndVerifyConfig merges the configuration file and the flags set
// explicitly, flags win.
func (o *options) loadAndVerifyConfig(cmd *cobra.Command) (*worker.Config, error) {
	conf := worker.GetDefaultWorkerConfig()
	if len(o.configFilePath) > 0 {
		if err := util.StrictDecodeFile(o.configFilePath, "jobmesh worker", conf); err != nil {
			return nil, err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "name":
			conf.Name = o.workerConfig.Name
		case "job-addr":
			conf.JobAddr = o.workerConfig.JobAddr
		case "master-addr":
			conf.MasterAddr = o.workerConfig.MasterAddr
		case "cache-addr":
			conf.CacheAddr = o.workerConfig.CacheAddr
		case "heartbeat-interval":
			conf.HeartbeatIntervalStr = o.workerConfig.HeartbeatIntervalStr
		case "replicas":
			conf.Replicas = o.workerConfig.Replicas
		case "log-addr":
			conf.Monitor.LogAddr = o.workerConfig.Monitor.LogAddr
		case "perf-addr":
			conf.Monitor.PerfAddr = o.workerConfig.Monitor.PerfAddr
		case "ping-addr":
			conf.Monitor.PingAddr = o.workerConfig.Monitor.PingAddr
		case "log-file":
			conf.LogConf.File = o.workerConfig.LogConf.File
		case "log-level":
			conf.LogConf.Level = o.workerConfig.LogConf.Level
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
	version.LogVersionInfo("jobmesh worker")
	log.Info("worker config", zap.Stringer("config", conf))

	tp, err := util.NewTransport(cmd)
	if err != nil {
		return errors.Trace(err)
	}
	pool, err := worker.NewPool(tp, conf, worker.NewDefaultRegistry())
	if err != nil {
		return errors.Annotate(err, "new worker pool")
	}
	defer pool.Close()

	err = pool.Run(ctx)
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Error("run worker pool", zap.String("error", errors.ErrorStack(err)))
		return errors.Annotate(err, "run worker pool")
	}
	log.Info("jobmesh worker exits successfully")
	return nil
}

// NewCmdWorker creates the `worker` command.
func NewCmdWorker() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "worker",
		Short: "Start a pool of jobmesh workers serving the built-in functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	util.AddTransportFlags(command)
	return command
}
