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
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/cmd/util"
	"github.com/pingcap/jobmesh/pkg/endpoint"
	"github.com/pingcap/jobmesh/pkg/version"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// options defines flags for the `endpoint` command.
type options struct {
	configFilePath string
	printSnapshot  bool

	endpointConfig *endpoint.Config
}

// newOptions creates new options for the `endpoint` command.
func newOptions() *options {
	return &options{
		endpointConfig: endpoint.GetDefaultConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(cmd *cobra.Command) {
	def := endpoint.GetDefaultConfig()
	cmd.Flags().StringVar(&o.endpointConfig.Name, "name", def.Name, "Name of the endpoint")
	cmd.Flags().StringVar(&o.endpointConfig.Monitor.LogAddr, "log-addr", def.Monitor.LogAddr, "Address of the log stream")
	cmd.Flags().StringVar(&o.endpointConfig.Monitor.PerfAddr, "perf-addr", def.Monitor.PerfAddr, "Address of the perf stream")
	cmd.Flags().StringVar(&o.endpointConfig.Monitor.PingAddr, "ping-addr", def.Monitor.PingAddr, "Address of the ping stream")
	cmd.Flags().Int64Var(&o.endpointConfig.MaxMessages, "messages", def.MaxMessages, "Stop after that many events, 0 never stops")
	cmd.Flags().StringVar(&o.endpointConfig.LogConf.File, "log-file", def.LogConf.File, "log file path")
	cmd.Flags().StringVar(&o.endpointConfig.LogConf.Level, "log-level", def.LogConf.Level, "log level (etc: debug|info|warn|error)")
	cmd.Flags().BoolVar(&o.printSnapshot, "print", true, "Print the aggregated events as JSON on exit")
	cmd.Flags().StringVar(&o.configFilePath, "config", "", "Path of the configuration file")
}

// loadAndVerifyConfig merges the configuration file and the flags set
// explicitly, flags win.
func (o *options) loadAndVerifyConfig(cmd *cobra.Command) (*endpoint.Config, error) {
	conf := endpoint.GetDefaultConfig()
	if len(o.configFilePath) > 0 {
		if err := util.StrictDecodeFile(o.configFilePath, "jobmesh endpoint", conf); err != nil {
			return nil, err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "name":
			conf.Name = o.endpointConfig.Name
		case "log-addr":
			conf.Monitor.LogAddr = o.endpointConfig.Monitor.LogAddr
		case "perf-addr":
			conf.Monitor.PerfAddr = o.endpointConfig.Monitor.PerfAddr
		case "ping-addr":
			conf.Monitor.PingAddr = o.endpointConfig.Monitor.PingAddr
		case "messages":
			conf.MaxMessages = o.endpointConfig.MaxMessages
		case "log-file":
			conf.LogConf.File = o.endpointConfig.LogConf.File
		case "log-level":
			conf.LogConf.Level = o.endpointConfig.LogConf.Level
		case "config", "print":
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
	version.LogVersionInfo("jobmesh endpoint")

	tp, err := util.NewTransport(cmd)
	if err != nil {
		return errors.Trace(err)
	}
	e, err := endpoint.New(tp, conf)
	if err != nil {
		return errors.Annotate(err, "new endpoint")
	}
	defer e.Close()

	err = e.Run(ctx)
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Error("run endpoint", zap.String("error", errors.ErrorStack(err)))
		return errors.Annotate(err, "run endpoint")
	}
	if o.printSnapshot {
		return util.JSONPrint(cmd, e.Snapshot())
	}
	return nil
}

// NewCmdEndPoint creates the `endpoint` command.
func NewCmdEndPoint() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "endpoint",
		Short: "Start a jobmesh monitoring endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	util.AddTransportFlags(command)
	return command
}
