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

package cmd

import (
	"github.com/pingcap/jobmesh/pkg/cmd/cli"
	"github.com/pingcap/jobmesh/pkg/cmd/endpoint"
	"github.com/pingcap/jobmesh/pkg/cmd/master"
	"github.com/pingcap/jobmesh/pkg/cmd/util"
	"github.com/pingcap/jobmesh/pkg/cmd/version"
	"github.com/pingcap/jobmesh/pkg/cmd/worker"
	"github.com/spf13/cobra"
)

// NewCmd creates the root command.
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobmesh",
		Short: "A distributed job dispatch broker",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
}

// AddJobmeshCommands adds all jobmesh subcommands to cmd.
func AddJobmeshCommands(cmd *cobra.Command) {
	cmd.AddCommand(master.NewCmdMaster())
	cmd.AddCommand(worker.NewCmdWorker())
	cmd.AddCommand(endpoint.NewCmdEndPoint())
	cmd.AddCommand(cli.NewCmdCli())
	cmd.AddCommand(version.NewCmdVersion())
}

// Run runs the root command.
func Run() {
	cmd := NewCmd()

	cmd.SetOut(cmd.OutOrStdout())
	cmd.SetErr(cmd.ErrOrStderr())

	AddJobmeshCommands(cmd)

	if err := cmd.Execute(); err != nil {
		util.CheckErr(err)
	}
}
