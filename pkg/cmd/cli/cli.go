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

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap/jobmesh/pkg/cmd/factory"
	"github.com/pingcap/jobmesh/pkg/cmd/util"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/spf13/cobra"
)

// options defines flags and other configuration parameters for the `cli` command.
type options struct {
	interact    bool
	cliLogLevel string
}

// newOptions creates new options for the `cli` command.
func newOptions() *options {
	return &options{}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(c *cobra.Command) {
	if o == nil {
		return
	}
	c.PersistentFlags().BoolVarP(&o.interact, "interact", "i", false, "jobmesh cli with readline")
	c.PersistentFlags().StringVar(&o.cliLogLevel, "log-level", "warn", "log level (etc: debug|info|warn|error)")
}

// NewCmdCli creates the `cli` command.
func NewCmdCli() *cobra.Command {
	return newCmdCli(transport.New(nil))
}

func newCmdCli(tp *transport.Transport) *cobra.Command {
	o := newOptions()

	cmds := &cobra.Command{
		Use:   "cli",
		Short: "Submit jobs and manage the cache of a jobmesh master",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Here we will initialize the logging configuration.
			return logutil.InitLogger(&logutil.Config{Level: o.cliLogLevel})
		},
		Run: func(cmd *cobra.Command, args []string) {
			// Whether to run interactively or not.
			if o.interact {
				run(tp)
			}
		},
	}

	// Binding the `cmd` command flags.
	o.addFlags(cmds)

	// Bind the master address flags and construct the client construction factory.
	cf := factory.NewClientFlags()
	cf.AddFlags(cmds)
	f := factory.NewFactory(cf, tp)

	// Add subcommands.
	cmds.AddCommand(newCmdSet(f))
	cmds.AddCommand(newCmdGet(f))
	cmds.AddCommand(newCmdDelete(f))
	cmds.AddCommand(newCmdSubmit(f))

	return cmds
}

func run(tp *transport.Transport) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       "/tmp/jobmesh-readline.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	util.CheckErr(err)
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				break
			} else if err == io.EOF {
				break
			}
			continue
		}
		if line == "exit" {
			os.Exit(0)
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Printf("parse command err: %v\n", err)
			continue
		}

		command := newCmdCli(tp)
		command.SetArgs(args)
		_ = command.ParseFlags(args)
		command.SetOut(os.Stdout)
		command.SetErr(os.Stdout)
		if err = command.Execute(); err != nil {
			command.Println(err)
		}
	}
}
