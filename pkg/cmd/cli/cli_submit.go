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
	"context"

	"github.com/pingcap/jobmesh/pkg/client"
	"github.com/pingcap/jobmesh/pkg/cmd/factory"
	"github.com/pingcap/jobmesh/pkg/cmd/util"
	"github.com/spf13/cobra"
)

// submitOptions defines flags for the `cli submit` command.
type submitOptions struct {
	noWait bool
}

// submitResult is printed by `cli submit`.
type submitResult struct {
	CorrelationID string `json:"cid"`
	Result        string `json:"result,omitempty"`
}

func newCmdSubmit(f factory.Factory) *cobra.Command {
	o := &submitOptions{}
	command := &cobra.Command{
		Use:   "submit <function> [payload]",
		Short: "Submit a job and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 2 {
				payload = []byte(args[1])
			}
			return withClient(cmd, f, func(ctx context.Context, cli *client.Client) error {
				cid, err := cli.Submit(ctx, args[0], payload)
				if err != nil {
					return err
				}
				res := &submitResult{CorrelationID: cid}
				if !o.noWait {
					out, err := cli.AwaitResult(ctx, cid, 0)
					if err != nil {
						return err
					}
					res.Result = string(out)
				}
				return util.JSONPrint(cmd, res)
			})
		},
	}
	command.Flags().BoolVar(&o.noWait, "no-wait", false, "Print the correlation id without waiting for the result")
	return command
}
