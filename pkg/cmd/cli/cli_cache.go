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
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// withClient connects a client, runs fn and closes the client.
func withClient(cmd *cobra.Command, f factory.Factory, fn func(ctx context.Context, cli *client.Client) error) (err error) {
	cli, err := f.Client()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cli.Close())
	}()
	return fn(cmd.Context(), cli)
}

// setOptions defines flags for the `cli set` command.
type setOptions struct {
	key string
}

func newCmdSet(f factory.Factory) *cobra.Command {
	o := &setOptions{}
	command := &cobra.Command{
		Use:   "set <value>",
		Short: "Store a value in the cache and print its key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, f, func(ctx context.Context, cli *client.Client) error {
				key, err := cli.Set(ctx, []byte(args[0]), o.key)
				if err != nil {
					return err
				}
				cmd.Println(key)
				return nil
			})
		},
	}
	command.Flags().StringVar(&o.key, "key", "", "Key to store the value under, generated when empty")
	return command
}

func newCmdGet(f factory.Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, f, func(ctx context.Context, cli *client.Client) error {
				value, err := cli.Get(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Println(string(value))
				return nil
			})
		},
	}
}

func newCmdDelete(f factory.Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, f, func(ctx context.Context, cli *client.Client) error {
				key, err := cli.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Println(key)
				return nil
			})
		},
	}
}
