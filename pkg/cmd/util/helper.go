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

package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/jobmesh/pkg/logutil"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// InitCmd initializes the logger and returns a context cancelled on the
// first SIGINT/SIGTERM.
func InitCmd(cmd *cobra.Command, logCfg *logutil.Config) (context.Context, context.CancelFunc) {
	logCfg.Adjust()
	err := logutil.InitLogger(logCfg)
	if err != nil {
		cmd.Printf("init logger error %v\n", errors.ErrorStack(err))
		os.Exit(1)
	}
	log.Info("init log", zap.String("file", logCfg.File), zap.String("level", logCfg.Level))

	ctx, cancel := context.WithCancel(context.Background())
	initSignalHandling(cancel)
	return ctx, cancel
}

// initSignalHandling cancels the command context on the first signal and
// exits on the second one.
func initSignalHandling(cancel context.CancelFunc) {
	// We use 2 for channel length to ease testing.
	sc := make(chan os.Signal, 2)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		sig := <-sc
		log.Info("got signal, prepare to shutdown", zap.Stringer("signal", sig))
		cancel()
		sig = <-sc
		log.Info("got signal, force shutdown", zap.Stringer("signal", sig))
		os.Exit(1)
	}()
}

// StrictDecodeFile decodes the toml file strictly. If any item in confFile file is not mapped
// into the Config struct, issue an error and stop the component from starting.
func StrictDecodeFile(path, component string, cfg interface{}, ignoreCheckItems ...string) error {
	metaData, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return jmerrors.WrapError(jmerrors.ErrDecodeConfigFile, err)
	}

	// check if item is a ignoreCheckItem
	hasIgnoreItem := func(item []string) bool {
		for _, ignoreCheckItem := range ignoreCheckItems {
			if item[0] == ignoreCheckItem {
				return true
			}
		}
		return false
	}

	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		var b strings.Builder
		hasUnknownConfigSize := 0
		for _, item := range undecoded {
			if hasIgnoreItem(item) {
				continue
			}

			if hasUnknownConfigSize > 0 {
				b.WriteString(", ")
			}
			b.WriteString(item.String())
			hasUnknownConfigSize++
		}
		if hasUnknownConfigSize > 0 {
			return jmerrors.ErrConfigUnknownItem.GenWithStackByArgs(
				fmt.Sprintf("component %s's config file %s: %s", component, path, b.String()))
		}
	}
	return nil
}

// JSONPrint will output the data in JSON format.
func JSONPrint(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Printf("%s\n", data)
	return nil
}

// CheckErr prints err in red and exits when it is not nil.
func CheckErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, color.RedString("Error: %s", err.Error()))
	os.Exit(1)
}

const maxFrameSizeFlag = "max-frame-size"

// AddTransportFlags binds the flags shared by every command that opens
// tcp endpoints.
func AddTransportFlags(cmd *cobra.Command) {
	cmd.Flags().String(maxFrameSizeFlag, "64MiB", "Largest frame accepted on tcp connections")
}

// IsTransportFlag reports whether name was bound by AddTransportFlags.
func IsTransportFlag(name string) bool {
	return name == maxFrameSizeFlag
}

// NewTransport creates the process transport configured by the flags of
// AddTransportFlags.
func NewTransport(cmd *cobra.Command) (*transport.Transport, error) {
	var opts []transport.Option
	if f := cmd.Flags().Lookup(maxFrameSizeFlag); f != nil {
		size, err := transport.ParseFrameSize(f.Value.String())
		if err != nil {
			return nil, err
		}
		opts = append(opts, transport.WithMaxFrameSize(size))
	}
	return transport.New(nil, opts...), nil
}
