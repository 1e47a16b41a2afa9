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

package logutil

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// DefaultLogMaxSize is the default size of log file in MB.
	DefaultLogMaxSize = 300
	// DefaultLogMaxDays is the default retention of rotated log files.
	DefaultLogMaxDays = 0
	// DefaultLogMaxBackups is the default number of rotated log files kept.
	DefaultLogMaxBackups = 0
)

// label keys attached to component loggers
const (
	fieldRoleKey      = "role"
	fieldComponentKey = "component"
)

// Config serializes log related config in toml/json.
type Config struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log filename, leave empty to disable file log.
	File string `toml:"file" json:"file"`
	// Max size for a single file, in MB.
	FileMaxSize int `toml:"max-size" json:"max-size"`
	// Max log keep days, default is never deleting.
	FileMaxDays int `toml:"max-days" json:"max-days"`
	// Maximum number of old log files to retain.
	FileMaxBackups int `toml:"max-backups" json:"max-backups"`
}

// Adjust adjusts config
func (cfg *Config) Adjust() {
	if len(cfg.Level) == 0 {
		cfg.Level = "info"
	}
	if cfg.FileMaxSize == 0 {
		cfg.FileMaxSize = DefaultLogMaxSize
	}
	if cfg.FileMaxDays == 0 {
		cfg.FileMaxDays = DefaultLogMaxDays
	}
	if cfg.FileMaxBackups == 0 {
		cfg.FileMaxBackups = DefaultLogMaxBackups
	}
}

// InitLogger initializes logger and replaces the global logger of pingcap/log.
func InitLogger(cfg *Config, opts ...zap.Option) error {
	pclogConfig := &log.Config{
		Level: cfg.Level,
		File: log.FileLogConfig{
			Filename:   cfg.File,
			MaxSize:    cfg.FileMaxSize,
			MaxDays:    cfg.FileMaxDays,
			MaxBackups: cfg.FileMaxBackups,
		},
	}

	lg, props, err := log.InitLogger(pclogConfig, opts...)
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// SetLogLevel changes the level of the global logger.
func SetLogLevel(level string) error {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return errors.Trace(err)
	}
	log.SetLevel(lv)
	return nil
}

// NewLogger4Component returns a child of the global logger labeled with the
// role (master, worker, client, endpoint) and name of a component.
func NewLogger4Component(role, name string) *zap.Logger {
	return log.L().With(
		zap.String(fieldRoleKey, role),
		zap.String(fieldComponentKey, name),
	)
}

// ZapErrorFilter wraps zap.Error, if err is in given filterErrors, it will be set to nil
func ZapErrorFilter(err error, filterErrors ...error) zap.Field {
	cause := errors.Cause(err)
	for _, ferr := range filterErrors {
		if cause == ferr {
			return zap.Error(nil)
		}
	}
	return zap.Error(err)
}

// ShortError contructs a field which only records the error message without the
// verbose text (i.e. excludes the stack trace).
func ShortError(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", err.Error())
}
