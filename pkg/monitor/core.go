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

package monitor

import (
	"strings"

	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// publishCore is a zapcore.Core that publishes every entry on the log
// stream of a Reporter, encoded as a JSON line.
type publishCore struct {
	zapcore.LevelEnabler
	enc      zapcore.Encoder
	reporter *Reporter
}

func newPublishCore(r *Reporter) *publishCore {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	return &publishCore{
		LevelEnabler: zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= log.GetLevel()
		}),
		enc:      zapcore.NewJSONEncoder(cfg),
		reporter: r,
	}
}

func (c *publishCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &publishCore{
		LevelEnabler: c.LevelEnabler,
		enc:          c.enc.Clone(),
		reporter:     c.reporter,
	}
	for i := range fields {
		fields[i].AddTo(clone.enc)
	}
	return clone
}

func (c *publishCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *publishCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.reporter.Log(strings.TrimSuffix(buf.String(), "\n"))
	buf.Free()
	return nil
}

func (c *publishCore) Sync() error {
	return nil
}

// WrapLogger returns a logger writing to lg and to the log stream of r.
func (r *Reporter) WrapLogger(lg *zap.Logger) *zap.Logger {
	if r == nil {
		return lg
	}
	if _, ok := r.publishers[message.StreamLog]; !ok {
		return lg
	}
	return lg.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, newPublishCore(r))
	}))
}
