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
	"os"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Names of the resource samples published by ProcessSampler.
const (
	MetricProcessRSS        = "process_rss_bytes"
	MetricProcessCPUPercent = "process_cpu_percent"
	MetricHostMemoryPercent = "host_memory_used_percent"
)

// ProcessSampler reads resource usage of the current process and the host.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler creates a sampler for the calling process.
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample reads the current resource usage. Readings the platform cannot
// provide are left out.
func (s *ProcessSampler) Sample() map[string]float64 {
	samples := make(map[string]float64, 3)
	if s == nil {
		return samples
	}
	if info, err := s.proc.MemoryInfo(); err == nil {
		samples[MetricProcessRSS] = float64(info.RSS)
	} else {
		log.Debug("read process memory failed", zap.Error(err))
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		samples[MetricProcessCPUPercent] = cpu
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		samples[MetricHostMemoryPercent] = vm.UsedPercent
	}
	return samples
}

// Publish publishes one perf event per reading to r.
func (s *ProcessSampler) Publish(r *Reporter) {
	for metric, value := range s.Sample() {
		r.Perf(metric, value)
	}
}
