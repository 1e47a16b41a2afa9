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
	"testing"

	"github.com/pingcap/jobmesh/pkg/clock"
	"github.com/pingcap/jobmesh/pkg/message"
	"github.com/pingcap/jobmesh/pkg/transport"
	"github.com/stretchr/testify/require"
)

func TestProcessSampler(t *testing.T) {
	s, err := NewProcessSampler()
	require.NoError(t, err)

	samples := s.Sample()
	require.Contains(t, samples, MetricProcessRSS)
	require.Greater(t, samples[MetricProcessRSS], float64(0))
	if pct, ok := samples[MetricHostMemoryPercent]; ok {
		require.GreaterOrEqual(t, pct, float64(0))
		require.LessOrEqual(t, pct, float64(100))
	}

	var nilSampler *ProcessSampler
	require.Empty(t, nilSampler.Sample())
}

func TestProcessSamplerPublish(t *testing.T) {
	hub := transport.NewHub()
	defer hub.Close()
	tp := transport.New(hub)

	sub, err := tp.BindSubscribe(testAddrs.PerfAddr)
	require.NoError(t, err)
	defer sub.Close()

	r, err := NewReporter(tp, "master", testAddrs, clock.NewMock())
	require.NoError(t, err)
	defer r.Close()

	s, err := NewProcessSampler()
	require.NoError(t, err)
	s.Publish(r)

	for {
		ev := receive(t, sub)
		require.Equal(t, message.StreamPerf, ev.Stream)
		require.Equal(t, "master", ev.Component)
		if ev.Metric == MetricProcessRSS {
			require.Greater(t, ev.Value, float64(0))
			break
		}
	}
}
