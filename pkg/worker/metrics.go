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

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobmesh",
		Subsystem: "worker",
		Name:      "job_count",
		Help:      "count of jobs executed by workers",
	}, []string{"worker", "result"})

	handlerDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobmesh",
		Subsystem: "worker",
		Name:      "handler_duration_seconds",
		Help:      "duration of handler calls",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 18),
	}, []string{"function"})

	heartbeatCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobmesh",
		Subsystem: "worker",
		Name:      "heartbeat_count",
		Help:      "count of heartbeats sent to the master",
	}, []string{"worker"})
)

// job results counted by jobCounter
const (
	jobResultOK     = "ok"
	jobResultFailed = "failed"
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(jobCounter)
	registry.MustRegister(handlerDurationHistogram)
	registry.MustRegister(heartbeatCounter)
}
