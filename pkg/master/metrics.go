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

package master

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	workerNumGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobmesh",
		Subsystem: "master",
		Name:      "worker_num",
		Help:      "number of registered workers",
	}, []string{"status"})

	pendingJobGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobmesh",
		Subsystem: "master",
		Name:      "pending_job_num",
		Help:      "number of jobs accepted and not yet answered",
	})

	backlogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobmesh",
		Subsystem: "master",
		Name:      "backlog_len",
		Help:      "number of jobs waiting for an available worker",
	})

	jobCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobmesh",
		Subsystem: "master",
		Name:      "job_count",
		Help:      "count of job events handled by the master",
	}, []string{"event"})

	cacheCommandCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobmesh",
		Subsystem: "master",
		Name:      "cache_command_count",
		Help:      "count of cache commands served",
	}, []string{"kind", "result"})

	jobDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jobmesh",
		Subsystem: "master",
		Name:      "job_duration_seconds",
		Help:      "time from accepting a job to forwarding its result",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
	})
)

// job events counted by jobCounter
const (
	jobEventAccepted     = "accepted"
	jobEventDispatched   = "dispatched"
	jobEventCompleted    = "completed"
	jobEventDiscarded    = "discarded"
	jobEventRedispatched = "redispatched"
	jobEventRejected     = "rejected"
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(workerNumGauge)
	registry.MustRegister(pendingJobGauge)
	registry.MustRegister(backlogGauge)
	registry.MustRegister(jobCounter)
	registry.MustRegister(cacheCommandCounter)
	registry.MustRegister(jobDurationHistogram)
}
