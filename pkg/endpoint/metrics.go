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

package endpoint

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobmesh",
		Subsystem: "endpoint",
		Name:      "events_total",
		Help:      "count of monitoring events received",
	}, []string{"stream"})

	componentPingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobmesh",
		Subsystem: "endpoint",
		Name:      "last_ping_timestamp_seconds",
		Help:      "unix time of the last liveness ping of a component",
	}, []string{"component"})

	perfGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobmesh",
		Subsystem: "endpoint",
		Name:      "perf_last_value",
		Help:      "last reported value of a performance metric",
	}, []string{"component", "metric"})
)

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(eventCounter)
	registry.MustRegister(componentPingGauge)
	registry.MustRegister(perfGauge)
}
