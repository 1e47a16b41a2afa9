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

package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/gavv/monotime"
)

type (
	// Timer is a timer that can be driven by a mock clock.
	Timer = bclock.Timer
	// Ticker is a ticker that can be driven by a mock clock.
	Ticker = bclock.Ticker
	// MonotonicTime is a reading of a monotonic clock.
	MonotonicTime time.Duration
)

var unixEpoch = time.Unix(0, 0)

// Clock is the time source used by the master liveness checker, the worker
// heartbeats and the client timeouts. Tests substitute a Mock.
type Clock interface {
	bclock.Clock
	Mono() MonotonicTime
}

type withRealMono struct {
	bclock.Clock
}

func (r withRealMono) Mono() MonotonicTime {
	return MonotonicTime(monotime.Now())
}

// Mock is a manually advanced Clock.
type Mock struct {
	*bclock.Mock
}

// Mono derives a monotonic reading from the mock wall time.
func (r Mock) Mono() MonotonicTime {
	return MonotonicTime(r.Now().Sub(unixEpoch))
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return withRealMono{bclock.New()}
}

// NewMock returns a Mock starting at the unix epoch.
func NewMock() *Mock {
	return &Mock{bclock.NewMock()}
}

// Sub returns m-other.
func (m MonotonicTime) Sub(other MonotonicTime) time.Duration {
	return time.Duration(m - other)
}

// ToMono converts a wall time to a MonotonicTime relative to the unix epoch.
func ToMono(t time.Time) MonotonicTime {
	return MonotonicTime(t.Sub(unixEpoch))
}
