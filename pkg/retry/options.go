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

package retry

import (
	"time"
)

const (
	defaultBaseDelay = 10 * time.Millisecond
	defaultMaxDelay  = 100 * time.Millisecond
	defaultMaxTries  = 3
)

// Operation is the action that needs to be retried.
type Operation func() error

// Policy decides how an operation is retried. MaxTries <= 0 retries until
// the operation succeeds or the context is done.
type Policy struct {
	MaxTries  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Retryable func(error) bool
	// OnRetry is called before each sleep with the failed attempt's error.
	OnRetry func(err error, next time.Duration)
}

// Option configures a Policy.
type Option func(*Policy)

func newPolicy(opts ...Option) *Policy {
	p := &Policy{
		MaxTries:  defaultMaxTries,
		BaseDelay: defaultBaseDelay,
		MaxDelay:  defaultMaxDelay,
		Retryable: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// WithDelay sets the first delay and the cap of the exponential backoff.
// Non-positive values keep the defaults.
func WithDelay(base, max time.Duration) Option {
	return func(p *Policy) {
		if base > 0 {
			p.BaseDelay = base
		}
		if max > 0 {
			p.MaxDelay = max
		}
	}
}

// WithMaxTries limits the number of attempts, the first one included.
func WithMaxTries(tries int) Option {
	return func(p *Policy) {
		if tries > 0 {
			p.MaxTries = tries
		}
	}
}

// WithInfiniteTries retries until success or cancellation.
func WithInfiniteTries() Option {
	return func(p *Policy) {
		p.MaxTries = 0
	}
}

// WithRetryable stops retrying as soon as f reports false.
func WithRetryable(f func(error) bool) Option {
	return func(p *Policy) {
		if f != nil {
			p.Retryable = f
		}
	}
}

// WithOnRetry registers a hook fired between attempts.
func WithOnRetry(f func(err error, next time.Duration)) Option {
	return func(p *Policy) {
		p.OnRetry = f
	}
}
