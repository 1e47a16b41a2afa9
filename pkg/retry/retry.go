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
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
)

// Do runs op until it succeeds, returns an error the policy refuses to
// retry, runs out of tries or ctx is done. The last error is returned.
func Do(ctx context.Context, op Operation, opts ...Option) error {
	return newPolicy(opts...).Do(ctx, op)
}

// Do runs op under the policy.
func (p *Policy) Do(ctx context.Context, op Operation) error {
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backoff(ctx), p.notify)
	return errors.Trace(err)
}

func (p *Policy) backoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	var b backoff.BackOff = bo
	if p.MaxTries > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxTries-1))
	}
	return backoff.WithContext(b, ctx)
}

func (p *Policy) notify(err error, next time.Duration) {
	if p.OnRetry != nil {
		p.OnRetry(err, next)
	}
}
