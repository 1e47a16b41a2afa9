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

package transport

import (
	"context"
	"sync"

	jmerrors "github.com/pingcap/jobmesh/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Router maintains pushers to all the addresses the local component needs to
// push to. Pushers are created lazily and dropped after a failed push, so the
// next push to the same address reconnects.
type Router struct {
	tp *Transport

	mu       sync.RWMutex
	pushers  map[string]Pusher
	isClosed atomic.Bool
}

// NewRouter creates a Router opening pushers with tp.
func NewRouter(tp *Transport) *Router {
	return &Router{
		tp:      tp,
		pushers: make(map[string]Pusher),
	}
}

// Push sends frame to addr.
func (r *Router) Push(ctx context.Context, addr string, frame []byte) error {
	pusher, err := r.getPusher(addr)
	if err != nil {
		return err
	}
	if err := pusher.Push(ctx, frame); err != nil {
		log.Warn("push failed, dropping pusher",
			zap.String("addr", addr), zap.Error(err))
		r.Remove(addr)
		return err
	}
	return nil
}

func (r *Router) getPusher(addr string) (Pusher, error) {
	r.mu.RLock()
	// fast path
	if pusher, ok := r.pushers[addr]; ok {
		r.mu.RUnlock()
		return pusher, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed.Load() {
		return nil, jmerrors.ErrTransportClosed.GenWithStackByArgs()
	}
	// repeats the logic in fast path after escalating the lock
	if pusher, ok := r.pushers[addr]; ok {
		return pusher, nil
	}
	pusher, err := r.tp.ConnectPush(addr)
	if err != nil {
		return nil, err
	}
	r.pushers[addr] = pusher
	return pusher, nil
}

// Remove closes the pusher to addr, if any.
func (r *Router) Remove(addr string) {
	r.mu.Lock()
	pusher, ok := r.pushers[addr]
	delete(r.pushers, addr)
	r.mu.Unlock()

	if ok {
		_ = pusher.Close()
	}
}

// Close closes all pushers.
func (r *Router) Close() error {
	if r.isClosed.Swap(true) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for addr, pusher := range r.pushers {
		err = multierr.Append(err, pusher.Close())
		delete(r.pushers, addr)
	}
	return err
}
