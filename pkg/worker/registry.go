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
	"context"
	"sort"
	"sync"

	"github.com/pingcap/jobmesh/pkg/cache"
	"github.com/pingcap/jobmesh/pkg/errors"
)

// Job is a unit of work handed to a HandlerFunc.
type Job struct {
	CorrelationID string
	Function      string
	Payload       []byte
	// Cache reaches the cache of the master, nil when the worker has no
	// cache address.
	Cache *cache.Client
}

// HandlerFunc executes a job and returns its output. A returned error is
// sent back to the client as a failure.
type HandlerFunc func(ctx context.Context, job *Job) ([]byte, error)

// Registry maps function names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds handler to name.
func (r *Registry) Register(name string, handler HandlerFunc) error {
	if name == "" {
		return errors.ErrInvalidArgument.GenWithStackByArgs("empty function name")
	}
	if handler == nil {
		return errors.ErrInvalidArgument.GenWithStackByArgs("nil handler for " + name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return errors.ErrHandlerRegistered.GenWithStackByArgs(name)
	}
	r.handlers[name] = handler
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, handler HandlerFunc) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler bound to name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Names of the built-in handlers.
const (
	FuncEcho     = "echo"
	FuncCacheGet = "cache.get"
	FuncCacheSet = "cache.set"
)

// RegisterBuiltins registers the built-in handlers:
//   - echo returns its payload.
//   - cache.get reads the value stored under the key given as payload.
//   - cache.set stores the payload under a generated key and returns the key.
func RegisterBuiltins(r *Registry) error {
	for name, h := range map[string]HandlerFunc{
		FuncEcho:     echo,
		FuncCacheGet: cacheGet,
		FuncCacheSet: cacheSet,
	} {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a Registry holding the built-in handlers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}

func echo(_ context.Context, job *Job) ([]byte, error) {
	return job.Payload, nil
}

func cacheGet(ctx context.Context, job *Job) ([]byte, error) {
	if job.Cache == nil {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("worker has no cache address")
	}
	return job.Cache.Get(ctx, string(job.Payload))
}

func cacheSet(ctx context.Context, job *Job) ([]byte, error) {
	if job.Cache == nil {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("worker has no cache address")
	}
	key, err := job.Cache.Set(ctx, job.Payload, "")
	if err != nil {
		return nil, err
	}
	return []byte(key), nil
}
