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
	"testing"

	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.Empty(t, r.Names())
	_, ok := r.Lookup("echo")
	require.False(t, ok)

	require.NoError(t, RegisterBuiltins(r))
	require.Equal(t, []string{FuncCacheGet, FuncCacheSet, FuncEcho}, r.Names())

	h, ok := r.Lookup(FuncEcho)
	require.True(t, ok)
	out, err := h(context.Background(), &Job{Payload: []byte("x")})
	require.NoError(t, err)
	require.Equal(t, []byte("x"), out)

	err = r.Register(FuncEcho, echo)
	require.True(t, errors.Is(err, errors.ErrHandlerRegistered))
	require.True(t, errors.Is(r.Register("", echo), errors.ErrInvalidArgument))
	require.True(t, errors.Is(r.Register("nil", nil), errors.ErrInvalidArgument))
	require.Panics(t, func() {
		r.MustRegister(FuncEcho, echo)
	})
}

func TestCacheBuiltinsWithoutCache(t *testing.T) {
	t.Parallel()

	r := NewDefaultRegistry()
	for _, name := range []string{FuncCacheGet, FuncCacheSet} {
		h, ok := r.Lookup(name)
		require.True(t, ok)
		_, err := h(context.Background(), &Job{Function: name})
		require.True(t, errors.Is(err, errors.ErrInvalidArgument), name)
	}
}
