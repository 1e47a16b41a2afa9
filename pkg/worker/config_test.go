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
	"testing"
	"time"

	"github.com/pingcap/jobmesh/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestConfigAdjust(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultWorkerConfig()
	require.NoError(t, cfg.Adjust())
	require.Regexp(t, "^worker-[0-9a-f]{4}$", cfg.Name)
	require.Equal(t, 500*time.Millisecond, cfg.HeartbeatInterval)
	require.Equal(t, 1, cfg.Replicas)
	require.Contains(t, cfg.String(), `"job-addr":"tcp://127.0.0.1:5570"`)

	cfg = GetDefaultWorkerConfig()
	cfg.HeartbeatIntervalStr = "-1s"
	require.True(t, errors.Is(cfg.Adjust(), errors.ErrInvalidArgument))

	cfg = GetDefaultWorkerConfig()
	cfg.MasterAddr = ""
	require.True(t, errors.Is(cfg.Adjust(), errors.ErrInvalidAddress))

	cfg = GetDefaultWorkerConfig()
	cfg.Replicas = -2
	require.True(t, errors.Is(cfg.Adjust(), errors.ErrInvalidArgument))
}

func TestConfigReplica(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultWorkerConfig()
	cfg.Name = "w"
	require.NoError(t, cfg.Adjust())
	same, err := cfg.replica(0)
	require.NoError(t, err)
	require.Same(t, cfg, same)

	cfg.Replicas = 3
	second, err := cfg.replica(2)
	require.NoError(t, err)
	require.Equal(t, "w-2", second.Name)
	require.Equal(t, "tcp://127.0.0.1:5572", second.JobAddr)
	require.Equal(t, 1, second.Replicas)
	require.Equal(t, "w", cfg.Name)

	cfg.JobAddr = "inproc://jobs"
	first, err := cfg.replica(1)
	require.NoError(t, err)
	require.Equal(t, "inproc://jobs-1", first.JobAddr)
}
