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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func doGet(t *testing.T, env *testEnv, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	env.master.newStatusRouter().ServeHTTP(w, r)
	return w
}

func TestOpenAPI(t *testing.T) {
	t.Parallel()

	env := startTestMaster(t, newTestConfig(t))
	client := env.newPeer(t, "client", env.cfg.ClientAddr)
	worker := env.newPeer(t, "w1", env.cfg.WorkerAddr)
	worker.heartbeat()
	env.waitWorkers(t, 1)
	client.submit("c-1", "echo", nil)
	worker.mustReceive()
	client.submit("c-2", "echo", nil)
	require.Eventually(t, func() bool {
		return env.master.BacklogLen() == 1
	}, waitTimeout, waitTick)
	env.master.Store().Set([]byte("v"), "k")

	w := doGet(t, env, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Equal(t, "master", summary.Name)
	require.Equal(t, map[string]int{"busy": 1}, summary.Workers)
	require.Equal(t, 2, summary.PendingJobs)
	require.Equal(t, 1, summary.BacklogLen)
	require.Equal(t, 1, summary.Cache.Entries)

	w = doGet(t, env, "/api/v1/workers")
	require.Equal(t, http.StatusOK, w.Code)
	var workers []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &workers))
	require.Len(t, workers, 1)
	require.Equal(t, "w1", workers[0]["id"])
	require.Equal(t, "busy", workers[0]["status"])
	require.Equal(t, "c-1", workers[0]["in-flight-job"])

	w = doGet(t, env, "/api/v1/jobs")
	require.Equal(t, http.StatusOK, w.Code)
	var jobs []PendingJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)

	w = doGet(t, env, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"sets":1`)

	w = doGet(t, env, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "jobmesh_master_job_count")
}
