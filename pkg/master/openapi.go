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
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/pingcap/jobmesh/pkg/cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const statusShutdownTimeout = 3 * time.Second

// OpenAPI provides the read-only status API of the master.
type OpenAPI struct {
	master *Master
}

// NewOpenAPI creates a new OpenAPI.
func NewOpenAPI(master *Master) *OpenAPI {
	return &OpenAPI{master: master}
}

// Summary is the body of GET /api/v1/status.
type Summary struct {
	Name        string         `json:"name"`
	Workers     map[string]int `json:"workers"`
	PendingJobs int            `json:"pending-jobs"`
	BacklogLen  int            `json:"backlog-len"`
	Cache       cache.Stats    `json:"cache"`
}

// RegisterOpenAPIRoutes registers routes for OpenAPI.
func RegisterOpenAPIRoutes(router *gin.Engine, api *OpenAPI) {
	v1 := router.Group("/api/v1")
	v1.GET("/status", api.GetStatus)
	v1.GET("/workers", api.ListWorkers)
	v1.GET("/jobs", api.ListJobs)
	v1.GET("/cache/stats", api.GetCacheStats)
}

func writeJSON(c *gin.Context, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// GetStatus returns a summary of the master state.
// @Router /api/v1/status [get]
func (o *OpenAPI) GetStatus(c *gin.Context) {
	workers := o.master.Workers()
	counts := make(map[string]int)
	for _, w := range workers {
		counts[w.Status.String()]++
	}
	writeJSON(c, &Summary{
		Name:        o.master.cfg.Name,
		Workers:     counts,
		PendingJobs: len(o.master.Jobs()),
		BacklogLen:  o.master.BacklogLen(),
		Cache:       o.master.store.Stats(),
	})
}

// ListWorkers lists the worker table.
// @Router /api/v1/workers [get]
func (o *OpenAPI) ListWorkers(c *gin.Context) {
	writeJSON(c, o.master.Workers())
}

// ListJobs lists the pending jobs.
// @Router /api/v1/jobs [get]
func (o *OpenAPI) ListJobs(c *gin.Context) {
	writeJSON(c, o.master.Jobs())
}

// GetCacheStats returns the cache counters.
// @Router /api/v1/cache/stats [get]
func (o *OpenAPI) GetCacheStats(c *gin.Context) {
	writeJSON(c, o.master.store.Stats())
}

func (m *Master) newStatusRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	RegisterOpenAPIRoutes(router, NewOpenAPI(m))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})))
	return router
}

// serveStatus serves the status API on cfg.StatusAddr until ctx is done.
func (m *Master) serveStatus(ctx context.Context) error {
	srv := &http.Server{
		Addr:              m.cfg.StatusAddr,
		Handler:           m.newStatusRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	m.logger.Info("status server started", zap.String("addr", m.cfg.StatusAddr))

	select {
	case err := <-errCh:
		return errors.Trace(err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		m.logger.Warn("status server shutdown failed", zap.Error(err))
	}
	<-errCh
	return errors.Trace(ctx.Err())
}
