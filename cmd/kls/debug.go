// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"kotlinls/service/kls/classpath"
	"kotlinls/service/kls/symbolindex"
)

// debugServer is the side HTTP surface: health, point-in-time stats, and
// Prometheus metrics. It never carries the LSP channel itself — that stays
// on stdio, per debugServer's one job of operational visibility.
type debugServer struct {
	index     *symbolindex.Index
	classPath *classpath.CompilerClassPath
	srv       *http.Server
}

func newDebugServer(addr string, index *symbolindex.Index, cp *classpath.CompilerClassPath) *debugServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	d := &debugServer{index: index, classPath: cp}

	router.GET("/healthz", d.handleHealthz)
	router.GET("/debug/stats", d.handleStats)
	if h := metricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	d.srv = &http.Server{Addr: addr, Handler: router}
	return d
}

func (d *debugServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (d *debugServer) handleStats(c *gin.Context) {
	stats, err := d.index.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"symbolCount": stats.SymbolCount,
		"isIndexing":  stats.IsIndexing,
		"metadata": gin.H{
			"buildFileVersion": stats.Metadata.BuildFileVersion,
			"indexedAtMillis":  stats.Metadata.IndexedAtMillis,
			"symbolCount":      stats.Metadata.SymbolCount,
		},
	}
	if d.classPath != nil {
		resp["classPathState"] = d.classPath.State().String()
		resp["classPath"] = d.classPath.ClassPath()
	}
	c.JSON(http.StatusOK, resp)
}

// Start runs the HTTP surface until the listener fails or Shutdown is called.
// Errors from a clean Shutdown (http.ErrServerClosed) are swallowed.
func (d *debugServer) Start() error {
	err := d.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (d *debugServer) Shutdown(ctx context.Context) error {
	return d.srv.Shutdown(ctx)
}
