// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package httpapi serves the latest decoded records and Prometheus metrics
// over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Thermoquad/jkstat/internal/config"
	"github.com/Thermoquad/jkstat/internal/store"
)

// Server wraps the gin engine and its HTTP server
type Server struct {
	srv *http.Server
}

// StatusFunc reports link state for the status endpoint
type StatusFunc func() Status

// Status is the body of GET /api/v1/status
type Status struct {
	Device     string    `json:"device"`
	DeviceName string    `json:"device_name,omitempty"`
	Connected  bool      `json:"connected"`
	LastUpdate time.Time `json:"last_update,omitempty"`
	Updated    string    `json:"updated"`
	Fragments  uint64    `json:"fragments"`
	Messages   uint64    `json:"messages"`
	CRCErrors  uint64    `json:"crc_errors"`
}

// New builds the router
func New(cfg config.HTTPConfig, st *store.Store, statusFn StatusFunc, metricsPath string, metricsHandler http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	v1 := r.Group("/api/v1")
	v1.GET("/status", func(c *gin.Context) {
		snap := st.Snapshot()
		var status Status
		if statusFn != nil {
			status = statusFn()
		}
		if status.Device == "" {
			status.Device = snap.Device
			status.DeviceName = snap.DeviceName
		}
		status.LastUpdate = snap.LastUpdate
		status.Updated = st.LastUpdateFormatted()
		c.JSON(http.StatusOK, status)
	})
	v1.GET("/cell-data", func(c *gin.Context) {
		snap := st.Snapshot()
		if snap.CellData == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no cell data received yet"})
			return
		}
		c.JSON(http.StatusOK, snap.CellData)
	})
	v1.GET("/device-info", func(c *gin.Context) {
		snap := st.Snapshot()
		if snap.DeviceInfo == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no device info received yet"})
			return
		}
		c.JSON(http.StatusOK, snap.DeviceInfo)
	})

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	return &Server{srv: &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown (blocking)
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
