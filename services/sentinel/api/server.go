// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes Sentinel over HTTP.
//
// # Routes
//
//	GET  /health
//	GET  /metrics                            Prometheus scrape endpoint
//	POST /v1/sentinel/events                 Run the pipeline for one event
//	GET  /v1/sentinel/metrics                MTTD, MTTA, value saved
//	GET  /v1/sentinel/suggestions            Ranked suggestions
//	GET  /v1/sentinel/audit/recent
//	GET  /v1/sentinel/audit/trends
//	GET  /v1/sentinel/audit/recurring
//	GET  /v1/sentinel/audit/insights
//	GET  /v1/sentinel/audit/:id
//	GET  /v1/sentinel/telemetry              Recent telemetry notices
//	GET  /v1/sentinel/telemetry/ws           Live telemetry stream
//	GET  /v1/sentinel/locations/:name        Coordinates for a place name
//
// Optional dependencies that are nil answer 503 on their routes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/geo"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/metrics"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/pipeline"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/safety"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/telemetry"
)

// =============================================================================
// Dependencies
// =============================================================================

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, event model.DisruptionEvent, shipments []model.ShipmentSnapshot) (*pipeline.RunResult, error)
}

// MetricsSource reports tracker aggregates.
type MetricsSource interface {
	Snapshot() metrics.Snapshot
}

// GateStats reports safety gate counters.
type GateStats interface {
	MinConfidence() float64
	Stats() safety.Stats
}

// AuditReader is the read side of the audit store.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]model.StoredEvent, error)
	Get(ctx context.Context, eventID string) (model.StoredEvent, error)
	Trends(ctx context.Context) (audit.Trends, error)
	Recurring(ctx context.Context, threshold int) ([]string, error)
	Insights(ctx context.Context) (audit.Insights, error)
}

// TelemetryHistory returns recent notices, newest last.
type TelemetryHistory interface {
	Recent(limit int) []telemetry.Notice
}

// LocationResolver places a name on the map.
type LocationResolver interface {
	Resolve(ctx context.Context, name string) (geo.Point, error)
}

// ShipmentSource supplies shipments when a request carries none.
type ShipmentSource interface {
	Snapshot() []model.ShipmentSnapshot
}

// Deps are the collaborators behind the routes. Runner is required.
type Deps struct {
	Runner      Runner
	Metrics     MetricsSource
	Gate        GateStats
	Audit       AuditReader
	Telemetry   TelemetryHistory
	LiveStream  http.Handler
	Locations   LocationResolver
	Shipments   ShipmentSource
	Instruments *observability.Instruments
	Logger      *slog.Logger
}

// ErrNoRunner is returned by NewServer without a Runner.
var ErrNoRunner = errors.New("api: runner is required")

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP front end.
//
// Thread Safety: safe for concurrent use once built.
type Server struct {
	deps   Deps
	router *gin.Engine
	newID  func() string
}

// NewServer builds the router.
//
// # Inputs
//
//   - serviceName: Span service name for otelgin.
//   - deps: Collaborators. Only Runner is required.
//
// # Outputs
//
//   - *Server: Ready to serve.
//   - error: ErrNoRunner when deps.Runner is nil.
func NewServer(serviceName string, deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, ErrNoRunner
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(requestMetrics(deps.Instruments))
	router.Use(requestLog(deps.Logger))

	s := &Server{deps: deps, router: router, newID: newEventID}
	s.routes()
	return s, nil
}

// Handler returns the router for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", healthCheck)
	s.router.GET("/metrics", prometheusMetrics)

	v1 := s.router.Group("/v1/sentinel")
	{
		v1.POST("/events", s.handleEvent)
		v1.GET("/metrics", s.handleMetrics)
		v1.GET("/suggestions", handleSuggestions)
		v1.GET("/telemetry", s.handleTelemetry)
		v1.GET("/telemetry/ws", s.handleTelemetryStream)
		v1.GET("/locations/:name", s.handleLocation)

		auditGroup := v1.Group("/audit")
		{
			auditGroup.GET("/recent", s.handleAuditRecent)
			auditGroup.GET("/trends", s.handleAuditTrends)
			auditGroup.GET("/recurring", s.handleAuditRecurring)
			auditGroup.GET("/insights", s.handleAuditInsights)
			auditGroup.GET("/:id", s.handleAuditGet)
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("HTTP server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.deps.Logger.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
