// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/geo"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/metrics"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/pipeline"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/safety"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/suggest"
)

const (
	defaultTelemetryLimit = 50
	maxListLimit          = 1000
)

func newEventID() string {
	return "EVT_" + uuid.NewString()
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func prometheusMetrics(c *gin.Context) {
	h := observability.MetricsHandler()
	if h == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Prometheus exporter not enabled"})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}

// =============================================================================
// Events
// =============================================================================

// EventRequest is the body of POST /v1/sentinel/events. When Shipments is
// empty the server's shipment cache is used.
type EventRequest struct {
	Event     model.DisruptionEvent    `json:"event"`
	Shipments []model.ShipmentSnapshot `json:"shipments"`
}

// EventResponse summarizes a run.
type EventResponse struct {
	Run        *pipeline.RunResult `json:"run"`
	Dispatched int                 `json:"dispatched"`
	Blocked    int                 `json:"blocked"`
	Errors     []string            `json:"errors,omitempty"`
}

func (s *Server) handleEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Event.EventID == "" {
		req.Event.EventID = s.newID()
	}
	shipments := req.Shipments
	if len(shipments) == 0 && s.deps.Shipments != nil {
		shipments = s.deps.Shipments.Snapshot()
	}

	result, err := s.deps.Runner.Run(c.Request.Context(), req.Event, shipments)
	switch {
	case errors.Is(err, pipeline.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.deps.Logger.Error("Pipeline run failed",
			slog.String("event_id", req.Event.EventID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Pipeline run failed"})
		return
	}

	resp := EventResponse{Run: result, Dispatched: result.Dispatched(), Blocked: result.Blocked()}
	for _, o := range result.Outcomes {
		if o.Err != nil {
			resp.Errors = append(resp.Errors, o.ShipmentID+": "+o.Err.Error())
		}
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Metrics and suggestions
// =============================================================================

// MetricsResponse combines tracker aggregates with gate counters.
type MetricsResponse struct {
	metrics.Snapshot
	Gate *GateResponse `json:"safety_gate,omitempty"`
}

// GateResponse reports the gate's threshold and counters.
type GateResponse struct {
	MinConfidence float64 `json:"min_confidence"`
	safety.Stats
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.deps.Metrics == nil {
		unavailable(c, "Metrics tracker")
		return
	}
	resp := MetricsResponse{Snapshot: s.deps.Metrics.Snapshot()}
	if s.deps.Gate != nil {
		resp.Gate = &GateResponse{MinConfidence: s.deps.Gate.MinConfidence(), Stats: s.deps.Gate.Stats()}
	}
	c.JSON(http.StatusOK, resp)
}

func handleSuggestions(c *gin.Context) {
	risk, err := strconv.ParseFloat(c.DefaultQuery("risk", "0"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "risk must be a number"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"suggestions": suggest.Suggest(c.Query("type"), risk, c.Query("location")),
	})
}

// =============================================================================
// Audit
// =============================================================================

func (s *Server) handleAuditRecent(c *gin.Context) {
	if s.deps.Audit == nil {
		unavailable(c, "Audit store")
		return
	}
	limit, ok := intQuery(c, "limit", audit.DefaultRecentLimit)
	if !ok {
		return
	}
	events, err := s.deps.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleAuditTrends(c *gin.Context) {
	if s.deps.Audit == nil {
		unavailable(c, "Audit store")
		return
	}
	trends, err := s.deps.Audit.Trends(c.Request.Context())
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (s *Server) handleAuditRecurring(c *gin.Context) {
	if s.deps.Audit == nil {
		unavailable(c, "Audit store")
		return
	}
	threshold, ok := intQuery(c, "threshold", audit.DefaultRecurringThreshold)
	if !ok {
		return
	}
	locations, err := s.deps.Audit.Recurring(c.Request.Context(), threshold)
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locations, "threshold": threshold})
}

func (s *Server) handleAuditInsights(c *gin.Context) {
	if s.deps.Audit == nil {
		unavailable(c, "Audit store")
		return
	}
	insights, err := s.deps.Audit.Insights(c.Request.Context())
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, insights)
}

func (s *Server) handleAuditGet(c *gin.Context) {
	if s.deps.Audit == nil {
		unavailable(c, "Audit store")
		return
	}
	ev, err := s.deps.Audit.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.auditError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) auditError(c *gin.Context, err error) {
	if errors.Is(err, audit.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Audit record not found"})
		return
	}
	s.deps.Logger.Error("Audit read failed", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Audit store error"})
}

// =============================================================================
// Telemetry and locations
// =============================================================================

func (s *Server) handleTelemetry(c *gin.Context) {
	if s.deps.Telemetry == nil {
		unavailable(c, "Telemetry")
		return
	}
	limit, ok := intQuery(c, "limit", defaultTelemetryLimit)
	if !ok {
		return
	}
	notices := s.deps.Telemetry.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"notices": notices, "count": len(notices)})
}

func (s *Server) handleTelemetryStream(c *gin.Context) {
	if s.deps.LiveStream == nil {
		unavailable(c, "Telemetry stream")
		return
	}
	s.deps.LiveStream.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleLocation(c *gin.Context) {
	if s.deps.Locations == nil {
		unavailable(c, "Location resolver")
		return
	}
	name := c.Param("name")
	p, err := s.deps.Locations.Resolve(c.Request.Context(), name)
	switch {
	case errors.Is(err, geo.ErrUnknownLocation):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown location", "name": name})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Geocoding failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "lat": p.Lat, "lng": p.Lng})
}

// intQuery parses a positive integer query parameter, capped at
// maxListLimit. It writes a 400 and returns false on bad input.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a positive integer"})
		return 0, false
	}
	return min(n, maxListLimit), true
}
