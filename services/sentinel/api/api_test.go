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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/actions"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/geo"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/metrics"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/pipeline"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/riskmatch"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/safety"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	srv      *Server
	tracker  *metrics.Tracker
	store    *audit.Store
	recorder *recentRecorder
	cache    []model.ShipmentSnapshot
}

// recentRecorder adapts telemetry.Recorder to TelemetryHistory.
type recentRecorder struct {
	telemetry.Recorder
}

func (r *recentRecorder) Recent(limit int) []telemetry.Notice {
	all := r.Notices()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

type staticShipments []model.ShipmentSnapshot

func (s staticShipments) Snapshot() []model.ShipmentSnapshot { return s }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		tracker:  metrics.NewTracker(),
		store:    audit.NewStore(audit.NewMemory()),
		recorder: &recentRecorder{},
		cache: []model.ShipmentSnapshot{
			{ShipmentID: "SHP_CACHED", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal", Status: "In Transit", ETADays: 12},
		},
	}
	gate := safety.NewDefaultGate()
	p := pipeline.New(
		pipeline.WithMatcher(riskmatch.NewMatcher(riskmatch.WithSeed(1))),
		pipeline.WithTracker(f.tracker),
		pipeline.WithExecutor(actions.NewRouter(actions.WithRouterLogger(logger))),
		pipeline.WithGate(gate),
		pipeline.WithAudit(f.store),
		pipeline.WithEmitter(f.recorder),
		pipeline.WithLogger(logger),
	)

	srv, err := NewServer("sentinel-test", Deps{
		Runner:    p,
		Metrics:   f.tracker,
		Gate:      gate,
		Audit:     f.store,
		Telemetry: f.recorder,
		Locations: geo.NewResolver(nil, nil, logger),
		Shipments: staticShipments(f.cache),
		Logger:    logger,
	})
	require.NoError(t, err)
	f.srv = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func suezRequest() EventRequest {
	return EventRequest{
		Event: model.DisruptionEvent{
			EventID:  "EVT_API",
			Topic:    "Canal Blockage",
			Location: "Suez Canal",
			Severity: 10,
			Summary:  "Container ship stuck in Suez Canal",
		},
		Shipments: []model.ShipmentSnapshot{
			{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal", Status: "In Transit", ETADays: 12},
		},
	}
}

func TestNewServer_RequiresRunner(t *testing.T) {
	_, err := NewServer("x", Deps{})
	assert.ErrorIs(t, err, ErrNoRunner)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestPostEvent_RunsPipelineAndAudits(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/sentinel/events", suezRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[struct {
		Run struct {
			EventID    string           `json:"event_id"`
			FinalState string           `json:"final_state"`
			Decisions  []model.Decision `json:"decisions"`
		} `json:"run"`
		Dispatched int `json:"dispatched"`
		Blocked    int `json:"blocked"`
	}](t, w)
	assert.Equal(t, "EVT_API", resp.Run.EventID)
	assert.Equal(t, "END", resp.Run.FinalState)
	require.Len(t, resp.Run.Decisions, 1)
	assert.Equal(t, model.TagCritical, resp.Run.Decisions[0].Recommendation.Tag)
	assert.Equal(t, 1, resp.Dispatched)
	assert.Zero(t, resp.Blocked)

	w = f.do(t, http.MethodGet, "/v1/sentinel/audit/EVT_API", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[model.StoredEvent](t, w)
	assert.Equal(t, "Suez Canal", rec.Location)
	assert.Equal(t, 4.2, rec.DaysSaved)

	w = f.do(t, http.MethodGet, "/v1/sentinel/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[map[string]any](t, w)
	assert.EqualValues(t, 1, m["actions_taken"])
	assert.Contains(t, m, "safety_gate")
}

func TestPostEvent_UsesCachedShipmentsAndGeneratesID(t *testing.T) {
	f := newFixture(t)
	f.srv.newID = func() string { return "EVT_GENERATED" }

	req := suezRequest()
	req.Event.EventID = ""
	req.Shipments = nil

	w := f.do(t, http.MethodPost, "/v1/sentinel/events", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[struct {
		Run struct {
			EventID  string                   `json:"event_id"`
			Affected []model.AffectedShipment `json:"affected"`
		} `json:"run"`
	}](t, w)
	assert.Equal(t, "EVT_GENERATED", resp.Run.EventID)
	require.Len(t, resp.Run.Affected, 1)
	assert.Equal(t, "SHP_CACHED", resp.Run.Affected[0].ShipmentID)
}

func TestPostEvent_BadInput(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sentinel/events", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	blank := suezRequest()
	blank.Event.EventID = "   "
	w = f.do(t, http.MethodPost, "/v1/sentinel/events", blank)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, model.DisruptionEvent, []model.ShipmentSnapshot) (*pipeline.RunResult, error) {
	return nil, errors.New("boom")
}

func TestPostEvent_RunnerFailure(t *testing.T) {
	srv, err := NewServer("x", Deps{Runner: failingRunner{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	b, _ := json.Marshal(suezRequest())
	req := httptest.NewRequest(http.MethodPost, "/v1/sentinel/events", bytes.NewReader(b))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuditRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, loc := range []string{"Suez Canal", "Suez Canal", "Suez Canal", "Rotterdam"} {
		require.NoError(t, f.store.Append(ctx, model.StoredEvent{
			EventID:     "E" + string(rune('0'+i)),
			Timestamp:   float64(1700000000 + i),
			Location:    loc,
			EventType:   "Canal Blockage",
			Severity:    80,
			ActionTaken: "AUTO-REROUTE",
			DaysSaved:   4.2,
		}))
	}

	w := f.do(t, http.MethodGet, "/v1/sentinel/audit/recent?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	recent := decode[struct {
		Events []model.StoredEvent `json:"events"`
		Count  int                 `json:"count"`
	}](t, w)
	assert.Equal(t, 2, recent.Count)
	assert.Equal(t, "E3", recent.Events[0].EventID)

	w = f.do(t, http.MethodGet, "/v1/sentinel/audit/trends", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, decode[audit.Trends](t, w).TotalEvents)

	w = f.do(t, http.MethodGet, "/v1/sentinel/audit/recurring", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Suez Canal"}, decode[struct {
		Locations []string `json:"locations"`
	}](t, w).Locations)

	w = f.do(t, http.MethodGet, "/v1/sentinel/audit/insights", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, decode[audit.Insights](t, w).EventsLearned)

	tests := []struct {
		path string
		want int
	}{
		{"/v1/sentinel/audit/missing", http.StatusNotFound},
		{"/v1/sentinel/audit/recent?limit=abc", http.StatusBadRequest},
		{"/v1/sentinel/audit/recent?limit=0", http.StatusBadRequest},
		{"/v1/sentinel/audit/recurring?threshold=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(t, http.MethodGet, tt.path, nil).Code)
		})
	}
}

func TestSuggestions(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/sentinel/suggestions?type=Canal%20Blockage&risk=90&location=Suez", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Suggestions []struct {
			Action string `json:"action"`
		} `json:"suggestions"`
	}](t, w)
	require.NotEmpty(t, got.Suggestions)
	assert.Equal(t, "REROUTE_SHIPMENT", got.Suggestions[0].Action)

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodGet, "/v1/sentinel/suggestions?risk=high", nil).Code)
}

func TestTelemetryAndLocations(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/sentinel/events", suezRequest())

	w := f.do(t, http.MethodGet, "/v1/sentinel/telemetry?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = f.do(t, http.MethodGet, "/v1/sentinel/locations/Suez%20Canal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	loc := decode[map[string]any](t, w)
	assert.Equal(t, 30.5, loc["lat"])
	assert.Equal(t, 32.3, loc["lng"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/sentinel/locations/Atlantis", nil).Code)
}

func TestOptionalDepsAnswer503(t *testing.T) {
	srv, err := NewServer("x", Deps{Runner: failingRunner{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	for _, path := range []string{
		"/v1/sentinel/metrics",
		"/v1/sentinel/audit/recent",
		"/v1/sentinel/telemetry",
		"/v1/sentinel/telemetry/ws",
		"/v1/sentinel/locations/Suez",
	} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		})
	}
}
