// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxMeasurement is the measurement name for telemetry points.
const InfluxMeasurement = "sentinel_telemetry"

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"-"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// InfluxWriter records notices as time-series points using the client's
// asynchronous write API, so Write never blocks on the network.
type InfluxWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

// NewInfluxWriter connects a non-blocking writer.
func NewInfluxWriter(cfg InfluxConfig, logger *slog.Logger) *InfluxWriter {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	w := &InfluxWriter{client: client, writeAPI: writeAPI, logger: logger}
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("InfluxDB telemetry write failed", slog.String("error", err.Error()))
		}
	}()
	return w
}

// Write converts n to a point and queues it. Use it as a Sink handler.
func (w *InfluxWriter) Write(n Notice) {
	w.writeAPI.WritePoint(NoticePoint(n))
}

// Close flushes pending points and closes the client.
func (w *InfluxWriter) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}

// NoticePoint maps a notice to an InfluxDB point. Numeric and boolean
// details become fields; everything else is omitted.
func NoticePoint(n Notice) *write.Point {
	p := influxdb2.NewPointWithMeasurement(InfluxMeasurement).
		AddTag("agent_state", n.AgentState).
		AddTag("event_id", n.EventID).
		AddField("confidence", n.Confidence).
		SetTime(n.Timestamp)
	for k, v := range n.Details {
		switch val := v.(type) {
		case int, int32, int64, float32, float64, bool:
			p.AddField(k, val)
		}
	}
	return p
}
