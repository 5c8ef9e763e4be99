// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// StatusUpdate is the body sent to the ERP for a shipment status change.
type StatusUpdate struct {
	ShipmentID string    `json:"shipment_id"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ERPHTTP updates shipment status with PUT {base}/shipments/{id}/status.
type ERPHTTP struct {
	base   string
	client *http.Client
	now    func() time.Time
}

// NewERPHTTP builds an HTTP ERP dispatcher.
func NewERPHTTP(baseURL string, client *http.Client) *ERPHTTP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ERPHTTP{base: strings.TrimRight(baseURL, "/"), client: client, now: time.Now}
}

// Send implements Dispatcher. target is the shipment ID, message the new
// status.
func (e *ERPHTTP) Send(ctx context.Context, target, message string) (string, error) {
	body, err := json.Marshal(StatusUpdate{ShipmentID: target, Status: message, UpdatedAt: e.now().UTC()})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/shipments/%s/status", e.base, url.PathEscape(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build erp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("erp update: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}
	return StatusERPSent, nil
}

// MessageWriter is the subset of *kafka.Writer used by ERPKafka.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ERPKafka publishes status updates to a topic the ERP consumes. Messages
// are keyed by shipment ID so updates for one shipment stay ordered.
type ERPKafka struct {
	writer MessageWriter
	now    func() time.Time
}

// NewERPKafka wraps writer.
func NewERPKafka(writer MessageWriter) *ERPKafka {
	return &ERPKafka{writer: writer, now: time.Now}
}

// NewKafkaWriter returns a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// Send implements Dispatcher.
func (e *ERPKafka) Send(ctx context.Context, target, message string) (string, error) {
	now := e.now().UTC()
	body, err := json.Marshal(StatusUpdate{ShipmentID: target, Status: message, UpdatedAt: now})
	if err != nil {
		return "", err
	}
	if err := e.writer.WriteMessages(ctx, kafka.Message{Key: []byte(target), Value: body, Time: now}); err != nil {
		return "", fmt.Errorf("publish erp update: %w", err)
	}
	return StatusERPSent, nil
}
