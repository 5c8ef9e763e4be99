// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/pipeline"
)

// DefaultMaxInFlight bounds concurrent pipeline runs started by a consumer.
const DefaultMaxInFlight = 4

// readRetryDelay is the pause after a non-fatal read error.
const readRetryDelay = 500 * time.Millisecond

// MessageReader is the subset of *kafka.Reader a consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, event model.DisruptionEvent, shipments []model.ShipmentSnapshot) (*pipeline.RunResult, error)
}

// NewReader builds a consumer-group reader for topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](msg kafka.Message) (T, error) {
	var payload T
	err := json.Unmarshal(msg.Value, &payload)
	return payload, err
}

// Consumer drives the pipeline from two topics.
//
// Description:
//
//	Shipment messages update the cache. Each event message starts a
//	pipeline run with the cache's snapshot at that moment. Runs execute
//	concurrently up to the in-flight limit; when the limit is reached the
//	event loop waits, which applies backpressure to the topic.
//
// Thread Safety: Run must be called once.
type Consumer struct {
	events      MessageReader
	shipments   MessageReader
	cache       *ShipmentCache
	runner      Runner
	logger      *slog.Logger
	maxInFlight int
	newID       func() string
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithShipmentReader enables the shipment topic.
func WithShipmentReader(r MessageReader) ConsumerOption {
	return func(c *Consumer) { c.shipments = r }
}

// WithCache shares a cache with other readers such as the HTTP API.
func WithCache(cache *ShipmentCache) ConsumerOption {
	return func(c *Consumer) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithMaxInFlight bounds concurrent runs.
func WithMaxInFlight(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxInFlight = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConsumer builds a consumer reading events and running runner.
func NewConsumer(events MessageReader, runner Runner, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		events:      events,
		cache:       NewShipmentCache(DefaultCacheCapacity),
		runner:      runner,
		logger:      slog.Default(),
		maxInFlight: DefaultMaxInFlight,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache returns the consumer's shipment cache.
func (c *Consumer) Cache() *ShipmentCache {
	return c.cache
}

// Run consumes until ctx is cancelled, then waits for in-flight runs and
// closes the readers.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if c.shipments != nil {
		g.Go(func() error { return c.consumeShipments(gctx) })
	}
	g.Go(func() error { return c.consumeEvents(gctx) })

	err := g.Wait()

	var closeErrs []error
	if cerr := c.events.Close(); cerr != nil {
		closeErrs = append(closeErrs, fmt.Errorf("close event reader: %w", cerr))
	}
	if c.shipments != nil {
		if cerr := c.shipments.Close(); cerr != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close shipment reader: %w", cerr))
		}
	}
	return errors.Join(append([]error{err}, closeErrs...)...)
}

func (c *Consumer) consumeShipments(ctx context.Context) error {
	c.logger.Info("Shipment consumer started")
	for {
		msg, err := c.readNext(ctx, c.shipments)
		if err != nil {
			return c.stopErr(ctx, err)
		}
		if msg == nil {
			continue
		}

		s, err := DecodeJSON[model.ShipmentSnapshot](*msg)
		if err == nil {
			err = s.Validate()
		}
		if err != nil {
			c.logger.Warn("Dropping shipment message",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()))
			continue
		}
		if evicted := c.cache.Upsert(s); evicted != "" {
			c.logger.Debug("Shipment evicted from cache", slog.String("shipment_id", evicted))
		}
	}
}

func (c *Consumer) consumeEvents(ctx context.Context) error {
	c.logger.Info("Event consumer started")

	var runs errgroup.Group
	runs.SetLimit(c.maxInFlight)
	defer func() { _ = runs.Wait() }()

	for {
		msg, err := c.readNext(ctx, c.events)
		if err != nil {
			return c.stopErr(ctx, err)
		}
		if msg == nil {
			continue
		}

		ev, err := DecodeJSON[model.DisruptionEvent](*msg)
		if err != nil {
			c.logger.Warn("Dropping event message",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()))
			continue
		}
		if ev.EventID == "" {
			ev.EventID = c.newID()
		}

		shipments := c.cache.Snapshot()
		runs.Go(func() error {
			if _, err := c.runner.Run(ctx, ev, shipments); err != nil {
				c.logger.Warn("Pipeline rejected event",
					slog.String("event_id", ev.EventID),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
}

// readNext reads one message. A nil message with nil error means a
// transient failure was logged and the caller should read again.
func (c *Consumer) readNext(ctx context.Context, r MessageReader) (*kafka.Message, error) {
	msg, err := r.ReadMessage(ctx)
	if err == nil {
		return &msg, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) && kerr.Temporary() {
		c.logger.Warn("Kafka temporary error", slog.String("error", err.Error()))
	} else {
		c.logger.Error("Kafka read failed", slog.String("error", err.Error()))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(readRetryDelay):
		return nil, nil
	}
}

// stopErr maps shutdown errors to nil.
func (c *Consumer) stopErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.logger.Info("Consumer shutting down")
		return nil
	}
	return err
}
