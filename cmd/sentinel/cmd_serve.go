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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/api"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/config"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/ingest"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when enabled, Kafka ingestion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, logger.Slog())
	},
}

// runServe runs every long-lived component until ctx is cancelled. The first
// component to fail cancels the rest.
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	otelShutdown, err := observability.Init(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn("Observability shutdown failed", slog.String("error", err.Error()))
		}
	}()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(sctx); err != nil {
			log.Warn("Shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	srv, err := api.NewServer(cfg.Observability.ServiceName, api.Deps{
		Runner:      a.pipeline,
		Metrics:     a.tracker,
		Gate:        a.gate,
		Audit:       a.store,
		Telemetry:   a.sink,
		LiveStream:  a.hub,
		Locations:   a.resolver,
		Shipments:   a.cache,
		Instruments: a.instruments,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	watcher, err := config.NewWatcher(configPath, cfg, config.ApplyRuntime(a.gate, a.tracker, log), log)
	if err != nil {
		log.Warn("Config hot reload disabled", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr,
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout)
	})
	if watcher != nil {
		g.Go(func() error {
			watcher.Start(gctx)
			return watcher.Stop()
		})
	}
	if cfg.Ingest.Enabled {
		consumer := newIngestConsumer(cfg.Ingest, a, log)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}
	if cfg.Metrics.Retention > 0 {
		g.Go(func() error {
			evictLoop(gctx, a, cfg.Metrics.Retention, log)
			return nil
		})
	}

	log.Info("Sentinel started",
		slog.String("addr", cfg.Server.Addr),
		slog.String("audit_backend", cfg.Audit.Backend),
		slog.Bool("ingest", cfg.Ingest.Enabled))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Sentinel stopped")
	return nil
}

func newIngestConsumer(cfg config.IngestConfig, a *app, log *slog.Logger) *ingest.Consumer {
	opts := []ingest.ConsumerOption{
		ingest.WithCache(a.cache),
		ingest.WithMaxInFlight(cfg.MaxInFlight),
		ingest.WithLogger(log),
	}
	if cfg.ShipmentsTopic != "" {
		opts = append(opts, ingest.WithShipmentReader(
			ingest.NewReader(cfg.Brokers, cfg.ShipmentsTopic, cfg.GroupID)))
	}
	events := ingest.NewReader(cfg.Brokers, cfg.EventsTopic, cfg.GroupID)
	return ingest.NewConsumer(events, a.pipeline, opts...)
}

// evictLoop drops tracked events older than retention. It ticks at a tenth
// of the retention window, at most once a minute.
func evictLoop(ctx context.Context, a *app, retention time.Duration, log *slog.Logger) {
	interval := min(retention/10, time.Minute)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.tracker.Evict(now.Add(-retention)); n > 0 {
				log.Debug("Evicted tracked events", slog.Int("count", n))
			}
		}
	}
}
