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

	"github.com/AleutianAI/AleutianSentinel/services/llm"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/actions"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/badgerstore"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/sqlstore"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/config"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/geo"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/ingest"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/metrics"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/pipeline"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/precedent"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/reasoning"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/riskmatch"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/safety"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/telemetry"
)

// app holds the wired components for one process.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	tracker     *metrics.Tracker
	gate        *safety.Gate
	store       *audit.Store
	sink        *telemetry.Sink
	hub         *telemetry.Hub
	resolver    *geo.Resolver
	cache       *ingest.ShipmentCache
	instruments *observability.Instruments
	pipeline    *pipeline.Pipeline

	closers []func(context.Context) error
}

// buildApp wires every component from cfg.
//
// # Description
//
// Optional integrations (LLM providers, SMTP, webhook, ERP, Weaviate,
// InfluxDB, geocoding) are enabled only when configured. A configured
// integration that fails to start is logged and skipped, except the audit
// store, which is required.
//
// # Outputs
//
//   - *app: Ready to run. Call close when done.
//   - error: Audit backend or gate construction failure.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	backend, err := openAuditBackend(ctx, cfg.Audit, logger)
	if err != nil {
		return nil, err
	}
	a.store = audit.NewStore(backend)
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	a.gate, err = safety.NewGate(cfg.Safety.MinConfidence)
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("safety gate: %w", err)
	}
	a.tracker = metrics.NewTracker(metrics.WithUnitCost(cfg.Metrics.UnitCost))

	a.instruments, err = observability.NewInstruments(nil)
	if err != nil {
		logger.Warn("Metric instruments unavailable", slog.String("error", err.Error()))
	}

	a.sink = telemetry.NewSink(
		telemetry.WithQueueSize(cfg.Telemetry.QueueSize),
		telemetry.WithHistorySize(cfg.Telemetry.HistorySize),
		telemetry.WithLogger(logger))
	a.hub = telemetry.NewHub(a.sink.Recent, logger)
	a.sink.Subscribe(a.hub.Broadcast)
	a.wireInflux()
	// The sink drains into the Influx writer, so it closes first.
	a.closers = append(a.closers, a.sink.Close)

	var geocoder geo.Geocoder
	if cfg.Geo.Geocode {
		geocoder = geo.NewNominatim(cfg.Geo.NominatimURL, nil)
	}
	a.resolver = geo.NewResolver(nil, geocoder, logger)
	a.cache = ingest.NewShipmentCache(cfg.Ingest.CacheCapacity)

	matcherOpts := []riskmatch.Option{}
	if cfg.Risk.Seed != nil {
		matcherOpts = append(matcherOpts, riskmatch.WithSeed(*cfg.Risk.Seed))
	}

	opts := []pipeline.Option{
		pipeline.WithMatcher(riskmatch.NewMatcher(matcherOpts...)),
		pipeline.WithTracker(a.tracker),
		pipeline.WithReasoner(a.buildReasoner()),
		pipeline.WithExecutor(a.buildExecutor()),
		pipeline.WithGate(a.gate),
		pipeline.WithAudit(a.store),
		pipeline.WithEmitter(a.sink),
		pipeline.WithInstruments(a.instruments),
		pipeline.WithLogger(logger),
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
		pipeline.WithReasoningTimeout(cfg.Pipeline.ReasoningTimeout),
		pipeline.WithActionTimeout(cfg.Pipeline.ActionTimeout),
	}
	if src := a.buildPrecedent(ctx); src != nil {
		opts = append(opts, pipeline.WithPrecedent(src))
	}
	a.pipeline = pipeline.New(opts...)
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openAuditBackend(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (audit.Backend, error) {
	switch cfg.Backend {
	case "", config.AuditMemory:
		return audit.NewMemory(), nil
	case config.AuditBadger:
		bc := cfg.Badger
		bc.Logger = logger
		s, err := badgerstore.Open(bc)
		if err != nil {
			return nil, fmt.Errorf("open badger audit store: %w", err)
		}
		return s, nil
	case config.AuditSQLite, config.AuditPostgres:
		sc := cfg.SQL
		sc.Dialect = sqlstore.Dialect(cfg.Backend)
		s, err := sqlstore.Open(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("open %s audit store: %w", cfg.Backend, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Backend)
	}
}

// buildReasoner returns an LLM chain over the configured providers, or the
// deterministic reasoner when none can be created.
func (a *app) buildReasoner() reasoning.Collaborator {
	var clients []llm.LLMClient
	for _, p := range a.cfg.Reasoning.Providers {
		client, err := newProvider(p)
		if err != nil {
			a.logger.Warn("Skipping LLM provider",
				slog.String("provider", p.Name),
				slog.String("kind", p.Kind),
				slog.String("error", err.Error()))
			continue
		}
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		a.logger.Info("Using deterministic reasoning")
		return reasoning.Static{}
	}
	return reasoning.NewLLM(llm.NewChain(a.logger, clients...), a.logger)
}

func newProvider(p config.ProviderConfig) (llm.LLMClient, error) {
	switch p.Kind {
	case "ollama":
		c, err := llm.NewOllamaClient(llm.OllamaConfig{ServerURL: p.BaseURL, Model: p.Model})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		key, err := p.APIKey.Reveal()
		if err != nil {
			return nil, fmt.Errorf("api key: %w", err)
		}
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{Name: p.Name, BaseURL: p.BaseURL, APIKey: key, Model: p.Model})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "anthropic":
		key, err := p.APIKey.Reveal()
		if err != nil {
			return nil, fmt.Errorf("api key: %w", err)
		}
		c, err := llm.NewAnthropicClient(llm.AnthropicConfig{BaseURL: p.BaseURL, APIKey: key, Model: p.Model})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// buildExecutor registers a dispatcher for each configured backend. Kinds
// left unregistered dry-run unless actions.strict is set.
func (a *app) buildExecutor() actions.Executor {
	cfg := a.cfg.Actions
	opts := []actions.RouterOption{actions.WithRouterLogger(a.logger)}
	if cfg.Strict {
		opts = append(opts, actions.WithStrict())
	}
	router := actions.NewRouter(opts...)

	if cfg.Email.Host != "" {
		ec := actions.EmailConfig{
			Host:    cfg.Email.Host,
			Port:    cfg.Email.Port,
			User:    cfg.Email.User,
			From:    cfg.Email.From,
			Subject: cfg.Email.Subject,
		}
		if !cfg.Email.Password.IsZero() {
			enclave, err := cfg.Email.Password.Seal()
			if err != nil {
				a.logger.Warn("SMTP password unavailable, sending without auth", slog.String("error", err.Error()))
			} else {
				ec.Password = enclave
			}
		}
		email, err := actions.NewEmail(ec)
		if err != nil {
			a.logger.Warn("Email dispatcher disabled", slog.String("error", err.Error()))
		} else {
			router.Register(actions.KindEmail, email)
		}
	}

	if cfg.Chat.WebhookURL != "" {
		router.Register(actions.KindChat, actions.NewChat(actions.ChatConfig{
			WebhookURL:    cfg.Chat.WebhookURL,
			RatePerSecond: cfg.Chat.RatePerSecond,
			Burst:         cfg.Chat.Burst,
		}))
	}

	switch cfg.ERP.Mode {
	case "http":
		router.Register(actions.KindERP, actions.NewERPHTTP(cfg.ERP.BaseURL, nil))
	case "kafka":
		w := actions.NewKafkaWriter(cfg.ERP.Brokers, cfg.ERP.Topic)
		a.closers = append(a.closers, func(context.Context) error { return w.Close() })
		router.Register(actions.KindERP, actions.NewERPKafka(w))
	}
	return router
}

func (a *app) buildPrecedent(ctx context.Context) precedent.Source {
	cfg := a.cfg.Precedent
	switch cfg.Backend {
	case "audit":
		return precedent.NewAuditSource(a.store, cfg.MaxCases)
	case "weaviate":
		w, err := precedent.NewWeaviate(cfg.Weaviate, a.logger)
		if err != nil {
			a.logger.Warn("Weaviate precedent source disabled", slog.String("error", err.Error()))
			return nil
		}
		if err := w.EnsureSchema(ctx); err != nil {
			a.logger.Warn("Weaviate schema check failed", slog.String("error", err.Error()))
		}
		return w
	default:
		return nil
	}
}

func (a *app) wireInflux() {
	ic := a.cfg.Telemetry.Influx
	if ic.URL == "" {
		return
	}
	if !a.cfg.Telemetry.InfluxToken.IsZero() {
		token, err := a.cfg.Telemetry.InfluxToken.Reveal()
		if err != nil {
			a.logger.Warn("InfluxDB token unavailable", slog.String("error", err.Error()))
		}
		ic.Token = token
	}
	w := telemetry.NewInfluxWriter(ic, a.logger)
	a.sink.Subscribe(w.Write)
	a.closers = append(a.closers, func(context.Context) error { w.Close(); return nil })
}
