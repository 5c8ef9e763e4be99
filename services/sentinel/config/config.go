// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads Sentinel's YAML configuration.
//
// Values come from three layers, later layers winning:
//
//  1. DefaultConfig()
//  2. The YAML file (default "sentinel.yaml")
//  3. SENTINEL_* environment variables
//
// Secrets are never read from YAML. Each secret names an environment
// variable and a file under /run/secrets; see SecretRef.
//
// A Watcher re-reads the file when it changes and pushes the settings that
// are safe to change at runtime (gate threshold, unit cost) to callbacks.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/badgerstore"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/export"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/sqlstore"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/precedent"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/safety"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/telemetry"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "sentinel.yaml"

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// Sections
// =============================================================================

// Config is the root of sentinel.yaml.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Logging       LoggingConfig        `yaml:"logging"`
	Observability observability.Config `yaml:"observability"`
	Risk          RiskConfig           `yaml:"risk"`
	Pipeline      PipelineConfig       `yaml:"pipeline"`
	Safety        SafetyConfig         `yaml:"safety"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Telemetry     TelemetryConfig      `yaml:"telemetry"`
	Audit         AuditConfig          `yaml:"audit"`
	Reasoning     ReasoningConfig      `yaml:"reasoning"`
	Actions       ActionsConfig        `yaml:"actions"`
	Precedent     PrecedentConfig      `yaml:"precedent"`
	Ingest        IngestConfig         `yaml:"ingest"`
	Geo           GeoConfig            `yaml:"geo"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config in YAML form.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	// JSON forces JSON console output. When false the CLI picks JSON only
	// if stderr is not a terminal.
	JSON bool `yaml:"json"`
}

// RiskConfig configures the matcher. A nil Seed uses a clock-seeded source.
type RiskConfig struct {
	Seed *uint64 `yaml:"seed"`
}

// PipelineConfig bounds per-run work.
type PipelineConfig struct {
	Concurrency      int           `yaml:"concurrency" validate:"gte=1"`
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout" validate:"gt=0"`
	ActionTimeout    time.Duration `yaml:"action_timeout" validate:"gt=0"`
}

// SafetyConfig holds the gate threshold. Reloadable.
type SafetyConfig struct {
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
}

// MetricsConfig holds tracker settings. UnitCost is reloadable.
type MetricsConfig struct {
	UnitCost float64 `yaml:"unit_cost" validate:"gte=0"`
	// Retention evicts tracker entries detected longer ago. Zero keeps all.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// TelemetryConfig sizes the sink and optionally mirrors notices to InfluxDB.
type TelemetryConfig struct {
	QueueSize   int                    `yaml:"queue_size" validate:"gte=0"`
	HistorySize int                    `yaml:"history_size" validate:"gte=0"`
	Influx      telemetry.InfluxConfig `yaml:"influx"`
	InfluxToken SecretRef              `yaml:"influx_token"`
}

// Audit backends.
const (
	AuditMemory   = "memory"
	AuditBadger   = "badger"
	AuditSQLite   = "sqlite"
	AuditPostgres = "postgres"
)

// AuditConfig selects the store backend. Badger is the durable default;
// memory loses the trail on restart.
type AuditConfig struct {
	Backend string             `yaml:"backend" validate:"oneof=memory badger sqlite postgres"`
	Badger  badgerstore.Config `yaml:"badger"`
	SQL     sqlstore.Config    `yaml:"sql"`
	Export  export.GCSConfig   `yaml:"export"`
}

// ReasoningConfig lists LLM providers in fallback order. An empty list uses
// the deterministic reasoner.
type ReasoningConfig struct {
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
}

// ProviderConfig is one LLM endpoint.
type ProviderConfig struct {
	Name    string    `yaml:"name"`
	Kind    string    `yaml:"kind" validate:"oneof=openai ollama anthropic"`
	BaseURL string    `yaml:"base_url" validate:"omitempty,url"`
	Model   string    `yaml:"model"`
	APIKey  SecretRef `yaml:"api_key"`
}

// ActionsConfig configures dispatch backends. Unconfigured kinds dry-run.
type ActionsConfig struct {
	// Strict fails dispatches to unconfigured kinds instead of dry-running.
	Strict bool        `yaml:"strict"`
	Email  EmailConfig `yaml:"email"`
	Chat   ChatConfig  `yaml:"chat"`
	ERP    ERPConfig   `yaml:"erp"`
}

// EmailConfig configures SMTP.
type EmailConfig struct {
	Host     string    `yaml:"host"`
	Port     int       `yaml:"port" validate:"gte=0,lte=65535"`
	User     string    `yaml:"user"`
	From     string    `yaml:"from" validate:"omitempty,email"`
	Subject  string    `yaml:"subject"`
	Password SecretRef `yaml:"password"`
}

// ChatConfig configures the webhook.
type ChatConfig struct {
	WebhookURL    string  `yaml:"webhook_url" validate:"omitempty,url"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

// ERPConfig selects the ERP transport.
type ERPConfig struct {
	Mode    string   `yaml:"mode" validate:"omitempty,oneof=http kafka"`
	BaseURL string   `yaml:"base_url" validate:"required_if=Mode http"`
	Brokers []string `yaml:"brokers" validate:"required_if=Mode kafka"`
	Topic   string   `yaml:"topic" validate:"required_if=Mode kafka"`
}

// PrecedentConfig selects the precedent source.
type PrecedentConfig struct {
	Backend  string                   `yaml:"backend" validate:"oneof=none audit weaviate"`
	MaxCases int                      `yaml:"max_cases" validate:"gte=0"`
	Weaviate precedent.WeaviateConfig `yaml:"weaviate"`
}

// IngestConfig configures the Kafka consumer. Disabled by default.
type IngestConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers" validate:"required_if=Enabled true"`
	EventsTopic    string   `yaml:"events_topic" validate:"required_if=Enabled true"`
	ShipmentsTopic string   `yaml:"shipments_topic"`
	GroupID        string   `yaml:"group_id"`
	MaxInFlight    int      `yaml:"max_in_flight" validate:"gte=0"`
	CacheCapacity  int      `yaml:"cache_capacity" validate:"gte=0"`
}

// GeoConfig enables online geocoding for names missing from the table.
type GeoConfig struct {
	Geocode      bool   `yaml:"geocode"`
	NominatimURL string `yaml:"nominatim_url" validate:"omitempty,url"`
}

// =============================================================================
// Loading
// =============================================================================

// DefaultConfig returns settings that run fully offline: a Badger audit
// trail under data/audit, deterministic reasoning, dry-run actions, no
// ingestion.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging:       LoggingConfig{Level: "info"},
		Observability: observability.DefaultConfig(),
		Pipeline: PipelineConfig{
			Concurrency:      8,
			ReasoningTimeout: 30 * time.Second,
			ActionTimeout:    15 * time.Second,
		},
		Safety:    SafetyConfig{MinConfidence: safety.DefaultMinConfidence},
		Metrics:   MetricsConfig{UnitCost: 50000},
		Telemetry: TelemetryConfig{QueueSize: 256, HistorySize: 1000},
		Audit: AuditConfig{
			Backend: AuditBadger,
			Badger:  badgerstore.DefaultConfig("data/audit"),
			SQL:     sqlstore.Config{Dialect: sqlstore.DialectSQLite, DSN: "sentinel_audit.db"},
		},
		Actions: ActionsConfig{
			Email: EmailConfig{Port: 587, Password: SecretRef{Env: "SENTINEL_SMTP_PASSWORD", File: "smtp_password"}},
			Chat:  ChatConfig{RatePerSecond: 1, Burst: 5},
		},
		Precedent: PrecedentConfig{Backend: "audit", MaxCases: 5},
		Ingest: IngestConfig{
			EventsTopic:    "sentinel.events",
			ShipmentsTopic: "sentinel.shipments",
			GroupID:        "sentinel",
			MaxInFlight:    4,
			CacheCapacity:  50,
		},
	}
}

// Load returns defaults overlaid with the file at path and then the
// environment. An empty path skips the file.
//
// Outputs:
//
//	*Config - Validated configuration.
//	error - Read, parse, override, or validation failure.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOptional is Load, except that a missing file at path falls back to
// defaults and the environment.
func LoadOptional(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

var validate = validator.New()

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// =============================================================================
// Environment
// =============================================================================

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envOverride applies one variable. Parse errors are returned as-is.
type envOverride struct {
	key   string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"SENTINEL_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"SENTINEL_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = strings.ToLower(v); return nil }},
	{"SENTINEL_LOG_DIR", func(c *Config, v string) error { c.Logging.Dir = v; return nil }},
	{"SENTINEL_RISK_SEED", func(c *Config, v string) error {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		c.Risk.Seed = &seed
		return nil
	}},
	{"SENTINEL_MIN_CONFIDENCE", func(c *Config, v string) error {
		return parseFloat(v, &c.Safety.MinConfidence)
	}},
	{"SENTINEL_UNIT_COST", func(c *Config, v string) error {
		return parseFloat(v, &c.Metrics.UnitCost)
	}},
	{"SENTINEL_AUDIT_BACKEND", func(c *Config, v string) error { c.Audit.Backend = v; return nil }},
	{"SENTINEL_AUDIT_PATH", func(c *Config, v string) error { c.Audit.Badger.Path = v; return nil }},
	{"SENTINEL_AUDIT_DSN", func(c *Config, v string) error { c.Audit.SQL.DSN = v; return nil }},
	{"SENTINEL_AUDIT_BUCKET", func(c *Config, v string) error { c.Audit.Export.Bucket = v; return nil }},
	{"SENTINEL_CHAT_WEBHOOK", func(c *Config, v string) error { c.Actions.Chat.WebhookURL = v; return nil }},
	{"SENTINEL_SMTP_HOST", func(c *Config, v string) error { c.Actions.Email.Host = v; return nil }},
	{"SENTINEL_SMTP_USER", func(c *Config, v string) error { c.Actions.Email.User = v; return nil }},
	{"SENTINEL_ERP_URL", func(c *Config, v string) error {
		c.Actions.ERP.Mode = "http"
		c.Actions.ERP.BaseURL = v
		return nil
	}},
	{"SENTINEL_KAFKA_BROKERS", func(c *Config, v string) error {
		c.Ingest.Brokers = splitList(v)
		return nil
	}},
	{"SENTINEL_INGEST_ENABLED", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Ingest.Enabled = b
		return err
	}},
	{"SENTINEL_WEAVIATE_HOST", func(c *Config, v string) error {
		c.Precedent.Backend = "weaviate"
		c.Precedent.Weaviate.Host = v
		return nil
	}},
	{"SENTINEL_INFLUX_URL", func(c *Config, v string) error { c.Telemetry.Influx.URL = v; return nil }},
}

// ApplyEnv overlays SENTINEL_* variables read through lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var errs []error
	for _, o := range envOverrides {
		v, ok := lookup(o.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.key, err))
		}
	}
	return errors.Join(errs...)
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
