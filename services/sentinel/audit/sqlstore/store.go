// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlstore persists the audit trail in SQLite (pure Go, modernc) or
// PostgreSQL (pgx through database/sql).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// Dialect selects SQL syntax and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrUnknownDialect is returned for an unsupported dialect.
var ErrUnknownDialect = errors.New("unknown SQL dialect")

// Config describes the database.
type Config struct {
	Dialect Dialect `yaml:"dialect" validate:"omitempty,oneof=sqlite postgres"`
	// DSN is a file path for SQLite or a connection URL for PostgreSQL.
	DSN          string        `yaml:"dsn"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	event_id     TEXT PRIMARY KEY,
	timestamp    DOUBLE PRECISION NOT NULL,
	location     TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	severity     INTEGER NOT NULL,
	action_taken TEXT NOT NULL,
	days_saved   DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
`

const upsertSQL = `
INSERT INTO audit_events (event_id, timestamp, location, event_type, severity, action_taken, days_saved)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (event_id) DO UPDATE SET
	timestamp = excluded.timestamp,
	location = excluded.location,
	event_type = excluded.event_type,
	severity = excluded.severity,
	action_taken = excluded.action_taken,
	days_saved = excluded.days_saved`

const selectCols = `SELECT event_id, timestamp, location, event_type, severity, action_taken, days_saved FROM audit_events`

// Store is an audit.Backend over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closed  atomic.Bool

	upsert string
	get    string
	recent string
}

// Open connects, applies the schema and returns a ready store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dialect == "" {
		cfg.Dialect = DialectSQLite
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	var driver, dsn string
	switch cfg.Dialect {
	case DialectSQLite:
		driver = "sqlite"
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			cfg.DSN, cfg.BusyTimeout.Milliseconds())
	case DialectPostgres:
		driver = "pgx"
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, cfg.Dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open failed: %w", cfg.Dialect, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping failed: %w", cfg.Dialect, err)
	}

	s := &Store{
		db:      db,
		dialect: cfg.Dialect,
		upsert:  rebind(cfg.Dialect, upsertSQL),
		get:     rebind(cfg.Dialect, selectCols+` WHERE event_id = ?`),
		recent:  rebind(cfg.Dialect, selectCols+` ORDER BY timestamp DESC, event_id ASC LIMIT ?`),
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Append implements audit.Backend.
func (s *Store) Append(ctx context.Context, ev model.StoredEvent) error {
	if s.closed.Load() {
		return audit.ErrClosed
	}
	_, err := s.db.ExecContext(ctx, s.upsert,
		ev.EventID, ev.Timestamp, ev.Location, ev.EventType, ev.Severity, string(ev.ActionTaken), ev.DaysSaved)
	if err != nil {
		return fmt.Errorf("upsert audit record: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.StoredEvent, error) {
	var ev model.StoredEvent
	var action string
	err := row.Scan(&ev.EventID, &ev.Timestamp, &ev.Location, &ev.EventType, &ev.Severity, &action, &ev.DaysSaved)
	ev.ActionTaken = model.ActionKind(action)
	return ev, err
}

// Get implements audit.Backend.
func (s *Store) Get(ctx context.Context, eventID string) (model.StoredEvent, error) {
	if s.closed.Load() {
		return model.StoredEvent{}, audit.ErrClosed
	}
	ev, err := scanEvent(s.db.QueryRowContext(ctx, s.get, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoredEvent{}, audit.ErrNotFound
	}
	if err != nil {
		return model.StoredEvent{}, fmt.Errorf("get audit record: %w", err)
	}
	return ev, nil
}

// Recent implements audit.Backend.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.StoredEvent, error) {
	if s.closed.Load() {
		return nil, audit.ErrClosed
	}
	if limit <= 0 {
		limit = audit.DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, s.recent, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit records: %w", err)
	}
	defer rows.Close()

	var out []model.StoredEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close implements audit.Backend.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

var _ audit.Backend = (*Store)(nil)
