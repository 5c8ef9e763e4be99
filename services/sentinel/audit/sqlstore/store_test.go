// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/audittest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Dialect: DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "audit.db"),
	})
	require.NoError(t, err)
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	audittest.RunBackendTests(t, func(t *testing.T) audit.Backend {
		return openSQLite(t)
	})
}

// TestPostgres_Conformance runs against a live server when
// SENTINEL_TEST_POSTGRES_DSN is set.
func TestPostgres_Conformance(t *testing.T) {
	dsn := os.Getenv("SENTINEL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SENTINEL_TEST_POSTGRES_DSN not set")
	}
	audittest.RunBackendTests(t, func(t *testing.T) audit.Backend {
		s, err := Open(context.Background(), Config{Dialect: DialectPostgres, DSN: dsn})
		require.NoError(t, err)
		_, err = s.db.Exec(`TRUNCATE audit_events`)
		require.NoError(t, err)
		return s
	})
}

func TestSQLite_DurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	s, err := Open(ctx, Config{DSN: path})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, audittest.Record("EVT_1", 42)))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{DSN: path})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "EVT_1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Timestamp)
}

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), Config{Dialect: "oracle"})
	assert.ErrorIs(t, err, ErrUnknownDialect)
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", rebind(DialectPostgres, q))
}
