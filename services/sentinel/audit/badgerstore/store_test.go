// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/audittest"
)

func TestStore_Conformance(t *testing.T) {
	audittest.RunBackendTests(t, func(t *testing.T) audit.Backend {
		s, err := OpenInMemory()
		require.NoError(t, err)
		return s
	})
}

func TestStore_DurableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, audittest.Record("EVT_1", 10)))
	require.NoError(t, s.Append(ctx, audittest.Record("EVT_2", 20)))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "EVT_2", recent[0].EventID)
	assert.Equal(t, "EVT_1", recent[1].EventID)
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s, err := Open(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_RejectsBadGCRatio(t *testing.T) {
	_, err := Open(Config{Path: t.TempDir(), GCInterval: time.Minute, GCDiscardRatio: 2})
	assert.Error(t, err)
}

func TestTimeKey_Orders(t *testing.T) {
	a := timeKey(100, "z")
	b := timeKey(200, "a")
	assert.Less(t, string(a), string(b))
	assert.Equal(t, timeKey(0, "x"), timeKey(-5, "x"))
}
