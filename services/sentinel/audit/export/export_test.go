// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/audittest"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

func seeded(t *testing.T) *audit.Memory {
	t.Helper()
	m := audit.NewMemory()
	require.NoError(t, m.Append(context.Background(), audittest.Record("EVT_1", 1)))
	require.NoError(t, m.Append(context.Background(), audittest.Record("EVT_2", 2)))
	return m
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteJSONL(context.Background(), seeded(t), 10, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var ev model.StoredEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		ids = append(ids, ev.EventID)
	}
	assert.Equal(t, []string{"EVT_2", "EVT_1"}, ids)
}

type failingSource struct{}

func (failingSource) Recent(context.Context, int) ([]model.StoredEvent, error) {
	return nil, errors.New("disk gone")
}

func TestWriteJSONL_SourceError(t *testing.T) {
	_, err := WriteJSONL(context.Background(), failingSource{}, 10, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	n, err := ToFile(context.Background(), seeded(t), 1, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_id":"EVT_2"`)
	assert.NotContains(t, string(data), `"event_id":"EVT_1"`)
}

func TestNewGCS_MissingKeyFile(t *testing.T) {
	_, err := NewGCS(context.Background(), GCSConfig{Bucket: "b", CredentialsFile: "/nonexistent/key.json"})
	assert.Error(t, err)
}
