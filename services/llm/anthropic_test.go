// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnthropicClient_Defaults(t *testing.T) {
	_, err := NewAnthropicClient(AnthropicConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, anthropicDefaultURL, c.url)
	assert.Equal(t, "anthropic:"+anthropicDefaultModel, c.Name())
}

func TestAnthropicClient_Generate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"WARNING: "},{"type":"text","text":"alert the team"}]}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(AnthropicConfig{BaseURL: srv.URL, APIKey: "secret", Model: "claude-test"})
	require.NoError(t, err)

	out, err := c.Generate(context.Background(),
		Prompt{System: "You are a logistics analyst.", User: "Risk 60"},
		GenerationParams{Temperature: Float32(0.1), MaxTokens: Int(200)})
	require.NoError(t, err)
	assert.Equal(t, "WARNING: alert the team", out)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "You are a logistics analyst.", got.System)
	assert.Equal(t, 200, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "Risk 60", got.Messages[0].Content)
}

func TestAnthropicClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http status", http.StatusTooManyRequests, `{"error":{"type":"rate_limit","message":"slow down"}}`, "status 429"},
		{"api error body", http.StatusOK, `{"error":{"type":"overloaded","message":"busy"}}`, "overloaded"},
		{"empty content", http.StatusOK, `{"content":[]}`, ErrEmptyResponse.Error()},
		{"bad json", http.StatusOK, `not json`, "parse anthropic response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewAnthropicClient(AnthropicConfig{BaseURL: srv.URL, APIKey: "k"})
			require.NoError(t, err)
			_, err = c.Generate(context.Background(), Prompt{User: "x"}, GenerationParams{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
