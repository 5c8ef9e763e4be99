// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides text-generation backends used by the reasoning
// collaborator: OpenAI-compatible chat endpoints, local Ollama models, and
// an ordered fallback chain over them.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoProviders is returned by a Chain with nothing configured.
var ErrNoProviders = errors.New("no LLM providers configured")

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("LLM returned an empty response")

// GenerationParams are optional sampling controls. Nil means provider default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Prompt is a system instruction plus the user message.
type Prompt struct {
	System string
	User   string
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Generate returns the model's reply to prompt.
	Generate(ctx context.Context, prompt Prompt, params GenerationParams) (string, error)

	// Name identifies the provider in logs.
	Name() string
}

// Float32 returns a pointer to v, for GenerationParams literals.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for GenerationParams literals.
func Int(v int) *int { return &v }

func emptyErr(provider string) error {
	return fmt.Errorf("%s: %w", provider, ErrEmptyResponse)
}
