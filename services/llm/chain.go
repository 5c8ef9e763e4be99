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
	"errors"
	"log/slog"
)

// Chain tries providers in order and returns the first successful reply.
//
// A cancelled or expired context stops the chain immediately; the
// remaining providers would fail the same way.
type Chain struct {
	providers []LLMClient
	logger    *slog.Logger
}

// NewChain builds a chain. Nil providers are skipped.
func NewChain(logger *slog.Logger, providers ...LLMClient) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{logger: logger}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Len returns the number of providers.
func (c *Chain) Len() int { return len(c.providers) }

// Name implements LLMClient.
func (c *Chain) Name() string { return "chain" }

// Generate implements LLMClient.
func (c *Chain) Generate(ctx context.Context, prompt Prompt, params GenerationParams) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProviders
	}
	var errs []error
	for i, p := range c.providers {
		out, err := p.Generate(ctx, prompt, params)
		if err == nil {
			if i > 0 {
				c.logger.Info("LLM fallback provider answered", slog.String("provider", p.Name()))
			}
			return out, nil
		}
		errs = append(errs, err)
		c.logger.Warn("LLM provider failed",
			slog.String("provider", p.Name()),
			slog.Int("position", i),
			slog.String("error", err.Error()))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

var _ LLMClient = (*Chain)(nil)
