// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrWebhookStatus is returned when the webhook answers with a non-2xx code.
var ErrWebhookStatus = errors.New("webhook returned non-success status")

// ChatConfig configures a Slack-style incoming webhook.
type ChatConfig struct {
	WebhookURL string
	// RatePerSecond limits outgoing posts. Zero means 1 per second.
	RatePerSecond float64
	Burst         int
	Client        *http.Client
}

// Chat posts {"text", "channel"} JSON to a webhook.
type Chat struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewChat builds a chat dispatcher.
func NewChat(cfg ChatConfig) *Chat {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Chat{
		url:     cfg.WebhookURL,
		client:  cfg.Client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

type chatPayload struct {
	Text    string `json:"text"`
	Channel string `json:"channel"`
}

// Send implements Dispatcher. It waits for a rate-limit token, bounded by ctx.
func (c *Chat) Send(ctx context.Context, target, message string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("chat rate limit: %w", err)
	}
	body, err := json.Marshal(chatPayload{Text: message, Channel: target})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}
	return StatusChatSent, nil
}
