// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianSentinel/services/llm"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

const (
	impactSystemPrompt = "You are a logistics command agent. Analyze real-time disruptions " +
		"including road conditions, weather, and local events. Focus on transit time impact " +
		"and supply chain integrity."

	impactUserTemplate = `LIVE DISRUPTION DETECTED:
Event Summary: %s
Current Route: %s
Vessel/Vehicle Current Location: %s
ETA Impact: %s days remaining

TASK: Provide a sharp, real-time assessment of how this event affects THIS specific shipment.
Mention if a diversion or alternate route is needed. Max 2 sentences.`

	recommendSystemPrompt = "You are a logistics dispatcher. Based on the impact analysis, " +
		"provide a 1-sentence recommendation. Always start with 'CRITICAL: REROUTE', " +
		"'WARNING: ALERT', or 'ADVISORY: MONITOR'."

	recommendUserTemplate = `Impact Analysis: %s
Risk Score: %g/100

Provide the best next step (e.g. 'Take diversion via...', 'Alert driver...', 'Proceed with caution...').`
)

// DefaultParams are the sampling settings used for both prompts.
func DefaultParams() llm.GenerationParams {
	return llm.GenerationParams{
		Temperature: llm.Float32(0.1),
		MaxTokens:   llm.Int(500),
	}
}

// LLM is a Collaborator backed by a text-generation client, usually an
// llm.Chain. Errors are returned unchanged so the caller can apply its own
// fallback policy.
type LLM struct {
	client llm.LLMClient
	params llm.GenerationParams
	logger *slog.Logger
}

// NewLLM wraps client. A nil logger uses slog.Default().
func NewLLM(client llm.LLMClient, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{client: client, params: DefaultParams(), logger: logger}
}

// AssessImpact implements Collaborator.
func (r *LLM) AssessImpact(ctx context.Context, summary string, shipment model.AffectedShipment) (string, error) {
	eta := "N/A"
	if shipment.ETADays > 0 {
		eta = strconv.Itoa(shipment.ETADays)
	}
	prompt := llm.Prompt{
		System: impactSystemPrompt,
		User:   fmt.Sprintf(impactUserTemplate, summary, shipment.RouteID, shipment.CurrentLocation, eta),
	}
	out, err := r.client.Generate(ctx, prompt, r.params)
	if err != nil {
		return "", fmt.Errorf("assess impact for %s: %w", shipment.ShipmentID, err)
	}
	return strings.TrimSpace(out), nil
}

// RecommendAction implements Collaborator. The model's reply is parsed into
// a tagged recommendation here and nowhere else.
func (r *LLM) RecommendAction(ctx context.Context, impact string, risk float64) (model.Recommendation, error) {
	prompt := llm.Prompt{
		System: recommendSystemPrompt,
		User:   fmt.Sprintf(recommendUserTemplate, impact, risk),
	}
	out, err := r.client.Generate(ctx, prompt, r.params)
	if err != nil {
		return model.Recommendation{}, fmt.Errorf("recommend action: %w", err)
	}
	rec := model.ParseRecommendation(out)
	r.logger.Debug("Parsed recommendation",
		slog.String("tag", rec.Tag.String()),
		slog.Float64("risk", risk))
	return rec, nil
}

var _ Collaborator = (*LLM)(nil)
