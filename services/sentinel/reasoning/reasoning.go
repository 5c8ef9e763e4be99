// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reasoning defines the collaborator that explains how an event
// affects a shipment and recommends a tagged action, together with the
// deterministic fallbacks used when it is unavailable.
package reasoning

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// Collaborator produces free-text impact assessments and tagged
// recommendations.
//
// Description:
//
//	Implementations may call remote models. Callers bound every call with a
//	context deadline and substitute the fallbacks in this package on error.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use; the pipeline calls them
//	from several goroutines within one run.
type Collaborator interface {
	AssessImpact(ctx context.Context, summary string, shipment model.AffectedShipment) (string, error)
	RecommendAction(ctx context.Context, impact string, risk float64) (model.Recommendation, error)
}

// FallbackRecommendation is the deterministic threshold rule used when the
// collaborator fails: risk > 80 is CRITICAL, risk > 50 is WARNING, else
// ADVISORY.
func FallbackRecommendation(risk float64) model.Recommendation {
	switch {
	case risk > 80:
		return model.Recommendation{Tag: model.TagCritical, Rationale: "REROUTE REQUIRED"}
	case risk > 50:
		return model.Recommendation{Tag: model.TagWarning, Rationale: "ALERT ISSUED"}
	default:
		return model.Recommendation{Tag: model.TagAdvisory, Rationale: "PROCEED WITH CAUTION"}
	}
}

// FallbackAnalysis is the assessment text substituted when AssessImpact
// fails or times out.
func FallbackAnalysis(summary, routeID string) string {
	return fmt.Sprintf("Analysis unavailable: %s may affect %s", summary, routeID)
}

// Static answers without any model. It is the last link of the provider
// chain and the collaborator used by replay.
type Static struct{}

// AssessImpact implements Collaborator.
func (Static) AssessImpact(_ context.Context, summary string, shipment model.AffectedShipment) (string, error) {
	return fmt.Sprintf("Mock Analysis: %s may cause delays on %s.", summary, shipment.RouteID), nil
}

// RecommendAction implements Collaborator.
func (Static) RecommendAction(_ context.Context, _ string, risk float64) (model.Recommendation, error) {
	return FallbackRecommendation(risk), nil
}

var _ Collaborator = Static{}
