// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SeverityTag classifies a recommendation. Downstream stages switch on the
// tag; they never inspect the rationale text.
type SeverityTag string

const (
	TagCritical SeverityTag = "CRITICAL"
	TagWarning  SeverityTag = "WARNING"
	TagAdvisory SeverityTag = "ADVISORY"
)

// String implements fmt.Stringer.
func (t SeverityTag) String() string {
	return string(t)
}

// IsValid reports whether t is one of the three known tags.
func (t SeverityTag) IsValid() bool {
	switch t {
	case TagCritical, TagWarning, TagAdvisory:
		return true
	default:
		return false
	}
}

// Recommendation is the tagged result of the reasoning collaborator's
// recommendation function.
type Recommendation struct {
	Tag       SeverityTag `json:"tag"`
	Rationale string      `json:"rationale"`
}

// String renders "<TAG>: <rationale>".
func (r Recommendation) String() string {
	if r.Rationale == "" {
		return string(r.Tag)
	}
	return fmt.Sprintf("%s: %s", r.Tag, r.Rationale)
}

// MarshalText lets Recommendation appear as a plain string in logs.
func (r Recommendation) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// MarshalJSON keeps the structured form on the wire.
func (r Recommendation) MarshalJSON() ([]byte, error) {
	type plain Recommendation
	return json.Marshal(plain(r))
}

// ParseRecommendation turns free text into a Recommendation.
//
// Description:
//
//	The tag is the first of CRITICAL, WARNING, or ADVISORY found at the
//	start of the text, after optional markdown emphasis and whitespace.
//	When no leading tag is present the first tag mentioned anywhere in the
//	text wins, in severity order. Text naming no tag is ADVISORY.
//	The rationale is the text after the tag and its separator.
//
// Inputs:
//
//	text - Raw text from the reasoning collaborator
//
// Outputs:
//
//	Recommendation - Always populated with a valid tag
func ParseRecommendation(text string) Recommendation {
	trimmed := strings.TrimSpace(text)
	stripped := strings.TrimLeft(trimmed, "*_#> \t")

	for _, tag := range []SeverityTag{TagCritical, TagWarning, TagAdvisory} {
		if len(stripped) >= len(tag) && strings.EqualFold(stripped[:len(tag)], string(tag)) {
			rest := stripped[len(tag):]
			rest = strings.TrimLeft(rest, "*_:-\u2014 \t")
			return Recommendation{Tag: tag, Rationale: strings.TrimSpace(rest)}
		}
	}

	upperAll := strings.ToUpper(trimmed)
	for _, tag := range []SeverityTag{TagCritical, TagWarning, TagAdvisory} {
		if strings.Contains(upperAll, string(tag)) {
			return Recommendation{Tag: tag, Rationale: trimmed}
		}
	}
	return Recommendation{Tag: TagAdvisory, Rationale: trimmed}
}
