// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/suggest"
)

var (
	suggestType     string
	suggestRisk     float64
	suggestLocation string
	outputJSON      bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Rank response suggestions for an event type and risk",
	Example: `  sentinel suggest --type "Port Strike" --risk 85 --location Rotterdam
  sentinel suggest --type weather --risk 40 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeSuggestions(cmd.OutOrStdout(), suggest.Suggest(suggestType, suggestRisk, suggestLocation), outputJSON)
	},
}

func init() {
	suggestCmd.Flags().StringVar(&suggestType, "type", "", "Event type, e.g. \"Canal Blockage\"")
	suggestCmd.Flags().Float64Var(&suggestRisk, "risk", 0, "Risk score 0-100")
	suggestCmd.Flags().StringVar(&suggestLocation, "location", "", "Event location")
	suggestCmd.Flags().BoolVar(&outputJSON, "json", false, "Print JSON")
}

func writeSuggestions(w io.Writer, list []suggest.Suggestion, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	p := newPrinter(w)
	if len(list) == 0 {
		p.Warning("No suggestions for this event")
		return nil
	}
	p.Title("Suggested responses")
	for i, s := range list {
		auto := ""
		if s.AutoExecute {
			auto = "  " + p.render(styles.Success, "auto")
		}
		fmt.Fprintf(w, "%d. %s  %s  %s%s\n", i+1,
			p.render(styles.Bold, s.Action),
			p.render(priorityStyle(s.Priority), string(s.Priority)),
			p.render(styles.Muted, fmt.Sprintf("%.0f%%", s.Confidence*100)),
			auto)
		fmt.Fprintf(w, "   %s\n", s.Description)
	}
	return nil
}

func priorityStyle(pr suggest.Priority) lipgloss.Style {
	switch pr {
	case suggest.PriorityCritical:
		return styles.Error
	case suggest.PriorityHigh:
		return styles.Warning
	default:
		return styles.Subtitle
	}
}
