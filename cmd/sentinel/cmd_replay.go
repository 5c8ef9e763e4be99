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
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/config"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/pipeline"
)

// defaultReplaySeed keeps replays reproducible when no seed is configured.
const defaultReplaySeed uint64 = 42

var errNoDecision = errors.New("replay produced no decision")

var (
	scenarioPath  string
	replaySeed    uint64
	replayPersist bool
)

// prepareReplayConfig pins the matcher seed and keeps the audit trail in
// memory unless --persist asks for the configured backend.
func prepareReplayConfig(cmd *cobra.Command, c *config.Config) {
	if c.Risk.Seed == nil || cmd.Flags().Changed("seed") {
		seed := replaySeed
		c.Risk.Seed = &seed
	}
	if !replayPersist {
		c.Audit.Backend = config.AuditMemory
	}
}

// scenario is one replayable event with the shipments it runs against.
type scenario struct {
	Event     model.DisruptionEvent    `yaml:"event"`
	Shipments []model.ShipmentSnapshot `yaml:"shipments"`
}

// suezScenario is the built-in replay: a container ship blocks the canal
// with one shipment in transit through it.
func suezScenario() scenario {
	return scenario{
		Event: model.DisruptionEvent{
			EventID:    "REPLAY_EVT_001",
			OccurredAt: 1700000000.0,
			Topic:      "Canal Blockage",
			Location:   "Suez Canal",
			Severity:   10,
			Summary:    "BREAKING: Container ship stuck in Suez Canal. Traffic halted.",
		},
		Shipments: []model.ShipmentSnapshot{{
			ShipmentID:      "SHP_REPLAY_1",
			RouteID:         "Route_Suez_EU",
			CurrentLocation: "Suez Canal",
			Status:          "In Transit",
			ETADays:         12,
		}},
	}
}

func loadScenario(path string) (scenario, error) {
	if path == "" {
		return suezScenario(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var s scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	return s, nil
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run one scenario through the pipeline and print the outcome",
	Long: `Replay runs a disruption scenario end to end. Without --scenario it
uses the built-in Suez Canal blockage. The command fails when the run
produces no decision.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := loadScenario(scenarioPath)
		if err != nil {
			return err
		}
		prepareReplayConfig(cmd, cfg)

		a, err := buildApp(cmd.Context(), cfg, logger.Slog())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		result, err := replay(cmd.Context(), a, sc)
		if err != nil {
			return err
		}
		printRun(newPrinter(cmd.OutOrStdout()), result, a)
		if len(result.Decisions) == 0 {
			return errNoDecision
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&scenarioPath, "scenario", "", "YAML file with an event and its shipments")
	replayCmd.Flags().Uint64Var(&replaySeed, "seed", defaultReplaySeed, "Risk matcher seed")
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "Write the audit trail to the configured backend")
}

func replay(ctx context.Context, a *app, sc scenario) (*pipeline.RunResult, error) {
	result, err := a.pipeline.Run(ctx, sc.Event, sc.Shipments)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", sc.Event.EventID, err)
	}
	return result, nil
}

// printRun renders the path, each decision with its outcome, and the
// running metrics.
func printRun(p *printer, r *pipeline.RunResult, a *app) {
	path := make([]string, len(r.Path))
	for i, s := range r.Path {
		path[i] = s.String()
	}
	p.Title("Sentinel replay " + r.EventID)
	p.Field("path", strings.Join(path, " "+iconArrow+" "))
	p.Field("affected", len(r.Affected))
	p.Field("duration", r.Duration.Round(time.Millisecond))
	if r.Interrupted {
		p.Warning("Run was interrupted")
	}
	if r.Precedent.Count > 0 {
		p.Field("precedent", fmt.Sprintf("%d similar, last %s", r.Precedent.Count, r.Precedent.LastAction))
	}

	outcomes := make(map[string]pipeline.ActionOutcome, len(r.Outcomes))
	for _, o := range r.Outcomes {
		outcomes[o.ShipmentID] = o
	}
	for _, d := range r.Decisions {
		var b strings.Builder
		fmt.Fprintf(&b, "risk %.1f  confidence %.2f\n", d.Risk, d.Confidence)
		b.WriteString(d.Recommendation.Rationale)
		if o, ok := outcomes[d.ShipmentID]; ok {
			b.WriteString("\n")
			switch {
			case !o.Verdict.Allowed:
				fmt.Fprintf(&b, "%s blocked: %s", iconWarn, o.Verdict.Reason)
			case o.Err != nil:
				fmt.Fprintf(&b, "%s %s failed: %v", iconError, o.Kind, o.Err)
			case o.Dispatched:
				fmt.Fprintf(&b, "%s %s %s (%s)", iconOK, o.Action, o.Kind, o.Status)
			default:
				b.WriteString("no action")
			}
		}
		p.Box(fmt.Sprintf("%s  %s", d.ShipmentID, d.Recommendation.Tag), b.String(),
			d.Recommendation.Tag == model.TagCritical)
	}

	if len(r.Decisions) == 0 {
		p.Warning("No shipments affected")
		return
	}
	snap := a.tracker.Snapshot()
	p.Field("dispatched", r.Dispatched())
	p.Field("blocked", r.Blocked())
	p.Field("days saved", snap.EstimatedDaysSaved)
	p.Field("cost saved", fmt.Sprintf("$%.0f", snap.EstimatedCostSaved))
	if snap.MTTDSeconds != nil {
		p.Field("MTTD", fmt.Sprintf("%.1fs", *snap.MTTDSeconds))
	}
}
