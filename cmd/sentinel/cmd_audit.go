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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/export"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

var (
	auditLimit    int
	exportOut     string
	exportGCS     bool
	exportObject  string
	errNoExportTo = errors.New("export needs --out or --gcs")
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
	Long: `Read the configured audit store. The in-memory backend starts empty,
so these commands are useful with the badger, sqlite or postgres backends.`,
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent audit records, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAuditStore(cmd.Context(), func(s *audit.Store) error {
			events, err := s.Recent(cmd.Context(), auditLimit)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			printRecent(newPrinter(cmd.OutOrStdout()), events)
			return nil
		})
	},
}

var auditTrendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Show hotspots, event types and learning insights",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAuditStore(cmd.Context(), func(s *audit.Store) error {
			trends, err := s.Trends(cmd.Context())
			if err != nil {
				return err
			}
			insights, err := s.Insights(cmd.Context())
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"trends": trends, "insights": insights})
			}
			printTrends(newPrinter(cmd.OutOrStdout()), trends, insights)
			return nil
		})
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records as JSON lines to a file or the configured GCS bucket",
	Example: `  sentinel audit export --out audit.jsonl
  sentinel audit export --gcs --object audit/2025-01-01.jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOut == "" && !exportGCS {
			return errNoExportTo
		}
		ctx := cmd.Context()
		p := newPrinter(cmd.OutOrStdout())
		return withAuditStore(ctx, func(s *audit.Store) error {
			if exportOut != "" {
				n, err := export.ToFile(ctx, s, auditLimit, exportOut)
				if err != nil {
					return err
				}
				p.Success(fmt.Sprintf("Exported %d records to %s", n, exportOut))
			}
			if exportGCS {
				n, object, err := uploadAudit(ctx, s)
				if err != nil {
					return err
				}
				p.Success(fmt.Sprintf("Uploaded %d records to gs://%s/%s", n, cfg.Audit.Export.Bucket, object))
			}
			return nil
		})
	},
}

func init() {
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", audit.DefaultRecentLimit, "Maximum records to read")
	auditCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print JSON")
	auditExportCmd.Flags().StringVar(&exportOut, "out", "", "Write JSON lines to this file")
	auditExportCmd.Flags().BoolVar(&exportGCS, "gcs", false, "Upload to audit.export.bucket")
	auditExportCmd.Flags().StringVar(&exportObject, "object", "", "GCS object name (default audit/<timestamp>.jsonl)")

	auditCmd.AddCommand(auditRecentCmd, auditTrendsCmd, auditExportCmd)
}

// withAuditStore opens the configured backend for the duration of fn.
func withAuditStore(ctx context.Context, fn func(*audit.Store) error) error {
	backend, err := openAuditBackend(ctx, cfg.Audit, logger.Slog())
	if err != nil {
		return err
	}
	s := audit.NewStore(backend)
	defer s.Close()
	return fn(s)
}

func uploadAudit(ctx context.Context, s *audit.Store) (int, string, error) {
	if cfg.Audit.Export.Bucket == "" {
		return 0, "", errors.New("audit.export.bucket is not set")
	}
	object := exportObject
	if object == "" {
		object = fmt.Sprintf("audit/%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))
	}
	g, err := export.NewGCS(ctx, cfg.Audit.Export)
	if err != nil {
		return 0, "", err
	}
	defer g.Close()
	n, err := g.Upload(ctx, s, auditLimit, object)
	return n, object, err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecent(p *printer, events []model.StoredEvent) {
	if len(events) == 0 {
		p.Warning("No audit records")
		return
	}
	p.Title(fmt.Sprintf("Recent actions (%d)", len(events)))
	for _, ev := range events {
		fmt.Fprintf(p.w, "  %s  %-8s %-22s %-18s sev %-3d %.1fd saved  %s\n",
			ev.Time().UTC().Format(time.DateTime),
			ev.ActionTaken,
			ev.Location,
			ev.EventType,
			ev.Severity,
			ev.DaysSaved,
			p.render(styles.Muted, ev.EventID))
	}
}

func printTrends(p *printer, t audit.Trends, in audit.Insights) {
	p.Title("Disruption trends")
	p.Field("events", t.TotalEvents)
	p.Field("avg severity", fmt.Sprintf("%.1f", t.AvgSeverity))
	if len(t.Hotspots) > 0 {
		spots := make([]string, len(t.Hotspots))
		for i, h := range t.Hotspots {
			spots[i] = fmt.Sprintf("%s (%d)", h.Location, h.Count)
		}
		p.Field("hotspots", strings.Join(spots, ", "))
	}
	if len(in.RecurringPatterns) > 0 {
		p.Field("recurring", strings.Join(in.RecurringPatterns, ", "))
	}
	p.Field("confidence", fmt.Sprintf("%d%% %s %d%%", in.ConfidenceTrend.Initial, iconArrow, in.ConfidenceTrend.Current))
	p.Field("days saved", fmt.Sprintf("%.1f", in.TotalDaysSaved))
	for _, line := range in.Insights {
		fmt.Fprintf(p.w, "  %s %s\n", p.render(styles.Subtitle, "•"), line)
	}
}
