// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sentinel watches for shipment disruptions and acts on them.
//
//	sentinel serve                 HTTP API, optional Kafka ingestion
//	sentinel replay                Run the built-in Suez scenario
//	sentinel watch                 Live terminal view of a replay
//	sentinel suggest               Rank response suggestions
//	sentinel audit recent|trends|export
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSentinel/pkg/logging"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/config"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Shipment disruption monitor and response pipeline",
	Long: `Sentinel matches disruption events against in-flight shipments,
reasons about their impact, and dispatches gated responses while keeping
an audit trail of every action.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cfg, cmd.Name() == "watch")
		slog.SetDefault(logger.Slog())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to sentinel.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(serveCmd, replayCmd, watchCmd, suggestCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads --config. The default path may be absent; an explicit
// path must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		c   *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		c, err = config.Load(configPath)
	} else {
		c, err = config.LoadOptional(configPath)
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	return c, nil
}

// newLogger writes JSON when stderr is not a terminal or when configured.
// The watch TUI owns the terminal, so its console output is suppressed.
func newLogger(c *config.Config, quiet bool) *logging.Logger {
	fd := os.Stderr.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(c.Logging.Level),
		LogDir:  c.Logging.Dir,
		Service: "sentinel",
		JSON:    c.Logging.JSON || !tty,
		Quiet:   quiet,
	})
}
