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
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/pipeline"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/telemetry"
)

const noticeBuffer = 256

var watchServer string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of pipeline telemetry",
	Long: `Watch shows telemetry notices as the pipeline emits them. By default it
replays a scenario locally. With --server it follows a running sentinel's
WebSocket stream instead.`,
	Example: `  sentinel watch
  sentinel watch --server ws://localhost:8080/v1/sentinel/telemetry/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		notices := make(chan telemetry.Notice, noticeBuffer)
		push := func(n telemetry.Notice) {
			select {
			case notices <- n:
			default:
			}
		}

		var (
			title string
			start tea.Cmd
		)
		if watchServer != "" {
			title = "Following " + watchServer
			start = func() tea.Msg {
				return watchDoneMsg{err: telemetry.Follow(ctx, watchServer, push)}
			}
		} else {
			sc, err := loadScenario(scenarioPath)
			if err != nil {
				return err
			}
			prepareReplayConfig(cmd, cfg)
			a, err := buildApp(ctx, cfg, logger.Slog())
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			a.sink.Subscribe(push)

			title = "Replaying " + sc.Event.EventID
			start = func() tea.Msg {
				r, err := replay(ctx, a, sc)
				return watchDoneMsg{result: r, err: err}
			}
		}

		m := newWatchModel(title, notices, start)
		final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if err != nil {
			return err
		}
		if wm, ok := final.(watchModel); ok && wm.err != nil {
			return wm.err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "WebSocket URL of a running sentinel")
	watchCmd.Flags().StringVar(&scenarioPath, "scenario", "", "YAML file with an event and its shipments")
	watchCmd.Flags().Uint64Var(&replaySeed, "seed", defaultReplaySeed, "Risk matcher seed")
	watchCmd.Flags().BoolVar(&replayPersist, "persist", false, "Write the audit trail to the configured backend")
}

// =============================================================================
// Model
// =============================================================================

type noticeMsg telemetry.Notice

// watchDoneMsg ends the source. result is nil when following a server.
type watchDoneMsg struct {
	result *pipeline.RunResult
	err    error
}

// watchModel renders telemetry into a scrolling viewport.
//
// Thread Safety: owned by the bubbletea event loop.
type watchModel struct {
	title   string
	notices <-chan telemetry.Notice
	start   tea.Cmd

	viewport viewport.Model
	spinner  spinner.Model
	lines    []string
	ready    bool
	width    int

	running bool
	result  *pipeline.RunResult
	err     error
}

func newWatchModel(title string, notices <-chan telemetry.Notice, start tea.Cmd) watchModel {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(colorTealPrimary)))
	return watchModel{
		title:   title,
		notices: notices,
		start:   start,
		spinner: sp,
		running: true,
	}
}

func waitForNotice(ch <-chan telemetry.Notice) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

// Init implements tea.Model.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForNotice(m.notices), m.start)
}

// Update implements tea.Model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		const chrome = 4
		m.width = msg.Width
		if !m.ready {
			m.viewport = viewport.New(msg.Width, max(msg.Height-chrome, 1))
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = max(msg.Height-chrome, 1)
		}
		return m, nil

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case noticeMsg:
		m.lines = append(m.lines, formatNotice(telemetry.Notice(msg)))
		if m.ready {
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
		}
		return m, waitForNotice(m.notices)

	case watchDoneMsg:
		m.running = false
		m.result = msg.result
		m.err = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m watchModel) View() string {
	if !m.ready {
		return m.spinner.View() + " " + m.title
	}

	header := styles.Title.Render(m.title)
	if m.running {
		header = m.spinner.View() + " " + header
	}
	rule := styles.Muted.Render(strings.Repeat("─", max(m.width, 1)))
	return strings.Join([]string{header, rule, m.viewport.View(), rule, m.footer()}, "\n")
}

func (m watchModel) footer() string {
	help := styles.Muted.Render("q quit  ↑/↓ scroll")
	count := fmt.Sprintf("%d notices", len(m.lines))
	switch {
	case m.err != nil:
		return styles.Error.Render(iconError+" "+m.err.Error()) + "  " + help
	case m.running:
		return count + "  " + help
	case m.result != nil:
		return summarizeRun(m.result) + "  " + count + "  " + help
	default:
		return styles.Muted.Render("stream closed") + "  " + count + "  " + help
	}
}

func summarizeRun(r *pipeline.RunResult) string {
	if len(r.Decisions) == 0 {
		return styles.Warning.Render(iconWarn + " no shipments affected")
	}
	tag := r.Decisions[0].Recommendation.Tag
	style := styles.Success
	switch tag {
	case model.TagCritical:
		style = styles.Error
	case model.TagWarning:
		style = styles.Warning
	}
	return fmt.Sprintf("%s %s  dispatched %d  blocked %d",
		style.Render(iconOK), style.Render(string(tag)), r.Dispatched(), r.Blocked())
}

// formatNotice renders one notice as a single line with its details sorted
// by key.
func formatNotice(n telemetry.Notice) string {
	keys := make([]string, 0, len(n.Details))
	for k := range n.Details {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s %s",
		n.Timestamp.Local().Format(time.TimeOnly),
		styles.Subtitle.Render(fmt.Sprintf("%-8s", n.AgentState)),
		n.EventID)
	if n.Confidence > 0 {
		fmt.Fprintf(&b, "  %s", styles.Muted.Render(fmt.Sprintf("conf %.2f", n.Confidence)))
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%v", k, n.Details[k])
	}
	return b.String()
}
