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
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian palette, deep ocean teals.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorTealDeep    = lipgloss.Color("#16858E")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorError       = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	AlertBox lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(colorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(colorSlate),
	Success:  lipgloss.NewStyle().Foreground(colorTealBright),
	Warning:  lipgloss.NewStyle().Foreground(colorWarning),
	Error:    lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTealDeep).
		Padding(0, 1),
	AlertBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 1),
}

const (
	iconOK    = "✓"
	iconWarn  = "⚠"
	iconError = "✗"
	iconArrow = "→"
)

// printer writes command output. Plain mode drops styling so piped output
// stays greppable.
type printer struct {
	w     io.Writer
	plain bool
}

// newPrinter styles output only when w is a terminal.
func newPrinter(w io.Writer) *printer {
	plain := true
	if f, ok := w.(*os.File); ok {
		plain = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return &printer{w: w, plain: plain}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p *printer) Title(text string) {
	fmt.Fprintln(p.w, p.render(styles.Title, text))
}

func (p *printer) Success(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(styles.Success, iconOK), p.render(styles.Success, text))
}

func (p *printer) Warning(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(styles.Warning, iconWarn), p.render(styles.Warning, text))
}

func (p *printer) Error(text string) {
	fmt.Fprintf(p.w, "%s %s\n", p.render(styles.Error, iconError), p.render(styles.Error, text))
}

// Field prints an aligned "label: value" line.
func (p *printer) Field(label string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.render(styles.Muted, fmt.Sprintf("%-14s", label+":")), value)
}

// Box frames content under a title. alert switches to the red border.
func (p *printer) Box(title, content string, alert bool) {
	if p.plain {
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
		return
	}
	box := styles.Box
	head := styles.Title.Render(title)
	if alert {
		box = styles.AlertBox
		head = styles.Error.Bold(true).Render(title)
	}
	fmt.Fprintln(p.w, box.Width(72).Render(head+"\n"+content))
}
