package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chisel/pkg/runlog"
)

// detailMsg carries the result of an async run detail fetch.
type detailMsg struct {
	detail runDetail
	err    error
}

// fetchDetailCmd loads one run's events and scores off the Update loop.
func fetchDetailCmd(ds dataSource, run runlog.RunSummary) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		detail, err := loadDetail(ctx, ds, run)
		return detailMsg{detail: detail, err: err}
	}
}

// DetailModel is the drilldown view for a single run.
type DetailModel struct {
	run       runlog.RunSummary
	scores    []int
	events    []runlog.Event // chronological
	tabs      []string
	activeTab int
	loading   bool
	err       error
}

// newDetailModel creates the detail view for a run. Events and scores arrive
// asynchronously via detailMsg; until then the view shows a loading line.
func newDetailModel(run runlog.RunSummary) DetailModel {
	return DetailModel{
		run:     run,
		tabs:    []string{"Overview", "Iterations", "Events"},
		loading: true,
	}
}

// apply installs a fetched detail result.
func (d DetailModel) apply(msg detailMsg) DetailModel {
	d.loading = false
	d.err = msg.err
	if msg.err == nil {
		d.run = msg.detail.Run
		d.scores = msg.detail.Scores
		d.events = msg.detail.Events
	}
	return d
}

// nextTab moves to the next tab, wrapping to the first at the end.
func (d DetailModel) nextTab() DetailModel {
	d.activeTab = (d.activeTab + 1) % len(d.tabs)
	return d
}

// prevTab moves to the previous tab, wrapping to the last at the start.
func (d DetailModel) prevTab() DetailModel {
	d.activeTab = (d.activeTab - 1 + len(d.tabs)) % len(d.tabs)
	return d
}

// View renders the tab strip and the active tab.
func (d DetailModel) View() string {
	theme := DefaultTheme()

	headers := make([]string, 0, len(d.tabs))
	for i, tab := range d.tabs {
		if i == d.activeTab {
			style := lipgloss.NewStyle().Foreground(theme.Primary).Bold(true)
			headers = append(headers, style.Render("["+tab+"]"))
		} else {
			style := lipgloss.NewStyle().Foreground(theme.Muted)
			headers = append(headers, style.Render(tab))
		}
	}

	var content string
	switch {
	case d.loading:
		content = lipgloss.NewStyle().Foreground(theme.Muted).Italic(true).Render("Loading run history...")
	case d.err != nil:
		content = lipgloss.NewStyle().Foreground(theme.Error).Render("Error loading run: " + d.err.Error())
	default:
		switch d.activeTab {
		case 1:
			content = d.renderIterationsTab()
		case 2:
			content = d.renderEventsTab()
		default:
			content = d.renderOverviewTab()
		}
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		strings.Join(headers, " "),
		"",
		content,
	)
}

// renderOverviewTab shows the run's identity and outcome.
func (d DetailModel) renderOverviewTab() string {
	theme := DefaultTheme()
	label := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary)

	lines := []string{
		label.Render("File: ") + d.run.ScadFile,
		"Run: " + d.run.ID,
		fmt.Sprintf("Mode: %s (%s)", d.run.Mode, d.run.Surface),
	}
	if d.run.Model != "" {
		lines = append(lines, "Model: "+d.run.Model)
	}

	lines = append(lines, "Started: "+d.run.StartedAt.Format("2006-01-02 15:04:05"))
	if d.run.Finished() {
		lines = append(lines,
			"Finished: "+d.run.FinishedAt.Format("2006-01-02 15:04:05"),
			"Halted: "+d.run.HaltReason,
			fmt.Sprintf("Final score: %d/10", d.run.FinalScore),
		)
	} else {
		live := lipgloss.NewStyle().Foreground(theme.Success).Render("live")
		lines = append(lines, "Finished: "+live)
	}

	if len(d.scores) > 0 {
		lines = append(lines, "", label.Render("Score progression: ")+trajectory(d.scores))
	}

	return strings.Join(lines, "\n")
}

// renderIterationsTab lists each iteration's score and assessment.
func (d DetailModel) renderIterationsTab() string {
	theme := DefaultTheme()

	var lines []string
	for _, e := range d.events {
		if e.Type != runlog.EventIteration {
			continue
		}
		cell := lipgloss.NewStyle().
			Foreground(scoreColor(theme, e.Score)).
			Render(fmt.Sprintf("%2d/10", e.Score))
		lines = append(lines, fmt.Sprintf("%3d  %s  %s", e.Iteration, cell, e.Summary))
	}

	if len(lines) == 0 {
		return lipgloss.NewStyle().Foreground(theme.Muted).Italic(true).Render("No iterations yet")
	}
	return strings.Join(lines, "\n")
}

// renderEventsTab lists the raw event stream, oldest first.
func (d DetailModel) renderEventsTab() string {
	theme := DefaultTheme()

	if len(d.events) == 0 {
		return lipgloss.NewStyle().Foreground(theme.Muted).Italic(true).Render("No events")
	}

	timeStyle := lipgloss.NewStyle().Foreground(theme.Muted)
	var lines []string
	for _, e := range d.events {
		typeCell := fmt.Sprintf("%-14s", e.Type)
		if e.Type == runlog.EventApplyFailed {
			typeCell = lipgloss.NewStyle().Foreground(theme.Error).Render(typeCell)
		}
		detail := e.Summary
		if detail == "" {
			detail = e.Payload
		}
		lines = append(lines, fmt.Sprintf("%s  %s %s",
			timeStyle.Render(e.CreatedAt.Format("15:04:05")), typeCell, detail))
	}
	return strings.Join(lines, "\n")
}
