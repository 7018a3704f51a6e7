package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chisel/pkg/runlog"
)

// finishedColumnLimit caps how many cards the Converged and Halted columns
// show; the header carries the full count.
const finishedColumnLimit = 10

// BoardModel groups runs into outcome columns.
type BoardModel struct {
	columns []boardColumn
}

// boardColumn is a single column of run cards.
type boardColumn struct {
	title      string
	rows       []runRow
	totalCount int // full count before the column limit
}

// columnForRun maps a run to its board column: live runs are Active, runs
// that halted on target_reached are Converged, every other finish is Halted.
func columnForRun(r runlog.RunSummary) string {
	switch {
	case !r.Finished():
		return "Active"
	case r.HaltReason == "target_reached":
		return "Converged"
	default:
		return "Halted"
	}
}

// NewBoardModel buckets rows into the Active, Converged, and Halted columns.
// Rows arrive newest first, so the finished columns keep the most recent
// finishedColumnLimit cards.
func NewBoardModel(rows []runRow) BoardModel {
	buckets := map[string][]runRow{
		"Active":    {},
		"Converged": {},
		"Halted":    {},
	}

	for _, r := range rows {
		col := columnForRun(r.RunSummary)
		buckets[col] = append(buckets[col], r)
	}

	titles := []string{"Active", "Converged", "Halted"}
	columns := make([]boardColumn, 0, len(titles))
	for _, t := range titles {
		inCol := buckets[t]
		total := len(inCol)
		if t != "Active" && len(inCol) > finishedColumnLimit {
			inCol = inCol[:finishedColumnLimit]
		}
		columns = append(columns, boardColumn{title: t, rows: inCol, totalCount: total})
	}

	return BoardModel{columns: columns}
}

// Render draws the board without a cursor.
func (bm BoardModel) Render() string {
	return bm.RenderWithCursor(-1, -1)
}

// RenderWithCursor draws the board columns side by side, highlighting the
// card at (activeCol, activeRow). Negative indexes select nothing.
func (bm BoardModel) RenderWithCursor(activeCol, activeRow int) string {
	theme := DefaultTheme()

	colWidth := 34

	columnStyle := lipgloss.NewStyle().Width(colWidth).Padding(0, 1)
	cardStyle := lipgloss.NewStyle().Width(colWidth - 2).Padding(0, 1)
	selectedStyle := lipgloss.NewStyle().
		Width(colWidth - 4).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Primary)
	muted := lipgloss.NewStyle().Foreground(theme.Muted)

	rendered := make([]string, 0, len(bm.columns))
	for ci, col := range bm.columns {
		headerColor := theme.Primary
		switch col.title {
		case "Converged":
			headerColor = theme.Success
		case "Halted":
			headerColor = theme.Warning
		}

		headerText := col.title
		if col.totalCount > len(col.rows) {
			headerText = fmt.Sprintf("%s (%d/%d)", col.title, len(col.rows), col.totalCount)
		}
		header := lipgloss.NewStyle().
			Bold(true).
			Foreground(headerColor).
			Width(colWidth).
			Align(lipgloss.Center).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			Render(headerText)

		var cards strings.Builder
		for ri, row := range col.rows {
			style := cardStyle
			if ci == activeCol && ri == activeRow {
				style = selectedStyle
			}
			cards.WriteString(style.Render(renderCard(theme, muted, row)))
			cards.WriteString("\n")
		}

		rendered = append(rendered, columnStyle.Render(header+"\n"+cards.String()))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// renderCard formats one run card: file name, identity line, score line, and
// the trajectory when the run has more than one iteration.
func renderCard(theme Theme, muted lipgloss.Style, row runRow) string {
	title := filepath.Base(row.ScadFile)
	identity := muted.Render(fmt.Sprintf("%s %s/%s", shortID(row.ID), row.Mode, row.Surface))

	score := row.FinalScore
	if !row.Finished() {
		score = row.LastScore
	}
	var scoreLine string
	if row.Iterations == 0 {
		scoreLine = muted.Render("no iterations yet")
	} else {
		cell := lipgloss.NewStyle().
			Foreground(scoreColor(theme, score)).
			Render(fmt.Sprintf("%d/10", score))
		scoreLine = fmt.Sprintf("%s in %d iters", cell, row.Iterations)
	}

	lines := []string{title, identity, scoreLine}
	if len(row.Scores) > 1 {
		lines = append(lines, muted.Render(trajectory(row.Scores)))
	}
	return strings.Join(lines, "\n")
}

// scoreColor picks the color band for a score: 8+ green, 5-7 yellow, below
// that red.
func scoreColor(theme Theme, score int) lipgloss.Color {
	switch {
	case score >= 8:
		return theme.Success
	case score >= 5:
		return theme.Warning
	default:
		return theme.Error
	}
}

// trajectory formats a score progression like "4 -> 6 -> 8".
func trajectory(scores []int) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, " -> ")
}
