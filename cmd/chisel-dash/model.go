package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
)

// fetchTimeout bounds one round of run log queries.
const fetchTimeout = 5 * time.Second

// refreshInterval is the polling fallback cadence. The run log watcher
// usually refreshes the board first.
const refreshInterval = 2 * time.Second

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// rowsMsg carries a refreshed runs board.
type rowsMsg struct {
	rows []runRow
	err  error
}

// tickCmd schedules the next periodic refresh.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchRowsCmd loads the runs board off the Update loop.
func fetchRowsCmd(ds dataSource) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		rows, err := loadRows(ctx, ds)
		return rowsMsg{rows: rows, err: err}
	}
}

// Model is the Bubble Tea model for the chisel dashboard.
type Model struct {
	ds     dataSource
	dbPath string

	// watcher is nil when fsnotify is unavailable; the tick still refreshes.
	watcher *fsnotify.Watcher

	rows    []runRow
	loading bool
	err     error

	spinner spinner.Model

	// Board cursor.
	activeCol int
	activeRow int

	// Set while the detail view is open.
	detail *DetailModel

	width  int
	height int
}

// newModel creates a Model over the given run log source. The caller may
// attach a watcher afterwards; tests leave it nil.
func newModel(ds dataSource, dbPath string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(DefaultTheme().Primary)

	return Model{
		ds:      ds,
		dbPath:  dbPath,
		loading: true,
		spinner: sp,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchRowsCmd(m.ds),
		tickCmd(),
		waitForChange(m.watcher, m.dbPath),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case rowsMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m = m.clampCursor()
			m = m.refreshDetailRun()
		}

	case detailMsg:
		if m.detail != nil {
			*m.detail = m.detail.apply(msg)
		}

	case tickMsg:
		m.loading = true
		return m, tea.Batch(m.refetch(), tickCmd())

	case fsChangeMsg:
		m.loading = true
		return m, tea.Batch(m.refetch(), waitForChange(m.watcher, m.dbPath))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// refetch reloads the board and, when the detail view is open, that run's
// event history.
func (m Model) refetch() tea.Cmd {
	if m.detail != nil {
		return tea.Batch(fetchRowsCmd(m.ds), fetchDetailCmd(m.ds, m.detail.run))
	}
	return fetchRowsCmd(m.ds)
}

// refreshDetailRun keeps an open detail view's summary and trajectory in
// step with the refreshed board.
func (m Model) refreshDetailRun() Model {
	if m.detail == nil {
		return m
	}
	for _, row := range m.rows {
		if row.ID == m.detail.run.ID {
			m.detail.run = row.RunSummary
			m.detail.scores = row.Scores
			break
		}
	}
	return m
}

// clampCursor keeps the board cursor inside the refreshed columns.
func (m Model) clampCursor() Model {
	board := NewBoardModel(m.rows)
	if m.activeCol >= len(board.columns) {
		m.activeCol = len(board.columns) - 1
	}
	if m.activeCol < 0 {
		m.activeCol = 0
	}
	n := len(board.columns[m.activeCol].rows)
	if m.activeRow >= n {
		m.activeRow = n - 1
	}
	if m.activeRow < 0 {
		m.activeRow = 0
	}
	return m
}

// handleKeyPress routes keys by view.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}

	if m.detail != nil {
		return m.handleDetailKeys(key)
	}
	return m.handleBoardKeys(key)
}

// handleDetailKeys processes keys while the detail view is open.
func (m Model) handleDetailKeys(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "esc", "backspace":
		m.detail = nil
	case "tab":
		*m.detail = m.detail.nextTab()
	case "shift+tab":
		*m.detail = m.detail.prevTab()
	case "r":
		m.detail.loading = true
		return m, fetchDetailCmd(m.ds, m.detail.run)
	}
	return m, nil
}

// handleBoardKeys processes keys on the runs board.
func (m Model) handleBoardKeys(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "enter":
		return m.drillDown()
	case "h", "left", "shift+tab":
		m = m.moveColumn(-1)
	case "l", "right", "tab":
		m = m.moveColumn(1)
	case "j", "down":
		m = m.moveRow(1)
	case "k", "up":
		m = m.moveRow(-1)
	case "r":
		m.loading = true
		return m, m.refetch()
	}
	return m, nil
}

// moveColumn shifts the cursor to the next column in the given direction
// that has cards, clamping at the edges.
func (m Model) moveColumn(delta int) Model {
	board := NewBoardModel(m.rows)
	for col := m.activeCol + delta; col >= 0 && col < len(board.columns); col += delta {
		if len(board.columns[col].rows) > 0 {
			m.activeCol = col
			m.activeRow = 0
			return m
		}
	}
	return m
}

// moveRow shifts the cursor within the current column, clamping at both
// ends.
func (m Model) moveRow(delta int) Model {
	board := NewBoardModel(m.rows)
	if m.activeCol >= len(board.columns) {
		return m
	}
	n := len(board.columns[m.activeCol].rows)
	if n == 0 {
		return m
	}

	row := m.activeRow + delta
	if row < 0 {
		row = 0
	}
	if row >= n {
		row = n - 1
	}
	m.activeRow = row
	return m
}

// drillDown opens the detail view for the selected run. No-op when the
// current column is empty.
func (m Model) drillDown() (tea.Model, tea.Cmd) {
	board := NewBoardModel(m.rows)
	if m.activeCol >= len(board.columns) {
		return m, nil
	}
	col := board.columns[m.activeCol]
	if len(col.rows) == 0 || m.activeRow >= len(col.rows) {
		return m, nil
	}

	selected := col.rows[m.activeRow]
	dm := newDetailModel(selected.RunSummary)
	dm.scores = selected.Scores
	m.detail = &dm

	return m, fetchDetailCmd(m.ds, selected.RunSummary)
}

// View implements tea.Model.
func (m Model) View() string {
	statusBar := m.renderStatusBar()

	if m.detail != nil {
		return statusBar + "\n" + m.detail.View()
	}

	board := NewBoardModel(m.rows)
	return statusBar + "\n" + board.RenderWithCursor(m.activeCol, m.activeRow) + "\n" + m.renderHelp()
}

// renderStatusBar shows the run log location, per-column counts, and either
// the refresh spinner or the last fetch error.
func (m Model) renderStatusBar() string {
	theme := DefaultTheme()

	counts := map[string]int{}
	for _, row := range m.rows {
		counts[columnForRun(row.RunSummary)]++
	}

	parts := []string{
		lipgloss.NewStyle().Foreground(theme.Muted).Render(m.dbPath),
		lipgloss.NewStyle().Render(" | Active: "),
		lipgloss.NewStyle().Foreground(theme.Primary).Render(fmt.Sprintf("%d", counts["Active"])),
		lipgloss.NewStyle().Render(" | Converged: "),
		lipgloss.NewStyle().Foreground(theme.Success).Render(fmt.Sprintf("%d", counts["Converged"])),
		lipgloss.NewStyle().Render(" | Halted: "),
		lipgloss.NewStyle().Foreground(theme.Warning).Render(fmt.Sprintf("%d", counts["Halted"])),
	}

	switch {
	case m.err != nil:
		parts = append(parts,
			lipgloss.NewStyle().Render(" | "),
			lipgloss.NewStyle().Foreground(theme.Error).Render("error: "+m.err.Error()))
	case m.loading:
		parts = append(parts, lipgloss.NewStyle().Render(" "), m.spinner.View())
	}

	return lipgloss.JoinHorizontal(lipgloss.Left, parts...)
}

// renderHelp is the key legend under the board.
func (m Model) renderHelp() string {
	theme := DefaultTheme()
	return lipgloss.NewStyle().Foreground(theme.Muted).
		Render("enter detail | tab/h/l column | j/k move | r refresh | q quit")
}
