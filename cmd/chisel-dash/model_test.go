package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"chisel/pkg/runlog"
)

// boardSource returns a fake with one run per column plus its trajectories.
func boardSource() *fakeSource {
	return &fakeSource{
		runs: []runlog.RunSummary{
			activeRun("aaaa1111-0000-0000-0000-000000000000", "mug.scad", 6, 2),
			finishedRun("bbbb2222-0000-0000-0000-000000000000", "gear.scad", "target_reached", 9, 3),
			finishedRun("cccc3333-0000-0000-0000-000000000000", "vase.scad", "stagnant", 5, 4),
		},
		events: map[string][]runlog.Event{
			"aaaa1111-0000-0000-0000-000000000000": {
				{ID: 3, RunID: "aaaa1111-0000-0000-0000-000000000000", Type: runlog.EventIteration, Iteration: 2, Score: 6, Summary: "Handle still blocky"},
				{ID: 2, RunID: "aaaa1111-0000-0000-0000-000000000000", Type: runlog.EventIteration, Iteration: 1, Score: 4, Summary: "Rough proportions"},
				{ID: 1, RunID: "aaaa1111-0000-0000-0000-000000000000", Type: runlog.EventRunStarted},
			},
		},
		scores: map[string][]int{
			"aaaa1111-0000-0000-0000-000000000000": {4, 6},
			"bbbb2222-0000-0000-0000-000000000000": {5, 7, 9},
			"cccc3333-0000-0000-0000-000000000000": {5, 5, 5, 5},
		},
	}
}

// loadedModel returns a model whose board has been populated from ds.
func loadedModel(t *testing.T, ds *fakeSource) Model {
	t.Helper()

	m := newModel(ds, "/tmp/runlog.db")
	msg := fetchRowsCmd(ds)()
	rm, ok := msg.(rowsMsg)
	if !ok {
		t.Fatalf("fetchRowsCmd returned %T, want rowsMsg", msg)
	}

	updated, _ := m.Update(rm)
	return updated.(Model)
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
}

// TestRowsMsgPopulatesBoard verifies a fetch result lands on the board and
// clears the loading flag.
func TestRowsMsgPopulatesBoard(t *testing.T) {
	m := loadedModel(t, boardSource())

	if m.loading {
		t.Error("loading should be false after rowsMsg")
	}
	if len(m.rows) != 3 {
		t.Fatalf("model has %d rows, want 3", len(m.rows))
	}
	if m.err != nil {
		t.Errorf("err = %v, want nil", m.err)
	}
}

// TestRowsMsgErrorKeepsBoard verifies a failed refresh keeps the stale rows
// and surfaces the error in the status bar.
func TestRowsMsgErrorKeepsBoard(t *testing.T) {
	m := loadedModel(t, boardSource())

	updated, _ := m.Update(rowsMsg{err: errors.New("database is locked")})
	m = updated.(Model)

	if len(m.rows) != 3 {
		t.Errorf("stale rows should survive a failed refresh, got %d", len(m.rows))
	}
	if m.err == nil {
		t.Fatal("err should be set after a failed refresh")
	}
	if !strings.Contains(m.renderStatusBar(), "database is locked") {
		t.Errorf("status bar should show the fetch error, got: %s", m.renderStatusBar())
	}
}

// TestStatusBarCounts verifies the per-column run counts.
func TestStatusBarCounts(t *testing.T) {
	m := loadedModel(t, boardSource())

	bar := m.renderStatusBar()
	for _, want := range []string{"/tmp/runlog.db", "Active", "Converged", "Halted"} {
		if !strings.Contains(bar, want) {
			t.Errorf("renderStatusBar() missing %q, got: %s", want, bar)
		}
	}
}

// TestQuitKeys verifies q and ctrl+c quit from both views.
func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := loadedModel(t, boardSource())

		_, cmd := m.Update(keyMsg(key))
		if cmd == nil {
			t.Fatalf("key %q should produce a command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("key %q should quit, got %T", key, cmd())
		}
	}
}

// TestDrillDownAndBack verifies enter opens the detail view for the selected
// run and esc returns to the board.
func TestDrillDownAndBack(t *testing.T) {
	ds := boardSource()
	m := loadedModel(t, ds)

	updated, cmd := m.Update(keyMsg("enter"))
	m = updated.(Model)

	if m.detail == nil {
		t.Fatal("enter should open the detail view")
	}
	if got := m.detail.run.ScadFile; got != "mug.scad" {
		t.Errorf("detail opened for %s, want mug.scad (first card of first column)", got)
	}
	if !m.detail.loading {
		t.Error("detail should be loading until the fetch lands")
	}
	if cmd == nil {
		t.Fatal("enter should schedule a detail fetch")
	}

	dm, ok := cmd().(detailMsg)
	if !ok {
		t.Fatalf("detail fetch returned %T, want detailMsg", cmd())
	}
	updated, _ = m.Update(dm)
	m = updated.(Model)

	if m.detail.loading {
		t.Error("detail should stop loading once the fetch lands")
	}
	if len(m.detail.events) != 3 {
		t.Errorf("detail has %d events, want 3", len(m.detail.events))
	}

	updated, _ = m.Update(keyMsg("esc"))
	m = updated.(Model)
	if m.detail != nil {
		t.Error("esc should close the detail view")
	}
}

// TestDrillDownEmptyBoard verifies enter is a no-op with no runs.
func TestDrillDownEmptyBoard(t *testing.T) {
	m := newModel(&fakeSource{}, "/tmp/runlog.db")

	updated, cmd := m.Update(keyMsg("enter"))
	m = updated.(Model)

	if m.detail != nil {
		t.Error("enter on an empty board should not open a detail view")
	}
	if cmd != nil {
		t.Error("enter on an empty board should not schedule a fetch")
	}
}

// TestDetailTabKey verifies tab cycles the detail tabs.
func TestDetailTabKey(t *testing.T) {
	m := loadedModel(t, boardSource())

	updated, _ := m.Update(keyMsg("enter"))
	m = updated.(Model)

	updated, _ = m.Update(keyMsg("tab"))
	m = updated.(Model)
	if m.detail.activeTab != 1 {
		t.Errorf("tab should move to the second detail tab, got %d", m.detail.activeTab)
	}
}

// TestBoardCursorMovement verifies column and row navigation skips empty
// columns and clamps at the edges.
func TestBoardCursorMovement(t *testing.T) {
	ds := boardSource()
	ds.runs = append(ds.runs, activeRun("dddd4444-0000-0000-0000-000000000000", "lamp.scad", 3, 1))
	m := loadedModel(t, ds)

	updated, _ := m.Update(keyMsg("down"))
	m = updated.(Model)
	if m.activeRow != 1 {
		t.Errorf("down should move to the second card, got row %d", m.activeRow)
	}

	updated, _ = m.Update(keyMsg("down"))
	m = updated.(Model)
	if m.activeRow != 1 {
		t.Errorf("down should clamp at the last card, got row %d", m.activeRow)
	}

	updated, _ = m.Update(keyMsg("up"))
	m = updated.(Model)
	if m.activeRow != 0 {
		t.Errorf("up should move back to the first card, got row %d", m.activeRow)
	}

	updated, _ = m.Update(keyMsg("l"))
	m = updated.(Model)
	if m.activeCol != 1 {
		t.Errorf("l should move to the Converged column, got col %d", m.activeCol)
	}

	updated, _ = m.Update(keyMsg("h"))
	m = updated.(Model)
	if m.activeCol != 0 {
		t.Errorf("h should move back to the Active column, got col %d", m.activeCol)
	}
}

// TestMoveColumnSkipsEmpty verifies navigation lands on the next column that
// actually has cards.
func TestMoveColumnSkipsEmpty(t *testing.T) {
	ds := &fakeSource{
		runs: []runlog.RunSummary{
			activeRun("run-1", "mug.scad", 5, 1),
			finishedRun("run-2", "vase.scad", "stagnant", 5, 4),
		},
		scores: map[string][]int{},
	}
	m := loadedModel(t, ds)

	updated, _ := m.Update(keyMsg("l"))
	m = updated.(Model)
	if m.activeCol != 2 {
		t.Errorf("l should skip the empty Converged column and land on Halted, got col %d", m.activeCol)
	}
}

// TestRefreshKey verifies r reloads the board immediately.
func TestRefreshKey(t *testing.T) {
	m := loadedModel(t, boardSource())

	updated, cmd := m.Update(keyMsg("r"))
	m = updated.(Model)

	if !m.loading {
		t.Error("r should set the loading flag")
	}
	if cmd == nil {
		t.Fatal("r should schedule a fetch")
	}
	if _, ok := cmd().(rowsMsg); !ok {
		t.Errorf("r should fetch the board, got %T", cmd())
	}
}

// TestTickSchedulesRefetch verifies the periodic tick reloads the board and
// re-arms itself.
func TestTickSchedulesRefetch(t *testing.T) {
	m := loadedModel(t, boardSource())

	updated, cmd := m.Update(tickMsg(testStart))
	m = updated.(Model)

	if !m.loading {
		t.Error("tick should set the loading flag")
	}
	if cmd == nil {
		t.Fatal("tick should schedule work")
	}
}

// TestFsChangeTriggersRefetch verifies a run log change reloads the board
// without waiting for the next tick.
func TestFsChangeTriggersRefetch(t *testing.T) {
	m := loadedModel(t, boardSource())

	updated, cmd := m.Update(fsChangeMsg{})
	m = updated.(Model)

	if !m.loading {
		t.Error("a run log change should set the loading flag")
	}
	if cmd == nil {
		t.Fatal("a run log change should schedule a fetch")
	}
	if _, ok := cmd().(rowsMsg); !ok {
		t.Errorf("a run log change should fetch the board, got %T", cmd())
	}
}

// TestRowsRefreshUpdatesOpenDetail verifies a board refresh carries new run
// state into an open detail view.
func TestRowsRefreshUpdatesOpenDetail(t *testing.T) {
	ds := boardSource()
	m := loadedModel(t, ds)

	updated, _ := m.Update(keyMsg("enter"))
	m = updated.(Model)

	finished := finishedRun("aaaa1111-0000-0000-0000-000000000000", "mug.scad", "target_reached", 9, 3)
	updated, _ = m.Update(rowsMsg{rows: []runRow{{RunSummary: finished, Scores: []int{4, 6, 9}}}})
	m = updated.(Model)

	if !m.detail.run.Finished() {
		t.Error("open detail should pick up the run finishing")
	}
	if len(m.detail.scores) != 3 {
		t.Errorf("open detail should pick up the new trajectory, got %v", m.detail.scores)
	}
}

// TestViewSwitchesBetweenBoardAndDetail verifies View renders the board by
// default and the detail view after a drilldown.
func TestViewSwitchesBetweenBoardAndDetail(t *testing.T) {
	m := loadedModel(t, boardSource())

	view := m.View()
	for _, want := range []string{"Active", "mug.scad", "gear.scad"} {
		if !strings.Contains(view, want) {
			t.Errorf("board view missing %q\ngot:\n%s", want, view)
		}
	}

	updated, _ := m.Update(keyMsg("enter"))
	m = updated.(Model)

	view = m.View()
	if !strings.Contains(view, "Overview") {
		t.Errorf("detail view missing tab strip\ngot:\n%s", view)
	}
}
