// Package main implements chisel-dash, a terminal dashboard over the chisel
// run log. It shows a board of recent runs grouped by outcome and a per-run
// drilldown of iterations and events, refreshing as new runs are logged.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"chisel/internal/config"
	"chisel/pkg/runlog"
)

func main() {
	paths, err := config.ResolvePaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving chisel paths: %v\n", err)
		os.Exit(1)
	}

	reader, err := runlog.NewReader(paths.RunLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening run log: %v\n", err)
		os.Exit(1)
	}
	defer reader.Close()

	m := newModel(reader, paths.RunLogPath)
	m.watcher = newRunLogWatcher(paths.RunLogPath)
	if m.watcher != nil {
		defer m.watcher.Close()
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
