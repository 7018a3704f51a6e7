// Package runlog persists refinement run history to SQLite: one row per run
// plus an append-only event stream per iteration. The writer side is used by
// the CLI loop and the session service; the read-only side feeds chisel-dash
// and the logs subcommand.
package runlog

// SchemaDDL defines the SQLite schema for the run log database.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- One row per refinement run (CLI loop or web session)
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    scad_file TEXT NOT NULL,
    mode TEXT NOT NULL,
    surface TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL DEFAULT (datetime('now')),
    finished_at TEXT,
    final_score INTEGER,
    halt_reason TEXT
);

-- Append-only run events: iterations, applies, lifecycle
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL,
    type TEXT NOT NULL,
    iteration INTEGER NOT NULL DEFAULT 0,
    score INTEGER NOT NULL DEFAULT 0,
    summary TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id);
`

// Event type constants for the events table.
const (
	EventRunStarted  = "run_started"
	EventIteration   = "iteration"
	EventCodeApplied = "code_applied"
	EventApplyFailed = "apply_failed"
	EventRunFinished = "run_finished"
)

// Surface constants identify which entry point drove a run.
const (
	SurfaceCLI     = "cli"
	SurfaceSession = "session"
)
