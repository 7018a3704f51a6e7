package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"chisel/pkg/design"
)

// Log is the write side of the run log. Safe for concurrent use; database/sql
// serializes access to the single SQLite connection pool.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the run log database at path with WAL mode
// and a 5-second busy timeout, and applies the schema.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", path, err)
	}

	return &Log{db: db}, nil
}

// Close releases the database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Run describes a refinement run being recorded.
type Run struct {
	ID       string
	ScadFile string
	Mode     design.Mode
	Surface  string
	Model    string
}

// StartRun inserts the run row and its run_started event.
func (l *Log) StartRun(ctx context.Context, run Run) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, scad_file, mode, surface, model) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.ScadFile, string(run.Mode), run.Surface, run.Model)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return l.appendEvent(ctx, run.ID, EventRunStarted, 0, 0, "", "")
}

// iterationPayload is the JSON stored alongside an iteration event.
type iterationPayload struct {
	CriteriaScores   map[string]int `json:"criteria_scores,omitempty"`
	Issues           []string       `json:"issues,omitempty"`
	HasSuggestedCode bool           `json:"has_suggested_code"`
	StopReason       string         `json:"stop_reason,omitempty"`
}

// RecordIteration appends one evaluation event.
func (l *Log) RecordIteration(ctx context.Context, runID string, rec design.IterationRecord, eval design.Evaluation) error {
	payload, err := json.Marshal(iterationPayload{
		CriteriaScores:   eval.CriteriaScores,
		Issues:           eval.Issues,
		HasSuggestedCode: eval.HasSuggestedCode(),
		StopReason:       eval.StopReason,
	})
	if err != nil {
		return fmt.Errorf("marshal iteration payload: %w", err)
	}
	return l.appendEvent(ctx, runID, EventIteration, rec.Iteration, rec.Score, rec.Summary, string(payload))
}

// RecordApply appends a code_applied or apply_failed event. detail carries
// the validation diagnostics on failure.
func (l *Log) RecordApply(ctx context.Context, runID string, iteration int, applied bool, detail string) error {
	typ := EventCodeApplied
	if !applied {
		typ = EventApplyFailed
	}
	return l.appendEvent(ctx, runID, typ, iteration, 0, "", detail)
}

// FinishRun stamps the run row and appends the run_finished event.
func (l *Log) FinishRun(ctx context.Context, runID, haltReason string, finalScore int) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = datetime('now'), final_score = ?, halt_reason = ? WHERE id = ?`,
		finalScore, haltReason, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return l.appendEvent(ctx, runID, EventRunFinished, 0, finalScore, haltReason, "")
}

func (l *Log) appendEvent(ctx context.Context, runID, typ string, iteration, score int, summary, payload string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (run_id, type, iteration, score, summary, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, typ, iteration, score, summary, payload)
	if err != nil {
		return fmt.Errorf("append %s event for run %s: %w", typ, runID, err)
	}
	return nil
}
