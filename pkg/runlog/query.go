package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// RunSummary is one row of the runs board: the run metadata joined with its
// iteration count. FinishedAt is the zero time while the run is live.
type RunSummary struct {
	ID         string
	ScadFile   string
	Mode       string
	Surface    string
	Model      string
	StartedAt  time.Time
	FinishedAt time.Time
	FinalScore int
	HaltReason string
	Iterations int
	LastScore  int
}

// Finished reports whether the run has been stamped complete.
func (r RunSummary) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Event is one row from the events stream.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Iteration int
	Score     int
	Summary   string
	Payload   string
	CreatedAt time.Time
}

// RunQuery filters the runs board.
type RunQuery struct {
	// ActiveOnly restricts to runs without a finished_at stamp.
	ActiveOnly bool
	// Since keeps runs started at or after this time.
	Since *time.Time
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// EventQuery filters the event stream.
type EventQuery struct {
	// RunID restricts to one run's events.
	RunID string
	// Type restricts to one event type (e.g. EventIteration).
	Type string
	// After keeps events created at or after this time.
	After *time.Time
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Reader provides read-only access to the run log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the run log in read-only mode with WAL so live writers are
// never blocked. The database must already exist.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("run log not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping run log: %w", err)
	}

	return &Reader{db: db}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Runs returns the runs board, newest first.
func (r *Reader) Runs(ctx context.Context, q RunQuery) ([]RunSummary, error) {
	query, args := buildRunQuery(q)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			rs         RunSummary
			startedAt  string
			finishedAt sql.NullString
			finalScore sql.NullInt64
			haltReason sql.NullString
			lastScore  sql.NullInt64
		)
		err := rows.Scan(&rs.ID, &rs.ScadFile, &rs.Mode, &rs.Surface, &rs.Model,
			&startedAt, &finishedAt, &finalScore, &haltReason, &rs.Iterations, &lastScore)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if rs.StartedAt, err = parseDBTime(startedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			if rs.FinishedAt, err = parseDBTime(finishedAt.String); err != nil {
				return nil, err
			}
		}
		rs.FinalScore = int(finalScore.Int64)
		rs.HaltReason = haltReason.String
		rs.LastScore = int(lastScore.Int64)
		runs = append(runs, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Events returns matching events, newest first.
func (r *Reader) Events(ctx context.Context, q EventQuery) ([]Event, error) {
	query, args := buildEventQuery(q)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			createdAt string
		)
		err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Iteration, &e.Score, &e.Summary, &e.Payload, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ScoreProgression returns a run's iteration scores in order.
func (r *Reader) ScoreProgression(ctx context.Context, runID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT score FROM events WHERE run_id = ? AND type = ? ORDER BY iteration ASC`,
		runID, EventIteration)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var scores []int
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return scores, nil
}

const dbTimeLayout = "2006-01-02 15:04:05"

// parseDBTime handles both SQLite datetime('now') output and RFC3339.
func parseDBTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dbTimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t, nil
}

func buildRunQuery(q RunQuery) (string, []any) {
	var conditions []string
	var args []any

	query := `SELECT r.id, r.scad_file, r.mode, r.surface, r.model,
       r.started_at, r.finished_at, r.final_score, r.halt_reason,
       (SELECT COUNT(*) FROM events e WHERE e.run_id = r.id AND e.type = '` + EventIteration + `') AS iterations,
       (SELECT e.score FROM events e WHERE e.run_id = r.id AND e.type = '` + EventIteration + `' ORDER BY e.iteration DESC LIMIT 1) AS last_score
FROM runs r WHERE 1=1`

	if q.ActiveOnly {
		conditions = append(conditions, "r.finished_at IS NULL")
	}
	if q.Since != nil {
		conditions = append(conditions, "r.started_at >= ?")
		args = append(args, q.Since.UTC().Format(dbTimeLayout))
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY r.started_at DESC, r.id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return query, args
}

func buildEventQuery(q EventQuery) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, run_id, type, iteration, score, summary, payload, created_at FROM events WHERE 1=1"

	if q.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, q.Type)
	}
	if q.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, q.After.UTC().Format(dbTimeLayout))
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return query, args
}
