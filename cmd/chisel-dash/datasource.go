package main

import (
	"context"
	"fmt"

	"chisel/pkg/runlog"
)

// boardRunLimit caps how many runs one board refresh loads.
const boardRunLimit = 50

// dataSource is the slice of the run log reader the dashboard consumes.
// Tests substitute an in-memory fake.
type dataSource interface {
	Runs(ctx context.Context, q runlog.RunQuery) ([]runlog.RunSummary, error)
	Events(ctx context.Context, q runlog.EventQuery) ([]runlog.Event, error)
	ScoreProgression(ctx context.Context, runID string) ([]int, error)
}

var _ dataSource = (*runlog.Reader)(nil)

// runRow is one card on the board: a run summary plus its score trajectory.
type runRow struct {
	runlog.RunSummary
	Scores []int
}

// runDetail is everything the drilldown view shows for a single run.
type runDetail struct {
	Run    runlog.RunSummary
	Scores []int
	Events []runlog.Event // chronological
}

// loadRows fetches the most recent runs and each run's score progression.
func loadRows(ctx context.Context, ds dataSource) ([]runRow, error) {
	runs, err := ds.Runs(ctx, runlog.RunQuery{Limit: boardRunLimit})
	if err != nil {
		return nil, err
	}

	rows := make([]runRow, 0, len(runs))
	for _, r := range runs {
		scores, err := ds.ScoreProgression(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("scores for run %s: %w", shortID(r.ID), err)
		}
		rows = append(rows, runRow{RunSummary: r, Scores: scores})
	}
	return rows, nil
}

// loadDetail fetches one run's full event history. The reader returns events
// newest first; the detail view reads top-down, so they are reversed here.
func loadDetail(ctx context.Context, ds dataSource, run runlog.RunSummary) (runDetail, error) {
	events, err := ds.Events(ctx, runlog.EventQuery{RunID: run.ID})
	if err != nil {
		return runDetail{}, fmt.Errorf("events for run %s: %w", shortID(run.ID), err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	scores, err := ds.ScoreProgression(ctx, run.ID)
	if err != nil {
		return runDetail{}, fmt.Errorf("scores for run %s: %w", shortID(run.ID), err)
	}

	return runDetail{Run: run, Scores: scores, Events: events}, nil
}

// shortID returns the first group of a uuid-style run id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
