package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"chisel/internal/config"
	"chisel/pkg/runlog"
)

// followBatch caps how many new events one follow poll fetches.
const followBatch = 100

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail   int
	follow bool
	asJSON bool
}

// newLogsCmd creates the "chisel logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "Show recent refinement run events",
		Long:  "Displays events from the run log.\nOptionally filter by run id and follow new events.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}

			paths, err := config.ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			reader, err := runlog.NewReader(paths.RunLogPath)
			if err != nil {
				return err
			}
			defer reader.Close()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followEvents(cmd.Context(), reader, w, runID, cfg)
			}
			return printEvents(cmd.Context(), reader, w, runID, cfg)
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")
	cmd.Flags().BoolVar(&cfg.asJSON, "json", false, "emit events as NDJSON instead of a table")

	return cmd
}

// printEvents displays the last N events in chronological order.
func printEvents(ctx context.Context, reader *runlog.Reader, w io.Writer, runID string, cfg logsConfig) error {
	events, err := reader.Events(ctx, runlog.EventQuery{RunID: runID, Limit: cfg.tail})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}

	reverseEvents(events)
	for i := range events {
		if err := writeEvent(w, &events[i], cfg.asJSON); err != nil {
			return err
		}
	}
	return nil
}

// followEvents prints the initial batch, then polls for newer events every
// second until the context is cancelled.
func followEvents(ctx context.Context, reader *runlog.Reader, w io.Writer, runID string, cfg logsConfig) error {
	events, err := reader.Events(ctx, runlog.EventQuery{RunID: runID, Limit: cfg.tail})
	if err != nil {
		return err
	}
	reverseEvents(events)

	var lastID int64
	var since *time.Time
	for i := range events {
		if err := writeEvent(w, &events[i], cfg.asJSON); err != nil {
			return err
		}
		lastID = events[i].ID
		t := events[i].CreatedAt
		since = &t
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// The since filter is inclusive, so same-second replays are
			// dropped by the id watermark instead.
			fresh, err := reader.Events(ctx, runlog.EventQuery{RunID: runID, After: since, Limit: followBatch})
			if err != nil {
				return err
			}
			reverseEvents(fresh)
			for i := range fresh {
				if fresh[i].ID <= lastID {
					continue
				}
				if err := writeEvent(w, &fresh[i], cfg.asJSON); err != nil {
					return err
				}
				lastID = fresh[i].ID
				t := fresh[i].CreatedAt
				since = &t
			}
		}
	}
}

// writeEvent renders one event as a table row or an NDJSON line.
func writeEvent(w io.Writer, evt *runlog.Event, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(evt)
	}

	detail := evt.Summary
	if detail == "" {
		detail = evt.Payload
	}

	// Format: timestamp | run | type | iteration/score | detail
	_, err := fmt.Fprintf(w, "%s | %-8.8s | %-14s | it=%d score=%d | %s\n",
		evt.CreatedAt.Format("2006-01-02 15:04:05"), evt.RunID, evt.Type, evt.Iteration, evt.Score, detail)
	return err
}

// reverseEvents flips the reader's newest-first order to chronological.
func reverseEvents(events []runlog.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
