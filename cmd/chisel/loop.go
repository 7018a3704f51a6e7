package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"chisel/internal/config"
	"chisel/pkg/agent"
	"chisel/pkg/design"
	"chisel/pkg/render"
	"chisel/pkg/runlog"
	"chisel/pkg/vision"
)

// envModel overrides the evaluation model when no -m flag is given.
const envModel = "CHISEL_MODEL"

// loopOptions holds the tuning flags shared by review and generate.
type loopOptions struct {
	model         string
	targetScore   int
	maxIterations int
	auto          bool
	dryRun        bool
}

// interactionMode names how apply decisions are made, for the header line.
func (o loopOptions) interactionMode() string {
	switch {
	case o.dryRun:
		return "dry-run"
	case o.auto:
		return "auto"
	default:
		return "interactive"
	}
}

// bindLoopFlags registers the flags common to both loop commands.
func bindLoopFlags(cmd *cobra.Command, opts *loopOptions) {
	cmd.Flags().IntVarP(&opts.maxIterations, "max-iterations", "n", design.DefaultMaxIterations, "evaluation budget")
	cmd.Flags().IntVarP(&opts.targetScore, "target-score", "t", design.DefaultTargetScore, "score that ends the run")
	cmd.Flags().StringVarP(&opts.model, "model", "m", design.DefaultModel, "vision model for evaluations")
	cmd.Flags().BoolVar(&opts.auto, "auto", false, "apply suggested code without prompting")
}

// applyFileDefaults fills options the user left untouched from the config
// file. An explicit flag always wins; CHISEL_MODEL beats the file's model.
func applyFileDefaults(cmd *cobra.Command, opts *loopOptions, f config.File) {
	if !cmd.Flags().Changed("model") {
		if env := os.Getenv(envModel); env != "" {
			opts.model = env
		} else if f.Model != "" {
			opts.model = f.Model
		}
	}
	if !cmd.Flags().Changed("target-score") && f.TargetScore > 0 {
		opts.targetScore = f.TargetScore
	}
	if !cmd.Flags().Changed("max-iterations") && f.MaxIterations > 0 {
		opts.maxIterations = f.MaxIterations
	}
	if !cmd.Flags().Changed("auto") && f.AutoApply {
		opts.auto = true
	}
}

// loadEnvironment resolves the state paths, loads the optional config file,
// and merges any presets.toml overrides into the render quality tables. The
// config file may relocate the data dir; CHISEL_DATA_DIR still wins.
func loadEnvironment() (*config.Paths, config.File, error) {
	paths, err := config.ResolvePaths()
	if err != nil {
		return nil, config.File{}, err
	}
	file, err := config.LoadFile(paths.ConfigPath)
	if err != nil {
		return nil, config.File{}, err
	}
	if file.DataDir != "" && os.Getenv("CHISEL_DATA_DIR") == "" {
		paths.DataDir = file.DataDir
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, config.File{}, err
	}
	presets, err := config.LoadPresets(paths.PresetsPath)
	if err != nil {
		return nil, config.File{}, err
	}
	config.ApplyPresets(presets)
	return paths, file, nil
}

// newRenderer builds the OpenSCAD adapter. OPENSCAD_BINARY wins over the
// config file's binary; both fall back to PATH discovery.
func newRenderer(f config.File) (*render.Renderer, error) {
	if os.Getenv(render.EnvBinary) != "" || f.OpenSCADBinary == "" {
		return render.New()
	}

	r := &render.Renderer{Binary: f.OpenSCADBinary, Timeout: render.DefaultTimeout, Runner: &render.ExecCommandRunner{}}
	if f.RenderTimeout > 0 {
		r.Timeout = time.Duration(f.RenderTimeout) * time.Second
	}
	if raw := os.Getenv(render.EnvTimeout); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid %s value %q: want seconds", render.EnvTimeout, raw)
		}
		r.Timeout = time.Duration(secs) * time.Second
	}
	return r, nil
}

// loopDeps holds injectable dependencies for the loop commands.
type loopDeps struct {
	stepper *agent.Stepper
	gate    *agent.Gate
	runLog  *runlog.Log // nil disables run logging
	file    config.File
	dataDir string
	stdin   io.Reader
	isTTY   bool
}

// newLoopDeps creates real dependencies. The returned cleanup closes the run
// log and must be called even when a run fails.
func newLoopDeps(errOut io.Writer) (*loopDeps, func(), error) {
	paths, file, err := loadEnvironment()
	if err != nil {
		return nil, nil, err
	}

	renderer, err := newRenderer(file)
	if err != nil {
		return nil, nil, err
	}

	apiKey, err := vision.LoadAPIKey(".")
	if err != nil {
		return nil, nil, err
	}
	client := vision.NewClient(apiKey)
	client.OnRetry = func(a vision.Attempt) {
		fmt.Fprintf(errOut, "  Retrying call (attempt %d failed, waiting %s): %v\n", a.Number, a.Delay, a.Err)
	}

	runLog, err := runlog.Open(paths.RunLogPath)
	if err != nil {
		fmt.Fprintf(errOut, "  Warning: run log unavailable: %v\n", err)
		runLog = nil
	}
	cleanup := func() {
		if runLog != nil {
			_ = runLog.Close()
		}
	}

	return &loopDeps{
		stepper: &agent.Stepper{Previewer: renderer, Caller: client},
		gate:    &agent.Gate{Validator: renderer},
		runLog:  runLog,
		file:    file,
		dataDir: paths.DataDir,
		stdin:   os.Stdin,
		isTTY:   isatty.IsTerminal(os.Stdin.Fd()),
	}, cleanup, nil
}

// runLoop drives one engine run with run logging around it and prints the
// final summary regardless of how the run ended.
func runLoop(ctx context.Context, deps *loopDeps, opts loopOptions, in agent.RunInput, out io.Writer) error {
	eng := &agent.Engine{
		Stepper: deps.stepper,
		Gate:    deps.gate,
		Progress: func(format string, args ...any) {
			fmt.Fprintf(out, "  "+format+"\n", args...)
		},
		AutoApply: opts.auto,
		DryRun:    opts.dryRun,
	}
	if !opts.auto && !opts.dryRun {
		eng.Interactor = newPromptInteractor(deps.stdin, out)
	}

	runID := uuid.NewString()
	if deps.runLog != nil {
		_ = deps.runLog.StartRun(ctx, runlog.Run{
			ID:       runID,
			ScadFile: in.Path,
			Mode:     in.Mode,
			Surface:  "cli",
			Model:    opts.model,
		})
		eng.Events = &runlogSink{log: deps.runLog, runID: runID}
	}

	res, runErr := eng.Run(ctx, in)

	if deps.runLog != nil {
		final := 0
		if n := len(res.Records); n > 0 {
			final = res.Records[n-1].Score
		}
		_ = deps.runLog.FinishRun(ctx, runID, string(res.Reason), final)
	}

	printSummary(out, res.Records, in.Path)
	return runErr
}

// runlogSink adapts engine events to the run log. Writes are best-effort so
// logging can never disturb a run.
type runlogSink struct {
	log   *runlog.Log
	runID string
}

func (s *runlogSink) IterationEvaluated(rec design.IterationRecord, eval design.Evaluation) {
	_ = s.log.RecordIteration(context.Background(), s.runID, rec, eval)
}

func (s *runlogSink) CodeApplied(_ string, iteration int) {
	_ = s.log.RecordApply(context.Background(), s.runID, iteration, true, "")
}

func (s *runlogSink) ApplyFailed(_ string, iteration int, err error) {
	_ = s.log.RecordApply(context.Background(), s.runID, iteration, false, err.Error())
}

// printRunHeader prints the banner shown before the first iteration.
func printRunHeader(w io.Writer, opts loopOptions, mode design.Mode, subject string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  OpenSCAD Design Agent")
	fmt.Fprintf(w, "  Model: %s\n", opts.model)
	fmt.Fprintf(w, "  Mode: %s (%s)\n", mode, opts.interactionMode())
	if mode == design.ModeGenerate {
		fmt.Fprintf(w, "  Description: %s\n", subject)
	} else {
		fmt.Fprintf(w, "  File: %s\n", subject)
	}
	fmt.Fprintf(w, "  Target: %d/10 | Max iterations: %d\n", opts.targetScore, opts.maxIterations)
}

//nolint:gochecknoglobals // fixed banner text
var summaryRule = strings.Repeat("=", 60)

// printSummary reports the run outcome: score trajectory and final verdict.
func printSummary(w io.Writer, history []design.IterationRecord, scadPath string) {
	fmt.Fprintf(w, "\n%s\n", summaryRule)
	fmt.Fprintln(w, "  FINAL SUMMARY")
	fmt.Fprintln(w, summaryRule)
	fmt.Fprintf(w, "  File: %s\n", scadPath)
	fmt.Fprintf(w, "  Iterations: %d\n", len(history))
	if len(history) == 0 {
		fmt.Fprintln(w, "  No evaluation completed.")
		return
	}
	fmt.Fprintf(w, "  Score progression: %s\n", scoreProgression(design.Scores(history)))
	last := history[len(history)-1]
	fmt.Fprintf(w, "  Final score: %d/10\n", last.Score)
	fmt.Fprintf(w, "  Final assessment: %s\n", last.Summary)
}

// scoreProgression joins scores as "6 -> 7 -> 8".
func scoreProgression(scores []int) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, " -> ")
}

// promptInteractor implements the interactive apply/skip/feedback/quit menu.
type promptInteractor struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPromptInteractor(in io.Reader, out io.Writer) *promptInteractor {
	return &promptInteractor{in: bufio.NewScanner(in), out: out}
}

// Prompt shows the action menu and reads one choice. EOF on stdin quits the
// run; feedback collects lines until an empty one.
func (p *promptInteractor) Prompt(_ design.Evaluation) (agent.Action, string, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "  [a] apply    use the suggested code, then next iteration")
	fmt.Fprintln(p.out, "  [s] skip     keep the current code, then next iteration")
	fmt.Fprintln(p.out, "  [f] feedback send a note to the evaluator, then re-evaluate")
	fmt.Fprintln(p.out, "  [q] quit")

	for {
		fmt.Fprint(p.out, "  choice> ")
		if !p.in.Scan() {
			return agent.ActionQuit, "", p.in.Err()
		}
		switch strings.ToLower(strings.TrimSpace(p.in.Text())) {
		case "a":
			return agent.ActionApply, "", nil
		case "s":
			return agent.ActionSkip, "", nil
		case "f":
			return agent.ActionFeedback, p.readFeedback(), nil
		case "q":
			return agent.ActionQuit, "", nil
		default:
			fmt.Fprintln(p.out, "  Please choose one of a/s/f/q.")
		}
	}
}

func (p *promptInteractor) readFeedback() string {
	fmt.Fprintln(p.out, "  Enter feedback (empty line to finish):")
	var lines []string
	for {
		fmt.Fprint(p.out, "  > ")
		if !p.in.Scan() {
			break
		}
		line := p.in.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
