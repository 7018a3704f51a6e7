package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"chisel/pkg/design"
)

// Action is a user decision solicited between iterations.
type Action string

const (
	ActionApply    Action = "apply"
	ActionSkip     Action = "skip"
	ActionFeedback Action = "feedback"
	ActionQuit     Action = "quit"
)

// Interactor solicits the user's decision after an evaluation that carries
// suggested code. The returned feedback accompanies ActionFeedback and is
// included in the next evaluation's user turn.
type Interactor interface {
	Prompt(eval design.Evaluation) (Action, string, error)
}

// ProgressFunc receives human-readable progress lines from the loop.
type ProgressFunc func(format string, args ...any)

// EventSink receives structured loop events for run logging. All methods are
// best-effort; implementations must not fail the loop.
type EventSink interface {
	IterationEvaluated(rec design.IterationRecord, eval design.Evaluation)
	CodeApplied(path string, iteration int)
	ApplyFailed(path string, iteration int, err error)
}

// Engine drives the blocking evaluate-apply loop over a single source file.
// Interactor may be nil when AutoApply or DryRun is set; Progress and Events
// may always be nil.
type Engine struct {
	Stepper    *Stepper
	Gate       *Gate
	Interactor Interactor
	Progress   ProgressFunc
	Events     EventSink
	AutoApply  bool
	DryRun     bool
}

// RunInput describes one loop run. Code is the file's current source text,
// already read (review) or generated and committed (generate).
type RunInput struct {
	Path        string
	Code        string
	Mode        design.Mode
	Description string
	Config      design.Config
}

// RunResult carries the iteration history and the reason the loop halted.
type RunResult struct {
	Records []design.IterationRecord
	Reason  Reason
}

// Run executes up to Config.MaxIterations evaluate-apply rounds and returns
// the history. Render and model failures abort the run with the records
// collected so far; a failed apply keeps the previous code and continues.
func (e *Engine) Run(ctx context.Context, in RunInput) (RunResult, error) {
	cfg := in.Config.Normalize()

	var (
		history  []design.Turn
		records  []design.IterationRecord
		feedback string
	)
	currentCode := in.Code
	reason := ReasonMaxIterations

loop:
	for i := 1; i <= cfg.MaxIterations; i++ {
		e.progress("Iteration %d/%d", i, cfg.MaxIterations)

		res, err := e.Stepper.Step(ctx, history, StepInput{
			Path:        in.Path,
			CurrentCode: currentCode,
			Mode:        in.Mode,
			Description: in.Description,
			Iteration:   i,
			Feedback:    feedback,
			Model:       cfg.Model,
		})
		if err != nil {
			return RunResult{Records: records}, err
		}
		feedback = ""
		history = append(history, res.UserTurn, res.AssistantTurn)
		records = append(records, res.Record)
		e.reportEvaluation(res.Evaluation)
		if e.Events != nil {
			e.Events.IterationEvaluated(res.Record, res.Evaluation)
		}

		if d := Decide(records, res.Evaluation, cfg.TargetScore, e.DryRun); d.Halt {
			reason = d.Reason
			e.reportHalt(d.Reason, res.Evaluation.Score, cfg.TargetScore)
			break
		}
		if !res.Evaluation.HasSuggestedCode() {
			e.progress("No code changes suggested.")
			continue
		}

		action := ActionApply
		if !e.AutoApply {
			var fb string
			action, fb, err = e.Interactor.Prompt(res.Evaluation)
			if err != nil {
				return RunResult{Records: records, Reason: ReasonUserQuit}, err
			}
			if fb != "" {
				feedback = fb
			}
		}

		switch action {
		case ActionQuit:
			reason = ReasonUserQuit
			e.progress("User requested quit.")
			break loop
		case ActionSkip:
			e.progress("Skipping changes, continuing with current code.")
		case ActionFeedback:
			e.progress("Feedback recorded. Will include in next evaluation.")
		case ActionApply:
			e.progress("Applying suggested changes...")
			if _, err := e.Gate.Commit(ctx, in.Path, res.Evaluation.SuggestedCode); err != nil {
				e.progress("Validation failed, keeping previous code: %v", err)
				if e.Events != nil {
					e.Events.ApplyFailed(in.Path, i, err)
				}
				continue
			}
			currentCode = res.Evaluation.SuggestedCode
			e.progress("Code validated and written.")
			if e.Events != nil {
				e.Events.CodeApplied(in.Path, i)
			}
		}
	}

	return RunResult{Records: records, Reason: reason}, nil
}

func (e *Engine) progress(format string, args ...any) {
	if e.Progress != nil {
		e.Progress(format, args...)
	}
}

// criteriaOrder is the display order for the evaluator's criteria scores.
// Unknown criteria sort after these, alphabetically.
//
//nolint:gochecknoglobals // fixed display table
var criteriaOrder = []string{"recognizability", "proportions", "visual_quality", "structural", "code_quality"}

func (e *Engine) reportEvaluation(ev design.Evaluation) {
	e.progress("Score: %d/10", ev.Score)
	e.progress("Summary: %s", ev.Summary)
	if len(ev.CriteriaScores) > 0 {
		e.progress("Criteria: %s", formatCriteria(ev.CriteriaScores))
	}
	if len(ev.Issues) > 0 {
		e.progress("Issues:")
		for _, issue := range ev.Issues {
			e.progress("  - %s", issue)
		}
	}
}

func (e *Engine) reportHalt(r Reason, score, target int) {
	switch r {
	case ReasonTargetReached:
		e.progress("Target score reached (%d >= %d) with no remaining issues. Done!", score, target)
	case ReasonNoImprovement:
		e.progress("No further improvement possible. Done!")
	case ReasonStagnant:
		e.progress("Score stagnant for %d consecutive iterations. Stopping.", stagnantWindow-1)
	case ReasonDryRun:
		e.progress("Dry run: evaluation only, no changes applied.")
	case ReasonMaxIterations, ReasonUserQuit:
		// reported where they arise
	}
}

func formatCriteria(scores map[string]int) string {
	parts := make([]string, 0, len(scores))
	seen := make(map[string]bool, len(scores))
	for _, k := range criteriaOrder {
		if v, ok := scores[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", k, v))
			seen[k] = true
		}
	}
	extras := make([]string, 0, len(scores))
	for k := range scores {
		if !seen[k] {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		parts = append(parts, fmt.Sprintf("%s=%d", k, scores[k]))
	}
	return strings.Join(parts, " ")
}
