// Package agent drives chisel's evaluate-apply refinement loop: it frames
// conversation turns for the vision model, decides when a run should halt,
// and gates suggested code behind render validation before it reaches disk.
//
// The blocking CLI loop and the session surface both funnel their per-
// iteration state through Decide, so a given history always produces the
// same stopping decision regardless of which surface drove it.
package agent

import (
	"chisel/pkg/design"
)

// Reason explains why a run halted.
type Reason string

const (
	// ReasonTargetReached means the score met the target with no further
	// code suggested.
	ReasonTargetReached Reason = "target_reached"
	// ReasonNoImprovement means the evaluator reported it is stuck.
	ReasonNoImprovement Reason = "no_improvement"
	// ReasonStagnant means the last three scores failed to increase.
	ReasonStagnant Reason = "stagnant"
	// ReasonDryRun means the run was evaluation-only.
	ReasonDryRun Reason = "dry_run"
	// ReasonMaxIterations means the iteration budget ran out.
	ReasonMaxIterations Reason = "max_iterations"
	// ReasonUserQuit means the user ended the run at the prompt.
	ReasonUserQuit Reason = "user_quit"
)

// stagnantWindow is how many trailing scores must be non-increasing before a
// run is declared stagnant.
const stagnantWindow = 3

// Decision is the outcome of one stopping check.
type Decision struct {
	Halt   bool
	Reason Reason
}

// Decide applies the stopping rules to the history so far, in precedence
// order: target reached, evaluator stuck, stagnant scores, dry run. The
// evaluation must already be recorded as the last element of records.
//
// A score at or above target only halts the run when the evaluator suggested
// no further code; a high score with pending suggestions keeps iterating.
func Decide(records []design.IterationRecord, eval design.Evaluation, targetScore int, dryRun bool) Decision {
	if eval.Score >= targetScore && !eval.HasSuggestedCode() {
		return Decision{Halt: true, Reason: ReasonTargetReached}
	}
	if eval.StopReason == design.StopNoImprovement {
		return Decision{Halt: true, Reason: ReasonNoImprovement}
	}
	if stagnant(design.Scores(records)) {
		return Decision{Halt: true, Reason: ReasonStagnant}
	}
	if dryRun {
		return Decision{Halt: true, Reason: ReasonDryRun}
	}
	return Decision{}
}

// stagnant reports whether the last stagnantWindow scores are non-increasing.
// Fewer than stagnantWindow scores can never be stagnant.
func stagnant(scores []int) bool {
	n := len(scores)
	if n < stagnantWindow {
		return false
	}
	return scores[n-1] <= scores[n-2] && scores[n-2] <= scores[n-3]
}
