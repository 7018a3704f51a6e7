package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"chisel/pkg/agent"
	"chisel/pkg/design"
)

// RunRecorder receives session lifecycle events for the run log. All methods
// are best-effort and must not block the session flow.
type RunRecorder interface {
	RunStarted(sessionID, path string, mode design.Mode, model string)
	IterationEvaluated(sessionID string, rec design.IterationRecord, eval design.Evaluation)
	CodeApplied(sessionID string, iteration int)
	ApplyFailed(sessionID string, iteration int, err error)
	RunFinished(sessionID string, finalScore int)
}

// Service exposes the session operations: start, evaluate, apply, stop.
// Every stopping decision goes through agent.Decide, so a session converges
// exactly where the blocking loop would.
type Service struct {
	Store   *Store
	Stepper *agent.Stepper
	Gate    *agent.Gate
	// DataDir is where generate-mode designs land when the caller gives a
	// relative or empty output name.
	DataDir  string
	Recorder RunRecorder // optional

	// Now and NewID are injectable for tests; nil means real clock and
	// random UUIDs.
	Now   func() time.Time
	NewID func() string
}

func (svc *Service) now() time.Time {
	if svc.Now != nil {
		return svc.Now()
	}
	return time.Now()
}

func (svc *Service) newID() string {
	if svc.NewID != nil {
		return svc.NewID()
	}
	return uuid.NewString()
}

// StartInput describes a new session. ScadFile is required in review mode;
// Description is required in generate mode, with Output optionally naming
// the file to create.
type StartInput struct {
	Mode        design.Mode
	ScadFile    string
	Description string
	Output      string
	Config      design.Config
}

// StartResult identifies the created session.
type StartResult struct {
	SessionID string      `json:"session_id"`
	ScadFile  string      `json:"scad_file"`
	Mode      design.Mode `json:"mode"`
}

// Start creates a session after purging any expired ones. Review mode reads
// the existing file; generate mode synthesizes a first draft and commits it
// through the validation gate before the session exists.
func (svc *Service) Start(ctx context.Context, in StartInput) (StartResult, error) {
	svc.Store.PurgeExpired(svc.now())

	cfg := in.Config.Normalize()
	sess := &design.Session{
		ID:        svc.newID(),
		Mode:      in.Mode,
		Config:    cfg,
		CreatedAt: svc.now(),
	}

	switch in.Mode {
	case design.ModeReview:
		code, err := os.ReadFile(in.ScadFile)
		if err != nil {
			return StartResult{}, fmt.Errorf("read scad file: %w", err)
		}
		sess.Path = in.ScadFile
		sess.CurrentCode = string(code)
		sess.Description = "Review of " + filepath.Base(in.ScadFile)

	case design.ModeGenerate:
		path := agent.OutputPath(in.Output, in.Description, svc.DataDir)
		code, err := svc.Stepper.Generate(ctx, in.Description, cfg.Model)
		if err != nil {
			return StartResult{}, err
		}
		if _, err := svc.Gate.Commit(ctx, path, code); err != nil {
			return StartResult{}, err
		}
		sess.Path = path
		sess.CurrentCode = code
		sess.Description = in.Description

	default:
		return StartResult{}, fmt.Errorf("unknown mode %q", in.Mode)
	}

	svc.Store.Add(sess)
	if svc.Recorder != nil {
		svc.Recorder.RunStarted(sess.ID, sess.Path, sess.Mode, sess.Config.Model)
	}
	return StartResult{SessionID: sess.ID, ScadFile: sess.Path, Mode: sess.Mode}, nil
}

// EvaluateInput drives one iteration of the named session. Feedback, when
// set, rides into this evaluation's user turn.
type EvaluateInput struct {
	SessionID string
	Feedback  string
}

// EvaluateResult is the session surface's view of one iteration.
type EvaluateResult struct {
	SessionID        string                   `json:"session_id"`
	Iteration        int                      `json:"iteration"`
	Score            int                      `json:"score"`
	Summary          string                   `json:"summary"`
	CriteriaScores   map[string]int           `json:"criteria_scores,omitempty"`
	Issues           []string                 `json:"issues,omitempty"`
	HasSuggestedCode bool                     `json:"has_suggested_code"`
	PreviewB64       string                   `json:"preview_base64"`
	Converged        bool                     `json:"converged"`
	ConvergeReason   agent.Reason             `json:"converge_reason,omitempty"`
	History          []design.IterationRecord `json:"history"`
}

// Evaluate renders, critiques, and records one iteration. The suggested code
// is staged on the session, overwriting any prior stage, and nothing touches
// the file until Apply. A render failure records nothing.
func (svc *Service) Evaluate(ctx context.Context, in EvaluateInput) (EvaluateResult, error) {
	var (
		res EvaluateResult
		rec design.IterationRecord
		ev  design.Evaluation
	)
	err := svc.Store.With(in.SessionID, func(sess *design.Session) error {
		next := len(sess.Iterations) + 1
		if next > sess.Config.MaxIterations {
			return &design.IterationLimitError{ID: sess.ID, Max: sess.Config.MaxIterations}
		}

		step, err := svc.Stepper.Step(ctx, sess.History, agent.StepInput{
			Path:        sess.Path,
			CurrentCode: sess.CurrentCode,
			Mode:        sess.Mode,
			Description: sess.Description,
			Iteration:   next,
			Feedback:    in.Feedback,
			Model:       sess.Config.Model,
		})
		if err != nil {
			return err
		}

		sess.History = append(sess.History, step.UserTurn, step.AssistantTurn)
		sess.Iterations = append(sess.Iterations, step.Record)
		sess.PendingCode = step.Evaluation.SuggestedCode

		d := agent.Decide(sess.Iterations, step.Evaluation, sess.Config.TargetScore, false)

		ev = step.Evaluation
		rec = step.Record
		res = EvaluateResult{
			SessionID:        sess.ID,
			Iteration:        next,
			Score:            step.Evaluation.Score,
			Summary:          step.Evaluation.Summary,
			CriteriaScores:   step.Evaluation.CriteriaScores,
			Issues:           step.Evaluation.Issues,
			HasSuggestedCode: step.Evaluation.HasSuggestedCode(),
			PreviewB64:       step.PreviewB64,
			Converged:        d.Halt,
			ConvergeReason:   d.Reason,
			History:          append([]design.IterationRecord(nil), sess.Iterations...),
		}
		return nil
	})
	if err != nil {
		return EvaluateResult{}, err
	}
	if svc.Recorder != nil {
		svc.Recorder.IterationEvaluated(in.SessionID, rec, ev)
	}
	return res, nil
}

// ApplyResult reports a successful apply.
type ApplyResult struct {
	Applied  bool   `json:"applied"`
	Message  string `json:"message"`
	Warnings string `json:"warnings,omitempty"`
}

// Apply commits the staged code through the validation gate. Success updates
// the session's current code and clears the stage; a validation failure
// leaves both the file and the stage untouched.
func (svc *Service) Apply(ctx context.Context, sessionID string) (ApplyResult, error) {
	var (
		res       ApplyResult
		iteration int
		applyErr  error
	)
	err := svc.Store.With(sessionID, func(sess *design.Session) error {
		iteration = len(sess.Iterations)
		if !sess.HasPendingCode() {
			return &design.NoPendingCodeError{ID: sess.ID}
		}
		warnings, err := svc.Gate.Commit(ctx, sess.Path, sess.PendingCode)
		if err != nil {
			applyErr = err
			return err
		}
		sess.CurrentCode = sess.PendingCode
		sess.PendingCode = ""
		res = ApplyResult{Applied: true, Message: "Code applied and validated", Warnings: warnings}
		return nil
	})
	if svc.Recorder != nil {
		switch {
		case err == nil:
			svc.Recorder.CodeApplied(sessionID, iteration)
		case applyErr != nil:
			svc.Recorder.ApplyFailed(sessionID, iteration, applyErr)
		}
	}
	if err != nil {
		return ApplyResult{}, err
	}
	return res, nil
}

// StopResult carries the final history of a stopped session.
type StopResult struct {
	SessionID string                   `json:"session_id"`
	History   []design.IterationRecord `json:"history"`
}

// Stop removes the session and returns its history. Stopping an unknown or
// already-stopped session is a SessionNotFoundError.
func (svc *Service) Stop(sessionID string) (StopResult, error) {
	sess, ok := svc.Store.Remove(sessionID)
	if !ok {
		return StopResult{}, &design.SessionNotFoundError{ID: sessionID}
	}
	if svc.Recorder != nil {
		final := 0
		if n := len(sess.Iterations); n > 0 {
			final = sess.Iterations[n-1].Score
		}
		svc.Recorder.RunFinished(sessionID, final)
	}
	return StopResult{SessionID: sessionID, History: sess.Iterations}, nil
}
