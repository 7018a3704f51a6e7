package agent

import (
	"context"
	"encoding/base64"
	"fmt"

	"chisel/pkg/critique"
	"chisel/pkg/design"
	"chisel/pkg/render"
)

// Previewer renders a .scad file to PNG bytes for evaluation.
// *render.Renderer satisfies it.
type Previewer interface {
	RenderImage(ctx context.Context, scadPath string, opts render.RenderOptions) ([]byte, error)
}

// Caller sends a system prompt plus conversation turns to the vision model
// and returns the raw response text. *vision.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, systemPrompt string, turns []design.Turn, model string) (string, error)
}

// previewOptions is the render configuration every evaluation preview uses.
func previewOptions() render.RenderOptions {
	return render.RenderOptions{
		Width:     render.DefaultWidth,
		Height:    render.DefaultHeight,
		Overrides: render.PresetEval,
	}
}

// StepInput is the per-iteration state a Step needs.
type StepInput struct {
	Path        string
	CurrentCode string
	Mode        design.Mode
	Description string
	Iteration   int    // 1-based
	Feedback    string // pending user feedback, consumed by this step
	Model       string
}

// StepResult is everything one iteration produced. UserTurn and
// AssistantTurn must be appended to the conversation before the next Step so
// the model sees its own prior suggestions.
type StepResult struct {
	Evaluation    design.Evaluation
	Record        design.IterationRecord
	PreviewB64    string
	UserTurn      design.Turn
	AssistantTurn design.Turn
}

// Stepper performs single evaluate iterations: render the current source,
// frame the user turn, call the model, and parse the reply. The blocking
// loop and the session surface both run through the same Stepper so a given
// history produces identical evaluations and stopping decisions on either.
type Stepper struct {
	Previewer Previewer
	Caller    Caller
}

// Step runs one evaluation against path's current code. A render failure is
// returned before any model call; a model failure is returned after retries
// are exhausted. Parsing never fails.
func (s *Stepper) Step(ctx context.Context, history []design.Turn, in StepInput) (StepResult, error) {
	png, err := s.Previewer.RenderImage(ctx, in.Path, previewOptions())
	if err != nil {
		return StepResult{}, err
	}
	b64 := base64.StdEncoding.EncodeToString(png)

	userTurn := design.UserTurn(framingText(in), b64, in.CurrentCode)
	turns := make([]design.Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, userTurn)

	raw, err := s.Caller.Call(ctx, evalSystemPrompt, turns, in.Model)
	if err != nil {
		return StepResult{}, err
	}
	ev := critique.Parse(raw)

	return StepResult{
		Evaluation: ev,
		Record: design.IterationRecord{
			Iteration: in.Iteration,
			Score:     ev.Score,
			Summary:   ev.Summary,
			Issues:    ev.Issues,
		},
		PreviewB64:    b64,
		UserTurn:      userTurn,
		AssistantTurn: design.AssistantTurn(raw),
	}, nil
}

// Generate synthesizes first-draft .scad source from a description. The
// response's openscad fence is preferred; a fenceless response is taken
// whole.
func (s *Stepper) Generate(ctx context.Context, description, model string) (string, error) {
	turn := design.UserTurn("Create an OpenSCAD design for: "+description, "", "")
	raw, err := s.Caller.Call(ctx, generateSystemPrompt, []design.Turn{turn}, model)
	if err != nil {
		return "", err
	}
	if code, ok := critique.ExtractCode(raw); ok {
		return code, nil
	}
	return raw, nil
}

// framingText builds the text part of an iteration's user turn. The first
// iteration frames the whole run by mode; later iterations reference the
// updated render. Pending feedback rides along and is then considered
// consumed.
func framingText(in StepInput) string {
	var text string
	switch {
	case in.Iteration > 1:
		text = fmt.Sprintf("Iteration %d: Here is the updated render and code after your previous suggestions.", in.Iteration)
	case in.Mode == design.ModeGenerate:
		text = fmt.Sprintf("I generated this OpenSCAD design based on the description: %q. "+
			"Evaluate how well the rendered image matches the description. "+
			"Suggest improvements to geometry, proportions, detail, and code quality.", in.Description)
	default:
		text = "Review this OpenSCAD design. Evaluate the rendered image and the code. " +
			"Suggest improvements to make the design more realistic, properly proportioned, " +
			"and following best practices."
	}
	if in.Feedback != "" {
		text += "\n\nUser feedback: " + in.Feedback
	}
	return text
}
