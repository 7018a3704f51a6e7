package agent_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chisel/pkg/agent"
	"chisel/pkg/design"
	"chisel/pkg/render"
)

type fakePreviewer struct {
	png   []byte
	errs  []error
	calls int
	paths []string
	opts  []render.RenderOptions
}

func (f *fakePreviewer) RenderImage(_ context.Context, scadPath string, opts render.RenderOptions) ([]byte, error) {
	f.paths = append(f.paths, scadPath)
	f.opts = append(f.opts, opts)
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	if err != nil {
		return nil, err
	}
	return f.png, nil
}

type fakeCaller struct {
	responses []string
	errs      []error
	calls     int
	systems   []string
	models    []string
	turns     [][]design.Turn
}

func (f *fakeCaller) Call(_ context.Context, system string, turns []design.Turn, model string) (string, error) {
	f.systems = append(f.systems, system)
	f.models = append(f.models, model)
	cp := make([]design.Turn, len(turns))
	copy(cp, turns)
	f.turns = append(f.turns, cp)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i >= len(f.responses) {
		return "", errors.New("no scripted response")
	}
	return f.responses[i], nil
}

// evalResponse builds a fenced evaluation reply the way the model is told to
// answer.
func evalResponse(t *testing.T, score int, summary, code, stopReason string) string {
	t.Helper()
	payload := map[string]any{
		"score":   score,
		"summary": summary,
		"issues":  []string{},
	}
	if code != "" {
		payload["suggested_code"] = code
		payload["issues"] = []string{"proportions are off"}
	}
	if stopReason != "" {
		payload["stop_reason"] = stopReason
	}
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return "```json\n" + string(b) + "\n```"
}

func newStepper(prev *fakePreviewer, caller *fakeCaller) *agent.Stepper {
	return &agent.Stepper{Previewer: prev, Caller: caller}
}

func TestStepFirstIterationReview(t *testing.T) {
	prev := &fakePreviewer{png: []byte("png-bytes")}
	caller := &fakeCaller{responses: []string{evalResponse(t, 7, "decent lamp", "cube(2);", "")}}
	stepper := newStepper(prev, caller)

	res, err := stepper.Step(context.Background(), nil, agent.StepInput{
		Path:        "/tmp/lamp.scad",
		CurrentCode: "cube(1);",
		Mode:        design.ModeReview,
		Iteration:   1,
		Model:       design.ModelSonnet,
	})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if len(caller.turns) != 1 || len(caller.turns[0]) != 1 {
		t.Fatalf("model saw %d calls / %v turns, want 1 call with 1 turn", len(caller.turns), len(caller.turns[0]))
	}
	turn := caller.turns[0][0]
	wantText := "Review this OpenSCAD design. Evaluate the rendered image and the code. " +
		"Suggest improvements to make the design more realistic, properly proportioned, " +
		"and following best practices."
	if turn.Text != wantText {
		t.Fatalf("turn text = %q, want %q", turn.Text, wantText)
	}
	wantB64 := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	if turn.ImageB64 != wantB64 {
		t.Fatalf("turn image = %q, want %q", turn.ImageB64, wantB64)
	}
	if turn.Code != "cube(1);" {
		t.Fatalf("turn code = %q", turn.Code)
	}
	if caller.models[0] != design.ModelSonnet {
		t.Fatalf("model = %q, want %q", caller.models[0], design.ModelSonnet)
	}
	if !strings.Contains(caller.systems[0], "expert OpenSCAD 3D design evaluator") {
		t.Fatalf("unexpected system prompt: %.80q", caller.systems[0])
	}

	if res.Record.Iteration != 1 || res.Record.Score != 7 || res.Record.Summary != "decent lamp" {
		t.Fatalf("record = %+v", res.Record)
	}
	if res.PreviewB64 != wantB64 {
		t.Fatalf("preview b64 = %q", res.PreviewB64)
	}
	if res.UserTurn.Role != design.RoleUser || res.AssistantTurn.Role != design.RoleAssistant {
		t.Fatalf("turn roles = %q / %q", res.UserTurn.Role, res.AssistantTurn.Role)
	}
	if res.Evaluation.SuggestedCode != "cube(2);" {
		t.Fatalf("suggested code = %q", res.Evaluation.SuggestedCode)
	}
}

func TestStepGenerateFraming(t *testing.T) {
	prev := &fakePreviewer{png: []byte("p")}
	caller := &fakeCaller{responses: []string{evalResponse(t, 5, "rough", "", "")}}
	stepper := newStepper(prev, caller)

	_, err := stepper.Step(context.Background(), nil, agent.StepInput{
		Path:        "/tmp/mug.scad",
		CurrentCode: "cylinder(40);",
		Mode:        design.ModeGenerate,
		Description: "a coffee mug",
		Iteration:   1,
		Model:       design.DefaultModel,
	})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	wantText := `I generated this OpenSCAD design based on the description: "a coffee mug". ` +
		"Evaluate how well the rendered image matches the description. " +
		"Suggest improvements to geometry, proportions, detail, and code quality."
	if got := caller.turns[0][0].Text; got != wantText {
		t.Fatalf("turn text = %q, want %q", got, wantText)
	}
}

func TestStepLaterIterationFraming(t *testing.T) {
	prev := &fakePreviewer{png: []byte("p")}
	caller := &fakeCaller{responses: []string{evalResponse(t, 6, "better", "", "")}}
	stepper := newStepper(prev, caller)

	history := []design.Turn{
		design.UserTurn("first", "img", "cube(1);"),
		design.AssistantTurn("reply"),
	}
	_, err := stepper.Step(context.Background(), history, agent.StepInput{
		Path:        "/tmp/lamp.scad",
		CurrentCode: "cube(2);",
		Mode:        design.ModeReview,
		Iteration:   2,
		Model:       design.DefaultModel,
	})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	got := caller.turns[0]
	if len(got) != 3 {
		t.Fatalf("model saw %d turns, want 3", len(got))
	}
	wantText := "Iteration 2: Here is the updated render and code after your previous suggestions."
	if got[2].Text != wantText {
		t.Fatalf("turn text = %q, want %q", got[2].Text, wantText)
	}
	if got[2].Code != "cube(2);" {
		t.Fatalf("turn code = %q", got[2].Code)
	}
	if len(history) != 2 {
		t.Fatalf("caller-owned history mutated: len = %d", len(history))
	}
}

func TestStepAppendsFeedback(t *testing.T) {
	prev := &fakePreviewer{png: []byte("p")}
	caller := &fakeCaller{responses: []string{evalResponse(t, 6, "ok", "", "")}}
	stepper := newStepper(prev, caller)

	_, err := stepper.Step(context.Background(), nil, agent.StepInput{
		Path:        "/tmp/lamp.scad",
		CurrentCode: "cube(1);",
		Mode:        design.ModeReview,
		Iteration:   1,
		Feedback:    "make the shade wider",
		Model:       design.DefaultModel,
	})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	text := caller.turns[0][0].Text
	if !strings.HasSuffix(text, "\n\nUser feedback: make the shade wider") {
		t.Fatalf("feedback missing from turn text: %q", text)
	}
}

func TestStepRenderFailureSkipsModel(t *testing.T) {
	renderErr := &design.RenderError{Path: "/tmp/lamp.scad", Diagnostics: "ERROR: bad geometry"}
	prev := &fakePreviewer{errs: []error{renderErr}}
	caller := &fakeCaller{}
	stepper := newStepper(prev, caller)

	_, err := stepper.Step(context.Background(), nil, agent.StepInput{
		Path: "/tmp/lamp.scad", CurrentCode: "cube(1);", Mode: design.ModeReview, Iteration: 1,
	})
	var re *design.RenderError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want RenderError", err)
	}
	if caller.calls != 0 {
		t.Fatalf("model called %d times after render failure", caller.calls)
	}
}

func TestStepModelFailure(t *testing.T) {
	prev := &fakePreviewer{png: []byte("p")}
	caller := &fakeCaller{errs: []error{errors.New("api exhausted")}}
	stepper := newStepper(prev, caller)

	_, err := stepper.Step(context.Background(), nil, agent.StepInput{
		Path: "/tmp/lamp.scad", CurrentCode: "cube(1);", Mode: design.ModeReview, Iteration: 1,
	})
	if err == nil || !strings.Contains(err.Error(), "api exhausted") {
		t.Fatalf("error = %v, want api failure", err)
	}
}

func TestStepRendersWithEvalPreset(t *testing.T) {
	prev := &fakePreviewer{png: []byte("p")}
	caller := &fakeCaller{responses: []string{evalResponse(t, 6, "ok", "", "")}}
	stepper := newStepper(prev, caller)

	_, err := stepper.Step(context.Background(), nil, agent.StepInput{
		Path: "/tmp/lamp.scad", CurrentCode: "cube(1);", Mode: design.ModeReview, Iteration: 1,
	})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	opts := prev.opts[0]
	if opts.Width != 1024 || opts.Height != 768 {
		t.Fatalf("preview size = %dx%d, want 1024x768", opts.Width, opts.Height)
	}
	if opts.Overrides["$fn"] != 60 || opts.Overrides["num_steps"] != 50 {
		t.Fatalf("preview overrides = %v", opts.Overrides)
	}
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "fenced code extracted",
			response: "Here you go:\n```openscad\ncube(10);\n```\nEnjoy.",
			want:     "cube(10);",
		},
		{
			name:     "fenceless response taken whole",
			response: "cylinder(h = 20, r = 5);",
			want:     "cylinder(h = 20, r = 5);",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{responses: []string{tt.response}}
			stepper := newStepper(&fakePreviewer{}, caller)

			code, err := stepper.Generate(context.Background(), "a coffee mug", design.DefaultModel)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if code != tt.want {
				t.Fatalf("code = %q, want %q", code, tt.want)
			}

			if want := "Create an OpenSCAD design for: a coffee mug"; caller.turns[0][0].Text != want {
				t.Fatalf("turn text = %q, want %q", caller.turns[0][0].Text, want)
			}
			if !strings.Contains(caller.systems[0], "Silhouette First") {
				t.Fatalf("unexpected system prompt: %.80q", caller.systems[0])
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "spaces and case", in: "A Coffee Mug", want: "a_coffee_mug"},
		{name: "punctuation collapsed", in: "desk lamp (articulated)!", want: "desk_lamp_articulated"},
		{name: "truncated to forty", in: strings.Repeat("ab ", 30), want: strings.Repeat("ab_", 13) + "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := agent.Slugify(tt.in); got != tt.want {
				t.Fatalf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	random := agent.Slugify("!!!")
	if !strings.HasPrefix(random, "design_") || len(random) != len("design_")+8 {
		t.Fatalf("Slugify(%q) = %q, want design_ prefix with 8 random chars", "!!!", random)
	}
	if random == agent.Slugify("???") && random == agent.Slugify("***") {
		t.Fatalf("random slugs should differ, got %q repeatedly", random)
	}
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()

	t.Run("explicit relative name joins data dir", func(t *testing.T) {
		got := agent.OutputPath("mug.scad", "ignored", dir)
		if want := filepath.Join(dir, "mug.scad"); got != want {
			t.Fatalf("OutputPath() = %q, want %q", got, want)
		}
	})

	t.Run("explicit absolute name kept", func(t *testing.T) {
		abs := filepath.Join(dir, "elsewhere.scad")
		if got := agent.OutputPath(abs, "ignored", dir); got != abs {
			t.Fatalf("OutputPath() = %q, want %q", got, abs)
		}
	})

	t.Run("explicit name may clobber", func(t *testing.T) {
		path := filepath.Join(dir, "taken.scad")
		if err := os.WriteFile(path, []byte("cube(1);"), 0o644); err != nil {
			t.Fatal(err)
		}
		if got := agent.OutputPath("taken.scad", "ignored", dir); got != path {
			t.Fatalf("OutputPath() = %q, want %q", got, path)
		}
	})

	t.Run("slug avoids collisions", func(t *testing.T) {
		first := agent.OutputPath("", "A Coffee Mug", dir)
		if want := filepath.Join(dir, "a_coffee_mug.scad"); first != want {
			t.Fatalf("OutputPath() = %q, want %q", first, want)
		}
		if err := os.WriteFile(first, []byte("cube(1);"), 0o644); err != nil {
			t.Fatal(err)
		}
		second := agent.OutputPath("", "A Coffee Mug", dir)
		if want := filepath.Join(dir, "a_coffee_mug_2.scad"); second != want {
			t.Fatalf("OutputPath() = %q, want %q", second, want)
		}
		if err := os.WriteFile(second, []byte("cube(2);"), 0o644); err != nil {
			t.Fatal(err)
		}
		third := agent.OutputPath("", "A Coffee Mug", dir)
		if want := filepath.Join(dir, "a_coffee_mug_3.scad"); third != want {
			t.Fatalf("OutputPath() = %q, want %q", third, want)
		}
	})
}
