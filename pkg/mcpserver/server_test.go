package mcpserver_test

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"chisel/pkg/mcpserver"
	"chisel/pkg/render"
)

// fakeRunner stands in for the OpenSCAD subprocess.
type fakeRunner struct {
	calls  [][]string
	output []byte
	err    error
	onRun  func(args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.onRun != nil {
		return f.onRun(args)
	}
	return f.output, f.err
}

func (f *fakeRunner) lastCall() string {
	if len(f.calls) == 0 {
		return ""
	}
	return strings.Join(f.calls[len(f.calls)-1], " ")
}

// writeOutput makes the fake write whatever path follows -o, like the real
// binary does.
func writeOutput(content string) func([]string) ([]byte, error) {
	return func(args []string) ([]byte, error) {
		for i, a := range args {
			if a == "-o" && i+1 < len(args) {
				if err := os.WriteFile(args[i+1], []byte(content), 0o644); err != nil {
					return nil, err
				}
			}
		}
		return []byte("Compiling design...\n"), nil
	}
}

func newTools(runner *fakeRunner) *mcpserver.Tools {
	return &mcpserver.Tools{
		Renderer: &render.Renderer{Binary: "openscad", Timeout: time.Minute, Runner: runner},
	}
}

func TestCheckOpenSCAD(t *testing.T) {
	t.Run("installed", func(t *testing.T) {
		runner := &fakeRunner{output: []byte("OpenSCAD version 2021.01\n")}
		tools := newTools(runner)

		_, out, err := tools.CheckOpenSCAD(context.Background(), nil, mcpserver.CheckArgs{})
		if err != nil {
			t.Fatalf("CheckOpenSCAD() error: %v", err)
		}
		if !out.Installed {
			t.Fatalf("Installed = false: %+v", out)
		}
		if out.BinaryPath != "openscad" || out.Version != "OpenSCAD version 2021.01" {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("binary unresolved at startup", func(t *testing.T) {
		tools := &mcpserver.Tools{RendererErr: errors.New("openscad not found on PATH")}

		_, out, err := tools.CheckOpenSCAD(context.Background(), nil, mcpserver.CheckArgs{})
		if err != nil {
			t.Fatalf("CheckOpenSCAD() error: %v", err)
		}
		if out.Installed {
			t.Fatal("Installed = true despite missing binary")
		}
		if !strings.Contains(out.Error, "not found") {
			t.Errorf("Error = %q", out.Error)
		}
	})

	t.Run("version probe failure", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("exit status 127")}
		tools := newTools(runner)

		_, out, _ := tools.CheckOpenSCAD(context.Background(), nil, mcpserver.CheckArgs{})
		if out.Installed {
			t.Fatal("Installed = true despite probe failure")
		}
	})
}

func TestValidateScad(t *testing.T) {
	t.Run("valid with warnings", func(t *testing.T) {
		runner := &fakeRunner{output: []byte("WARNING: variable unused\nCompiling design...\n")}
		tools := newTools(runner)

		_, out, err := tools.ValidateScad(context.Background(), nil, mcpserver.ValidateArgs{ScadCode: "cube(1);"})
		if err != nil {
			t.Fatalf("ValidateScad() error: %v", err)
		}
		if !out.Valid {
			t.Fatalf("Valid = false: %+v", out)
		}
		if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "variable unused") {
			t.Errorf("Warnings = %v", out.Warnings)
		}
		if len(out.Errors) != 0 {
			t.Errorf("Errors = %v", out.Errors)
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		runner := &fakeRunner{output: []byte("ERROR: Parser error: syntax error in line 1\n")}
		tools := newTools(runner)

		_, out, err := tools.ValidateScad(context.Background(), nil, mcpserver.ValidateArgs{ScadCode: "cube(;"})
		if err != nil {
			t.Fatalf("ValidateScad() error: %v", err)
		}
		if out.Valid {
			t.Fatal("Valid = true for broken source")
		}
		if len(out.Errors) != 1 || !strings.Contains(out.Errors[0], "syntax error in line 1") {
			t.Errorf("Errors = %v", out.Errors)
		}
	})
}

func TestRenderScad(t *testing.T) {
	t.Run("returns image content", func(t *testing.T) {
		runner := &fakeRunner{onRun: writeOutput("png-bytes")}
		tools := newTools(runner)

		res, out, err := tools.RenderScad(context.Background(), nil, mcpserver.RenderArgs{ScadCode: "cube(1);"})
		if err != nil {
			t.Fatalf("RenderScad() error: %v", err)
		}
		if !out.Success || out.Width != 800 || out.Height != 600 {
			t.Errorf("out = %+v", out)
		}
		if res == nil || len(res.Content) != 2 {
			t.Fatalf("content = %v", res)
		}
		img, ok := res.Content[1].(*mcp.ImageContent)
		if !ok {
			t.Fatalf("content[1] = %T, want ImageContent", res.Content[1])
		}
		if string(img.Data) != "png-bytes" || img.MIMEType != "image/png" {
			t.Errorf("image = %q %q", img.Data, img.MIMEType)
		}

		cmd := runner.lastCall()
		for _, part := range []string{"--imgsize=800,600", "--camera=0,0,0,55,0,25,140"} {
			if !strings.Contains(cmd, part) {
				t.Errorf("command %q missing %q", cmd, part)
			}
		}
	})

	t.Run("unknown view", func(t *testing.T) {
		tools := newTools(&fakeRunner{})

		_, out, _ := tools.RenderScad(context.Background(), nil, mcpserver.RenderArgs{ScadCode: "cube(1);", View: "behind"})
		if out.Success {
			t.Fatal("Success = true for unknown view")
		}
		if !strings.Contains(out.Error, `unknown view "behind"`) {
			t.Errorf("Error = %q", out.Error)
		}
	})

	t.Run("compiler failure", func(t *testing.T) {
		runner := &fakeRunner{output: []byte("ERROR: broken\n"), err: errors.New("exit status 1")}
		tools := newTools(runner)

		res, out, _ := tools.RenderScad(context.Background(), nil, mcpserver.RenderArgs{ScadCode: "cube(;"})
		if out.Success {
			t.Fatal("Success = true for failed render")
		}
		if !strings.Contains(out.Error, "ERROR: broken") {
			t.Errorf("Error = %q", out.Error)
		}
		if res != nil {
			t.Errorf("res = %v, want nil on failure", res)
		}
	})
}

func TestRenderScadFile(t *testing.T) {
	t.Run("saves next to source", func(t *testing.T) {
		dir := t.TempDir()
		scad := filepath.Join(dir, "bracket.scad")
		if err := os.WriteFile(scad, []byte("cube(1);"), 0o644); err != nil {
			t.Fatal(err)
		}
		runner := &fakeRunner{onRun: writeOutput("png-bytes")}
		tools := newTools(runner)

		res, out, err := tools.RenderScadFile(context.Background(), nil, mcpserver.RenderFileArgs{ScadFilePath: scad})
		if err != nil {
			t.Fatalf("RenderScadFile() error: %v", err)
		}
		want := filepath.Join(dir, "bracket.png")
		if !out.Success || out.OutputPath != want {
			t.Errorf("out = %+v, want path %s", out, want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("png not written: %v", err)
		}
		if res == nil || len(res.Content) != 2 {
			t.Fatalf("content = %v", res)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		tools := newTools(&fakeRunner{})

		_, out, _ := tools.RenderScadFile(context.Background(), nil, mcpserver.RenderFileArgs{
			ScadFilePath: filepath.Join(t.TempDir(), "ghost.scad"),
		})
		if out.Success || !strings.Contains(out.Error, "File not found") {
			t.Errorf("out = %+v", out)
		}
	})
}

func TestMultiViewRender(t *testing.T) {
	t.Run("default views", func(t *testing.T) {
		runner := &fakeRunner{onRun: writeOutput("png")}
		tools := newTools(runner)

		res, out, err := tools.MultiViewRender(context.Background(), nil, mcpserver.MultiViewArgs{ScadCode: "cube(1);"})
		if err != nil {
			t.Fatalf("MultiViewRender() error: %v", err)
		}
		if !out.Success {
			t.Fatalf("out = %+v", out)
		}
		want := []string{"isometric", "front", "top"}
		if len(out.Rendered) != len(want) {
			t.Fatalf("Rendered = %v", out.Rendered)
		}
		for i, name := range want {
			if out.Rendered[i] != name {
				t.Errorf("Rendered[%d] = %q, want %q", i, out.Rendered[i], name)
			}
		}
		if res == nil || len(res.Content) != 6 {
			t.Fatalf("content length = %d, want text+image per view", len(res.Content))
		}
	})

	t.Run("partial failure still succeeds", func(t *testing.T) {
		runner := &fakeRunner{onRun: func(args []string) ([]byte, error) {
			if strings.Contains(strings.Join(args, " "), "--camera=0,0,0,90,0,0,140") {
				return []byte("ERROR: top exploded"), errors.New("exit status 1")
			}
			return writeOutput("png")(args)
		}}
		tools := newTools(runner)

		res, out, err := tools.MultiViewRender(context.Background(), nil, mcpserver.MultiViewArgs{
			ScadCode: "cube(1);",
			Views:    []string{"front", "top"},
		})
		if err != nil {
			t.Fatalf("MultiViewRender() error: %v", err)
		}
		if !out.Success {
			t.Fatal("Success = false with one good view")
		}
		if len(out.Rendered) != 1 || out.Rendered[0] != "front" {
			t.Errorf("Rendered = %v", out.Rendered)
		}
		if msg := out.Errors["top"]; !strings.Contains(msg, "top exploded") {
			t.Errorf(`Errors["top"] = %q`, msg)
		}
		if len(res.Content) != 2 {
			t.Errorf("content length = %d", len(res.Content))
		}
	})

	t.Run("unknown view fails whole call", func(t *testing.T) {
		tools := newTools(&fakeRunner{})

		res, out, _ := tools.MultiViewRender(context.Background(), nil, mcpserver.MultiViewArgs{
			ScadCode: "cube(1);",
			Views:    []string{"behind"},
		})
		if out.Success || !strings.Contains(out.Error, "unknown view") {
			t.Errorf("out = %+v", out)
		}
		if res != nil {
			t.Errorf("res = %v", res)
		}
	})
}

func TestExportScad(t *testing.T) {
	t.Run("inline result without output path", func(t *testing.T) {
		runner := &fakeRunner{onRun: writeOutput("solid model")}
		tools := newTools(runner)

		_, out, err := tools.ExportScad(context.Background(), nil, mcpserver.ExportArgs{ScadCode: "cube(1);"})
		if err != nil {
			t.Fatalf("ExportScad() error: %v", err)
		}
		if !out.Success {
			t.Fatalf("out = %+v", out)
		}
		if filepath.Base(out.OutputPath) != "model.stl" {
			t.Errorf("OutputPath = %q", out.OutputPath)
		}
		want := base64.StdEncoding.EncodeToString([]byte("solid model"))
		if out.FileBase64 != want {
			t.Errorf("FileBase64 = %q", out.FileBase64)
		}
	})

	t.Run("explicit output path", func(t *testing.T) {
		runner := &fakeRunner{onRun: writeOutput("solid model")}
		tools := newTools(runner)
		dest := filepath.Join(t.TempDir(), "exports", "part.3mf")

		_, out, err := tools.ExportScad(context.Background(), nil, mcpserver.ExportArgs{
			ScadCode:   "cube(1);",
			Format:     "3mf",
			OutputPath: dest,
		})
		if err != nil {
			t.Fatalf("ExportScad() error: %v", err)
		}
		if !out.Success || out.OutputPath != dest {
			t.Errorf("out = %+v", out)
		}
		if out.FileBase64 != "" {
			t.Error("FileBase64 set despite explicit output path")
		}
		if _, err := os.Stat(dest); err != nil {
			t.Errorf("export not written: %v", err)
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		tools := newTools(&fakeRunner{})

		_, out, _ := tools.ExportScad(context.Background(), nil, mcpserver.ExportArgs{ScadCode: "cube(1);", Format: "gcode"})
		if out.Success || !strings.Contains(out.Error, "unsupported export format") {
			t.Errorf("out = %+v", out)
		}
	})
}

func TestExportScadFile(t *testing.T) {
	t.Run("derives destination from source", func(t *testing.T) {
		dir := t.TempDir()
		scad := filepath.Join(dir, "gear.scad")
		if err := os.WriteFile(scad, []byte("cube(1);"), 0o644); err != nil {
			t.Fatal(err)
		}
		runner := &fakeRunner{onRun: writeOutput("solid model")}
		tools := newTools(runner)

		_, out, err := tools.ExportScadFile(context.Background(), nil, mcpserver.ExportFileArgs{
			ScadFilePath: scad,
			Format:       "3mf",
		})
		if err != nil {
			t.Fatalf("ExportScadFile() error: %v", err)
		}
		want := filepath.Join(dir, "gear.3mf")
		if !out.Success || out.OutputPath != want {
			t.Errorf("out = %+v, want %s", out, want)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		tools := newTools(&fakeRunner{})

		_, out, _ := tools.ExportScadFile(context.Background(), nil, mcpserver.ExportFileArgs{
			ScadFilePath: filepath.Join(t.TempDir(), "ghost.scad"),
		})
		if out.Success || !strings.Contains(out.Error, "File not found") {
			t.Errorf("out = %+v", out)
		}
	})
}
