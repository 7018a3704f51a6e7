package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"chisel/pkg/render"
)

// RenderArgs renders inline source from a named view.
type RenderArgs struct {
	ScadCode    string `json:"scad_code" jsonschema:"the OpenSCAD source code to render"`
	Width       int    `json:"width,omitempty" jsonschema:"image width in pixels (default 800)"`
	Height      int    `json:"height,omitempty" jsonschema:"image height in pixels (default 600)"`
	View        string `json:"view,omitempty" jsonschema:"standard view name: front, back, left, right, top, bottom, isometric (default isometric)"`
	ColorScheme string `json:"colorscheme,omitempty" jsonschema:"OpenSCAD color scheme name (default Cornfield)"`
}

// RenderResult reports a single render.
type RenderResult struct {
	Success bool   `json:"success"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RenderScad renders OpenSCAD source to a PNG returned as image content.
func (t *Tools) RenderScad(ctx context.Context, _ *mcp.CallToolRequest, args RenderArgs) (*mcp.CallToolResult, RenderResult, error) {
	if err := t.ready(); err != nil {
		return nil, RenderResult{Error: err.Error()}, nil
	}
	opts, err := viewOptions(args.Width, args.Height, args.View, args.ColorScheme, 800, 600)
	if err != nil {
		return nil, RenderResult{Error: err.Error()}, nil
	}
	path, cleanup, err := tempScad(args.ScadCode)
	if err != nil {
		return nil, RenderResult{Error: err.Error()}, nil
	}
	defer cleanup()

	png, err := t.Renderer.RenderImage(ctx, path, opts)
	if err != nil {
		return nil, RenderResult{Error: renderDiag(err)}, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Rendered %dx%d PNG.", opts.Width, opts.Height)},
			&mcp.ImageContent{Data: png, MIMEType: "image/png"},
		},
	}, RenderResult{Success: true, Width: opts.Width, Height: opts.Height}, nil
}

// RenderFileArgs renders an existing file, saving the PNG to disk as well.
type RenderFileArgs struct {
	ScadFilePath  string `json:"scad_file_path" jsonschema:"path to an existing .scad file"`
	OutputPNGPath string `json:"output_png_path,omitempty" jsonschema:"where to save the PNG (default: next to the source file)"`
	Width         int    `json:"width,omitempty" jsonschema:"image width in pixels (default 800)"`
	Height        int    `json:"height,omitempty" jsonschema:"image height in pixels (default 600)"`
	View          string `json:"view,omitempty" jsonschema:"standard view name (default isometric)"`
	ColorScheme   string `json:"colorscheme,omitempty" jsonschema:"OpenSCAD color scheme name (default Cornfield)"`
}

// RenderFileResult reports a file render and where the PNG landed.
type RenderFileResult struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RenderScadFile renders an existing .scad file, writing the PNG alongside it
// unless an output path is given, and returns the image content too.
func (t *Tools) RenderScadFile(ctx context.Context, _ *mcp.CallToolRequest, args RenderFileArgs) (*mcp.CallToolResult, RenderFileResult, error) {
	if err := t.ready(); err != nil {
		return nil, RenderFileResult{Error: err.Error()}, nil
	}
	if _, err := os.Stat(args.ScadFilePath); err != nil {
		return nil, RenderFileResult{Error: "File not found: " + args.ScadFilePath}, nil
	}
	opts, err := viewOptions(args.Width, args.Height, args.View, args.ColorScheme, 800, 600)
	if err != nil {
		return nil, RenderFileResult{Error: err.Error()}, nil
	}

	pngPath := args.OutputPNGPath
	if pngPath == "" {
		pngPath = strings.TrimSuffix(args.ScadFilePath, filepath.Ext(args.ScadFilePath)) + ".png"
	}
	if err := os.MkdirAll(filepath.Dir(pngPath), 0o755); err != nil {
		return nil, RenderFileResult{Error: err.Error()}, nil
	}

	if err := t.Renderer.RenderPNG(ctx, args.ScadFilePath, pngPath, opts); err != nil {
		return nil, RenderFileResult{Error: renderDiag(err)}, nil
	}
	png, err := os.ReadFile(pngPath)
	if err != nil {
		return nil, RenderFileResult{Error: err.Error()}, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Rendered to " + pngPath},
			&mcp.ImageContent{Data: png, MIMEType: "image/png"},
		},
	}, RenderFileResult{Success: true, OutputPath: pngPath}, nil
}

// MultiViewArgs renders several standard views of inline source.
type MultiViewArgs struct {
	ScadCode    string   `json:"scad_code" jsonschema:"the OpenSCAD source code to render"`
	Views       []string `json:"views,omitempty" jsonschema:"view names to render (default isometric, front, top)"`
	Width       int      `json:"width,omitempty" jsonschema:"image width in pixels (default 640)"`
	Height      int      `json:"height,omitempty" jsonschema:"image height in pixels (default 480)"`
	ColorScheme string   `json:"colorscheme,omitempty" jsonschema:"OpenSCAD color scheme name (default Cornfield)"`
}

// MultiViewResult reports which views rendered. Success means at least one
// view produced an image; per-view failures are keyed by view name.
type MultiViewResult struct {
	Success  bool              `json:"success"`
	Rendered []string          `json:"rendered,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// MultiViewRender renders the requested standard views, returning one image
// content block per successful view.
func (t *Tools) MultiViewRender(ctx context.Context, _ *mcp.CallToolRequest, args MultiViewArgs) (*mcp.CallToolResult, MultiViewResult, error) {
	if err := t.ready(); err != nil {
		return nil, MultiViewResult{Error: err.Error()}, nil
	}
	path, cleanup, err := tempScad(args.ScadCode)
	if err != nil {
		return nil, MultiViewResult{Error: err.Error()}, nil
	}
	defer cleanup()

	width, height := args.Width, args.Height
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	images, err := t.Renderer.MultiView(ctx, path, args.Views, render.RenderOptions{
		Width:       width,
		Height:      height,
		ColorScheme: args.ColorScheme,
	})
	if err != nil {
		return nil, MultiViewResult{Error: err.Error()}, nil
	}

	res := MultiViewResult{Errors: map[string]string{}}
	var content []mcp.Content
	for _, img := range images {
		if img.Err != nil {
			res.Errors[img.Name] = renderDiag(img.Err)
			continue
		}
		res.Rendered = append(res.Rendered, img.Name)
		content = append(content,
			&mcp.TextContent{Text: img.Name + " view:"},
			&mcp.ImageContent{Data: img.PNG, MIMEType: "image/png"},
		)
	}
	res.Success = len(res.Rendered) > 0
	if len(content) == 0 {
		return nil, res, nil
	}
	return &mcp.CallToolResult{Content: content}, res, nil
}
