package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ExportArgs exports inline source to a geometry file.
type ExportArgs struct {
	ScadCode   string `json:"scad_code" jsonschema:"the OpenSCAD source code to export"`
	Format     string `json:"format,omitempty" jsonschema:"export format: stl, 3mf, dxf, svg, off, amf, csg (default stl)"`
	OutputPath string `json:"output_path,omitempty" jsonschema:"destination path; when omitted the file content is returned base64-encoded"`
}

// ExportResult reports an export. FileBase64 is set only when no output path
// was given.
type ExportResult struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path,omitempty"`
	FileBase64 string `json:"file_base64,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExportScad exports OpenSCAD source to a geometry file. Without an output
// path the result carries the file content inline.
func (t *Tools) ExportScad(ctx context.Context, _ *mcp.CallToolRequest, args ExportArgs) (*mcp.CallToolResult, ExportResult, error) {
	if err := t.ready(); err != nil {
		return nil, ExportResult{Error: err.Error()}, nil
	}
	format := strings.ToLower(args.Format)
	if format == "" {
		format = "stl"
	}
	scadPath, cleanup, err := tempScad(args.ScadCode)
	if err != nil {
		return nil, ExportResult{Error: err.Error()}, nil
	}
	defer cleanup()

	outPath := args.OutputPath
	inline := outPath == ""
	if inline {
		dir, err := os.MkdirTemp("", "chisel_mcp_export_")
		if err != nil {
			return nil, ExportResult{Error: fmt.Sprintf("create export temp: %v", err)}, nil
		}
		defer os.RemoveAll(dir)
		outPath = filepath.Join(dir, "model."+format)
	} else if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ExportResult{Error: err.Error()}, nil
		}
	}

	if err := t.Renderer.Export(ctx, scadPath, outPath, nil); err != nil {
		return nil, ExportResult{Error: renderDiag(err)}, nil
	}

	res := ExportResult{Success: true, OutputPath: outPath}
	if inline {
		data, err := os.ReadFile(outPath)
		if err != nil {
			return nil, ExportResult{Error: err.Error()}, nil
		}
		res.FileBase64 = base64.StdEncoding.EncodeToString(data)
	}
	return nil, res, nil
}

// ExportFileArgs exports an existing .scad file.
type ExportFileArgs struct {
	ScadFilePath string `json:"scad_file_path" jsonschema:"path to an existing .scad file"`
	OutputPath   string `json:"output_path,omitempty" jsonschema:"destination file path (default: source path with the format extension)"`
	Format       string `json:"format,omitempty" jsonschema:"export format: stl, 3mf, dxf, svg, off, amf, csg (default stl)"`
}

// ExportFileResult reports where the exported geometry landed.
type ExportFileResult struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExportScadFile exports an existing .scad file, deriving the destination
// from the source path when none is given.
func (t *Tools) ExportScadFile(ctx context.Context, _ *mcp.CallToolRequest, args ExportFileArgs) (*mcp.CallToolResult, ExportFileResult, error) {
	if err := t.ready(); err != nil {
		return nil, ExportFileResult{Error: err.Error()}, nil
	}
	if _, err := os.Stat(args.ScadFilePath); err != nil {
		return nil, ExportFileResult{Error: "File not found: " + args.ScadFilePath}, nil
	}
	format := strings.ToLower(args.Format)
	if format == "" {
		format = "stl"
	}

	outPath := args.OutputPath
	if outPath == "" {
		outPath = strings.TrimSuffix(args.ScadFilePath, filepath.Ext(args.ScadFilePath)) + "." + format
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ExportFileResult{Error: err.Error()}, nil
		}
	}

	if err := t.Renderer.Export(ctx, args.ScadFilePath, outPath, nil); err != nil {
		return nil, ExportFileResult{Error: renderDiag(err)}, nil
	}
	return nil, ExportFileResult{Success: true, OutputPath: outPath}, nil
}
