package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"chisel/pkg/design"
)

// CheckArgs has no parameters.
type CheckArgs struct{}

// CheckResult reports the OpenSCAD installation state.
type CheckResult struct {
	Installed  bool   `json:"installed"`
	BinaryPath string `json:"binary_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CheckOpenSCAD probes the installed OpenSCAD binary.
func (t *Tools) CheckOpenSCAD(ctx context.Context, _ *mcp.CallToolRequest, _ CheckArgs) (*mcp.CallToolResult, CheckResult, error) {
	if err := t.ready(); err != nil {
		return nil, CheckResult{Installed: false, Error: err.Error()}, nil
	}
	version, err := t.Renderer.Version(ctx)
	if err != nil {
		return nil, CheckResult{Installed: false, Error: err.Error()}, nil
	}
	return nil, CheckResult{
		Installed:  true,
		BinaryPath: t.Renderer.Binary,
		Version:    version,
	}, nil
}

// ValidateArgs carries the source to check.
type ValidateArgs struct {
	ScadCode string `json:"scad_code" jsonschema:"the OpenSCAD source code to validate"`
}

// ValidateResult reports the dry-run compile outcome. Warnings and Errors are
// always present, possibly empty.
type ValidateResult struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// ValidateScad dry-compiles the source and reports per-line diagnostics.
func (t *Tools) ValidateScad(ctx context.Context, _ *mcp.CallToolRequest, args ValidateArgs) (*mcp.CallToolResult, ValidateResult, error) {
	if err := t.ready(); err != nil {
		return nil, ValidateResult{Warnings: []string{}, Errors: []string{err.Error()}}, nil
	}
	path, cleanup, err := tempScad(args.ScadCode)
	if err != nil {
		return nil, ValidateResult{Warnings: []string{}, Errors: []string{err.Error()}}, nil
	}
	defer cleanup()

	warnings, err := t.Renderer.Validate(ctx, path)
	res := ValidateResult{Warnings: splitLines(warnings), Errors: []string{}}
	if err != nil {
		var invalid *design.ValidateError
		if errors.As(err, &invalid) {
			res.Errors = splitLines(invalid.Diagnostics)
		} else {
			res.Errors = []string{err.Error()}
		}
		return nil, res, nil
	}
	res.Valid = true
	return nil, res, nil
}
