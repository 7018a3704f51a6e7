// Package mcpserver exposes the OpenSCAD toolchain over the Model Context
// Protocol: an installation probe, source validation, PNG renders of inline
// code or existing files, standard-view batches, and geometry exports. Tool
// failures are reported in the structured result, never as protocol errors,
// so a client can keep iterating on broken source.
package mcpserver

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"chisel/pkg/design"
	"chisel/pkg/render"
)

const serverName = "chisel"

// Tools carries the shared dependencies behind every MCP tool.
type Tools struct {
	// Renderer is nil when OpenSCAD could not be resolved at startup;
	// RendererErr then says why. Tools still register and report the
	// problem per call instead of the server refusing to start.
	Renderer    *render.Renderer
	RendererErr error
}

// ready returns the startup resolution failure, if any.
func (t *Tools) ready() error {
	if t.Renderer != nil {
		return nil
	}
	if t.RendererErr != nil {
		return t.RendererErr
	}
	return errors.New("openscad renderer not configured")
}

// NewServer registers every tool on a fresh MCP server. The caller runs it
// over a transport.
func NewServer(tools *Tools, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_openscad",
		Description: "Check whether OpenSCAD is installed and report its binary path and version.",
	}, tools.CheckOpenSCAD)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_scad",
		Description: "Validate OpenSCAD source without rendering: dry-run compile reporting warnings and errors.",
	}, tools.ValidateScad)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "render_scad",
		Description: "Render OpenSCAD source code to a PNG image from a named standard view.",
	}, tools.RenderScad)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "render_scad_file",
		Description: "Render an existing .scad file to a PNG image, saved next to the source by default.",
	}, tools.RenderScadFile)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "multi_view_render",
		Description: "Render several standard views (front, back, left, right, top, bottom, isometric) of OpenSCAD source in one call.",
	}, tools.MultiViewRender)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_scad",
		Description: "Export OpenSCAD source code to a geometry file (stl, 3mf, dxf, svg, off, amf, csg). Without an output path the file content is returned base64-encoded.",
	}, tools.ExportScad)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_scad_file",
		Description: "Export an existing .scad file to a geometry file, saved next to the source by default.",
	}, tools.ExportScadFile)

	return server
}

// tempScad writes source to a throwaway .scad file.
func tempScad(code string) (path string, cleanup func(), err error) {
	tmp, err := os.CreateTemp("", "chisel_mcp_*.scad")
	if err != nil {
		return "", nil, fmt.Errorf("create temp scad: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", nil, fmt.Errorf("write temp scad: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", nil, fmt.Errorf("write temp scad: %w", err)
	}
	return tmpPath, func() { os.Remove(tmpPath) }, nil
}

// viewOptions builds render options for a named view, defaulting to
// isometric, with per-tool default dimensions.
func viewOptions(width, height int, view, colorScheme string, defWidth, defHeight int) (render.RenderOptions, error) {
	if width <= 0 {
		width = defWidth
	}
	if height <= 0 {
		height = defHeight
	}
	if view == "" {
		view = "isometric"
	}
	v, ok := render.NamedViews[view]
	if !ok {
		return render.RenderOptions{}, fmt.Errorf("unknown view %q: valid views are %s", view, strings.Join(render.ViewNames(), ", "))
	}
	return render.RenderOptions{
		Width:       width,
		Height:      height,
		Camera:      &v,
		ColorScheme: colorScheme,
	}, nil
}

// renderDiag flattens a render failure to its compiler diagnostics.
func renderDiag(err error) string {
	var re *design.RenderError
	if errors.As(err, &re) {
		return re.Diagnostics
	}
	return err.Error()
}

// splitLines breaks joined diagnostics back into per-line entries, never
// returning nil so the result serializes as an empty list.
func splitLines(joined string) []string {
	out := []string{}
	for _, line := range strings.Split(joined, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
