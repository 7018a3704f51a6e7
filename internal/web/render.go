package web

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"chisel/pkg/design"
	"chisel/pkg/render"
)

// sourceRequest is the shared request shape for validate and render calls:
// either a path to an existing file or inline source written to a temp file.
type sourceRequest struct {
	ScadFile string `json:"scad_file,omitempty"`
	Code     string `json:"code,omitempty"`
}

// resolve returns the path to operate on and a cleanup for any temp file it
// created. Inline code wins when both fields are set.
func (req sourceRequest) resolve() (path string, cleanup func(), err error) {
	if strings.TrimSpace(req.Code) != "" {
		tmp, err := os.CreateTemp("", "chisel_web_*.scad")
		if err != nil {
			return "", nil, fmt.Errorf("create temp scad: %w", err)
		}
		tmpPath := tmp.Name()
		if _, err := tmp.WriteString(req.Code); err != nil {
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
	if req.ScadFile == "" {
		return "", nil, errors.New("scad_file or code required")
	}
	return req.ScadFile, func() {}, nil
}

// downloadName picks the attachment filename for an export of this request.
func (req sourceRequest) downloadName(ext string) string {
	if req.ScadFile == "" {
		return "design" + ext
	}
	base := filepath.Base(req.ScadFile)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

// handleValidate dry-compiles the source. Compile failures are a normal
// response with success=false, not an HTTP error.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, cleanup, err := req.resolve()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	warnings, err := s.Renderer.Validate(r.Context(), path)
	if err != nil {
		var invalid *design.ValidateError
		if errors.As(err, &invalid) {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"message": invalid.Diagnostics,
			})
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": warnings,
	})
}

// renderPNGRequest adds image dimensions to the shared source shape.
type renderPNGRequest struct {
	sourceRequest
	Width  int `json:"width"`
	Height int `json:"height"`
}

// handleRenderPNG renders the source at PNG-preview quality and streams the
// image. Render failures return 400 with the compiler diagnostics.
func (s *Server) handleRenderPNG(w http.ResponseWriter, r *http.Request) {
	var req renderPNGRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, cleanup, err := req.resolve()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	png, err := s.Renderer.RenderImage(r.Context(), path, render.RenderOptions{
		Width:     req.Width,
		Height:    req.Height,
		Overrides: render.PresetPNG,
	})
	if err != nil {
		s.writeRenderFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		s.logger.Warn("write png response", "error", err)
	}
}

// renderSTLRequest selects between the fast preview preset and the
// full-fidelity export preset.
type renderSTLRequest struct {
	sourceRequest
	Quality string `json:"quality"` // "preview" (default) or "export"
}

// handleRenderSTL exports the source to STL and streams it as a download.
func (s *Server) handleRenderSTL(w http.ResponseWriter, r *http.Request) {
	var req renderSTLRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, cleanup, err := req.resolve()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	overrides := render.PresetPreview
	if req.Quality == "export" {
		overrides = render.PresetExport
	}

	tmp, err := os.CreateTemp("", "chisel_web_*.stl")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("create temp stl: %v", err))
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.Renderer.Export(r.Context(), path, tmpPath, overrides); err != nil {
		s.writeRenderFailure(w, err)
		return
	}
	stl, err := os.ReadFile(tmpPath)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("read stl: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.downloadName(".stl")))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(stl); err != nil {
		s.logger.Warn("write stl response", "error", err)
	}
}

// writeRenderFailure reports a geometry-compiler failure as 400 with its
// diagnostics; anything else is 500.
func (s *Server) writeRenderFailure(w http.ResponseWriter, err error) {
	var renderErr *design.RenderError
	if errors.As(err, &renderErr) {
		s.writeError(w, http.StatusBadRequest, renderErr.Diagnostics)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
