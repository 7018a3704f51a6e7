package web

import "net/http"

// FileEntry is one row of the file listing.
type FileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// handleHealth reports liveness plus the installed OpenSCAD version, so a
// frontend can surface a missing binary before the first render fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	openscad, err := s.Renderer.Version(r.Context())
	if err != nil {
		openscad = err.Error()
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"version":  s.Version,
		"openscad": openscad,
	})
}

// handleFiles lists the .scad files in the data directory, sorted by name.
func (s *Server) handleFiles(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]FileEntry{
		"files": listScadFiles(s.DataDir),
	})
}

// handleFilesStatus returns name → mtime for change-detection polling.
func (s *Server) handleFilesStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]map[string]float64{
		"files": s.Status.Snapshot(),
	})
}
