package web

import (
	"net/http"
	"strings"

	"chisel/pkg/design"
	"chisel/pkg/session"
)

// agentStartRequest mirrors the session start surface. Zero tuning values
// take the run defaults.
type agentStartRequest struct {
	Mode          string `json:"mode"`
	ScadFile      string `json:"scad_file,omitempty"`
	Description   string `json:"description,omitempty"`
	OutputName    string `json:"output_name,omitempty"`
	Model         string `json:"model,omitempty"`
	TargetScore   int    `json:"target_score,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

func (s *Server) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	var req agentStartRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mode := design.Mode(req.Mode)
	if mode == "" {
		mode = design.ModeReview
	}
	switch mode {
	case design.ModeReview:
		if req.ScadFile == "" {
			s.writeError(w, http.StatusBadRequest, "scad_file required for review mode")
			return
		}
	case design.ModeGenerate:
		if strings.TrimSpace(req.Description) == "" {
			s.writeError(w, http.StatusBadRequest, "description required for generate mode")
			return
		}
	default:
		s.writeError(w, http.StatusBadRequest, "mode must be review or generate")
		return
	}

	res, err := s.Sessions.Start(r.Context(), session.StartInput{
		Mode:        mode,
		ScadFile:    req.ScadFile,
		Description: req.Description,
		Output:      req.OutputName,
		Config: design.Config{
			Model:         req.Model,
			TargetScore:   req.TargetScore,
			MaxIterations: req.MaxIterations,
		},
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type agentEvaluateRequest struct {
	SessionID string `json:"session_id"`
	Feedback  string `json:"feedback,omitempty"`
}

func (s *Server) handleAgentEvaluate(w http.ResponseWriter, r *http.Request) {
	var req agentEvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.Sessions.Evaluate(r.Context(), session.EvaluateInput{
		SessionID: req.SessionID,
		Feedback:  req.Feedback,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type agentSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleAgentApply(w http.ResponseWriter, r *http.Request) {
	var req agentSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.Sessions.Apply(r.Context(), req.SessionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	var req agentSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.Sessions.Stop(req.SessionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
