// Package design defines the shared vocabulary for chisel's evaluate–apply
// loop: evaluation records, iteration history, conversation turns, and the
// session state that drives multi-step refinement over a request/response
// surface.
package design

import (
	"strings"
	"time"
)

// Mode selects how a run acquires its initial source.
type Mode string

// Run mode constants.
const (
	ModeReview   Mode = "review"   // refine an existing .scad file
	ModeGenerate Mode = "generate" // synthesize a first draft from a description
)

// Stop-reason tags a model may set in its structured evaluation.
const (
	StopGoodEnough    = "good_enough"
	StopNoImprovement = "no_improvement"
)

// Model constants for evaluation calls.
const (
	ModelOpus   = "claude-opus-4-20250514"
	ModelSonnet = "claude-sonnet-4-20250514"
	ModelHaiku  = "claude-3-5-haiku-20241022"
)

// DefaultModel is used when no explicit model override is given. Vision
// critique quality dominates run cost, so the default is the strongest model.
const DefaultModel = ModelOpus

// Evaluation is the structured result of one model critique. Score is always
// populated (the parser defaults it to 5 when extraction fails) and RawText is
// always the untouched response, retained for audit even when parsing degraded.
type Evaluation struct {
	Score          int            `json:"score"`
	Summary        string         `json:"summary"`
	CriteriaScores map[string]int `json:"criteria_scores,omitempty"`
	Issues         []string       `json:"issues,omitempty"`
	SuggestedCode  string         `json:"suggested_code,omitempty"`
	StopReason     string         `json:"stop_reason,omitempty"`
	RawText        string         `json:"-"`
}

// HasSuggestedCode reports whether the model proposed a full replacement source.
func (e Evaluation) HasSuggestedCode() bool {
	return strings.TrimSpace(e.SuggestedCode) != ""
}

// IterationRecord is one append-only history entry per completed iteration.
// Immutable once appended; stopping rules are computed from these records, not
// from conversation contents.
type IterationRecord struct {
	Iteration int      `json:"iteration"` // 1-based, monotonic
	Score     int      `json:"score"`
	Summary   string   `json:"summary"`
	Issues    []string `json:"issues,omitempty"`
}

// Role labels a conversation turn.
type Role string

// Turn role constants.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the model conversation. User turns bundle framing text,
// a base64 PNG preview, and the current source as three parts; assistant turns
// carry only the raw response text. The conversation is append-only and is
// replayed verbatim on every call — it is the model's memory.
type Turn struct {
	Role     Role   `json:"role"`
	Text     string `json:"text"`
	ImageB64 string `json:"image_b64,omitempty"`
	Code     string `json:"code,omitempty"`
}

// UserTurn builds a user turn from framing text, a base64 PNG, and source text.
func UserTurn(text, imageB64, code string) Turn {
	return Turn{Role: RoleUser, Text: text, ImageB64: imageB64, Code: code}
}

// AssistantTurn wraps a raw model response.
func AssistantTurn(raw string) Turn {
	return Turn{Role: RoleAssistant, Text: raw}
}

// Default tuning values, applied by Config.Normalize.
const (
	DefaultTargetScore   = 8
	DefaultMaxIterations = 5
)

// Config carries the per-run tuning knobs shared by the synchronous loop and
// the session surface.
type Config struct {
	Model         string `json:"model"`
	TargetScore   int    `json:"target_score"`
	MaxIterations int    `json:"max_iterations"`
}

// Normalize returns a copy with zero fields replaced by defaults.
func (c Config) Normalize() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.TargetScore <= 0 {
		c.TargetScore = DefaultTargetScore
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	return c
}

// SessionTTL is how long a session may exist before passive expiration. Aged
// sessions are purged opportunistically on the next start call, not by a
// background timer.
const SessionTTL = 30 * time.Minute

// Session is the unit of durable state for the asynchronous flow. It
// exclusively owns its conversation history and code buffers; no other
// component retains or mutates them. Sessions are independent of each other
// and live only in process memory.
type Session struct {
	ID          string            `json:"id"`
	Path        string            `json:"path"`
	CurrentCode string            `json:"current_code"`
	PendingCode string            `json:"pending_code,omitempty"`
	Mode        Mode              `json:"mode"`
	Description string            `json:"description,omitempty"`
	History     []Turn            `json:"history"`
	Iterations  []IterationRecord `json:"iterations"`
	Config      Config            `json:"config"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Expired reports whether the session has outlived SessionTTL at the given
// instant, measured from creation.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) > SessionTTL
}

// HasPendingCode reports whether a suggested replacement is staged for apply.
func (s *Session) HasPendingCode() bool {
	return strings.TrimSpace(s.PendingCode) != ""
}

// Scores returns the iteration scores in order. Used by the stopping policy.
func Scores(records []IterationRecord) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.Score
	}
	return out
}
