// Package critique converts raw generative-model text into a structured
// evaluation record. It never fails: the primary path parses a ```json fenced
// block; when that block is absent or malformed, a best-effort fallback
// scrapes what it can and degrades to a low-confidence record. Malformed model
// output must never crash the loop, only lower its confidence.
package critique

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"chisel/pkg/design"
)

// DefaultScore is the neutral score used when extraction fails.
const DefaultScore = 5

// UnparsedSummary is the sentinel summary for responses the fallback could
// not understand.
const UnparsedSummary = "Could not parse evaluation"

// maxFallbackIssues caps how many issue-like strings the fallback scrapes.
const maxFallbackIssues = 5

//nolint:gochecknoglobals // compile-once regex table, safe as package-level var
var (
	jsonBlockRe = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")
	codeBlockRe = regexp.MustCompile("(?s)```openscad\\s*\\n(.*?)\\n```")
	scoreRe     = regexp.MustCompile(`"score"\s*:\s*(\d+)`)
	summaryRe   = regexp.MustCompile(`"summary"\s*:\s*"([^"]*)"`)
	// issueRe is a heuristic: any quoted string mentioning issue-flavored
	// words. Approximate on purpose — see Parse.
	issueRe = regexp.MustCompile(`(?i)"([^"]*(?:issue|problem|missing|should|needs)[^"]*)"`)
)

// Parse converts raw model text into a complete Evaluation. It always
// succeeds: Score is populated (DefaultScore when extraction fails) and
// RawText retains the untouched input for audit.
//
// The fallback's issue extraction is a substring heuristic, not a guaranteed
// extractor; treat its output as hints.
func Parse(raw string) design.Evaluation {
	if m := jsonBlockRe.FindStringSubmatch(raw); m != nil {
		if ev, ok := fromJSONBlock(m[1], raw); ok {
			return ev
		}
	}
	return fallback(raw)
}

// fromJSONBlock parses the fenced JSON payload. Extraction is tolerant of
// missing optional keys, but score is required: a block without a coercible
// score rejects as a whole so the fallback gets a chance instead of the
// parser silently inventing a number.
func fromJSONBlock(block, raw string) (design.Evaluation, bool) {
	var data map[string]any
	if err := json.Unmarshal([]byte(block), &data); err != nil {
		return design.Evaluation{}, false
	}

	score, ok := coerceScore(data["score"])
	if !ok {
		return design.Evaluation{}, false
	}

	ev := design.Evaluation{
		Score:          score,
		CriteriaScores: map[string]int{},
		Issues:         []string{},
		RawText:        raw,
	}
	if s, ok := data["summary"].(string); ok {
		ev.Summary = s
	}
	if m := coerceCriteria(data["criteria_scores"]); len(m) > 0 {
		ev.CriteriaScores = m
	}
	if issues := coerceStrings(data["issues"]); len(issues) > 0 {
		ev.Issues = issues
	}
	if s, ok := data["suggested_code"].(string); ok {
		ev.SuggestedCode = s
	}
	if s, ok := data["stop_reason"].(string); ok {
		ev.StopReason = s
	}
	return ev, true
}

// fallback scrapes a low-confidence record out of arbitrary text.
func fallback(raw string) design.Evaluation {
	ev := design.Evaluation{
		Score:          DefaultScore,
		Summary:        UnparsedSummary,
		CriteriaScores: map[string]int{},
		Issues:         []string{},
		RawText:        raw,
	}

	if m := scoreRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ev.Score = n
		}
	}
	if m := summaryRe.FindStringSubmatch(raw); m != nil {
		ev.Summary = m[1]
	}
	for _, m := range issueRe.FindAllStringSubmatch(raw, maxFallbackIssues) {
		ev.Issues = append(ev.Issues, m[1])
	}
	if code, ok := ExtractCode(raw); ok {
		ev.SuggestedCode = code
	}
	return ev
}

// ExtractCode pulls the first openscad-fenced block out of model text.
func ExtractCode(raw string) (string, bool) {
	if m := codeBlockRe.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	return "", false
}

// coerceScore accepts the numeric shapes a model actually emits: JSON numbers
// and digit strings.
func coerceScore(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// coerceCriteria keeps only string→number pairs from a loosely-typed map.
func coerceCriteria(v any) map[string]int {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, raw := range m {
		if n, ok := coerceScore(raw); ok {
			out[k] = n
		}
	}
	return out
}

// coerceStrings keeps only string elements from a loosely-typed list.
func coerceStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
