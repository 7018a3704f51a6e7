package agent

import (
	"context"
	"fmt"
	"os"
)

// Validator checks a .scad file for errors without rendering it. The
// returned warnings are advisory; a non-nil error means the file failed.
type Validator interface {
	Validate(ctx context.Context, scadPath string) (warnings string, err error)
}

// Gate commits suggested code to disk only after it validates. Candidate
// code is written to a sibling temp file, validated there, and renamed over
// the target on success, so the target file never holds unvalidated code.
type Gate struct {
	Validator Validator
}

// Commit validates code against a temp sibling of path and atomically
// replaces path on success. On failure the temp file is removed, path is
// untouched, and the validation error is returned.
func (g *Gate) Commit(ctx context.Context, path, code string) (string, error) {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("write candidate %s: %w", tmp, err)
	}
	warnings, err := g.Validator.Validate(ctx, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return warnings, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return warnings, fmt.Errorf("replace %s: %w", path, err)
	}
	return warnings, nil
}
