package design

import "fmt"

// SessionNotFoundError represents a lookup against an unknown or expired
// session id. It enables typed error discrimination via errors.As.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.ID)
}

// NoPendingCodeError represents an apply call with nothing staged: either no
// evaluation has run yet, or the previous pending code was already committed.
type NoPendingCodeError struct {
	ID string
}

func (e *NoPendingCodeError) Error() string {
	return fmt.Sprintf("session %s has no pending code to apply", e.ID)
}

// IterationLimitError represents an evaluate call that would exceed the
// session's configured maximum. The session is left unchanged.
type IterationLimitError struct {
	ID  string
	Max int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("session %s already completed its maximum of %d iterations", e.ID, e.Max)
}

// RenderError represents a geometry-compiler failure while producing a
// preview. Fatal to the current run or iteration; never retried by the core.
type RenderError struct {
	Path        string
	Diagnostics string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s failed: %s", e.Path, e.Diagnostics)
}

// ValidateError represents candidate source that failed the dry-compile
// check. Raised only by the commit gate; the target file is unchanged.
type ValidateError struct {
	Path        string
	Diagnostics string
}

func (e *ValidateError) Error() string {
	return fmt.Sprintf("validate %s failed: %s", e.Path, e.Diagnostics)
}
