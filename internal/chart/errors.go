package chart

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the acquisition pipeline. Callers branch with errors.Is.
var (
	ErrInvalidFormat     = errors.New("invalid date format")
	ErrOutOfRange        = errors.New("date component out of range")
	ErrInvalidSelection  = errors.New("invalid selection")
	ErrUnexpectedInput   = errors.New("input not expected in current state")
	ErrAutomationTimeout = errors.New("browser automation timed out")
	ErrElementMissing    = errors.New("form element missing")
	ErrNoImage           = errors.New("no valid image in page")
	ErrStoreUnavailable  = errors.New("chart store unavailable")
	ErrAnalysisParse     = errors.New("analysis response not parseable")
	ErrAnalysisCall      = errors.New("analysis call failed")
	ErrNotFound          = errors.New("chart not found")
)

// ValidationError reports which input field was rejected.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e ValidationError) Unwrap() error { return e.Err }
