package errors

import (
	stderrors "errors"
	"fmt"
)

// Error type constants
const (
	ValidationError     = "VALIDATION_ERROR"
	UnknownCapability   = "UNKNOWN_CAPABILITY"
	UnresolvedReference = "UNRESOLVED_REFERENCE"
	DependencyFailed    = "DEPENDENCY_FAILED"
	Transient           = "TRANSIENT"
	Permanent           = "PERMANENT"
	StepFailed          = "STEP_FAILED"
	Timeout             = "TIMEOUT"
	Internal            = "INTERNAL"
)

// RunError is a structured error recorded alongside step results.
type RunError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Step      int    `json:"step,omitempty"`
	Retryable bool   `json:"retryable"`
	Hint      string `json:"hint,omitempty"`
}

func (e *RunError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("[%s] step_%d: %s", e.Type, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func NewValidationError(msg, hint string) *RunError {
	return &RunError{Type: ValidationError, Message: msg, Hint: hint}
}

func NewStepError(step int, typ, msg string) *RunError {
	return &RunError{Type: typ, Step: step, Message: msg, Retryable: typ == Transient}
}

// tagged marks an underlying error as transient or permanent for the retry classifier.
type tagged struct {
	err       error
	transient bool
}

func (t *tagged) Error() string { return t.err.Error() }
func (t *tagged) Unwrap() error { return t.err }

// MarkTransient tags err as safe to retry ("temporarily unavailable" style failures).
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &tagged{err: err, transient: true}
}

// MarkPermanent tags err as never retryable, even when its message looks transient.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &tagged{err: err, transient: false}
}

// IsTransient reports whether err carries an explicit transient tag.
func IsTransient(err error) bool {
	var t *tagged
	return stderrors.As(err, &t) && t.transient
}

// IsPermanent reports whether err carries an explicit permanent tag.
func IsPermanent(err error) bool {
	var t *tagged
	return stderrors.As(err, &t) && !t.transient
}

// StatusError is returned by HTTP-backed calls for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is rate limiting or a server-side failure.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code == 408 || e.Code >= 500
}
