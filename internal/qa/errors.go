package qa

import (
	"errors"
	"fmt"
)

// Kind is the stable error tag returned to callers.
type Kind string

const (
	KindInvalidInput          Kind = "InvalidInput"
	KindDocumentNotFound      Kind = "DocumentNotFound"
	KindDocumentUnprocessable Kind = "DocumentUnprocessable"
	KindUpstreamUnavailable   Kind = "UpstreamUnavailable"
	KindInvalidModelResponse  Kind = "InvalidModelResponse"
	KindLedgerWriteFailed     Kind = "LedgerWriteFailed"
	KindInternal              Kind = "Internal"
)

// Retryable reports whether a caller may retry the same request unchanged.
func (k Kind) Retryable() bool {
	return k == KindUpstreamUnavailable || k == KindLedgerWriteFailed
}

// Error is a failed ask. Stage is where the pipeline stopped.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf maps any error to its kind. Errors that did not come from the
// orchestrator are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindInternal
}
