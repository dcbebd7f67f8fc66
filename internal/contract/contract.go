// Package contract turns free-text model output into strictly typed records.
// A response is either fully valid or rejected with ErrMalformedResponse;
// partially populated results are never returned.
package contract

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrMalformedResponse is the root of every parse or validation failure.
var ErrMalformedResponse = eris.New("contract: malformed response")

// FieldError names the offending field of a rejected response.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("contract: field %q %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedResponse.
func (e *FieldError) Unwrap() error {
	return ErrMalformedResponse
}

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
