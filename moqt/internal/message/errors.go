package message

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage matches every *MalformedError under errors.Is.
var ErrMalformedMessage = errors.New("message: malformed message")

var (
	errExcessPayload   = errors.New("payload longer than its fields")
	errInvalidValue    = errors.New("invalid value")
	errTooLong         = errors.New("length exceeds limit")
	errUnknownType     = errors.New("unknown type")
	errTruncated       = errors.New("truncated")
	errMismatchedField = errors.New("field must be empty for this status")
)

// MalformedError describes a decode failure with enough context to log it.
type MalformedError struct {
	// Message names the message or object header being decoded, e.g. "SUBSCRIBE".
	Message string
	// Field names the offending field.
	Field string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("message: malformed %s: %s: %v", e.Message, e.Field, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedMessage }

func malformed(msg, field string, err error) *MalformedError {
	if errors.Is(err, ErrShortBuffer) {
		err = errTruncated
	}
	return &MalformedError{Message: msg, Field: field, Err: err}
}
