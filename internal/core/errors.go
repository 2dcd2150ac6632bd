package core

import (
	"context"
	"errors"
	"fmt"
)

// Error codes of the extraction pipeline.
const (
	CodeUnreachable   = "E_SOURCE_UNREACHABLE"
	CodeTimeout       = "E_TIMEOUT"
	CodeSchema        = "E_SCHEMA"
	CodeInvalidRecord = "E_INVALID_RECORD"
	CodeDB            = "E_DB"
)

// Error carries a pipeline error code and retryability hint.
type Error struct {
	Code      string
	Retryable bool
	// Field names the offending field for E_INVALID_RECORD and E_SCHEMA.
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Code
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

// CodedError exposes error metadata for classification.
type CodedError interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

// Unreachable wraps a network or authentication failure.
func Unreachable(err error) *Error {
	return &Error{Code: CodeUnreachable, Retryable: true, Err: err}
}

// Timeout wraps a deadline or cancellation.
func Timeout(err error) *Error {
	return &Error{Code: CodeTimeout, Retryable: true, Err: err}
}

// SchemaError wraps an unexpected response or row shape.
func SchemaError(field string, err error) *Error {
	return &Error{Code: CodeSchema, Field: field, Err: err}
}

// InvalidRecord reports a row missing a field the dedup key requires.
func InvalidRecord(field string, err error) *Error {
	if err == nil {
		err = errors.New("required field missing")
	}
	return &Error{Code: CodeInvalidRecord, Field: field, Err: err}
}

// DBError wraps a warehouse or run-log failure.
func DBError(err error) *Error {
	return &Error{Code: CodeDB, Err: err}
}

// CodeOf returns the error code of err, classifying context errors as
// timeouts. Unclassified errors yield "".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.CodeValue()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}
	return ""
}

// IsRetryable reports whether the orchestrator may retry after err.
func IsRetryable(err error) bool {
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.RetryableStatus()
	}
	return CodeOf(err) == CodeTimeout
}

// KindOf maps err onto the run error taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	switch CodeOf(err) {
	case CodeUnreachable:
		return ErrorKindNetwork
	case CodeTimeout:
		return ErrorKindTimeout
	case CodeSchema, CodeInvalidRecord:
		return ErrorKindSchema
	case CodeDB:
		return ErrorKindDB
	}
	return ErrorKindUnknown
}
