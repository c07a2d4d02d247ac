package vignette

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures for callers deciding whether to retry
// and which status to report.
type Kind string

const (
	KindInvalidInput         Kind = "InvalidInput"
	KindUnauthorized         Kind = "Unauthorized"
	KindNotFound             Kind = "NotFound"
	KindGenerationFailed     Kind = "GenerationFailed"
	KindInvalidImageGeometry Kind = "InvalidImageGeometry"
	KindStorageWriteFailed   Kind = "StorageWriteFailed"
	KindPersistenceFailed    Kind = "PersistenceFailed"
	KindInternal             Kind = "Internal"
)

// Retryable reports whether a caller may reasonably retry the same request.
func (k Kind) Retryable() bool {
	switch k {
	case KindGenerationFailed, KindStorageWriteFailed, KindPersistenceFailed:
		return true
	}
	return false
}

// Error is a classified pipeline failure. Op names the stage that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal if there is none. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindInternal
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
