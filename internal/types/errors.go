package types

import (
	"errors"
	"fmt"
)

// ErrKind is the closed set of error categories components report.
// Components report errors through GraphError so callers can branch on
// Kind without string-matching a message, the same way the sqlite
// package exposes sentinel errors for wrapDBError to attach.
type ErrKind string

const (
	KindNotFound         ErrKind = "NotFound"
	KindDuplicateVersion ErrKind = "DuplicateVersion"
	KindParentMismatch   ErrKind = "ParentMismatch"
	KindSchemaError      ErrKind = "SchemaError"
	KindConflict         ErrKind = "Conflict"
	KindTransport        ErrKind = "Transport"
	KindCancelled        ErrKind = "Cancelled"
	KindCorruption       ErrKind = "Corruption"
)

// Sentinel errors, one per kind, so errors.Is works without constructing a
// GraphError first.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateVersion = errors.New("duplicate version")
	ErrParentMismatch   = errors.New("parent mismatch")
	ErrSchemaError      = errors.New("schema error")
	ErrConflict         = errors.New("conflict")
	ErrTransport        = errors.New("transport error")
	ErrCancelled        = errors.New("cancelled")
	ErrCorruption       = errors.New("corruption")
)

var kindSentinel = map[ErrKind]error{
	KindNotFound:         ErrNotFound,
	KindDuplicateVersion: ErrDuplicateVersion,
	KindParentMismatch:   ErrParentMismatch,
	KindSchemaError:      ErrSchemaError,
	KindConflict:         ErrConflict,
	KindTransport:        ErrTransport,
	KindCancelled:        ErrCancelled,
	KindCorruption:       ErrCorruption,
}

// GraphError is the error type every component returns across package
// boundaries: a kind the caller can switch on, the operation that failed,
// and (optionally) the underlying cause.
type GraphError struct {
	Kind    ErrKind
	Op      string
	Err     error
	Details map[string]any
}

func (e *GraphError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *GraphError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return kindSentinel[e.Kind]
}

// Is reports whether target is the sentinel for e's kind, so
// errors.Is(err, ErrNotFound) holds for a NotFound GraphError even when
// it wraps an underlying cause.
func (e *GraphError) Is(target error) bool {
	return target != nil && target == kindSentinel[e.Kind]
}

// NewError builds a GraphError, wrapping err (if any) with op context.
func NewError(kind ErrKind, op string, err error) *GraphError {
	return &GraphError{Kind: kind, Op: op, Err: err}
}

// WrapStorage converts a raw storage error into a GraphError, mapping
// errors.Is(err, ErrNotFound)-style sentinels through; unrecognized errors
// default to KindCorruption since an unmapped storage failure means the
// backing row can't be trusted.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	for kind, sentinel := range kindSentinel {
		if errors.Is(err, sentinel) {
			return NewError(kind, op, err)
		}
	}
	return NewError(KindCorruption, op, err)
}
