// Package apperr defines the error kinds surfaced by the analysis core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindProcessing    Kind = "processing"
	KindPersistence   Kind = "persistence"
	KindConfiguration Kind = "configuration"
)

// Sentinels usable with errors.Is.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrProcessing    = &Error{Kind: KindProcessing}
	ErrPersistence   = &Error{Kind: KindPersistence}
	ErrConfiguration = &Error{Kind: KindConfiguration}
)

// Error wraps an operation, human-facing message, and underlying error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	prefix := string(e.Kind) + " error"
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	switch {
	case e.Msg == "" && e.Err == nil:
		return prefix
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so sentinels compare by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func Processing(op, msg string, err error) error {
	return &Error{Kind: KindProcessing, Op: op, Msg: msg, Err: err}
}

func Persistence(op, msg string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Msg: msg, Err: err}
}

func Configuration(op, msg string) error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: msg}
}

// UnitRange rejects values outside [0,1] as a configuration error. NaN is
// rejected too.
func UnitRange(op, name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return Configuration(op, fmt.Sprintf("%s must be within [0,1], got %v", name, v))
	}
	return nil
}

// IsKind reports whether err or anything it wraps carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}
