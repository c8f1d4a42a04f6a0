// Package bmcerr defines the error kinds this module's operations can
// raise, wrapped with github.com/pkg/errors context the way the original
// anyhow-based error chains are translated here.
package bmcerr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error so callers can decide whether it is safe to
// retry, requires operator attention, or signals a bug.
type Kind int

const (
	// BadInput covers malformed flags, images, or arguments.
	BadInput Kind = iota
	// IoError covers device and filesystem I/O failures.
	IoError
	// BadBlock signals the raw-image writer met a bad block (already bad, or
	// marked bad after exhausting its retries) that it was not allowed to skip.
	BadBlock
	// FlashFull signals placement ran out of erased blocks to use.
	FlashFull
	// Internal signals a broken invariant; it should never surface in
	// ordinary operation.
	Internal
)

func (k Kind) String() string {
	switch k {
	case BadInput:
		return "bad input"
	case IoError:
		return "i/o error"
	case BadBlock:
		return "bad block"
	case FlashFull:
		return "flash full"
	case Internal:
		return "internal error"
	default:
		return "unknown error"
	}
}

type flashError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *flashError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *flashError) Unwrap() error { return e.cause }

// New constructs a plain error of the given kind.
func New(kind Kind, msg string) error {
	return &flashError{kind: kind, msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap annotates cause with msg and tags the result with kind.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &flashError{kind: kind, msg: msg, cause: errors.WithStack(cause)}
}

// Is reports whether the first error of this package found in err's chain
// (err itself, then what it wraps) carries kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if fe, ok := err.(*flashError); ok {
			return fe.kind == kind
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
