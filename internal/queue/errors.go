package queue

import (
	"errors"
	"fmt"
)

// Kind classifies repository failures so callers can branch on the class
// without matching message text.
type Kind int

const (
	// KindValidation is malformed input, rejected before any state change.
	KindValidation Kind = iota + 1
	// KindConflict is a dedupe collision or ownership mismatch.
	KindConflict
	// KindNotFound is an operation on an entry id that does not exist.
	KindNotFound
	// KindTransient is lock contention or momentary I/O failure; safe to retry.
	KindTransient
	// KindFatal is corruption or an unrecoverable storage failure; do not retry.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is branching on specific conflict causes.
var (
	// ErrDuplicateKey means the dedupe key already identifies a live entry.
	ErrDuplicateKey = errors.New("dedupe key already in use")
	// ErrNotOwner means the entry is claimed by a different agent.
	ErrNotOwner = errors.New("entry claimed by another agent")
	// ErrNotClaimed means the operation requires a claimed entry.
	ErrNotClaimed = errors.New("entry is not claimed")
	// ErrCorruptRecord means a stored record failed its integrity check.
	ErrCorruptRecord = errors.New("corrupt record")
)

// Error is the typed error returned by the repository and value types.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind carried by err, or 0 if err has none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }

// IsTransient reports whether the caller may safely retry.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsFatal reports corruption or unrecoverable storage failure.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }
