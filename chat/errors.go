package chat

import (
	"errors"
	"fmt"
)

// TransientError marks a failure that is expected to succeed on retry:
// connection drops, timeouts, server overload. Callers retry these with
// backoff up to a bounded budget before giving up.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("chat: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError marks caller-correctable input problems: disallowed file
// type, oversized attachment, empty required content. Never retried; the
// message never leaves composing.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}

// ConflictError marks operations that no longer apply to current server
// state, such as reacting to a deleted message. Local state is left
// unchanged.
type ConflictError struct {
	Op     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("chat: conflict in %s: %s", e.Op, e.Reason)
}

// PermanentError marks a server-side rejection that manual intervention
// cannot work around automatically, such as sending to a blocked recipient.
// The owning message transitions to failed.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("chat: permanent failure in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
