// Package protocol defines the plain value types exchanged between the
// router, coordinator, and shards, plus the closed set of error kinds that
// cross those boundaries (spec §7, §9's remediation of "transient error
// classes thrown across threads").
package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is a closed enumeration of the error kinds a core operation can
// surface at its boundary (spec §7).
type ErrorKind string

const (
	KindValidation            ErrorKind = "ValidationException"
	KindNotFound               ErrorKind = "ResourceNotFoundException"
	KindConditionalCheckFailed ErrorKind = "ConditionalCheckFailedException"
	KindTransactionCancelled   ErrorKind = "TransactionCanceledException"
	KindTransactionConflict    ErrorKind = "TransactionConflictException"
	KindTimestampConflict      ErrorKind = "TimestampConflict"
	KindInternal               ErrorKind = "InternalServerError"
)

// CancellationReason is the per-input-index explanation returned when a
// transaction aborts (spec §4.4 step 5).
type CancellationReason struct {
	Code    string      `json:"Code"`
	Message string      `json:"Message,omitempty"`
	Item    interface{} `json:"Item,omitempty"`
}

// NoneReason is the placeholder used for every index that did not cause the
// cancellation.
var NoneReason = CancellationReason{Code: "None"}

// Error is the single sum type every typed operation returns in place of an
// error class hierarchy.
type Error struct {
	Kind         ErrorKind
	Message      string
	Cancellation []CancellationReason
	cause        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, &Error{Kind: KindNotFound}) style matching on
// Kind alone.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == e.Kind
}

func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an underlying cause, preserving it for errors.As.
func Wrap(kind ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

// Cancelled builds a TransactionCancelled error from a set of per-index
// reasons, per spec §4.4 step 5.
func Cancelled(reasons []CancellationReason) *Error {
	return &Error{Kind: KindTransactionCancelled, Message: "transaction cancelled", Cancellation: reasons}
}

// KindOf extracts the ErrorKind of err, or KindInternal if err is not one
// of ours.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
