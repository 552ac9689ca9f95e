// Package dmerrors maps the (category, code) error pairs of the
// data-management engine onto plain Go errors built around
// syscall.Errno, following the wrap-don't-stringify discipline used
// throughout the teacher's backend/cache package.
package dmerrors

import (
	"syscall"

	"github.com/pkg/errors"
)

// Category classifies a failure the way the engine's error policy does.
type Category int

const (
	// Invariant violations are assertion-class and never retried.
	Invariant Category = iota
	// Exhaustion covers resource exhaustion: memory, streams, slots.
	Exhaustion
	// NotApplicable is returned by adapters for unsupported ops.
	NotApplicable
	// BackendIO covers failures surfaced from a backend call.
	BackendIO
	// LookupMiss covers expected-miss control flow, not real errors.
	LookupMiss
	// Protocol covers restore callback decoding failures.
	Protocol
)

func (c Category) String() string {
	switch c {
	case Invariant:
		return "invariant"
	case Exhaustion:
		return "exhaustion"
	case NotApplicable:
		return "not-applicable"
	case BackendIO:
		return "backend-io"
	case LookupMiss:
		return "lookup-miss"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error pairs a Category with the OS-namespace errno it surfaces as.
type Error struct {
	Category Category
	Errno    syscall.Errno
	msg      string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg + ": " + e.Errno.Error()
	}
	return e.Errno.Error()
}

// Unwrap lets errors.Is(err, syscall.EXXX) work against a wrapped *Error.
func (e *Error) Unwrap() error { return e.Errno }

// New builds an *Error and annotates it with msg via pkg/errors'
// WithMessage; no stack trace is recorded.
func New(cat Category, errno syscall.Errno, msg string) error {
	return errors.WithMessage(&Error{Category: cat, Errno: errno, msg: msg}, msg)
}

// Is reports whether err is (or wraps) the given errno.
func Is(err error, errno syscall.Errno) bool {
	return errors.Is(err, errno)
}

// Retryable reports whether err belongs to the three-retry resource
// exhaustion class the fd-cache entry point retries (EADDRINUSE,
// EALREADY, ENOMEM, ENOSR).
func Retryable(err error) bool {
	return Is(err, syscall.EADDRINUSE) || Is(err, syscall.EALREADY) ||
		Is(err, syscall.ENOMEM) || Is(err, syscall.ENOSR)
}

var (
	// ErrSlotBusy is returned by fdcache eviction when every candidate
	// slot is busy.
	ErrSlotBusy = New(Exhaustion, syscall.EADDRINUSE, "no free cache slot")
	// ErrNoStream is returned by the stream manager when reservation
	// is exhausted.
	ErrNoStream = New(Exhaustion, syscall.ENOSR, "no stream available")
	// ErrNotSupported is returned by adapters for operations they
	// don't implement.
	ErrNotSupported = New(NotApplicable, syscall.ENOSYS, "operation not supported")
	// ErrBadState is returned on an illegal stream/slot state transition.
	ErrBadState = New(Invariant, syscall.ENOSR, "illegal state transition")
)
