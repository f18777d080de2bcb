// Package dberrors declares the sentinel error taxonomy used across the
// storage and execution core: transient (retry locally), conflict (surface,
// may retry at caller), and fatal (invariant violation) per spec.md §7.
package dberrors

import "errors"

var (
	// Transient: the caller should retry, usually against a possibly
	// different handler or replica.
	ErrRetry   = errors.New("lealone: retry")
	ErrShifted = errors.New("lealone: page operation shifted to another handler")

	// Conflict: surfaced to the caller, who decides whether to retry.
	ErrRowLocked    = errors.New("lealone: row is locked by another transaction")
	ErrValueChanged = errors.New("lealone: compare-and-swap value mismatch")
	ErrNotFound     = errors.New("lealone: not found")

	// Fatal: invariant violations. Never expected to be retried.
	ErrClosed            = errors.New("lealone: map is closed")
	ErrInvalidArgument   = errors.New("lealone: invalid argument")
	ErrNullValue         = errors.New("lealone: null value rejected")
	ErrCorruptChunk      = errors.New("lealone: corrupt chunk")
	ErrDeadlock          = errors.New("lealone: deadlock detected")
	ErrSessionClosed     = errors.New("lealone: session is closed")
	ErrSchedulerEnded    = errors.New("lealone: scheduler has ended")
	ErrQuorumUnreachable = errors.New("lealone: replication quorum unreachable")
)
