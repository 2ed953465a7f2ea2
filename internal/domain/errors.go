package domain

import "errors"

var (
	// Policy class: rejected by the external policy collaborator before any
	// mutation; retry with corrected parameters.
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBucketBelowMinIndex = errors.New("bucket below minimum index")

	// Invariant class: rejected before mutation; the caller must choose
	// different amounts or wait for a rebalance.
	ErrDustyPosition               = errors.New("position below dust floor")
	ErrCapacityExceeded            = errors.New("capacity exceeded")
	ErrBufferRatioBreach           = errors.New("buffer ratio breach")
	ErrInsufficientBufferLiquidity = errors.New("insufficient buffer liquidity")
	ErrUnsafeBucket                = errors.New("destination bucket unsafe")

	// Consistency class: a caller-side bug upstream of the engine. Never
	// catch-and-ignore.
	ErrLedgerUnderflow = errors.New("ledger underflow")

	// State class: recoverable once the blocking condition clears.
	ErrRestricted = errors.New("vault restricted")
	ErrLockActive = errors.New("operation lock active")

	ErrNotFound = errors.New("not found")
)

// ErrorClass buckets engine errors for the API layer and the journal.
type ErrorClass string

const (
	ClassPolicy      ErrorClass = "policy"
	ClassInvariant   ErrorClass = "invariant"
	ClassConsistency ErrorClass = "consistency"
	ClassState       ErrorClass = "state"
	ClassUnknown     ErrorClass = "unknown"
)

// Class maps an engine error to its taxonomy class. Wrapped errors are
// unwrapped via errors.Is.
func Class(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrBucketBelowMinIndex):
		return ClassPolicy
	case errors.Is(err, ErrDustyPosition),
		errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrBufferRatioBreach),
		errors.Is(err, ErrInsufficientBufferLiquidity),
		errors.Is(err, ErrUnsafeBucket):
		return ClassInvariant
	case errors.Is(err, ErrLedgerUnderflow):
		return ClassConsistency
	case errors.Is(err, ErrRestricted), errors.Is(err, ErrLockActive):
		return ClassState
	default:
		return ClassUnknown
	}
}
