// Package errors defines the retrieval engine's error taxonomy and the
// bounded retry/backoff machinery used by the consistency coordinator.
//
// Errors fall into four tiers with distinct propagation rules: configuration
// errors fail fast at construction, transient backend errors are retried
// where idempotent, consistency errors surface as a degraded-mode signal,
// and logic errors are rejected before any work begins.
package errors

import (
	"errors"
	"fmt"
)

// Tier classifies an error for propagation and retry decisions.
type Tier int

const (
	// TierConfig covers invalid configuration: out-of-range lambda or bias,
	// dimension mismatches. Never retried; fails at construction time.
	TierConfig Tier = iota

	// TierTransient covers durable-store and cache I/O failures. Retried
	// with bounded backoff where the operation is idempotent.
	TierTransient

	// TierConsistency covers index-write failures after a successful
	// durable write. Retried, then surfaced as degraded mode.
	TierConsistency

	// TierLogic covers malformed input such as a negative result limit.
	// Rejected before any work begins.
	TierLogic
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierConfig:
		return "config"
	case TierTransient:
		return "transient"
	case TierConsistency:
		return "consistency"
	case TierLogic:
		return "logic"
	default:
		return "unknown"
	}
}

// Sentinel errors. Callers match these with errors.Is to distinguish
// "not found" from "degraded" from "invalid input" - these are semantically
// different outcomes and are never collapsed.
var (
	// ErrNotFound indicates the requested episode does not exist in the
	// durable store.
	ErrNotFound = errors.New("episode not found")

	// ErrDegraded indicates an episode was durably stored but could not be
	// indexed; hierarchical retrieval coverage is incomplete until the
	// index is repaired.
	ErrDegraded = errors.New("index write failed: engine degraded")

	// ErrInvalidQuery indicates a malformed retrieval query.
	ErrInvalidQuery = errors.New("invalid retrieval query")

	// ErrDimensionMismatch indicates a query vector whose dimension does
	// not match the configured embedding dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexDisabled indicates the hierarchical index is disabled by
	// configuration.
	ErrIndexDisabled = errors.New("hierarchical index disabled")
)

// Error wraps an underlying error with its tier and the operation that
// produced it.
type Error struct {
	Tier Tier
	Op   string
	Err  error
}

// New wraps err with a tier and operation name.
func New(tier Tier, op string, err error) *Error {
	return &Error{Tier: tier, Op: op, Err: err}
}

// Newf wraps a formatted error with a tier and operation name.
func Newf(tier Tier, op, format string, args ...any) *Error {
	return &Error{Tier: tier, Op: op, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Tier, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// TierOf returns the tier of err, or TierLogic if err carries no tier.
func TierOf(err error) Tier {
	var te *Error
	if errors.As(err, &te) {
		return te.Tier
	}
	return TierLogic
}

// Retryable reports whether err belongs to a tier that permits retries.
func Retryable(err error) bool {
	switch TierOf(err) {
	case TierTransient, TierConsistency:
		return true
	default:
		return false
	}
}
