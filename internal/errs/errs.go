// Package errs defines the error taxonomy of spec §7: configuration, transient
// network, provider-exhausted, decode, simulation, execution and invariant
// violations. Callers use errors.Is/errors.As rather than string matching.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a fatal startup configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderExhausted marks that every RPC provider failed a call.
	ErrProviderExhausted = errors.New("all providers failed")

	// ErrInvariant marks an invariant violation surfaced to the caller
	// (e.g. opening a position when the map is full).
	ErrInvariant = errors.New("invariant violation")

	// ErrTransient marks a recoverable network-level failure (timeout,
	// reset, 429). Callers retry/failover rather than propagate.
	ErrTransient = errors.New("transient network error")

	// ErrSimulationInconclusive marks a sell-simulation that could not be
	// fully verified (e.g. InsufficientFunds).
	ErrSimulationInconclusive = errors.New("simulation inconclusive")

	// ErrExecutionFailed marks that both the bundle path and the direct-RPC
	// fallback failed to land a transaction.
	ErrExecutionFailed = errors.New("execution failed")
)

// Wrap attaches a taxonomy sentinel to err via %w-compatible wrapping so both
// errors.Is(err, sentinel) and the original message survive.
func Wrap(sentinel error, format string, args ...any) error {
	return &wrapped{sentinel: sentinel, msg: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	sentinel error
	msg      string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.sentinel }
