// Package coreerr declares the error taxonomy shared by every step of the
// trading loop (spec.md §7). Steps return typed outcomes built on these
// sentinels so the loop can branch on errors.Is/errors.As instead of
// string matching, and so no inner error unwinds past its step boundary
// unless the error-rate monitor or a configuration error says otherwise.
package coreerr

import "errors"

// Category sentinels. Wrap with fmt.Errorf("%w: ...", category, ...) at the
// call site so context survives while errors.Is still matches the category.
var (
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrBrokerTransient covers network/timeout/rate-limit conditions that
	// are retried within a step up to its retry budget, then the iteration
	// is skipped.
	ErrBrokerTransient = errors.New("broker transient error")

	// ErrBrokerFatal is a server-side rejection with a diagnostic code; it
	// is recorded and propagated as a rejected signal or failed position
	// update, but does not abort the loop.
	ErrBrokerFatal = errors.New("broker fatal error")

	// ErrInvariantViolation marks an assertion failure on tracker state or
	// numeric sanity. It forces a full reconciliation; repeated violations
	// in a short window trigger graceful shutdown.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrRiskHalt is a deliberate policy stop — non-fatal to the process,
	// blocks new entries until operator intervention or configured
	// recovery.
	ErrRiskHalt = errors.New("risk halted")

	// ErrCommandRejected covers per-command rejections; never affects loop
	// state.
	ErrCommandRejected = errors.New("command rejected")

	// ErrSinkDropped marks a telemetry emission failure; dropped with a
	// counter, never propagated to trading logic.
	ErrSinkDropped = errors.New("sink dropped event")
)

// CommandRejectCode is the fixed code set for command channel rejections.
type CommandRejectCode string

const (
	CommandUnauthorized     CommandRejectCode = "unauthorized"
	CommandRateLimited      CommandRejectCode = "rate_limited"
	CommandInvalid          CommandRejectCode = "invalid"
	CommandDeadlineExceeded CommandRejectCode = "deadline_exceeded"
	CommandBusy             CommandRejectCode = "busy"
)

// ExitCode is the process exit code used when the core is embedded as a
// standalone process (spec.md §6).
type ExitCode int

const (
	ExitClean               ExitCode = 0
	ExitConfigurationError  ExitCode = 2
	ExitBrokerFailure       ExitCode = 3
	ExitRiskHalted          ExitCode = 4
	ExitErrorRateExceeded   ExitCode = 5
)
