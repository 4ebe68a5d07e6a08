// Package errors provides the settlement error taxonomy shared by the engine,
// the storage drivers and the transports.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeConflict          Code = "CONFLICT"
	CodePolicyViolation   Code = "POLICY_VIOLATION"

	// CodeTransient covers lock-wait timeouts, deadlocks, serialization
	// failures and an unavailable store. Callers may retry with backoff.
	CodeTransient Code = "TRANSIENT"

	// CodeInternal is a storage or invariant fault that must not be retried blindly.
	CodeInternal Code = "INTERNAL"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeNotFound:
		return codes.NotFound
	case CodeInsufficientFunds, CodeInvalidState:
		return codes.FailedPrecondition
	case CodeConflict:
		return codes.AlreadyExists
	case CodePolicyViolation:
		return codes.InvalidArgument
	case CodeTransient:
		return codes.Unavailable
	case CodeInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// Retryable reports whether an operation failing with this code may be
// retried unchanged.
func (c Code) Retryable() bool {
	return c == CodeTransient
}

// ParseCode converts a reason string back into a Code. Unknown strings map
// to CodeUnknown.
func ParseCode(s string) Code {
	switch c := Code(s); c {
	case CodeNotFound, CodeInsufficientFunds, CodeInvalidState, CodeConflict,
		CodePolicyViolation, CodeTransient, CodeInternal:
		return c
	default:
		return CodeUnknown
	}
}
