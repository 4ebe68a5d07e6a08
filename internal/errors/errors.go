package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the error domain attached to gRPC error details.
const Domain = "wagerledger.settlement"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Identifiers involved (escrow_id, owner_id, ...)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithMetadata creates a domain error carrying identifiers for telemetry.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is comparisons by code.
var (
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrInsufficientFunds = New(CodeInsufficientFunds, "insufficient funds")
	ErrInvalidState      = New(CodeInvalidState, "invalid state")
	ErrConflict          = New(CodeConflict, "conflict")
	ErrPolicyViolation   = New(CodePolicyViolation, "policy violation")
	ErrTransient         = New(CodeTransient, "transient failure")
)

// CodeOf extracts the domain code from an error chain. Errors that carry no
// domain error yield CodeUnknown; nil yields "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err is safe to retry with backoff.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

// ToGRPCStatus converts err to a gRPC status error carrying an ErrorInfo
// detail whose Reason is the domain code.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if !stderrors.As(err, &domainErr) {
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Error(codes.Internal, err.Error())
	}

	st := status.New(domainErr.Code.GRPCCode(), domainErr.Error())
	detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(domainErr.Code),
		Domain:   Domain,
		Metadata: domainErr.Metadata,
	})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}

// FromGRPCStatus rebuilds a domain error from a status produced by
// ToGRPCStatus. Statuses without an ErrorInfo detail keep their message and
// map to CodeUnknown, except Unavailable and DeadlineExceeded which are
// transient.
func FromGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == Domain {
			return &Error{
				Code:     ParseCode(info.Reason),
				Message:  st.Message(),
				Metadata: info.Metadata,
			}
		}
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return Wrap(CodeTransient, st.Message(), err)
	}
	return Wrap(CodeUnknown, st.Message(), err)
}
