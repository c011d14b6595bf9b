package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable machine-readable code attached to every rejection.
type ErrorCode string

const (
	CodeNotAuthenticated ErrorCode = "not-authenticated"
	CodeNotFound         ErrorCode = "not-found"
	CodeForbidden        ErrorCode = "forbidden"
	CodeInvalidState     ErrorCode = "invalid-state"
	CodeInvalidInput     ErrorCode = "invalid-input"
	CodeUpstreamTimeout  ErrorCode = "upstream-timeout"
	CodeUpstreamFailure  ErrorCode = "upstream-failure"
	CodeInternal         ErrorCode = "internal-error"
)

// Rejection is a structured, non-fatal refusal of an operation. Guard
// violations never mutate state; they surface as a Rejection to the caller.
type Rejection struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Reject builds a Rejection error with the given code.
func Reject(code ErrorCode, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// Rejectf builds a Rejection error with a formatted message.
func Rejectf(code ErrorCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRejection extracts a Rejection from err. Any other error is folded
// into a generic internal-error rejection so callers always get a stable
// code without the internal detail leaking to the wire.
func AsRejection(err error) *Rejection {
	var r *Rejection
	if errors.As(err, &r) {
		return r
	}
	return &Rejection{Code: CodeInternal, Message: "internal error"}
}
