// Package errors provides the error taxonomy shared by the sync engine.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode identifies the kind of a failure. Callers branch on the code
// instead of matching messages.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrPermission ErrorCode = "PERMISSION_DENIED"
	ErrStorage    ErrorCode = "STORAGE_ERROR"

	// Network errors
	ErrTransient   ErrorCode = "TRANSIENT_NETWORK"
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	ErrPermanent   ErrorCode = "PERMANENT"

	// Sync errors
	ErrQueueExecution ErrorCode = "QUEUE_EXECUTION_FAILED"
	ErrDeferred       ErrorCode = "DEFERRED" // skipped locally; retry unchanged later
	ErrCryptoFailed   ErrorCode = "CRYPTO_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost AppError in the chain, or "" when
// the chain holds none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// rateLimitPatterns are matched case-insensitively against error messages
// that did not come with an explicit code.
var rateLimitPatterns = []string{
	"429",
	"rate limit",
	"rate-limit",
	"too many requests",
	"quota exceeded",
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"temporary failure",
	"service unavailable",
	"network is unreachable",
	"eof",
	"502",
	"503",
	"504",
}

// Classify maps any error to a code. AppError codes win; otherwise network
// errors and known message patterns are recognised. Unknown errors are
// treated as transient so that writes keep their offline fallback.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if code := CodeOf(err); code != "" {
		return code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrTransient
	}
	if stderrors.Is(err, context.Canceled) {
		return ErrInternal
	}

	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return ErrRateLimited
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return ErrTransient
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return ErrTransient
		}
	}
	return ErrTransient
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool {
	return err != nil && Classify(err) == ErrRateLimited
}

// IsFallbackEligible reports whether a failed network write with this code
// may be folded into the optimistic offline path.
func IsFallbackEligible(code ErrorCode) bool {
	switch code {
	case ErrTransient, ErrRateLimited:
		return true
	default:
		return false
	}
}
