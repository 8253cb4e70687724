package utils

import (
	"errors"
	"fmt"

	"github.com/dl-alexandre/mrisync/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-19)
	ExitAuthRequired      = 10
	ExitAuthExpired       = 11
	ExitAuthInvalid       = 12
	ExitScopeInsufficient = 13
	// File operation errors (20-29)
	ExitFileNotFound     = 20
	ExitPermissionDenied = 21
	ExitQuotaExceeded    = 22
	// Network errors (30-39)
	ExitNetworkError = 30
	ExitTimeout      = 31
	ExitRateLimited  = 32
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitInvalidPath     = 41
	// Policy errors (50-59)
	ExitPolicyViolation   = 50
	ExitSharingRestricted = 51
	// Batch errors
	ExitBatchPartialFailure = 60
	// Interrupted by signal
	ExitCancelled = 130
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeAuthRequired        = "AUTH_REQUIRED"
	ErrCodeAuthExpired         = "AUTH_EXPIRED"
	ErrCodeAuthClientMissing   = "AUTH_CLIENT_MISSING"
	ErrCodeAuthClientInvalid   = "AUTH_CLIENT_INVALID"
	ErrCodeScopeInsufficient   = "SCOPE_INSUFFICIENT"
	ErrCodeFileNotFound        = "FILE_NOT_FOUND"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrCodeNetworkError        = "NETWORK_ERROR"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInvalidArgument     = "INVALID_ARGUMENT"
	ErrCodeInvalidPath         = "INVALID_PATH"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeRemoteStore         = "REMOTE_STORE_ERROR"
	ErrCodePolicyViolation     = "POLICY_VIOLATION"
	ErrCodeSharingRestricted   = "SHARING_RESTRICTED"
	ErrCodeFileTransferFailed  = "FILE_TRANSFER_FAILED"
	ErrCodeBatchPartialFailure = "BATCH_PARTIAL_FAILURE"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeUnknown             = "UNKNOWN"
)

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithHTTPStatus(status int) *CLIErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

func (b *CLIErrorBuilder) WithDriveReason(reason string) *CLIErrorBuilder {
	b.err.DriveReason = reason
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	mapping := map[string]int{
		ErrCodeAuthRequired:        ExitAuthRequired,
		ErrCodeAuthExpired:         ExitAuthExpired,
		ErrCodeAuthClientMissing:   ExitAuthRequired,
		ErrCodeAuthClientInvalid:   ExitAuthInvalid,
		ErrCodeScopeInsufficient:   ExitScopeInsufficient,
		ErrCodeFileNotFound:        ExitFileNotFound,
		ErrCodePermissionDenied:    ExitPermissionDenied,
		ErrCodeQuotaExceeded:       ExitQuotaExceeded,
		ErrCodeNetworkError:        ExitNetworkError,
		ErrCodeTimeout:             ExitTimeout,
		ErrCodeRateLimited:         ExitRateLimited,
		ErrCodeInvalidArgument:     ExitInvalidArgument,
		ErrCodeInvalidPath:         ExitInvalidPath,
		ErrCodeConfiguration:       ExitInvalidArgument,
		ErrCodePolicyViolation:     ExitPolicyViolation,
		ErrCodeSharingRestricted:   ExitSharingRestricted,
		ErrCodeBatchPartialFailure: ExitBatchPartialFailure,
		ErrCodeFileTransferFailed:  ExitBatchPartialFailure,
		ErrCodeCancelled:           ExitCancelled,
	}
	if code, ok := mapping[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
	Err      error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}

// WrapAppError creates an AppError that keeps the underlying cause
func WrapAppError(cliErr types.CLIError, err error) *AppError {
	return &AppError{CLIError: cliErr, Err: err}
}

// NewConfigurationError reports invalid input detected before any remote mutation
func NewConfigurationError(message string, err error) *AppError {
	b := NewCLIError(ErrCodeConfiguration, message)
	if err != nil {
		b.WithContext("cause", err.Error())
	}
	return WrapAppError(b.Build(), err)
}

// IsRetryable reports whether err carries a retryable CLIError
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Retryable
	}
	return false
}

// CodeOf returns the CLI error code carried by err, or ErrCodeUnknown
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Code
	}
	return ErrCodeUnknown
}
