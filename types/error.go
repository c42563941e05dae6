package types

import "fmt"

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Provider error codes
const (
	ErrProviderTimeout     ErrorCode = "PROVIDER_TIMEOUT"
	ErrProviderRateLimited ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrProviderNetwork     ErrorCode = "PROVIDER_NETWORK"
	ErrProviderOverloaded  ErrorCode = "PROVIDER_OVERLOADED"
	ErrInvalidParameters   ErrorCode = "INVALID_PARAMETERS"
	ErrContentPolicy       ErrorCode = "CONTENT_POLICY"
	ErrCapabilityUnknown   ErrorCode = "CAPABILITY_UNKNOWN"
)

// Cache and store error codes
const (
	ErrCacheWrite    ErrorCode = "CACHE_WRITE"
	ErrCacheRead     ErrorCode = "CACHE_READ"
	ErrStoreWrite    ErrorCode = "STORE_WRITE"
	ErrStoreRead     ErrorCode = "STORE_READ"
	ErrStoreNotFound ErrorCode = "STORE_NOT_FOUND"
)

// Output routing error codes
const (
	ErrOutputMode      ErrorCode = "OUTPUT_MODE"
	ErrOutputLeaseGone ErrorCode = "OUTPUT_LEASE_GONE"
)

// Workflow error codes
const (
	ErrWorkflowConfiguration ErrorCode = "WORKFLOW_CONFIGURATION"
	ErrWorkflowNotFound      ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrWorkflowTerminal      ErrorCode = "WORKFLOW_TERMINAL"
	ErrTemplateNotFound      ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrMissingContextKey     ErrorCode = "MISSING_CONTEXT_KEY"
	ErrDependencyCycle       ErrorCode = "DEPENDENCY_CYCLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
// Cache read/write failures are treated as retryable by default; explicit
// permanent codes are not.
func IsRetryable(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			switch e.Code {
			case ErrCacheWrite, ErrCacheRead, ErrStoreWrite, ErrStoreRead:
				return true
			}
			return e.Retryable
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
