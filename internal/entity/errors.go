package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the job service and repositories.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrAlreadyTerminal = errors.New("job is already in a terminal state")
	ErrNotFailed       = errors.New("only failed jobs can be retried")
	ErrStaleAttempt    = errors.New("progress update from a stale attempt")
)

// Error codes carried by DomainError.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeQuotaExceeded  = "QUOTA_EXCEEDED"
	CodeExtraction     = "EXTRACTION_FAILURE"
	CodeFetch          = "FETCH_FAILURE"
	CodeTimeout        = "TIMEOUT"
	CodeWorkerLost     = "WORKER_LOST"
	CodeNotification   = "NOTIFICATION_FAILURE"
	CodeProcessing     = "PROCESSING_ERROR"
	CodeDispatchFailed = "DISPATCH_FAILED"
)

// DomainError classifies a failure so callers can decide on retry behaviour
// without string matching.
type DomainError struct {
	Code      string
	Message   string
	Err       error
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewValidationError marks bad input, rejected before admission, never retried.
func NewValidationError(msg string) *DomainError {
	return &DomainError{Code: CodeValidation, Message: msg}
}

// NewQuotaExceededError carries the observed usage alongside the limit.
func NewQuotaExceededError(usedBytes, limitBytes int64) *DomainError {
	return &DomainError{
		Code:      CodeQuotaExceeded,
		Message:   fmt.Sprintf("storage quota exceeded: %d of %d bytes used", usedBytes, limitBytes),
		Retryable: true,
	}
}

// NewTimeoutError classifies a hard or soft time-limit abort.
func NewTimeoutError(msg string, err error) *DomainError {
	return &DomainError{Code: CodeTimeout, Message: msg, Err: err, Retryable: true}
}

// NewFetchError wraps a per-item or pipeline-level fetch failure.
func NewFetchError(msg string, err error) *DomainError {
	return &DomainError{Code: CodeFetch, Message: msg, Err: err, Retryable: true}
}

// IsQuotaExceeded reports whether err carries the quota-exceeded code.
func IsQuotaExceeded(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == CodeQuotaExceeded
}

// IsTimeout reports whether err carries the timeout code.
func IsTimeout(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == CodeTimeout
}
