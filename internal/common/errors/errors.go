// Package errors provides standardized error handling for the lifecycle engine
// and its BPMN workflow integration.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeEvaluationFailed         ErrorCode = "EVALUATION_FAILED"
	ErrCodeStageWriteConflict       ErrorCode = "STAGE_WRITE_CONFLICT"
	ErrCodeApplicationNotFound      ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeCarriageWriteFailed      ErrorCode = "CARRIAGE_WRITE_FAILED"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"

	ErrCodeClaimStoreUnavailable  ErrorCode = "CLAIM_STORE_UNAVAILABLE"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeTemplateNotFound       ErrorCode = "TEMPLATE_NOT_FOUND"

	ErrCodeInvalidEvent   ErrorCode = "INVALID_EVENT"
	ErrCodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	ErrCodeQueueFull      ErrorCode = "INGESTION_QUEUE_FULL"

	ErrCodeAuditIndexFailed ErrorCode = "AUDIT_INDEX_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches replay context (applicationId, trigger, stages).
func (e *StandardError) WithMetadata(fields map[string]interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		e.Metadata[k] = v
	}
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewEvaluationFailedError wraps a read failure during reconcile. The next
// triggering event corrects it, so it is never retried in-band.
func NewEvaluationFailedError(applicationID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEvaluationFailed,
		Message:   "Stage evaluation failed",
		Details:   fmt.Sprintf("applicationId: %s, error: %s", applicationID, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewStageWriteConflictError(applicationID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStageWriteConflict,
		Message:   "Concurrent stage write detected",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewApplicationNotFoundError(applicationID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "Application not found",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewCarriageWriteFailedError(applicationID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCarriageWriteFailed,
		Message:   "Field carriage write failed",
		Details:   fmt.Sprintf("applicationId: %s, error: %s", applicationID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewClaimStoreUnavailableError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeClaimStoreUnavailable,
		Message:   "Dedupe claim store unavailable",
		Details:   fmt.Sprintf("key: %s, error: %s", key, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNotificationSendFailedError is logged only; the claim stays in place.
func NewNotificationSendFailedError(templateKey string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("template: %s, error: %s", templateKey, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewTemplateNotFoundError(templateKey string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Notification template not found",
		Details:   fmt.Sprintf("template: %s", templateKey),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidEventError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidEvent,
		Message:   "Invalid lifecycle event",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidPayloadError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidPayload,
		Message:   "Invalid field payload",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewQueueFullError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueFull,
		Message:   "Reconciliation queue is full",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewAuditIndexFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditIndexFailed,
		Message:   "Transition audit indexing failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeEvaluationFailed:         "EVALUATION_FAILED",
	ErrCodeStageWriteConflict:       "STAGE_WRITE_CONFLICT",
	ErrCodeApplicationNotFound:      "APPLICATION_NOT_FOUND",
	ErrCodeCarriageWriteFailed:      "CARRIAGE_WRITE_FAILED",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeClaimStoreUnavailable:    "CLAIM_STORE_UNAVAILABLE",
	ErrCodeNotificationSendFailed:   "NOTIFICATION_SEND_FAILED",
	ErrCodeTemplateNotFound:         "TEMPLATE_NOT_FOUND",
	ErrCodeInvalidEvent:             "INVALID_EVENT",
	ErrCodeInvalidPayload:           "INVALID_PAYLOAD",
	ErrCodeQueueFull:                "INGESTION_QUEUE_FULL",
	ErrCodeAuditIndexFailed:         "AUDIT_INDEX_FAILED",
}

// GetRetryCount returns the job retry budget for a code. Reconciliation and
// dispatch failures get 0; the next event for the application reconciles again.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeCarriageWriteFailed,
		ErrCodeDatabaseConnectionFailed:
		return 3

	case ErrCodeQueueFull:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// CodeOf extracts the ErrorCode from any error chain, or "INTERNAL_ERROR".
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return "INTERNAL_ERROR"
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "EVALUATION") || strings.Contains(codeStr, "STAGE"):
		return "RECONCILIATION"
	case strings.Contains(codeStr, "CARRIAGE") || strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "APPLICATION"):
		return "DATABASE"
	case strings.Contains(codeStr, "CLAIM") || strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "TEMPLATE"):
		return "DISPATCH"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "QUEUE"):
		return "INGESTION"
	case strings.Contains(codeStr, "AUDIT"):
		return "AUDIT"
	default:
		return "OTHER"
	}
}
