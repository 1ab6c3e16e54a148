// Package errors provides standardized error handling for the intake workflow.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeSessionTimeout       ErrorCode = "SESSION_TIMEOUT"
	ErrCodeSessionAlreadyActive ErrorCode = "SESSION_ALREADY_ACTIVE"
	ErrCodeChannelUnavailable   ErrorCode = "CHANNEL_UNAVAILABLE"

	ErrCodeRecordNotFound      ErrorCode = "RECORD_NOT_FOUND"
	ErrCodeAlreadyDecided      ErrorCode = "ALREADY_DECIDED"
	ErrCodeDecisionInProgress  ErrorCode = "DECISION_IN_PROGRESS"
	ErrCodeReasonTimeout       ErrorCode = "REASON_TIMEOUT"
	ErrCodeDatabaseWriteFailed ErrorCode = "DATABASE_WRITE_FAILED"
	ErrCodeDatabaseQueryFailed ErrorCode = "DATABASE_QUERY_FAILED"

	ErrCodeRoleGrantFailed        ErrorCode = "ROLE_GRANT_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeProvisionSendFailed    ErrorCode = "PROVISION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewSessionTimeoutError marks a question-answer wait that elapsed. Expected
// outcome, never retried.
func NewSessionTimeoutError(applicantID string, questionIndex int) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionTimeout,
		Message:   "Applicant did not answer before the deadline",
		Details:   fmt.Sprintf("applicantId: %s, questionIndex: %d", applicantID, questionIndex),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionAlreadyActiveError creates a non-retryable duplicate-session error.
func NewSessionAlreadyActiveError(applicantID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionAlreadyActive,
		Message:   "An intake session is already running for this applicant",
		Details:   fmt.Sprintf("applicantId: %s", applicantID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewChannelUnavailableError marks a session channel that became unusable
// mid-flow (deleted externally, permission lost).
func NewChannelUnavailableError(channelID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeChannelUnavailable,
		Message:   "Session conversation channel is unavailable",
		Details:   fmt.Sprintf("channelId: %s, error: %v", channelID, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRecordNotFoundError creates a non-retryable lookup error.
func NewRecordNotFoundError(applicantID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRecordNotFound,
		Message:   "No pending application found",
		Details:   fmt.Sprintf("applicantId: %s", applicantID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadyDecidedError guards repeated terminal actions on the same record.
func NewAlreadyDecidedError(applicantID, status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlreadyDecided,
		Message:   "Application has already reached a terminal decision",
		Details:   fmt.Sprintf("applicantId: %s, status: %s", applicantID, status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDecisionInProgressError is returned to the loser of a concurrent
// decision race on the same applicant.
func NewDecisionInProgressError(applicantID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDecisionInProgress,
		Message:   "Another staff action on this application is being processed",
		Details:   fmt.Sprintf("applicantId: %s", applicantID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewReasonTimeoutError marks a rejection whose reason was never provided.
// The record stays pending and the action can be retried.
func NewReasonTimeoutError(actorID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeReasonTimeout,
		Message:   "No rejection reason received before the deadline",
		Details:   fmt.Sprintf("actorId: %s", actorID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseWriteFailedError creates a retryable persistence error.
func NewDatabaseWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseWriteFailed,
		Message:   "Application record write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseQueryFailedError creates a retryable lookup error.
func NewDatabaseQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseQueryFailed,
		Message:   "Application record lookup failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRoleGrantFailedError creates a best-effort role grant error.
func NewRoleGrantFailedError(applicantID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRoleGrantFailed,
		Message:   "Role grant for approved applicant failed",
		Details:   fmt.Sprintf("applicantId: %s, error: %v", applicantID, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channelID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channelId: %s, error: %v", channelID, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewProvisionSendFailedError creates a provisioning sink error.
func NewProvisionSendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProvisionSendFailed,
		Message:   "Provisioning command delivery failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseWriteFailed,
		ErrCodeDatabaseQueryFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeProvisionSendFailed:
		return 3

	case ErrCodeRoleGrantFailed:
		return 1

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}
