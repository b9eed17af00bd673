// Package errors provides standardized error handling for dialogs, CRM backends and job workers.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeCRMQueryFailed      ErrorCode = "CRM_QUERY_FAILED"
	ErrCodeCRMRecordNotFound   ErrorCode = "CRM_RECORD_NOT_FOUND"
	ErrCodeCRMFormsFailed      ErrorCode = "CRM_FORMS_FAILED"
	ErrCodeCRMRenderFailed     ErrorCode = "CRM_RENDER_FAILED"
	ErrCodeCRMAuthFailed       ErrorCode = "CRM_AUTH_FAILED"
	ErrCodeInvalidQuery        ErrorCode = "INVALID_QUERY"
	ErrCodeConversationStore   ErrorCode = "CONVERSATION_STORE_FAILED"
	ErrCodeConversationBusy    ErrorCode = "CONVERSATION_BUSY"
	ErrCodeDialogStateInvalid  ErrorCode = "DIALOG_STATE_INVALID"
	ErrCodeUnknownDialog       ErrorCode = "UNKNOWN_DIALOG"
	ErrCodeNoActiveDialog      ErrorCode = "NO_ACTIVE_DIALOG"
	ErrCodeInvalidTurnEvent    ErrorCode = "INVALID_TURN_EVENT"
	ErrCodeChoiceNotResolved   ErrorCode = "CHOICE_NOT_RESOLVED"
	ErrCodeMessageSendFailed   ErrorCode = "MESSAGE_SEND_FAILED"
	ErrCodeExternalService     ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout             ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInputParsingFailed  ErrorCode = "INPUT_PARSING_FAILED"
	ErrCodeInputValidation     ErrorCode = "VALIDATION_FAILED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	stdErr := &StandardError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
	if cause != nil {
		stdErr.Details = cause.Error()
	}
	return stdErr
}

// AsStandardError finds a StandardError anywhere in err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in err's chain, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

func NewCRMQueryFailedError(entityType string, err error) *StandardError {
	e := newError(ErrCodeCRMQueryFailed, "CRM record query failed", err, true)
	e.Metadata = map[string]interface{}{"entityType": entityType}
	return e
}

func NewCRMRecordNotFoundError(entityType, id string) *StandardError {
	e := newError(ErrCodeCRMRecordNotFound, "CRM record not found", nil, false)
	e.Details = fmt.Sprintf("%s(%s)", entityType, id)
	return e
}

func NewCRMFormsFailedError(entityType string, err error) *StandardError {
	e := newError(ErrCodeCRMFormsFailed, "Failed to retrieve CRM forms", err, true)
	e.Metadata = map[string]interface{}{"entityType": entityType}
	return e
}

func NewCRMRenderFailedError(err error) *StandardError {
	return newError(ErrCodeCRMRenderFailed, "Failed to render CRM form", err, false)
}

func NewCRMAuthFailedError(err error) *StandardError {
	return newError(ErrCodeCRMAuthFailed, "CRM authentication failed", err, true)
}

func NewInvalidQueryError(details string) *StandardError {
	e := newError(ErrCodeInvalidQuery, "Invalid record query", nil, false)
	e.Details = details
	return e
}

func NewConversationStoreError(err error) *StandardError {
	return newError(ErrCodeConversationStore, "Conversation store operation failed", err, true)
}

// NewConversationBusyError reports a turn rejected because another turn of the
// same conversation is still running.
func NewConversationBusyError(conversationID string) *StandardError {
	e := newError(ErrCodeConversationBusy, "Conversation is handling another turn", nil, true)
	e.Details = fmt.Sprintf("conversationId: %s", conversationID)
	return e
}

func NewDialogStateInvalidError(kind string, err error) *StandardError {
	e := newError(ErrCodeDialogStateInvalid, "Dialog state is invalid", err, false)
	e.Metadata = map[string]interface{}{"dialog": kind}
	return e
}

func NewUnknownDialogError(kind string) *StandardError {
	e := newError(ErrCodeUnknownDialog, "Unknown dialog", nil, false)
	e.Details = fmt.Sprintf("dialog: %s", kind)
	return e
}

func NewNoActiveDialogError(conversationID string) *StandardError {
	e := newError(ErrCodeNoActiveDialog, "No active dialog for conversation", nil, false)
	e.Details = fmt.Sprintf("conversationId: %s", conversationID)
	return e
}

func NewInvalidTurnEventError(details string) *StandardError {
	e := newError(ErrCodeInvalidTurnEvent, "Invalid turn event", nil, false)
	e.Details = details
	return e
}

func NewChoiceNotResolvedError(attempts int) *StandardError {
	e := newError(ErrCodeChoiceNotResolved, "Too many attempts to choose a record", nil, false)
	e.Details = fmt.Sprintf("attempts: %d", attempts)
	return e
}

func NewMessageSendFailedError(err error) *StandardError {
	return newError(ErrCodeMessageSendFailed, "Failed to send message", err, true)
}

func NewInputParsingError(err error) *StandardError {
	return newError(ErrCodeInputParsingFailed, "Failed to parse job variables", err, false)
}

func NewInputValidationError(details string) *StandardError {
	e := newError(ErrCodeInputValidation, "Input validation failed", nil, false)
	e.Details = details
	return e
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err, true)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err, true)
}

// Wrap converts any error into a StandardError, preserving an existing one.
func Wrap(err error) *StandardError {
	if err == nil {
		return nil
	}
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return newError(ErrCodeInternal, "Unexpected error", err, false)
}

// GetRetryCount returns how many times a job failing with code should be retried.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeConversationStore, ErrCodeExternalService, ErrCodeCRMAuthFailed:
		return 3
	case ErrCodeTimeout, ErrCodeCRMQueryFailed, ErrCodeCRMFormsFailed, ErrCodeConversationBusy:
		return 2
	default:
		return 0
	}
}

// GetErrorCategory groups codes for logging.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeCRMQueryFailed, ErrCodeCRMRecordNotFound, ErrCodeCRMFormsFailed,
		ErrCodeCRMRenderFailed, ErrCodeCRMAuthFailed, ErrCodeInvalidQuery:
		return "CRM"
	case ErrCodeConversationStore, ErrCodeConversationBusy, ErrCodeDialogStateInvalid, ErrCodeUnknownDialog,
		ErrCodeNoActiveDialog, ErrCodeChoiceNotResolved, ErrCodeMessageSendFailed:
		return "DIALOG"
	case ErrCodeInvalidTurnEvent, ErrCodeInputParsingFailed, ErrCodeInputValidation:
		return "INPUT"
	case ErrCodeExternalService, ErrCodeTimeout:
		return "INFRASTRUCTURE"
	default:
		return "UNKNOWN"
	}
}
