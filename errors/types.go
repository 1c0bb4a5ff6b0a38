package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// State tree errors
	ErrCodeNodeAttached    ErrorCode = "NODE_ATTACHED"
	ErrCodeNodeCycle       ErrorCode = "NODE_CYCLE"
	ErrCodeNodeDetached    ErrorCode = "NODE_DETACHED"
	ErrCodeIndexOutOfRange ErrorCode = "INDEX_OUT_OF_RANGE"
	ErrCodeNotAList        ErrorCode = "NOT_A_LIST"

	// Wire codec errors
	ErrCodeUnknownNode     ErrorCode = "UNKNOWN_NODE"
	ErrCodeUnsupportedType ErrorCode = "UNSUPPORTED_TYPE"
	ErrCodeMalformedJSON   ErrorCode = "MALFORMED_JSON"

	// Template errors
	ErrCodeTemplateSyntax ErrorCode = "TEMPLATE_SYNTAX"

	// Signal errors
	ErrCodeCommandRejected ErrorCode = "COMMAND_REJECTED"
	ErrCodeUnknownCommand  ErrorCode = "UNKNOWN_COMMAND"
	ErrCodeJournal         ErrorCode = "JOURNAL_ERROR"

	// Push errors
	ErrCodeFragment     ErrorCode = "FRAGMENT_INVALID"
	ErrCodeConnClosed   ErrorCode = "CONNECTION_CLOSED"
	ErrCodeSessionGone  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeDaemonAbsent ErrorCode = "DAEMON_NOT_RUNNING"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// SyncError represents a structured error with context
type SyncError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *SyncError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new SyncError
func New(code ErrorCode, message string) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a SyncError
func Wrap(err error, code ErrorCode, message string) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is reports whether any SyncError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var syncErr *SyncError
		if !stderrors.As(err, &syncErr) {
			return false
		}
		if syncErr.Code == code {
			return true
		}
		err = syncErr.Cause
	}
	return false
}

// GetCode extracts the outermost error code from an error
func GetCode(err error) ErrorCode {
	var syncErr *SyncError
	if stderrors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ""
}

// Detail returns a detail value from the outermost SyncError in err's chain.
func Detail(err error, key string) (interface{}, bool) {
	var syncErr *SyncError
	if !stderrors.As(err, &syncErr) || syncErr.Details == nil {
		return nil, false
	}
	v, ok := syncErr.Details[key]
	return v, ok
}
