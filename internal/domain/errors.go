package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Callers match with errors.Is.
var (
	// Validation errors — surfaced synchronously, never retried.
	ErrAgentNotFound        = fmt.Errorf("agent not found")
	ErrSkillNotFound        = fmt.Errorf("skill not found")
	ErrTenantMismatch       = fmt.Errorf("agent does not belong to tenant")
	ErrTargetTenantRequired = fmt.Errorf("external call requires target tenant")
	ErrInvalidCommunication = fmt.Errorf("invalid communication type")
	ErrInvalidInput         = fmt.Errorf("invalid input")

	// Session lifecycle errors.
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSessionActive   = fmt.Errorf("session already active")
	ErrSessionTerminal = fmt.Errorf("session already completed")

	// Execution errors — logged to the interaction trail, then propagated.
	ErrSkillExecution = fmt.Errorf("skill execution failed")

	// Fatal configuration — aborts the resolution, not the process.
	ErrUnknownAgentType = fmt.Errorf("unknown agent type")

	// Gateway / connection errors.
	ErrConnectionNotFound = fmt.Errorf("connection not found")
	ErrConnectionDisabled = fmt.Errorf("connection disabled")
	ErrEnvelopeInvalid    = fmt.Errorf("envelope payload invalid")
	ErrRequestTypeUnknown = fmt.Errorf("request type unknown")

	// Infrastructure.
	ErrCounterUnavailable = fmt.Errorf("counter store unavailable")
	ErrStorageFailure     = fmt.Errorf("storage failure")
	ErrProviderError      = fmt.Errorf("provider error")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g. "Registry.Resolve")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsValidation reports whether err belongs to the validation class —
// errors the API layer maps to a 4xx response.
func IsValidation(err error) bool {
	for _, sentinel := range []error{
		ErrAgentNotFound, ErrSkillNotFound, ErrTenantMismatch,
		ErrTargetTenantRequired, ErrInvalidCommunication, ErrInvalidInput,
		ErrSessionNotFound, ErrSessionActive, ErrSessionTerminal,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown                ErrorCode = "UNKNOWN"
	CodeAgentNotFound          ErrorCode = "AGENT_NOT_FOUND"
	CodeSkillNotFound          ErrorCode = "SKILL_NOT_FOUND"
	CodeTenantMismatch         ErrorCode = "TENANT_MISMATCH"
	CodeTargetTenantRequired   ErrorCode = "TARGET_TENANT_REQUIRED"
	CodeInvalidCommunication   ErrorCode = "INVALID_COMMUNICATION_TYPE"
	CodeInvalidInput           ErrorCode = "INVALID_INPUT"
	CodeSessionNotFound        ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionActive          ErrorCode = "SESSION_ACTIVE"
	CodeSessionTerminal        ErrorCode = "SESSION_TERMINAL"
	CodeSkillExecution         ErrorCode = "SKILL_EXECUTION_FAILED"
	CodeUnknownAgentType       ErrorCode = "UNKNOWN_AGENT_TYPE"
	CodeConnectionNotFound     ErrorCode = "CONNECTION_NOT_FOUND"
	CodeConnectionDisabled     ErrorCode = "CONNECTION_DISABLED"
	CodeEnvelopeInvalid        ErrorCode = "ENVELOPE_INVALID"
	CodeRequestTypeUnknown     ErrorCode = "REQUEST_TYPE_UNKNOWN"
	CodeAdmissionRejected      ErrorCode = "ADMISSION_REJECTED"
	CodeCounterUnavailable     ErrorCode = "COUNTER_UNAVAILABLE"
	CodeStorageFailure         ErrorCode = "STORAGE_FAILURE"
	CodeProviderError          ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrAgentNotFound:        CodeAgentNotFound,
	ErrSkillNotFound:        CodeSkillNotFound,
	ErrTenantMismatch:       CodeTenantMismatch,
	ErrTargetTenantRequired: CodeTargetTenantRequired,
	ErrInvalidCommunication: CodeInvalidCommunication,
	ErrInvalidInput:         CodeInvalidInput,
	ErrSessionNotFound:      CodeSessionNotFound,
	ErrSessionActive:        CodeSessionActive,
	ErrSessionTerminal:      CodeSessionTerminal,
	ErrSkillExecution:       CodeSkillExecution,
	ErrUnknownAgentType:     CodeUnknownAgentType,
	ErrConnectionNotFound:   CodeConnectionNotFound,
	ErrConnectionDisabled:   CodeConnectionDisabled,
	ErrEnvelopeInvalid:      CodeEnvelopeInvalid,
	ErrRequestTypeUnknown:   CodeRequestTypeUnknown,
	ErrCounterUnavailable:   CodeCounterUnavailable,
	ErrStorageFailure:       CodeStorageFailure,
	ErrProviderError:        CodeProviderError,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
