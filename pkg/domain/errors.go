package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error with a code and message
type DomainError struct {
	Code    string
	Message string
	Err     error
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

// Error codes
const (
	ErrCodeNotFound                 = "NOT_FOUND"
	ErrCodeValidation               = "VALIDATION_ERROR"
	ErrCodeConflict                 = "CONFLICT"
	ErrCodeInternal                 = "INTERNAL_ERROR"
	ErrCodeNoEligibleCandidate      = "NO_ELIGIBLE_CANDIDATE"
	ErrCodeCapacityExhausted        = "CAPACITY_EXHAUSTED"
	ErrCodeExternalService          = "EXTERNAL_SERVICE_ERROR"
	ErrCodeManualAssignmentRequired = "MANUAL_ASSIGNMENT_REQUIRED"
	ErrCodeStaleEntry               = "STALE_ENTRY"
)

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) error {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewValidationError creates a new validation error
func NewValidationError(msg string) error {
	return &DomainError{
		Code:    ErrCodeValidation,
		Message: msg,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(msg string) error {
	return &DomainError{
		Code:    ErrCodeConflict,
		Message: msg,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(err error) error {
	return &DomainError{
		Code:    ErrCodeInternal,
		Message: "An internal error occurred",
		Err:     err,
	}
}

// NewNoEligibleCandidateError is returned when no rule matches or the candidate pool is empty
func NewNoEligibleCandidateError(msg string) error {
	return &DomainError{
		Code:    ErrCodeNoEligibleCandidate,
		Message: msg,
	}
}

// NewCapacityExhaustedError is returned when every available user is at capacity
func NewCapacityExhaustedError(msg string) error {
	return &DomainError{
		Code:    ErrCodeCapacityExhausted,
		Message: msg,
	}
}

// NewExternalServiceError wraps a failure of the lead service or user directory
func NewExternalServiceError(service string, err error) error {
	return &DomainError{
		Code:    ErrCodeExternalService,
		Message: fmt.Sprintf("%s call failed", service),
		Err:     err,
	}
}

// NewManualAssignmentRequiredError is returned when the matching rule uses the MANUAL strategy
func NewManualAssignmentRequiredError(ruleID int64) error {
	return &DomainError{
		Code:    ErrCodeManualAssignmentRequired,
		Message: fmt.Sprintf("rule %d requires manual assignment", ruleID),
	}
}

// NewStaleEntryError is returned when a queue transition loses a compare-and-set race
func NewStaleEntryError(entryID int64) error {
	return &DomainError{
		Code:    ErrCodeStaleEntry,
		Message: fmt.Sprintf("queue entry %d was modified concurrently", entryID),
	}
}

// GetErrorCode extracts the error code from a domain error anywhere in the chain
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternal
}

func hasCode(err error, code string) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == code
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool { return hasCode(err, ErrCodeInternal) }

func IsNoEligibleCandidate(err error) bool { return hasCode(err, ErrCodeNoEligibleCandidate) }

func IsCapacityExhausted(err error) bool { return hasCode(err, ErrCodeCapacityExhausted) }

func IsExternalService(err error) bool { return hasCode(err, ErrCodeExternalService) }

func IsManualAssignmentRequired(err error) bool {
	return hasCode(err, ErrCodeManualAssignmentRequired)
}

func IsStaleEntry(err error) bool { return hasCode(err, ErrCodeStaleEntry) }

// IsRetryable reports whether a routing attempt that failed with err should be
// rescheduled. Errors without a domain code come from storage or transport and are retried.
func IsRetryable(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return true
	}
	switch de.Code {
	case ErrCodeNoEligibleCandidate, ErrCodeCapacityExhausted, ErrCodeExternalService, ErrCodeStaleEntry, ErrCodeConflict:
		return true
	default:
		return false
	}
}
