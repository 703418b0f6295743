package app

import (
	"fmt"
	"net/http"
)

// DomainError carries an HTTP status and a stable machine-readable code
// from the service layer to the transport, so handlers never translate
// domain failures themselves.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// validationError rejects malformed input with 422 VALIDATION_ERROR.
func validationError(message string) *DomainError {
	return &DomainError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
}

// unavailableError reports an optional subsystem (history, attachments,
// mail) that is not configured in this deployment.
func unavailableError(code, message string) *DomainError {
	return &DomainError{
		Status:  http.StatusServiceUnavailable,
		Code:    code,
		Message: message,
	}
}
