package app

import "fmt"

// DomainError is the structural error surface of the core: every expected
// failure (slot contention, invite lifecycle, unknown rule) maps to one of
// these, with Status carrying the HTTP translation.
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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
