package app

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError is a failure with a caller-facing classification. Repository
// operations surface the first failure they hit verbatim; anything that is
// not a DomainError is treated as a store/internal failure at the boundary.
type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, format string, args ...any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func errNotFound(format string, args ...any) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", format, args...)
}

func errForbidden(format string, args ...any) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", format, args...)
}

func errConflict(format string, args ...any) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", format, args...)
}

func errInvalidInput(format string, args ...any) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_INPUT", format, args...)
}

func errUpstream(format string, args ...any) *DomainError {
	return domainError(http.StatusBadGateway, "UPSTREAM_ERROR", format, args...)
}

// asDomainError unwraps err to a DomainError if one is in the chain.
func asDomainError(err error) (*DomainError, bool) {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain, true
	}
	return nil, false
}
