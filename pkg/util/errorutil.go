// Package util carries the HTTP-boundary error shape shared by the
// ingress layer: a stable code, a human message, and the status it maps
// to, independent of the internal retryclass taxonomy used deeper in
// the pipeline.
package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

// DomainError standardizes application errors at the HTTP boundary.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("validation_failed", message, http.StatusUnprocessableEntity, details)
}

func NewForbidden(message string) error {
	return NewDomainError("forbidden", message, http.StatusForbidden, nil)
}

func NewMissingDeliveryID() error {
	return NewDomainError("missing_delivery_id", "X-Delivery-Id header is required", http.StatusBadRequest, nil)
}

func NewRequestTooLarge() error {
	return NewDomainError("request_too_large", "request body exceeds the configured size limit", http.StatusRequestEntityTooLarge, nil)
}

func NewRateLimited() error {
	return NewDomainError("rate_limited", "too many requests", http.StatusTooManyRequests, nil)
}

func NewWebhookAuthNotConfigured() error {
	return NewDomainError("webhook_auth_not_configured", "no webhook secret is configured and unsigned requests are not allowed", http.StatusServiceUnavailable, nil)
}

func NewShuttingDown() error {
	return NewDomainError("shutting_down", "the service is draining in-flight work and is not accepting new jobs", http.StatusServiceUnavailable, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "internal_error",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts any error into a DomainError, translating a
// classified retryclass.Error into the closest HTTP-boundary shape when
// one reaches all the way out to a handler (normally it shouldn't: the
// orchestrator catches these itself).
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var classified *retryclass.Error
	if errors.As(err, &classified) {
		status := http.StatusInternalServerError
		if classified.Code == retryclass.CodePathPolicy {
			status = http.StatusUnprocessableEntity
		}
		return &DomainError{Code: string(classified.Code), Message: classified.Error(), HTTPStatus: status, Err: err}
	}
	return &DomainError{
		Code:       "internal_error",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
