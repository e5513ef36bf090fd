package util

import (
	"errors"
	"net/http"
	"testing"

	"github.com/spec-kit/ticket-archiver/internal/retryclass"
)

func TestToDomainError_PassesThroughExistingDomainError(t *testing.T) {
	original := NewValidationError("bad payload", nil)
	got := ToDomainError(original)
	if got.Code != "validation_failed" || got.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("expected validation_failed/422, got %+v", got)
	}
}

func TestToDomainError_MapsClassifiedRetryError(t *testing.T) {
	classified := retryclass.NewPermanent(retryclass.CodePathPolicy, "archive_path is invalid", nil)
	got := ToDomainError(classified)
	if got.Code != string(retryclass.CodePathPolicy) {
		t.Fatalf("expected code %q, got %q", retryclass.CodePathPolicy, got.Code)
	}
	if got.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for path policy errors, got %d", got.HTTPStatus)
	}
}

func TestToDomainError_MapsClassifiedRetryErrorToInternalByDefault(t *testing.T) {
	classified := retryclass.NewTransient(retryclass.CodeTmsAuth, "tms unreachable", nil)
	got := ToDomainError(classified)
	if got.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a non-path-policy classified error, got %d", got.HTTPStatus)
	}
}

func TestToDomainError_WrapsUnknownErrorAsInternal(t *testing.T) {
	got := ToDomainError(errors.New("boom"))
	if got.Code != "internal_error" || got.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal_error/500, got %+v", got)
	}
}

func TestToDomainError_NilReturnsNil(t *testing.T) {
	if got := ToDomainError(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestDomainError_ErrorIncludesWrappedCause(t *testing.T) {
	wrapped := errors.New("root cause")
	err := NewInternalError(wrapped)
	if err.(*DomainError).Unwrap() != wrapped {
		t.Fatalf("expected Unwrap to return the wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected a non-empty error message")
	}
}

func TestConstructorHelpers_SetExpectedStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"forbidden", NewForbidden("nope"), http.StatusForbidden},
		{"missing_delivery_id", NewMissingDeliveryID(), http.StatusBadRequest},
		{"request_too_large", NewRequestTooLarge(), http.StatusRequestEntityTooLarge},
		{"rate_limited", NewRateLimited(), http.StatusTooManyRequests},
		{"webhook_auth_not_configured", NewWebhookAuthNotConfigured(), http.StatusServiceUnavailable},
		{"shutting_down", NewShuttingDown(), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			domainErr := ToDomainError(tc.err)
			if domainErr.HTTPStatus != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, domainErr.HTTPStatus)
			}
		})
	}
}
