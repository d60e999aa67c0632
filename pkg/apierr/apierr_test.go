package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeMissingAuth, http.StatusUnauthorized},
		{CodeInvalidAPIKey, http.StatusUnauthorized},
		{CodeExpiredAPIKey, http.StatusUnauthorized},
		{CodeInvalidToken, http.StatusUnauthorized},
		{CodeTenantSuspended, http.StatusForbidden},
		{CodeInsufficientScope, http.StatusForbidden},
		{CodeQuotaExceeded, http.StatusForbidden},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeLimitExceeded, http.StatusTooManyRequests},
		{CodeInvalidTopic, http.StatusBadRequest},
		{CodeInvalidPayload, http.StatusBadRequest},
		{CodeValidationFailed, http.StatusBadRequest},
		{CodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{CodeNotFound, http.StatusNotFound},
		{CodePublishFailed, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
		{Code("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestCodeOfUnwrapsThroughWrapping(t *testing.T) {
	base := New(CodeQuotaExceeded, "over cap")
	wrapped := fmt.Errorf("handling request: %w", base)
	if got := CodeOf(wrapped); got != CodeQuotaExceeded {
		t.Fatalf("CodeOf = %s, want %s", got, CodeQuotaExceeded)
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Fatalf("CodeOf(plain) = %s, want %s", got, CodeInternal)
	}
}

func TestToEnvelopeSanitizesInternal(t *testing.T) {
	env := ToEnvelope(Wrap(CodeInternal, "db exploded: password=hunter2", errors.New("boom")), "req-1")
	if env.Error.Message != "internal error" {
		t.Fatalf("internal message leaked: %q", env.Error.Message)
	}
	if env.Error.RequestID != "req-1" {
		t.Fatalf("request id = %q", env.Error.RequestID)
	}

	env = ToEnvelope(New(CodeInvalidTopic, "topic too long").WithDetails(map[string]interface{}{"limit": 255}), "")
	if env.Error.Message != "topic too long" {
		t.Fatalf("caller-facing message mangled: %q", env.Error.Message)
	}
	if env.Error.Details["limit"] != 255 {
		t.Fatalf("details dropped: %v", env.Error.Details)
	}
}

func TestTransientClassSurvivesWrap(t *testing.T) {
	err := Transient(CodePublishFailed, "append timeout", errors.New("deadline"))
	ae := AsError(fmt.Errorf("publish: %w", err))
	if ae.Class != ClassTransient {
		t.Fatalf("class = %v, want transient", ae.Class)
	}
}
