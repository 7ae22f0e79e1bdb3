package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeNotFound, "stream not found", 404)
	expected := "NOT_FOUND: stream not found"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_ErrorWithCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(cause, ErrCodeServiceUnavailable, "stream store unavailable", 503)

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through AppError to the cause")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeForbidden, "not the stream owner", 403)
	err.WithContext("stream_id", int64(7)).WithContext("user_id", int64(42))

	if err.Context["stream_id"] != int64(7) {
		t.Errorf("Context[stream_id] = %v, want 7", err.Context["stream_id"])
	}
	if err.Context["user_id"] != int64(42) {
		t.Errorf("Context[user_id] = %v, want 42", err.Context["user_id"])
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("bad stream id"), ErrCodeInvalidInput, 400},
		{"not found", NewNotFoundError("stream"), ErrCodeNotFound, 404},
		{"unauthorized", NewUnauthorizedError("token expired"), ErrCodeUnauthorized, 401},
		{"forbidden", NewForbiddenError("not the stream owner"), ErrCodeForbidden, 403},
		{"conflict", NewConflictError("broadcaster already connected"), ErrCodeConflict, 409},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, 429},
		{"internal", NewInternalError("persist failed"), ErrCodeInternal, 500},
		{"unavailable", NewServiceUnavailableError("store down"), ErrCodeServiceUnavailable, 503},
	}

	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Errorf("%s: Code = %v, want %v", tc.name, tc.err.Code, tc.code)
		}
		if tc.err.HTTPStatus != tc.status {
			t.Errorf("%s: HTTPStatus = %v, want %v", tc.name, tc.err.HTTPStatus, tc.status)
		}
	}
}

func TestIsAppError(t *testing.T) {
	if !IsAppError(NewNotFoundError("stream")) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(errors.New("plain error")) {
		t.Error("IsAppError() should return false for plain error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewServiceUnavailableError("stream store unavailable")

	if got := GetAppError(appErr); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}

	// Buried inside stdlib wrapping, the way handlers pass errors up.
	wrapped := fmt.Errorf("listing live streams: %w", appErr)
	if got := GetAppError(wrapped); got != appErr {
		t.Errorf("GetAppError() should unwrap fmt-wrapped chains, got %v", got)
	}

	if got := GetAppError(errors.New("plain error")); got != nil {
		t.Errorf("GetAppError() = %v, want nil for plain error", got)
	}

	if got := GetAppError(nil); got != nil {
		t.Errorf("GetAppError(nil) = %v, want nil", got)
	}
}
