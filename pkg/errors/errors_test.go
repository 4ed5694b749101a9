package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("dial refused")
	err := NewTransportError("couldn't connect", originalErr)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !errors.Is(err, originalErr) {
		t.Errorf("errors.Is should find the cause")
	}
	if got := err.Error(); got != "TRANSPORT_ERROR: couldn't connect (caused by: dial refused)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestTaxonomyStatuses(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewTransportError("x", nil), ErrCodeTransport, 502},
		{NewCaptureError("x", nil), ErrCodeCapture, 422},
		{NewNegotiationError("x", nil), ErrCodeNegotiation, 409},
		{NewProtocolError("x"), ErrCodeProtocol, 502},
		{NewDuplicateIDError("abc"), ErrCodeDuplicateID, 409},
		{NewNotFoundError("stream"), ErrCodeNotFound, 404},
		{NewInvalidInputError("x"), ErrCodeInvalidInput, 400},
		{NewInternalError("x"), ErrCodeInternal, 500},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Errorf("Code = %v, want %v", tc.err.Code, tc.code)
		}
		if tc.err.HTTPStatus != tc.status {
			t.Errorf("%v HTTPStatus = %v, want %v", tc.code, tc.err.HTTPStatus, tc.status)
		}
	}
}

func TestGetAppError_Wrapped(t *testing.T) {
	appErr := NewNotFoundError("stream")
	wrapped := fmt.Errorf("remove: %w", appErr)

	if got := GetAppError(wrapped); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}
	if !IsAppError(wrapped) {
		t.Errorf("IsAppError() = false for wrapped AppError")
	}
	if GetAppError(errors.New("plain")) != nil {
		t.Errorf("GetAppError() should be nil for plain errors")
	}
	if GetAppError(nil) != nil {
		t.Errorf("GetAppError(nil) should be nil")
	}
}

func TestHasCode_WalksCauses(t *testing.T) {
	inner := NewNegotiationError("setParameters rejected", errors.New("boom"))
	outer := NewTransportError("apply cap", inner)

	if !HasCode(outer, ErrCodeTransport) {
		t.Errorf("expected outer code")
	}
	if !HasCode(outer, ErrCodeNegotiation) {
		t.Errorf("expected inner code")
	}
	if HasCode(outer, ErrCodeCapture) {
		t.Errorf("unexpected capture code")
	}
	if HasCode(nil, ErrCodeTransport) {
		t.Errorf("nil error has no code")
	}
}
