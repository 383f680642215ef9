package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
	}{
		{"validation", NewValidation(ReasonTooManyPhones), KindValidation},
		{"wrapped validation", fmt.Errorf("dispatch: %w", NewValidation(ReasonNameRequired)), KindValidation},
		{"gateway", &GatewayError{Call: "createInstance", StatusCode: 500, Message: "boom"}, KindGateway},
		{"parse", &ParseError{Call: "refreshQrCode", Detail: "not an image"}, KindParse},
		{"store", NewStore("insert campaign", errors.New("disk full")), KindStore},
		{"not found", fmt.Errorf("instance x: %w", ErrNotFound), KindNotFound},
		{"conflict", fmt.Errorf("instance x: %w", ErrAlreadyExists), KindConflict},
		{"other", errors.New("unexpected"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.err)
			if got.Kind != tt.wantKind {
				t.Errorf("Describe().Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Message == "" {
				t.Error("Describe().Message is empty")
			}
		})
	}
}

func TestDescribeValidationReason(t *testing.T) {
	got := Describe(NewValidation(ReasonMessageTooLong))
	if got.Reason != ReasonMessageTooLong {
		t.Errorf("Reason = %v, want %v", got.Reason, ReasonMessageTooLong)
	}
}

func TestGatewayErrorMessage(t *testing.T) {
	tests := []struct {
		err  *GatewayError
		want string
	}{
		{&GatewayError{Call: "dispatch", StatusCode: 400, Message: "bad phones"}, "gateway dispatch: HTTP 400: bad phones"},
		{&GatewayError{Call: "dispatch", StatusCode: 503}, "gateway dispatch: HTTP 503"},
		{&GatewayError{Call: "dispatch", Err: errors.New("connection refused")}, "gateway dispatch: connection refused"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestNewStoreNil(t *testing.T) {
	if err := NewStore("op", nil); err != nil {
		t.Errorf("NewStore(nil) = %v, want nil", err)
	}
}
