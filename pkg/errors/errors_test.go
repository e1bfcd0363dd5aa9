package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with status code",
			err:  &Error{Type: ErrorTypeTransient, Message: "server unavailable", Code: 503},
			want: "transient error (code 503): server unavailable",
		},
		{
			name: "with wrapped error",
			err:  Wrap(ErrorTypeCheckpoint, "mark done", fmt.Errorf("disk full")),
			want: "checkpoint_io error: mark done: disk full",
		},
		{
			name: "message only",
			err:  New(ErrorTypeConfig, "listing url is required"),
			want: "configuration error: listing url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypeOf(t *testing.T) {
	err := New(ErrorTypeCorrupt, "truncated jpeg")
	wrapped := fmt.Errorf("fingerprint item abc123: %w", err)

	if got := TypeOf(wrapped); got != ErrorTypeCorrupt {
		t.Errorf("TypeOf(wrapped) = %v, want %v", got, ErrorTypeCorrupt)
	}
	if got := TypeOf(stderrors.New("plain")); got != ErrorTypeUnknown {
		t.Errorf("TypeOf(plain) = %v, want %v", got, ErrorTypeUnknown)
	}
}

func TestRetryClassification(t *testing.T) {
	if !IsRetryable(New(ErrorTypeTransient, "timeout")) {
		t.Error("transient errors should be retryable")
	}
	if IsRetryable(New(ErrorTypePermanent, "gone")) {
		t.Error("permanent errors should not be retryable")
	}
	if IsRetryable(New(ErrorTypeCorrupt, "bad image")) {
		t.Error("corrupt media errors should not be retryable")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(New(ErrorTypeCheckpoint, "db locked")) {
		t.Error("checkpoint errors should be fatal")
	}
	if !IsFatal(New(ErrorTypeConfig, "bad threshold")) {
		t.Error("configuration errors should be fatal")
	}
	if IsFatal(New(ErrorTypeTransient, "timeout")) {
		t.Error("transient errors should not be fatal")
	}
}

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		wantType ErrorType
	}{
		{429, ErrorTypeTransient},
		{500, ErrorTypeTransient},
		{502, ErrorTypeTransient},
		{503, ErrorTypeTransient},
		{400, ErrorTypePermanent},
		{403, ErrorTypePermanent},
		{404, ErrorTypePermanent},
		{410, ErrorTypePermanent},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.code), func(t *testing.T) {
			err := FromStatusCode(tt.code, "request failed")
			if err.Type != tt.wantType {
				t.Errorf("FromStatusCode(%d).Type = %v, want %v", tt.code, err.Type, tt.wantType)
			}
			if err.Code != tt.code {
				t.Errorf("FromStatusCode(%d).Code = %d", tt.code, err.Code)
			}
		})
	}
}
