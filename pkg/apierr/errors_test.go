package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "server with status",
			err:  &Error{Kind: KindServer, Status: 500, Message: "boom"},
			want: "server error (status 500): boom",
		},
		{
			name: "network with wrapped error",
			err:  Network(errors.New("dial tcp: refused")),
			want: "network error: no response from server: dial tcp: refused",
		},
		{
			name: "validation",
			err:  Validation("title", "too short"),
			want: "validation error: title: too short",
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

func TestError_IsSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		want     bool
	}{
		{"network", Network(nil), ErrNetwork, true},
		{"server", FromStatus(503, "", ""), ErrServer, true},
		{"not found from status", FromStatus(http.StatusNotFound, "", ""), ErrNotFound, true},
		{"validation from 422", FromStatus(http.StatusUnprocessableEntity, "", ""), ErrValidation, true},
		{"conflict from 409", FromStatus(http.StatusConflict, "", ""), ErrConflict, true},
		{"wrapped", fmt.Errorf("update task: %w", NotFound("7")), ErrNotFound, true},
		{"kind mismatch", Network(nil), ErrServer, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.sentinel); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := Conflict("waiting for keys", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
	if KindOf(fmt.Errorf("perform: %w", err)) != KindConflict {
		t.Errorf("KindOf() = %q, want %q", KindOf(err), KindConflict)
	}
}

func TestFromStatus_DefaultMessage(t *testing.T) {
	err := FromStatus(http.StatusBadGateway, "", "")
	if err.Message != "Bad Gateway" {
		t.Errorf("Message = %q, want %q", err.Message, "Bad Gateway")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindServer, true},
		{KindNetwork, true},
		{KindValidation, false},
		{KindNotFound, false},
		{KindConflict, false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := Retryable(tt.kind); got != tt.want {
				t.Errorf("Retryable(%q) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}
