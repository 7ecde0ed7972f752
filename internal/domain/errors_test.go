package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidChannel, "invalid_channel"},
		{fmt.Errorf("join: %w", ErrAlreadyPending), "already_pending"},
		{fmt.Errorf("%w: %w", ErrMediaEngineFailure, errors.New("dtls")), "media_engine_failure"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTerminates(t *testing.T) {
	if !Terminates(fmt.Errorf("rtc auth: %w", ErrAuthenticationFailure)) {
		t.Error("authentication failure must terminate")
	}
	if !Terminates(ErrNotAuthorizedToConsume) {
		t.Error("consume authorization failure must terminate")
	}
	if Terminates(ErrNoSuchProducer) {
		t.Error("no such producer must not terminate")
	}
}

func TestValidateUsername(t *testing.T) {
	if err := ValidateUsername(""); !errors.Is(err, ErrUsernameEmpty) {
		t.Errorf("empty: got %v", err)
	}
	if err := ValidateUsername("0123456789012345678901234567890123456"); !errors.Is(err, ErrUsernameTooLong) {
		t.Errorf("long: got %v", err)
	}
	if err := ValidateUsername("alice"); err != nil {
		t.Errorf("alice: got %v", err)
	}
}
