package script

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	err := Conversion("toNative", "cannot convert table to int64")

	if !errors.Is(err, ErrConversionFailure) {
		t.Error("errors.Is(ErrConversionFailure) = false")
	}
	if errors.Is(err, ErrArityMismatch) {
		t.Error("errors.Is(ErrArityMismatch) = true")
	}

	wrapped := fmt.Errorf("execute: %w", err)
	if !errors.Is(wrapped, ErrConversionFailure) {
		t.Error("wrapped errors.Is(ErrConversionFailure) = false")
	}

	var se *Error
	if !errors.As(wrapped, &se) || se.Op != "toNative" {
		t.Errorf("errors.As() = %v", se)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: KindUseAfterDetach}, "use_after_detach"},
		{"op and detail", Arity("call", "want 2"), "call: arity_mismatch: want 2"},
		{"cause", Wrap(KindEngineException, "execute", errors.New("boom")), "execute: engine_exception (caused by: boom)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindWatchdogTimeout, "execute", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is(cause) = false")
	}
	if !errors.Is(err, ErrWatchdogTimeout) {
		t.Error("errors.Is(ErrWatchdogTimeout) = false")
	}
}
