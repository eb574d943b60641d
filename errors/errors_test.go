package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"response timeout", ErrResponseTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"not connected", ErrNotConnected, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid data", ErrInvalidData, false},
		{"invalid config", ErrInvalidConfig, false},
		{"timeout in message", fmt.Errorf("handler timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"wrapped transient", WrapTransient(errors.New("slow skill"), "Broadcaster", "attemptSkill", "await reply"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTransient(test.err); got != test.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", test.err, got, test.expected)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"response timeout", ErrResponseTimeout, false},
		{"wrapped fatal", WrapFatal(errors.New("bad mode"), "Config", "Validate", "check fallback mode"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsFatal(test.err); got != test.expected {
				t.Errorf("IsFatal(%v) = %v, want %v", test.err, got, test.expected)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	if !IsInvalid(ErrNotAuthorized) {
		t.Error("ErrNotAuthorized should classify as invalid")
	}
	if !IsInvalid(WrapInvalid(errors.New("forged id"), "Converse", "ActivateRequested", "verify source")) {
		t.Error("WrapInvalid result should classify as invalid")
	}
	if IsInvalid(ErrResponseTimeout) {
		t.Error("ErrResponseTimeout should not classify as invalid")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil defaults transient", nil, ErrorTransient},
		{"timeout", ErrResponseTimeout, ErrorTransient},
		{"config", ErrInvalidConfig, ErrorFatal},
		{"unknown defaults transient", errors.New("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("Classify(%v) = %v, want %v", test.err, got, test.expected)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "Router", "Route", "transform stage")
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	want := "Router.Route: transform stage failed: boom"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if Wrap(nil, "Router", "Route", "noop") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestClassifiedError_Unwrap(t *testing.T) {
	base := ErrResponseTimeout
	err := WrapTransient(base, "Broadcaster", "collectSkills", "await pongs")

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Broadcaster" {
		t.Errorf("component = %q, want Broadcaster", ce.Component)
	}
	if !errors.Is(err, base) {
		t.Error("classified error should unwrap to sentinel")
	}
	if !strings.Contains(err.Error(), "await pongs") {
		t.Errorf("message should carry the action, got %q", err.Error())
	}
}
