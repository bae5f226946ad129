package apperror

import (
	"errors"
	"testing"
)

func TestErrorMessageIncludesCodeAndParentChain(t *testing.T) {
	parent := errors.New("connection refused")
	err := Wrap(ListenError, "http listen", parent)

	msg := err.Error()
	if msg != "listen_error: http listen <- connection refused" {
		t.Fatalf("got %q", msg)
	}
}

func TestWrapNilParentReturnsNil(t *testing.T) {
	if err := Wrap(ListenError, "http listen", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestHasCodeFindsParentCode(t *testing.T) {
	inner := New(NotFound, "missing session")
	outer := Wrap(RelayError, "relay lookup", inner)

	if !HasCode(outer, NotFound) {
		t.Fatal("expected HasCode to find the wrapped NotFound")
	}
	if HasCode(outer, ConfigError) {
		t.Fatal("expected HasCode to reject an unrelated code")
	}
}

func TestErrorsAsUnwrapsToAppError(t *testing.T) {
	err := New(ResourceExhaustion, "zone full")

	var target *Error
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to match *Error")
	}
	if target.Code() != ResourceExhaustion {
		t.Fatalf("code = %v", target.Code())
	}
}
