package zerr_test

import (
	"errors"
	"testing"

	"github.com/kasuganosora/rezync/pkg/zerr"
)

func TestErrorFormatsKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := zerr.Wrap(zerr.PushFailed, "push batch failed", cause)

	if got, want := err.Error(), "[PushFailed] push batch failed: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is must see through Unwrap to the original cause")
	}
}

func TestNewHasNoCause(t *testing.T) {
	err := zerr.New(zerr.Offline, "no connection")
	if err.Unwrap() != nil {
		t.Error("New should not set a Cause")
	}
	if got, want := err.Error(), "[Offline] no connection"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsMatchesKindOnly(t *testing.T) {
	err := zerr.New(zerr.Unauthorized, "nope")
	if !zerr.Is(err, zerr.Unauthorized) {
		t.Error("Is must match the same Kind")
	}
	if zerr.Is(err, zerr.Offline) {
		t.Error("Is must not match a different Kind")
	}
	if zerr.Is(errors.New("plain"), zerr.Unauthorized) {
		t.Error("Is must not match a non-*zerr.Error")
	}
}
