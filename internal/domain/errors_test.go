package domain

import (
	"errors"
	"testing"
)

func TestDimensionMismatchError(t *testing.T) {
	err := NewDimensionMismatch(384, 256)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatal("expected *DimensionMismatchError")
	}
	if dm.Expected != 384 || dm.Got != 256 {
		t.Errorf("got expected=%d got=%d", dm.Expected, dm.Got)
	}
	if err.Error() != "embedding dimension mismatch: snapshot has 384, got 256" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("connection refused")

	err := Unavailable("embed query", cause)
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Error("expected ErrDependencyUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be preserved")
	}

	again := Unavailable("retrieve", err)
	if !errors.Is(again, ErrDependencyUnavailable) || !errors.Is(again, cause) {
		t.Errorf("double wrap lost chain: %v", again)
	}

	if Unavailable("noop", nil) != nil {
		t.Error("nil error must stay nil")
	}
}
