package domain

import (
	"errors"
	"fmt"
	"slices"
	"testing"
)

func TestFlow_Is(t *testing.T) {
	tests := []struct {
		flow, target Flow
		want         bool
	}{
		{FlowContinue, FlowContinue, true},
		{FlowForward, FlowHandled, true},
		{FlowInclude, FlowContinue, true},
		{FlowHandled, FlowForward, false},
		{FlowAbortRequest, FlowHandled, false},
		{FlowInclude, FlowHandled, false},
	}
	for _, tt := range tests {
		if got := tt.flow.Is(tt.target); got != tt.want {
			t.Errorf("%s.Is(%s) = %v, want %v", tt.flow, tt.target, got, tt.want)
		}
	}
}

func TestFlow_Terminal(t *testing.T) {
	for _, f := range []Flow{FlowHandled, FlowForward, FlowAbortRequest} {
		if !f.Terminal() {
			t.Errorf("%s should be terminal", f)
		}
	}
	for _, f := range []Flow{FlowContinue, FlowInclude} {
		if f.Terminal() {
			t.Errorf("%s should not be terminal", f)
		}
	}
}

func TestParseFlow(t *testing.T) {
	for _, f := range []Flow{FlowContinue, FlowHandled, FlowAbortRequest, FlowForward, FlowInclude} {
		got, ok := ParseFlow(f.String())
		if !ok || got != f {
			t.Errorf("ParseFlow(%q) = %v, %v", f.String(), got, ok)
		}
	}
	if _, ok := ParseFlow("SOMETIMES"); ok {
		t.Error("unknown flow name should not parse")
	}
	if Flow(42).String() != "UNKNOWN" {
		t.Errorf("Flow(42) = %s", Flow(42))
	}
}

func TestBindings(t *testing.T) {
	var b Bindings // zero value is usable for writes
	b.Put("id", "7")
	b.Put("n", 3)
	b.Put("id", "8")

	if b.String("id") != "8" {
		t.Errorf("last write should win, got %q", b.String("id"))
	}
	if b.String("n") != "" {
		t.Error("String of a non-string value should be empty")
	}
	if _, ok := b.Lookup("missing"); ok {
		t.Error("Lookup(missing) should report false")
	}
	if got := b.Keys(); !slices.Equal(got, []string{"id", "n"}) {
		t.Errorf("Keys() = %v", got)
	}

	m := b.Map()
	m["id"] = "mutated"
	if b.String("id") != "8" || b.Len() != 2 {
		t.Error("Map() should return a copy")
	}
}

func TestIllegalStateError(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewIllegalState("forward", "response committed"))
	if !errors.Is(err, ErrIllegalState) {
		t.Error("errors.Is(err, ErrIllegalState) = false")
	}
	if want := "wrap: illegal state in forward: response committed"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestEvaluationError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&EvaluationError{Provider: "declarative", Phase: PhaseOperation, Err: cause})

	if !errors.Is(err, cause) {
		t.Error("EvaluationError should unwrap to its cause")
	}
	if !IsEvaluationError(fmt.Errorf("ctx: %w", err)) {
		t.Error("IsEvaluationError should see wrapped errors")
	}
	if IsEvaluationError(cause) {
		t.Error("plain error is not an EvaluationError")
	}
	if want := "rule declarative/<unnamed> operation failed: boom"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
