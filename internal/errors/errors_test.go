package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

type codedError struct{}

func (codedError) Error() string { return "coded" }
func (codedError) Code() Code    { return CodeArgumentMissing }

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != "" {
		t.Fatalf("nil error should have empty code")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain error should be UNKNOWN")
	}
	wrapped := fmt.Errorf("outer: %w", New(CodeNotFound, "missing"))
	if CodeOf(wrapped) != CodeNotFound {
		t.Fatalf("expected NOT_FOUND through wrap, got %s", CodeOf(wrapped))
	}
	if CodeOf(fmt.Errorf("x: %w", codedError{})) != CodeArgumentMissing {
		t.Fatalf("Coder implementations should report their own code")
	}
}

func TestAttributesAndOverrides(t *testing.T) {
	err := New(CodeStorageFailure, "")
	if err.Message() != "storage failure" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("unexpected defaults for storage failure")
	}
	overridden := New(CodeStorageFailure, "x", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo))
	if overridden.Retryable() || overridden.ShouldAlert() || overridden.Severity() != SeverityInfo {
		t.Fatalf("options should override defaults")
	}
	if !RetryableError(fmt.Errorf("wrap: %w", err)) {
		t.Fatalf("RetryableError should unwrap")
	}
}

func TestWrapAndIs(t *testing.T) {
	cause := stdErrors.New("io")
	err := Wrap(CodeQueueFailure, cause, "publish", WithMetadata("queue", "jobs"))
	if !stdErrors.Is(err, cause) {
		t.Fatalf("wrapped cause should be reachable")
	}
	if !stdErrors.Is(err, New(CodeQueueFailure, "other")) {
		t.Fatalf("errors with the same code should match")
	}
	if err.Error() != "[QUEUE_FAILURE] publish: io" {
		t.Fatalf("unexpected text %q", err.Error())
	}
	if err.Metadata()["queue"] != "jobs" {
		t.Fatalf("metadata lost")
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Retryable: true})
	if AttributesOf(code).Message != "custom" {
		t.Fatalf("registered attributes not returned")
	}
	found := false
	for _, c := range Codes() {
		if c == code {
			found = true
		}
	}
	if !found {
		t.Fatalf("Codes should list registered code")
	}
}
