package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		http     int
		rawCode  string
		rawMsg   string
		expected Code
	}{
		{
			name:     "contract not found",
			http:     400,
			rawCode:  "CONTRACT_NOT_FOUND",
			expected: CodeStale,
		},
		{
			name:     "inactive contract in message body",
			http:     409,
			rawMsg:   "Inactive_Contracts: contract 00abc has been archived",
			expected: CodeStale,
		},
		{
			name:     "authorization failure",
			http:     400,
			rawCode:  "DAML_AUTHORIZATION_ERROR",
			rawMsg:   "requires authorizers bank::1220, venue::1220",
			expected: CodeAuthorizationRejected,
		},
		{
			name:     "missing authorization phrasing",
			http:     400,
			rawMsg:   "missing authorization from party alice",
			expected: CodeAuthorizationRejected,
		},
		{
			name:     "sequencer backpressure",
			http:     400,
			rawCode:  "SEQUENCER_OVERLOADED",
			expected: CodeTransientSynchronizer,
		},
		{
			name:     "synchronizer unavailable",
			http:     500,
			rawMsg:   "synchronizer sync::global not connected",
			expected: CodeTransientSynchronizer,
		},
		{
			name:     "plain 404",
			http:     404,
			expected: CodeStale,
		},
		{
			name:     "plain 403",
			http:     403,
			expected: CodeAuthorizationRejected,
		},
		{
			name:     "plain 503",
			http:     503,
			expected: CodeTransientSynchronizer,
		},
		{
			name:     "unrecognized error is conservative",
			http:     500,
			rawCode:  "SOMETHING_ODD",
			rawMsg:   "who knows",
			expected: CodeUnknownLedger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.http, tt.rawCode, tt.rawMsg, nil)
			if e.Code != tt.expected {
				t.Errorf("Classify() = %v, want %v", e.Code, tt.expected)
			}
		})
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	inner := New(CodeStale, WithMessage("lock gone"))
	wrapped := fmt.Errorf("settle leg 1: %w", inner)

	if got := CodeOf(wrapped); got != CodeStale {
		t.Errorf("CodeOf(wrapped) = %v, want %v", got, CodeStale)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknownLedger {
		t.Errorf("CodeOf(plain) = %v, want %v", got, CodeUnknownLedger)
	}
}

func TestRetryableAndTerminal(t *testing.T) {
	if !Retryable(New(CodeTransientSynchronizer)) {
		t.Error("transient should be retryable")
	}
	if Retryable(New(CodeUnknownLedger)) {
		t.Error("unknown must not be retryable")
	}
	if !Terminal(New(CodeStale)) || !Terminal(New(CodeSigningKeyMissing)) {
		t.Error("stale and signing_key_missing are terminal")
	}
	if Terminal(New(CodeAuthorizationRejected)) {
		t.Error("authorization_rejected is not terminal, next strategy may pass")
	}
}
