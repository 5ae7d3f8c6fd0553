// Package errs provides the structured failure taxonomy shared by the
// settlement core. Every ledger-facing component surfaces failures as an *E
// so callers can decide retry vs. abort from the Code alone.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a settlement failure category.
type Code string

const (
	// CodeInsufficientFunds indicates the sender has no unlocked holdings
	// covering the requested lock amount.
	CodeInsufficientFunds Code = "insufficient_funds"
	// CodeStale indicates the lock/contract is missing, archived or past its
	// settlement deadline. Terminal: never retried.
	CodeStale Code = "stale"
	// CodeSigningKeyMissing indicates a required signer has no stored key.
	// Terminal: no strategy change can fix it.
	CodeSigningKeyMissing Code = "signing_key_missing"
	// CodeAuthorizationRejected indicates the ledger rejected the acting
	// party set; the next authorization strategy may still succeed.
	CodeAuthorizationRejected Code = "authorization_rejected"
	// CodeTransientSynchronizer indicates a transient network/synchronizer
	// failure; the whole settlement may be retried later by the caller.
	CodeTransientSynchronizer Code = "transient_synchronizer"
	// CodeUnknownLedger captures anything that matched no known pattern.
	// Treated conservatively as non-retryable.
	CodeUnknownLedger Code = "unknown_ledger"
)

// E captures structured error information produced across the stack.
type E struct {
	Code    Code
	HTTP    int
	RawCode string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given code.
func New(code Code, opts ...Option) *E {
	e := &E{Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) { e.HTTP = status }
}

// WithRawCode captures the raw ledger error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) { e.RawCode = trimmed }
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := []string{"code=" + string(e.Code)}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the failure code from err, walking the wrap chain.
// Errors that carry no envelope report CodeUnknownLedger.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknownLedger
}

// Retryable reports whether the caller may re-attempt the whole operation on
// a later cycle. Only transient synchronizer failures qualify.
func Retryable(err error) bool {
	return CodeOf(err) == CodeTransientSynchronizer
}

// Terminal reports whether no further strategy or retry can succeed.
func Terminal(err error) bool {
	switch CodeOf(err) {
	case CodeStale, CodeSigningKeyMissing:
		return true
	}
	return false
}

// Classify maps a raw ledger response onto the taxonomy. The match is
// deliberately conservative: anything unrecognized becomes unknown_ledger
// rather than an optimistic success or retry.
func Classify(httpStatus int, rawCode, rawMsg string, cause error) *E {
	code := classify(httpStatus, rawCode, rawMsg)
	return New(code,
		WithHTTP(httpStatus),
		WithRawCode(rawCode),
		WithMessage(rawMsg),
		WithCause(cause),
	)
}

func classify(httpStatus int, rawCode, rawMsg string) Code {
	needle := strings.ToUpper(rawCode + " " + rawMsg)

	switch {
	case containsAny(needle,
		"CONTRACT_NOT_FOUND", "CONTRACT_NOT_ACTIVE", "LOCK_EXPIRED",
		"INACTIVE_CONTRACTS", "DEADLINE_EXCEEDED", "ALLOCATION_EXPIRED"):
		return CodeStale
	case containsAny(needle,
		"DAML_AUTHORIZATION_ERROR", "NO_AUTHORIZATION", "MISSING_AUTHORIZATION",
		"PERMISSION_DENIED", "SUBMITTER_CANNOT_ACT"):
		return CodeAuthorizationRejected
	case containsAny(needle,
		"SEQUENCER", "SYNCHRONIZER", "SERVICE_UNAVAILABLE", "UNAVAILABLE",
		"ABORTED_DUE_TO_SHUTDOWN", "MEDIATOR", "TIMEOUT", "CONNECTION_REFUSED",
		"CONNECTION_RESET"):
		return CodeTransientSynchronizer
	}

	switch httpStatus {
	case 404:
		return CodeStale
	case 401, 403:
		return CodeAuthorizationRejected
	case 429, 502, 503, 504:
		return CodeTransientSynchronizer
	}

	return CodeUnknownLedger
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
