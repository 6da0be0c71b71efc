package channel

import (
	"errors"
	"fmt"

	"sos-relay/internal/models"
)

// ErrorKind classifies every channel failure.
type ErrorKind string

const (
	// TransientUpstream failures may succeed if retried (timeouts, 5xx, unconfirmed tx).
	TransientUpstream ErrorKind = "TransientUpstream"
	// PermanentRejected failures will not succeed on retry (bad number, revert, local write).
	PermanentRejected ErrorKind = "PermanentRejected"
	// Unconfigured means credentials or endpoints are missing or refused.
	Unconfigured ErrorKind = "Unconfigured"
)

// Error is the only error type a Channel returns.
type Error struct {
	Kind    ErrorKind
	Channel models.ChannelKind
	Op      string
	// ExternalID is set when the provider already accepted something irrevocable,
	// e.g. a broadcast transaction that then failed to confirm.
	ExternalID string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s channel %s: %s", e.Channel, e.Op, e.Kind)
	if e.ExternalID != "" {
		msg += " (external id " + e.ExternalID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the send.
func (e *Error) Retryable() bool { return e.Kind == TransientUpstream }

func newError(kind ErrorKind, ch models.ChannelKind, op string, err error) *Error {
	return &Error{Kind: kind, Channel: ch, Op: op, Err: err}
}

// Transient builds a TransientUpstream error.
func Transient(ch models.ChannelKind, op string, err error) *Error {
	return newError(TransientUpstream, ch, op, err)
}

// Permanent builds a PermanentRejected error.
func Permanent(ch models.ChannelKind, op string, err error) *Error {
	return newError(PermanentRejected, ch, op, err)
}

// NotConfigured builds an Unconfigured error.
func NotConfigured(ch models.ChannelKind, op string, err error) *Error {
	return newError(Unconfigured, ch, op, err)
}

// AsError extracts a channel Error from err.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the ErrorKind of err, or "" when err is not a channel Error.
func KindOf(err error) ErrorKind {
	if ce, ok := AsError(err); ok {
		return ce.Kind
	}
	return ""
}

// IsRetryable reports whether err is a TransientUpstream channel error.
func IsRetryable(err error) bool {
	ce, ok := AsError(err)
	return ok && ce.Retryable()
}

// StatusError is returned by the HTTP provider adapters for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.StatusCode, e.Body)
}

// classifyStatus maps an HTTP status to an ErrorKind for adapters that have no richer signal.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return Unconfigured
	case code == 408 || code == 429 || code >= 500:
		return TransientUpstream
	default:
		return PermanentRejected
	}
}
