package service

import (
	"fmt"

	"sos-relay/internal/models"
)

// ValidationError reports a bad request field. No channel was contacted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError means the channel send succeeded but the record could not be
// stored. Receipt carries the proof of the send.
type PersistenceError struct {
	RecordID string
	Receipt  models.Receipt
	// Reconciling is set when the send was handed to the reconciliation log,
	// which stores the record later under RecordID.
	Reconciling bool
	Err         error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("alert %s was sent via %s but could not be stored", e.RecordID, e.Receipt.ChannelKind)
	if id := e.Receipt.ExternalIDValue(); id != "" {
		msg += " (external id " + id + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DetachedError means the caller stopped waiting. The send keeps running and its
// record is stored under RecordID when it completes.
type DetachedError struct {
	RecordID string
	Err      error
}

func (e *DetachedError) Error() string {
	return fmt.Sprintf("alert %s still in progress: %v", e.RecordID, e.Err)
}

func (e *DetachedError) Unwrap() error { return e.Err }

// ReconcilingError wraps a channel failure whose external id was handed to the
// reconciliation log. The record may still be stored under RecordID once the
// send resolves, so a client retry can produce a second alert.
type ReconcilingError struct {
	RecordID   string
	ExternalID string
	Err        error
}

func (e *ReconcilingError) Error() string {
	return fmt.Sprintf("alert %s pending reconciliation of %s: %v", e.RecordID, e.ExternalID, e.Err)
}

func (e *ReconcilingError) Unwrap() error { return e.Err }
