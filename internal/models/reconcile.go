package models

import "time"

// ReconcileEntry records a send whose outcome is unknown after the caller stopped
// waiting, e.g. a broadcast transaction that did not confirm in time.
type ReconcileEntry struct {
	RecordID   string      `json:"recordId"`
	Kind       ChannelKind `json:"kind"`
	ExternalID string      `json:"externalId"`
	Name       string      `json:"name"`
	Location   string      `json:"location"`
	Message    string      `json:"message"`
	Reason     string      `json:"reason"`
	Attempts   int         `json:"attempts"`
	RecordedAt time.Time   `json:"recordedAt"`
}
