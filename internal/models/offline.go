package models

import "time"

// QueueStatus is the lifecycle state of an offline queue entry.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueDrained QueueStatus = "drained"
	QueueFailed  QueueStatus = "failed"
)

// QueuedAlert is an alert held in the local offline queue until it can be relayed.
// Seq is assigned by the queue and strictly increases.
type QueuedAlert struct {
	Seq           int64       `json:"seq"`
	RecordID      string      `json:"recordId"`
	Name          string      `json:"name"`
	Location      string      `json:"location"`
	Message       string      `json:"message"`
	Status        QueueStatus `json:"status"`
	ExternalID    *string     `json:"externalId,omitempty"`
	FailureReason string      `json:"failureReason,omitempty"`
	EnqueuedAt    time.Time   `json:"enqueuedAt"`
	DrainedAt     *time.Time  `json:"drainedAt,omitempty"`
}

// Outbound rebuilds the alert as it was originally dispatched.
func (q QueuedAlert) Outbound() OutboundAlert {
	return OutboundAlert{
		RecordID: q.RecordID,
		AlertInput: AlertInput{
			Name:     q.Name,
			Location: q.Location,
			Message:  q.Message,
		},
	}
}
