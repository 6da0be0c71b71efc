package models

import (
	"fmt"
	"strings"
	"time"
)

// ChannelKind identifies the transport that delivered an alert.
type ChannelKind string

const (
	ChannelLedger    ChannelKind = "ledger"
	ChannelSMS       ChannelKind = "sms"
	ChannelOffline   ChannelKind = "offline"
	ChannelSatellite ChannelKind = "satellite"
)

// DefaultReporterName is used when an alert arrives without a name.
const DefaultReporterName = "Anonymous"

// ParseChannelKind accepts the canonical kinds plus the "internet"/"blockchain"
// aliases used by the public API for the ledger path.
func ParseChannelKind(s string) (ChannelKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ledger", "internet", "blockchain":
		return ChannelLedger, nil
	case "sms":
		return ChannelSMS, nil
	case "offline":
		return ChannelOffline, nil
	case "satellite":
		return ChannelSatellite, nil
	default:
		return "", fmt.Errorf("unknown channel kind %q", s)
	}
}

// Mode is the user-facing label returned by the send endpoints.
func (k ChannelKind) Mode() string {
	switch k {
	case ChannelLedger:
		return "Blockchain"
	case ChannelSMS:
		return "SMS"
	case ChannelOffline:
		return "Offline (Wi-Fi Direct)"
	case ChannelSatellite:
		return "Satellite"
	default:
		return string(k)
	}
}

// AlertInput is an alert as submitted by a reporter.
type AlertInput struct {
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location"`
	Message  string `json:"message"`
}

// Normalized returns a copy with surrounding whitespace removed and the default name applied.
func (in AlertInput) Normalized() AlertInput {
	out := AlertInput{
		Name:     strings.TrimSpace(in.Name),
		Phone:    strings.TrimSpace(in.Phone),
		Location: strings.TrimSpace(in.Location),
		Message:  strings.TrimSpace(in.Message),
	}
	if out.Name == "" {
		out.Name = DefaultReporterName
	}
	return out
}

// Coordinate is a WGS 84 position.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Receipt is the proof-of-send a channel returns on success.
type Receipt struct {
	ChannelKind ChannelKind `json:"channel"`
	ExternalID  *string     `json:"externalId,omitempty"`
	ConfirmedAt *time.Time  `json:"confirmedAt,omitempty"`
}

// ExternalIDValue returns the external id or "".
func (r Receipt) ExternalIDValue() string {
	if r.ExternalID == nil {
		return ""
	}
	return *r.ExternalID
}

// AlertRecord is the persisted outcome of one dispatched alert.
type AlertRecord struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Location    string      `json:"location"`
	Message     string      `json:"message"`
	ChannelKind ChannelKind `json:"channel"`
	Receipt     Receipt     `json:"receipt"`
	CreatedAt   time.Time   `json:"timestamp"`
}

// EnrichedAlert is a record decorated with coordinate-derived presentation fields.
// Coordinate and MapLink are nil when the stored location no longer parses.
type EnrichedAlert struct {
	AlertRecord
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	MapLink    *string     `json:"mapLink,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// OutboundAlert is what a channel sends: the normalized input plus the record id the
// dispatcher generated for it.
type OutboundAlert struct {
	RecordID string
	AlertInput
}
