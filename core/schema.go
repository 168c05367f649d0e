package core

import (
	"strings"
	"time"
)

// Outcome is the normalized result of an authentication attempt.
type Outcome string

const (
	// OutcomeSuccess marks an allowed authentication
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeFailure marks a failed or denied authentication
	OutcomeFailure Outcome = "FAILURE"
	// OutcomeUnknown marks a present but unrecognized result
	OutcomeUnknown Outcome = "UNKNOWN"
)

// ParseOutcome maps a raw provider result onto an Outcome.
// An empty result yields the empty (absent) outcome.
func ParseOutcome(raw string) Outcome {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "SUCCESS", "ALLOW", "ALLOWED":
		return OutcomeSuccess
	case "FAILURE", "FAILED", "FAIL", "DENIED", "DENY":
		return OutcomeFailure
	default:
		return OutcomeUnknown
	}
}

// IsValid checks if the outcome is one of the known values
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeUnknown:
		return true
	default:
		return false
	}
}

// Event represents a normalized authentication event.
// Empty string fields are treated as absent.
type Event struct {
	Timestamp time.Time              `json:"timestamp" yaml:"timestamp"`
	EventType string                 `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Message   string                 `json:"message,omitempty" yaml:"message,omitempty"`
	User      string                 `json:"user,omitempty" yaml:"user,omitempty"`
	IP        string                 `json:"ip,omitempty" yaml:"ip,omitempty"`
	Country   string                 `json:"country,omitempty" yaml:"country,omitempty"`
	Outcome   Outcome                `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Raw       map[string]interface{} `json:"raw,omitempty" yaml:"-"`
}

// HasTimestamp reports whether the event carries a usable timestamp
func (e *Event) HasTimestamp() bool {
	return !e.Timestamp.IsZero()
}

// IsFailure reports whether the event is a failed authentication
func (e *Event) IsFailure() bool {
	return e.Outcome == OutcomeFailure
}
