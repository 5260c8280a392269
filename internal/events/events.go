// Package events defines the daemon's observability event shape and the
// sinks that can receive it (spec.md §6), modeled on
// internal/events/event_bus.go's Event type but narrowed to the five event
// kinds the remediation controller emits.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type is one of the five remediation-lifecycle event kinds spec.md §6
// names.
type Type string

const (
	PolicyViolationDetected Type = "PolicyViolationDetected"
	PolicyViolationWarning  Type = "PolicyViolationWarning"
	PolicyRemediation       Type = "PolicyRemediation"
	ImmediateRemediation    Type = "ImmediateRemediation"
	RemediationError        Type = "RemediationError"
)

// Event is one observability record emitted by a state transition.
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"eventType"`
	Timestamp  time.Time              `json:"timestamp"`
	ResourceID string                 `json:"resourceId"`
	PolicyID   string                 `json:"policyId"`
	Extras     map[string]interface{} `json:"extras,omitempty"`
}

// New stamps a fresh Event with a generated ID and the current time.
func New(t Type, resourceID, policyID string, extras map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Timestamp:  time.Now().UTC(),
		ResourceID: resourceID,
		PolicyID:   policyID,
		Extras:     extras,
	}
}

// Sink receives events. Implementations must be safe for concurrent use;
// the core never serializes calls into a sink (spec.md §5). A sink failure
// is logged and otherwise ignored — never fatal, never retried (spec.md §7).
type Sink interface {
	Emit(e Event)
}

// MultiSink fans an event out to every sink in the list.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
