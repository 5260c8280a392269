// Package state durably tracks in-flight remediation records, keyed by
// "<resource_id>:<resource_type>:<policy_id>" so the same resource can be
// tracked independently by multiple policies (spec.md §5).
package state

import "time"

// Record is one in-flight remediation's grace-period bookkeeping
// (spec.md §3). WarningsSent currently has one possible member,
// "warning_sent", kept as a set for forward compatibility with the
// original's schema.
type Record struct {
	PolicyID       string    `json:"policy_id"`
	FirstViolation time.Time `json:"first_violation"`
	WarningsSent   []string  `json:"warnings_sent"`
}

// HasWarning reports whether name was already recorded as sent.
func (r *Record) HasWarning(name string) bool {
	for _, w := range r.WarningsSent {
		if w == name {
			return true
		}
	}
	return false
}

// Key builds the composite key a Record is stored under.
func Key(resourceID, resourceType, policyID string) string {
	return resourceID + ":" + resourceType + ":" + policyID
}

// Store is a durable key-value map of remediation records with whole-store
// read-modify-write semantics (spec.md §4.3). Implementations must make
// Save atomic and safe to call from multiple policy loops.
type Store interface {
	// Load returns the current record set. Callers must not mutate the
	// returned map directly; use Save to persist changes.
	Load() (map[string]*Record, error)

	// Save replaces the persisted record set atomically.
	Save(records map[string]*Record) error

	// Update runs fn with exclusive access to the full record set and a
	// save callback fn may invoke any number of times to persist
	// immediately. The load, every call to save, and fn's other work all
	// happen under the store's single mutex with no other Load/Save/
	// Update able to interleave — the process-wide mutex spec.md §5
	// requires covering "read+modify+save" so concurrent policy loops can
	// never clobber each other's write. Calling save per transition
	// (rather than once at the end) preserves invariant I5: persistence
	// completes before the transition's event/metric is emitted, even
	// when fn advances more than one resource's state machine in a
	// single Update call.
	Update(fn func(records map[string]*Record, save func() error) error) error
}
