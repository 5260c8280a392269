// Package provider abstracts the concrete cloud backend behind the three
// capabilities the core depends on: listing resources by scope, applying a
// remediation action, and resolving a dotted attribute path.
package provider

import (
	"context"
	"strings"

	"github.com/cloudguardian/policyguard/internal/policy"
)

// Resource is the opaque, provider-owned shape of a cloud resource. The
// core never inspects Attributes directly; it calls Lookup.
type Resource struct {
	ID         string
	Type       string
	Attributes map[string]interface{}
}

// Lookup walks a dotted field path ("tags.env", "config.encrypted") through
// Attributes, returning (value, true) or (nil, false) on any missing
// segment — the provider-supplied capability spec.md §9 prefers over
// exposing the backend's native shape to the engine.
func (r Resource) Lookup(path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var cur interface{} = r.Attributes

	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Provider is the capability set the core depends on (spec.md §4.2). The
// engine never branches on which concrete backend is in use.
type Provider interface {
	// ListByScope enumerates resources visible under scope ("all",
	// "mg:<id>", "sub:<id>"). Callers must pass through the engine's cache.
	ListByScope(ctx context.Context, scope string) ([]Resource, error)

	// Apply performs a remediation action against resource. Idempotent
	// where the cloud semantics allow (tag always; modify/delete per
	// backend).
	Apply(ctx context.Context, resource Resource, action policy.RemediationAction) error

	// ResourceField resolves a dotted attribute path on resource.
	ResourceField(resource Resource, path string) (interface{}, bool)
}
