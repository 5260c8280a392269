// Package engine implements the evaluation engine: resource enumeration
// (through a cache), type filtering, and conjunctive condition matching
// (spec.md §4.4).
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/cloudguardian/policyguard/internal/cache"
	"github.com/cloudguardian/policyguard/internal/logging"
	"github.com/cloudguardian/policyguard/internal/policy"
	"github.com/cloudguardian/policyguard/internal/provider"
)

// Controller receives each violator found by Evaluate, and is given the
// full current violator set so it can garbage-collect stale records
// (spec.md §4.5). It is implemented by internal/remediation.Controller;
// the interface lives here to avoid a dependency cycle.
type Controller interface {
	Handle(ctx context.Context, p policy.Policy, violators []provider.Resource) error
}

// Engine evaluates policies against a Provider, through a shared
// ResourceCache, per spec.md §4.4's five steps.
type Engine struct {
	provider provider.Provider
	cache    *cache.ResourceCache
}

// NewEngine constructs an Engine over the given provider and cache.
func NewEngine(p provider.Provider, c *cache.ResourceCache) *Engine {
	return &Engine{provider: p, cache: c}
}

// Evaluate implements spec.md §4.4 steps 1-4: resolve scope, list (via
// cache), filter by type, and evaluate conditions. It returns the
// resources that violate pol's conditions; the caller (the policy loop in
// internal/scheduler) hands these to the remediation controller, which also needs the
// full violator set for its GC pass (spec.md §4.5).
func (e *Engine) Evaluate(ctx context.Context, pol policy.Policy) ([]provider.Resource, error) {
	scope := pol.Scope.Descriptor()

	resources, ok := e.cache.Get(scope)
	if !ok {
		listed, err := e.provider.ListByScope(ctx, scope)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeProvider, fmt.Sprintf("listing resources for scope %q", scope))
		}
		e.cache.Set(scope, listed)
		resources = listed
	}

	var violators []provider.Resource
	for _, r := range resources {
		if r.Type != pol.ResourceType {
			continue
		}
		if e.matches(pol.Conditions, r) {
			violators = append(violators, r)
		}
	}
	return violators, nil
}

// matches evaluates all conditions conjunctively; empty conditions match
// trivially (spec.md §8). A panic in a single condition's evaluation
// (e.g. an unexpected attribute shape) is recovered and treated as a safe
// "false" for that resource only (spec.md §7).
func (e *Engine) matches(conditions []policy.Condition, r provider.Resource) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.WithComponent("engine").Error().
				Interface("panic", rec).Str("resource", r.ID).
				Msg("condition evaluation panicked, treating as non-match")
			matched = false
		}
	}()

	for _, c := range conditions {
		if !evaluateCondition(c, r) {
			return false
		}
	}
	return true
}

func evaluateCondition(c policy.Condition, r provider.Resource) bool {
	value, present := r.Lookup(c.FieldPath)

	switch c.Operator {
	case policy.OpExists:
		return present
	case policy.OpNotExists:
		return !present
	case policy.OpEquals:
		return present && equalValue(value, c.Value)
	case policy.OpNotEquals:
		return !present || !equalValue(value, c.Value)
	case policy.OpContains:
		return present && containsValue(value, c.Value)
	default:
		return false
	}
}

// equalValue compares through a string coercion rather than a type switch:
// resource attributes arrive as an opaque interface{} map, so "enabled" as
// bool true and "enabled" as string "true" are deliberately treated as equal.
func equalValue(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// containsValue implements the contains semantics resolved in spec.md §9:
// the resolved value's dynamic type decides membership — map keys, slice
// element equality, or string substring. Absent/unrecognized types are
// false.
func containsValue(resolved, needle interface{}) bool {
	switch v := resolved.(type) {
	case map[string]interface{}:
		key := fmt.Sprintf("%v", needle)
		_, ok := v[key]
		return ok
	case []interface{}:
		for _, elem := range v {
			if equalValue(elem, needle) {
				return true
			}
		}
		return false
	case string:
		needleStr := fmt.Sprintf("%v", needle)
		return strings.Contains(v, needleStr)
	default:
		return false
	}
}
