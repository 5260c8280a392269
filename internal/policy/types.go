// Package policy loads and validates the declarative policy documents the
// daemon evaluates against cloud resources.
package policy

import "fmt"

// Operator is one of the five condition predicates a Policy can declare.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "notEquals"
	OpContains  Operator = "contains"
	OpExists    Operator = "exists"
	OpNotExists Operator = "notExists"
)

// ActionKind names the three remediation variants.
type ActionKind string

const (
	ActionModify ActionKind = "modify"
	ActionDelete ActionKind = "delete"
	ActionTag    ActionKind = "tag"
)

// Scope narrows the set of resources a policy applies to: a management
// group, a subscription, or neither, meaning "all" — mirroring
// original_source/policy_types.py's Scope dataclass. Loading does not
// reject a Scope with both fields set; Descriptor then uses ManagementGroup.
type Scope struct {
	ManagementGroup string `json:"management_group,omitempty"`
	Subscription    string `json:"subscription,omitempty"`
}

// Descriptor derives the cache-key form spec §3 uses: "all", "mg:<id>" or
// "sub:<id>". ManagementGroup takes precedence when both are set, since the
// original narrows by management group first.
func (s Scope) Descriptor() string {
	switch {
	case s.ManagementGroup != "":
		return "mg:" + s.ManagementGroup
	case s.Subscription != "":
		return "sub:" + s.Subscription
	default:
		return "all"
	}
}

// Condition is one boolean predicate over a resolved resource attribute.
type Condition struct {
	FieldPath string      `json:"field_path" validate:"required"`
	Operator  Operator    `json:"operator" validate:"required,oneof=equals notEquals contains exists notExists"`
	Value     interface{} `json:"value,omitempty"`
}

// Timing holds the grace period and optional warning lead time for a timed
// remediation action. A zero-value Timing (Delay == 0) means "immediate".
type Timing struct {
	Delay            Duration `json:"delay,omitempty"`
	WarningThreshold Duration `json:"warning_threshold,omitempty"`
}

// Timed reports whether this action waits at all before applying.
func (t Timing) Timed() bool {
	return t.Delay.Duration > 0
}

// HasWarning reports whether a warning threshold was configured.
func (t Timing) HasWarning() bool {
	return t.WarningThreshold.Duration > 0
}

// RemediationAction describes what happens to a violating resource.
type RemediationAction struct {
	Kind       ActionKind             `json:"kind" validate:"required,oneof=modify delete tag"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Timing     *Timing                `json:"timing,omitempty"`
}

// Policy is one immutable, validated compliance rule.
type Policy struct {
	ID                 string            `json:"id" validate:"required"`
	Name               string            `json:"name,omitempty"`
	Description        string            `json:"description,omitempty"`
	ResourceType       string            `json:"resource_type" validate:"required"`
	EvaluationFrequency int              `json:"evaluation_frequency" validate:"required,min=1"`
	Scope              Scope             `json:"scope,omitempty"`
	Conditions         []Condition       `json:"conditions" validate:"dive"`
	Action             RemediationAction `json:"action" validate:"required"`
}

// Timed reports whether this policy's action carries a delay.
func (p Policy) Timed() bool {
	return p.Action.Timing != nil && p.Action.Timing.Timed()
}

// document is the top-level shape of a policy file: {"policies": [...]}.
type document struct {
	Policies []Policy `json:"policies"`
}

func (p Policy) String() string {
	return fmt.Sprintf("Policy{id=%s type=%s}", p.ID, p.ResourceType)
}
