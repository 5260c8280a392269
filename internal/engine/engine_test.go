package engine

import (
	"context"
	"testing"

	"github.com/cloudguardian/policyguard/internal/cache"
	"github.com/cloudguardian/policyguard/internal/policy"
	"github.com/cloudguardian/policyguard/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vm(id string, attrs map[string]interface{}) provider.Resource {
	return provider.Resource{ID: id, Type: "Cloud/VM", Attributes: attrs}
}

func TestEvaluateFiltersByResourceType(t *testing.T) {
	prov := provider.NewMockProvider(
		vm("vm-1", map[string]interface{}{"tags": map[string]interface{}{}}),
		provider.Resource{ID: "db-1", Type: "Cloud/DB", Attributes: map[string]interface{}{}},
	)
	eng := NewEngine(prov, cache.New(0))

	pol := policy.Policy{ID: "p1", ResourceType: "Cloud/VM"}
	violators, err := eng.Evaluate(context.Background(), pol)
	require.NoError(t, err)
	require.Len(t, violators, 1)
	assert.Equal(t, "vm-1", violators[0].ID)
}

func TestEvaluateConjunctiveConditions(t *testing.T) {
	prov := provider.NewMockProvider(
		vm("vm-untagged", map[string]interface{}{}),
		vm("vm-tagged", map[string]interface{}{"tags": map[string]interface{}{"env": "prod"}}),
	)
	eng := NewEngine(prov, cache.New(0))

	pol := policy.Policy{
		ID:           "p1",
		ResourceType: "Cloud/VM",
		Conditions: []policy.Condition{
			{FieldPath: "tags.env", Operator: policy.OpNotExists},
		},
	}
	violators, err := eng.Evaluate(context.Background(), pol)
	require.NoError(t, err)
	require.Len(t, violators, 1)
	assert.Equal(t, "vm-untagged", violators[0].ID)
}

func TestEvaluateEmptyConditionsMatchTrivially(t *testing.T) {
	prov := provider.NewMockProvider(vm("vm-1", map[string]interface{}{}))
	eng := NewEngine(prov, cache.New(0))

	pol := policy.Policy{ID: "p1", ResourceType: "Cloud/VM"}
	violators, err := eng.Evaluate(context.Background(), pol)
	require.NoError(t, err)
	assert.Len(t, violators, 1)
}

func TestContainsSemanticsByResolvedType(t *testing.T) {
	cases := []struct {
		name   string
		value  interface{}
		needle interface{}
		want   bool
	}{
		{"map key present", map[string]interface{}{"env": "prod"}, "env", true},
		{"map key absent", map[string]interface{}{"env": "prod"}, "team", false},
		{"slice element present", []interface{}{"a", "b"}, "b", true},
		{"slice element absent", []interface{}{"a", "b"}, "c", false},
		{"string substring present", "hello-world", "world", true},
		{"string substring absent", "hello-world", "xyz", false},
		{"unsupported type", 42, "x", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, containsValue(c.value, c.needle))
		})
	}
}

func TestContainsAbsentValueIsFalse(t *testing.T) {
	r := vm("vm-1", map[string]interface{}{})
	cond := policy.Condition{FieldPath: "tags", Operator: policy.OpContains, Value: "env"}
	assert.False(t, evaluateCondition(cond, r))
}

func TestEqualsAndNotEquals(t *testing.T) {
	r := vm("vm-1", map[string]interface{}{"region": "us-east-1"})

	assert.True(t, evaluateCondition(policy.Condition{FieldPath: "region", Operator: policy.OpEquals, Value: "us-east-1"}, r))
	assert.False(t, evaluateCondition(policy.Condition{FieldPath: "region", Operator: policy.OpEquals, Value: "us-west-2"}, r))
	assert.True(t, evaluateCondition(policy.Condition{FieldPath: "region", Operator: policy.OpNotEquals, Value: "us-west-2"}, r))
	assert.False(t, evaluateCondition(policy.Condition{FieldPath: "region", Operator: policy.OpNotEquals, Value: "us-east-1"}, r))
}

func TestExistsAndNotExists(t *testing.T) {
	r := vm("vm-1", map[string]interface{}{"region": "us-east-1"})

	assert.True(t, evaluateCondition(policy.Condition{FieldPath: "region", Operator: policy.OpExists}, r))
	assert.False(t, evaluateCondition(policy.Condition{FieldPath: "missing", Operator: policy.OpExists}, r))
	assert.True(t, evaluateCondition(policy.Condition{FieldPath: "missing", Operator: policy.OpNotExists}, r))
}

// TestMatchesNilConditionsWithoutPanic checks that matches() with nil
// conditions returns true without panicking. The deferred recover in
// matches(), which turns a panicking condition into a non-match, is not
// exercised here.
func TestMatchesNilConditionsWithoutPanic(t *testing.T) {
	prov := provider.NewMockProvider(vm("vm-1", map[string]interface{}{}))
	eng := NewEngine(prov, cache.New(0))

	matched := eng.matches(nil, vm("vm-1", map[string]interface{}{}))
	assert.True(t, matched, "nil/empty conditions match trivially when no panic occurs")
}
