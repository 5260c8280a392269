package provider

import (
	"context"
	"sync"

	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/cloudguardian/policyguard/internal/policy"
)

// MockProvider is an in-memory Provider backend used by the daemon's tests
// (spec.md §8's boundary scenarios) and by operators evaluating policies
// without cloud credentials.
type MockProvider struct {
	mu        sync.Mutex
	resources map[string]Resource // keyed by ID
	ApplyErr  error                // if set, Apply always returns this error
	ApplyLog  []policy.RemediationAction
}

// NewMockProvider seeds the backend with an initial resource set.
func NewMockProvider(resources ...Resource) *MockProvider {
	m := &MockProvider{resources: make(map[string]Resource)}
	for _, r := range resources {
		m.resources[r.ID] = r
	}
	return m
}

// Put inserts or replaces a resource, for tests that mutate state mid-run.
func (m *MockProvider) Put(r Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

func (m *MockProvider) ListByScope(ctx context.Context, scope string) ([]Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Resource, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r)
	}
	return out, nil
}

func (m *MockProvider) Apply(ctx context.Context, resource Resource, action policy.RemediationAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ApplyLog = append(m.ApplyLog, action)
	if m.ApplyErr != nil {
		return apperrors.Wrap(m.ApplyErr, apperrors.TypeProvider, "mock apply failed")
	}

	r, ok := m.resources[resource.ID]
	if !ok {
		return nil
	}

	switch action.Kind {
	case policy.ActionDelete:
		delete(m.resources, resource.ID)
	case policy.ActionTag:
		tags, _ := r.Attributes["tags"].(map[string]interface{})
		if tags == nil {
			tags = map[string]interface{}{}
		}
		for k, v := range action.Parameters {
			tags[k] = v
		}
		r.Attributes["tags"] = tags
		m.resources[resource.ID] = r
	case policy.ActionModify:
		for k, v := range action.Parameters {
			r.Attributes[k] = v
		}
		m.resources[resource.ID] = r
	}
	return nil
}

func (m *MockProvider) ResourceField(resource Resource, path string) (interface{}, bool) {
	return resource.Lookup(path)
}
