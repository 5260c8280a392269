package remediation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudguardian/policyguard/internal/events"
	"github.com/cloudguardian/policyguard/internal/metrics"
	"github.com/cloudguardian/policyguard/internal/policy"
	"github.com/cloudguardian/policyguard/internal/provider"
	"github.com/cloudguardian/policyguard/internal/retry"
	"github.com/cloudguardian/policyguard/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory state.Store used by tests instead of FileStore,
// so tests never touch disk.
type memStore struct {
	mu      sync.Mutex
	records map[string]*state.Record
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*state.Record{}}
}

func (m *memStore) Load() (map[string]*state.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*state.Record, len(m.records))
	for k, v := range m.records {
		cp := *v
		out[k] = &cp
	}
	return out, nil
}

func (m *memStore) Save(records map[string]*state.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	return nil
}

func (m *memStore) Update(fn func(map[string]*state.Record, func() error) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*state.Record, len(m.records))
	for k, v := range m.records {
		cp := *v
		out[k] = &cp
	}
	save := func() error {
		m.records = out
		return nil
	}
	return fn(out, save)
}

// recordingSink captures every event/metric emitted, for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
	metric []metrics.Record
}

func (s *recordingSink) Emit(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Record(r metrics.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metric = append(s.metric, r)
}

func (s *recordingSink) eventTypes() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func newController(store state.Store, prov provider.Provider, sink *recordingSink) *Controller {
	c := New(store, prov, sink, sink, nil)
	c.retry = &retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return c
}

// scenario 1: immediate remediation, tag action.
func TestImmediateRemediationTagAction(t *testing.T) {
	prov := provider.NewMockProvider(provider.Resource{
		ID: "vm-1", Type: "Cloud/VM", Attributes: map[string]interface{}{},
	})
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)

	pol := policy.Policy{
		ID:           "tag-untagged",
		ResourceType: "Cloud/VM",
		Action: policy.RemediationAction{
			Kind:       policy.ActionTag,
			Parameters: map[string]interface{}{"env": "dev"},
		},
	}
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM", Attributes: map[string]interface{}{}}

	err := ctrl.Handle(context.Background(), pol, []provider.Resource{res})
	require.NoError(t, err)

	assert.Equal(t, []events.Type{events.ImmediateRemediation}, sink.eventTypes())
	require.Len(t, sink.metric, 1)
	assert.Equal(t, metrics.StatusSuccess, sink.metric[0].Status)

	records, _ := store.Load()
	assert.Empty(t, records, "immediate remediation never creates a state record")
}

func timedPolicy(id string) policy.Policy {
	return policy.Policy{
		ID:           id,
		ResourceType: "Cloud/VM",
		Action: policy.RemediationAction{
			Kind: policy.ActionDelete,
			Timing: &policy.Timing{
				Delay:            policy.Duration{Duration: 7 * 24 * time.Hour},
				WarningThreshold: policy.Duration{Duration: 5 * 24 * time.Hour},
			},
		},
	}
}

// scenario 2: timed remediation, first tick.
func TestTimedRemediationFirstTick(t *testing.T) {
	prov := provider.NewMockProvider()
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctrl.now = func() time.Time { return t0 }

	pol := timedPolicy("delete-stale")
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM"}

	err := ctrl.Handle(context.Background(), pol, []provider.Resource{res})
	require.NoError(t, err)

	assert.Equal(t, []events.Type{events.PolicyViolationDetected}, sink.eventTypes())

	records, _ := store.Load()
	key := state.Key("vm-1", "Cloud/VM", pol.ID)
	require.Contains(t, records, key)
	assert.True(t, records[key].FirstViolation.Equal(t0))
	assert.Empty(t, records[key].WarningsSent)
}

// scenario 3: warning tick.
func TestWarningTick(t *testing.T) {
	prov := provider.NewMockProvider()
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pol := timedPolicy("delete-stale")
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM"}

	ctrl.now = func() time.Time { return t0 }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	ctrl.now = func() time.Time { return t0.Add(5*24*time.Hour + time.Minute) }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	assert.Equal(t, []events.Type{events.PolicyViolationDetected, events.PolicyViolationWarning}, sink.eventTypes())

	records, _ := store.Load()
	key := state.Key("vm-1", "Cloud/VM", pol.ID)
	assert.Equal(t, []string{warningSent}, records[key].WarningsSent)
}

// scenario 4: remediation tick.
func TestRemediationTick(t *testing.T) {
	prov := provider.NewMockProvider(provider.Resource{ID: "vm-1", Type: "Cloud/VM"})
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pol := timedPolicy("delete-stale")
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM"}

	ctrl.now = func() time.Time { return t0 }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	ctrl.now = func() time.Time { return t0.Add(5*24*time.Hour + time.Minute) }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	ctrl.now = func() time.Time { return t0.Add(7*24*time.Hour + time.Minute) }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	types := sink.eventTypes()
	assert.Equal(t, events.PolicyRemediation, types[len(types)-1])

	records, _ := store.Load()
	key := state.Key("vm-1", "Cloud/VM", pol.ID)
	assert.NotContains(t, records, key, "state record deleted after successful remediation")

	last := sink.metric[len(sink.metric)-1]
	assert.Equal(t, metrics.StatusSuccess, last.Status)
	assert.GreaterOrEqual(t, last.DurationSeconds, 0.0)
}

// scenario 5: retry exhaustion.
func TestRetryExhaustionRetainsRecord(t *testing.T) {
	prov := provider.NewMockProvider(provider.Resource{ID: "vm-1", Type: "Cloud/VM"})
	prov.ApplyErr = errors.New("cloud API unavailable")
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pol := timedPolicy("delete-stale")
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM"}

	ctrl.now = func() time.Time { return t0 }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	ctrl.now = func() time.Time { return t0.Add(7*24*time.Hour + time.Minute) }
	err := ctrl.Handle(context.Background(), pol, []provider.Resource{res})
	assert.NoError(t, err, "Handle logs per-resource errors but does not fail the tick")

	assert.Len(t, prov.ApplyLog, 3, "exactly 3 apply attempts per the retry discipline")

	types := sink.eventTypes()
	assert.Equal(t, events.RemediationError, types[len(types)-1])

	records, _ := store.Load()
	key := state.Key("vm-1", "Cloud/VM", pol.ID)
	assert.Contains(t, records, key, "record must survive so the next tick retries")
}

// TestStaleRecordGarbageCollected covers spec.md §4.5's GC policy: once a
// resource stops appearing in the violator set, its record is removed.
func TestStaleRecordGarbageCollected(t *testing.T) {
	prov := provider.NewMockProvider(provider.Resource{ID: "vm-1", Type: "Cloud/VM"})
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctrl.now = func() time.Time { return t0 }

	pol := timedPolicy("delete-stale")
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM"}

	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))
	key := state.Key("vm-1", "Cloud/VM", pol.ID)
	records, _ := store.Load()
	require.Contains(t, records, key)

	// The resource no longer violates; Handle is called with an empty
	// violator set for this policy.
	require.NoError(t, ctrl.Handle(context.Background(), pol, nil))
	records, _ = store.Load()
	assert.NotContains(t, records, key)
}

// TestClockSkewClampsElapsedToZero covers spec.md §4.5's clock-skew guard:
// a backward jump must not trigger premature remediation.
func TestClockSkewClampsElapsedToZero(t *testing.T) {
	prov := provider.NewMockProvider(provider.Resource{ID: "vm-1", Type: "Cloud/VM"})
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pol := timedPolicy("delete-stale")
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM"}

	ctrl.now = func() time.Time { return t0 }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	// Clock jumps backward by a day.
	ctrl.now = func() time.Time { return t0.Add(-24 * time.Hour) }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	assert.Equal(t, 0, len(prov.ApplyLog), "no remediation should fire when elapsed clamps to zero")
	assert.Equal(t, []events.Type{events.PolicyViolationDetected}, sink.eventTypes())
}

// TestOnlyOneWarningPerStreak is the invariant I3 property test.
func TestOnlyOneWarningPerStreak(t *testing.T) {
	prov := provider.NewMockProvider(provider.Resource{ID: "vm-1", Type: "Cloud/VM"})
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pol := timedPolicy("delete-stale")
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM"}

	ctrl.now = func() time.Time { return t0 }
	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))

	for _, offset := range []time.Duration{5*24*time.Hour + time.Minute, 5*24*time.Hour + 2*time.Hour, 6 * 24 * time.Hour} {
		ctrl.now = func(o time.Duration) func() time.Time {
			return func() time.Time { return t0.Add(o) }
		}(offset)
		require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))
	}

	warnings := 0
	for _, typ := range sink.eventTypes() {
		if typ == events.PolicyViolationWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

// TestImmediatePolicyNeverTouchesStateStore covers the immediate-policy
// branch of the state machine diagram (spec.md §4.5).
func TestImmediatePolicyNeverTouchesStateStore(t *testing.T) {
	prov := provider.NewMockProvider(provider.Resource{ID: "vm-1", Type: "Cloud/VM"})
	sink := &recordingSink{}
	store := newMemStore()
	ctrl := newController(store, prov, sink)

	pol := policy.Policy{
		ID:           "immediate-delete",
		ResourceType: "Cloud/VM",
		Action:       policy.RemediationAction{Kind: policy.ActionDelete},
	}
	res := provider.Resource{ID: "vm-1", Type: "Cloud/VM"}

	require.NoError(t, ctrl.Handle(context.Background(), pol, []provider.Resource{res}))
	records, _ := store.Load()
	assert.Empty(t, records)
}
