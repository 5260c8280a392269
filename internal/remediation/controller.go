// Package remediation implements the per-(resource, policy) state machine
// described in spec.md §4.5: first-seen -> warned -> remediated, with
// retries, persistence and observability events.
package remediation

import (
	"context"
	"time"

	"github.com/cloudguardian/policyguard/internal/apperrors"
	"github.com/cloudguardian/policyguard/internal/events"
	"github.com/cloudguardian/policyguard/internal/logging"
	"github.com/cloudguardian/policyguard/internal/metrics"
	"github.com/cloudguardian/policyguard/internal/notify"
	"github.com/cloudguardian/policyguard/internal/policy"
	"github.com/cloudguardian/policyguard/internal/provider"
	"github.com/cloudguardian/policyguard/internal/retry"
	"github.com/cloudguardian/policyguard/internal/state"
)

// warningSent is the single named warning kind spec.md §3 defines.
const warningSent = "warning_sent"

// Clock is injected so tests can control "now" without sleeping real time.
type Clock func() time.Time

// Controller is the remediation state machine shared by every policy loop.
// It mutates the state store only through Store.Update, which holds the
// store's own mutex across read+modify+save (spec.md §5), and it owns the
// retry discipline for Provider.Apply.
type Controller struct {
	store    state.Store
	provider provider.Provider
	events   events.Sink
	metrics  metrics.Sink
	warner   notify.Warner
	retry    *retry.Config
	now      Clock
}

// New builds a Controller. warner may be nil, in which case notify.LogWarner
// is used, so warnings are logged as well as emitted as events.
func New(store state.Store, prov provider.Provider, eventSink events.Sink, metricSink metrics.Sink, warner notify.Warner) *Controller {
	if warner == nil {
		warner = notify.LogWarner{}
	}
	return &Controller{
		store:    store,
		provider: prov,
		events:   eventSink,
		metrics:  metricSink,
		warner:   warner,
		retry:    retry.RemediationConfig(),
		now:      time.Now,
	}
}

// Handle is the Engine.Controller capability: given a policy's full current
// violator set, it advances the state machine for each violator and
// garbage-collects stale records for resources that stopped violating
// (spec.md §4.5).
func (c *Controller) Handle(ctx context.Context, pol policy.Policy, violators []provider.Resource) error {
	if !pol.Timed() {
		for _, r := range violators {
			if err := c.remediateImmediate(ctx, pol, r); err != nil {
				logging.WithComponent("remediation").Error().Err(err).
					Str("policy_id", pol.ID).Str("resource_id", r.ID).
					Msg("remediation transition failed")
			}
		}
		return nil
	}

	current := make(map[string]bool, len(violators))
	for _, r := range violators {
		current[state.Key(r.ID, r.Type, pol.ID)] = true
	}

	// The whole tick for this policy runs inside one Update call, so the
	// GC pass and every violator's state-machine transition share the
	// same held lock: no other policy's Update can interleave a load or
	// save in between (spec.md §5's process-wide read+modify+save mutex).
	err := c.store.Update(func(records map[string]*state.Record, save func() error) error {
		if c.gc(records, pol, current) {
			if err := save(); err != nil {
				return apperrors.Wrap(err, apperrors.TypeState, "saving state after GC")
			}
		}

		for _, r := range violators {
			if err := c.handleOneLocked(ctx, pol, r, records, save); err != nil {
				logging.WithComponent("remediation").Error().Err(err).
					Str("policy_id", pol.ID).Str("resource_id", r.ID).
					Msg("remediation transition failed")
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "updating remediation state")
	}
	return nil
}

// gc removes records belonging to pol whose resource key is no longer in
// the current violator set — the self-heal cleanup spec.md §4.5 resolves
// as an explicit GC policy. Returns whether it mutated records.
func (c *Controller) gc(records map[string]*state.Record, pol policy.Policy, current map[string]bool) bool {
	changed := false
	for key, rec := range records {
		if rec.PolicyID != pol.ID {
			continue
		}
		if current[key] {
			continue
		}
		delete(records, key)
		changed = true
		logging.WithComponent("remediation").Debug().
			Str("policy_id", pol.ID).Str("key", key).
			Msg("garbage-collected stale remediation record: resource no longer violating")
	}
	return changed
}

// handleOneLocked advances the state machine for a single (resource,
// policy) pair, per the diagram in spec.md §4.5. records and save are the
// caller's held Update transaction: every persist this function performs
// goes through save, so it lands before handleOneLocked returns and before
// the caller's enclosing Handle call returns control to the scheduler
// (invariant I5), while staying inside the one lock acquisition that
// covers the whole tick.
func (c *Controller) handleOneLocked(ctx context.Context, pol policy.Policy, r provider.Resource, records map[string]*state.Record, save func() error) error {
	key := state.Key(r.ID, r.Type, pol.ID)
	rec, exists := records[key]
	now := c.now().UTC()

	if !exists {
		return c.enterPending(pol, r, key, records, now, save)
	}

	elapsed := elapsedSince(rec.FirstViolation, now)
	timing := pol.Action.Timing

	if timing.HasWarning() && elapsed >= timing.WarningThreshold.Duration && !rec.HasWarning(warningSent) {
		if err := c.enterWarned(pol, r, rec, save); err != nil {
			return err
		}
	}

	if elapsed >= timing.Delay.Duration {
		return c.remediateTimed(ctx, pol, r, key, records, save)
	}
	return nil
}

// elapsedSince guards against backward clock jumps (spec.md §4.5): if now
// precedes first_violation, elapsed clamps to zero rather than going
// negative, which would otherwise look like a very long violation streak.
func elapsedSince(firstViolation, now time.Time) time.Duration {
	if now.Before(firstViolation) {
		return 0
	}
	return now.Sub(firstViolation)
}

// enterPending registers a newly observed violation under a timed policy.
// This tick only records the violation; it never remediates (spec.md §4.5).
func (c *Controller) enterPending(pol policy.Policy, r provider.Resource, key string, records map[string]*state.Record, now time.Time, save func() error) error {
	rec := &state.Record{PolicyID: pol.ID, FirstViolation: now, WarningsSent: []string{}}
	records[key] = rec

	if err := save(); err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "persisting new remediation record")
	}

	c.events.Emit(events.New(events.PolicyViolationDetected, r.ID, pol.ID, map[string]interface{}{
		"first_violation": now,
	}))
	c.metrics.Record(metrics.Record{
		PolicyID: pol.ID, ResourceID: r.ID,
		Action: metrics.ActionViolationDetected, Status: metrics.StatusPending,
	})
	return nil
}

// enterWarned emits the one-time warning for a record that has crossed its
// threshold (spec.md §4.5, invariant I3: at most one warning per record).
func (c *Controller) enterWarned(pol policy.Policy, r provider.Resource, rec *state.Record, save func() error) error {
	rec.WarningsSent = append(rec.WarningsSent, warningSent)
	if err := save(); err != nil {
		return apperrors.Wrap(err, apperrors.TypeState, "persisting warning state")
	}

	message := "policy " + pol.ID + " is approaching remediation for resource " + r.ID
	if err := c.warner.Warn(pol.ID, r.ID, message); err != nil {
		logging.WithComponent("remediation").Warn().Err(err).
			Str("policy_id", pol.ID).Str("resource_id", r.ID).
			Msg("warning side-channel failed")
	}

	c.events.Emit(events.New(events.PolicyViolationWarning, r.ID, pol.ID, nil))
	c.metrics.Record(metrics.Record{
		PolicyID: pol.ID, ResourceID: r.ID,
		Action: metrics.ActionViolationWarning, Status: metrics.StatusWarning,
	})
	return nil
}

// remediateTimed applies the policy's action once the grace delay has
// elapsed, retrying per spec.md §5, and clears the record on success so
// invariant I1 holds (no record outlives a successful remediation).
func (c *Controller) remediateTimed(ctx context.Context, pol policy.Policy, r provider.Resource, key string, records map[string]*state.Record, save func() error) error {
	start := c.now()
	err := c.apply(ctx, r, pol.Action)
	duration := c.now().Sub(start).Seconds()

	if err == nil {
		delete(records, key)
		if saveErr := save(); saveErr != nil {
			return apperrors.Wrap(saveErr, apperrors.TypeState, "persisting remediation completion")
		}
		c.events.Emit(events.New(events.PolicyRemediation, r.ID, pol.ID, map[string]interface{}{
			"action": pol.Action.Kind,
		}))
		c.metrics.Record(metrics.Record{
			PolicyID: pol.ID, ResourceID: r.ID,
			Action: metrics.ActionRemediation, Status: metrics.StatusSuccess, DurationSeconds: duration,
		})
		return nil
	}

	// Record stays in records (and persisted) so the next tick at or after
	// delay retries (spec.md §4.5, §7: remediation failure never drops the
	// grace-period record).
	c.events.Emit(events.New(events.RemediationError, r.ID, pol.ID, map[string]interface{}{
		"error": err.Error(),
	}))
	c.metrics.Record(metrics.Record{
		PolicyID: pol.ID, ResourceID: r.ID,
		Action: metrics.ActionRemediation, Status: metrics.StatusFailed, DurationSeconds: duration,
	})
	return err
}

// remediateImmediate applies the action unconditionally for policies with
// no timing sub-record, never touching the state store (spec.md §4.5's
// "Clean -> Remediating -> Clean" immediate path).
func (c *Controller) remediateImmediate(ctx context.Context, pol policy.Policy, r provider.Resource) error {
	start := c.now()
	err := c.apply(ctx, r, pol.Action)
	duration := c.now().Sub(start).Seconds()

	if err == nil {
		c.events.Emit(events.New(events.ImmediateRemediation, r.ID, pol.ID, map[string]interface{}{
			"action": pol.Action.Kind,
		}))
		c.metrics.Record(metrics.Record{
			PolicyID: pol.ID, ResourceID: r.ID,
			Action: metrics.ActionImmediateRemediation, Status: metrics.StatusSuccess, DurationSeconds: duration,
		})
		return nil
	}

	c.events.Emit(events.New(events.RemediationError, r.ID, pol.ID, map[string]interface{}{
		"error": err.Error(),
	}))
	c.metrics.Record(metrics.Record{
		PolicyID: pol.ID, ResourceID: r.ID,
		Action: metrics.ActionImmediateRemediation, Status: metrics.StatusFailed, DurationSeconds: duration,
	})
	return err
}

// apply drives Provider.Apply through the retry discipline spec.md §5
// mandates: up to 3 attempts, 4s initial delay, 10s cap, constant backoff.
func (c *Controller) apply(ctx context.Context, r provider.Resource, action policy.RemediationAction) error {
	return retry.Do(ctx, c.retry, func() error {
		return c.provider.Apply(ctx, r, action)
	}, func(a retry.Attempt) {
		if a.Err != nil {
			logging.WithComponent("remediation").Warn().Err(a.Err).
				Int("attempt", a.Number).Str("resource", r.ID).Msg("apply attempt failed")
		}
	})
}
