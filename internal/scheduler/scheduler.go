// Package scheduler owns one evaluation loop per policy: it wakes on the
// policy's cadence, serializes evaluations of that policy, and tolerates
// transient engine errors without killing the daemon (spec.md §4.6).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cloudguardian/policyguard/internal/logging"
	"github.com/cloudguardian/policyguard/internal/metrics"
	"github.com/cloudguardian/policyguard/internal/policy"
	"github.com/cloudguardian/policyguard/internal/provider"
	"github.com/rs/zerolog"
)

// recoveryInterval is the sleep after an engine error before the next
// attempt, per spec.md §4.6 step 3.
const recoveryInterval = 60 * time.Second

// Engine is the evaluation-engine capability the scheduler drives. The
// interface lives here (rather than importing internal/engine directly) so
// tests can swap in a fake without constructing a real Provider/cache pair.
type Engine interface {
	Evaluate(ctx context.Context, pol policy.Policy) ([]provider.Resource, error)
}

// Controller is the remediation capability the scheduler hands each tick's
// violator set to, mirroring internal/engine.Controller.
type Controller interface {
	Handle(ctx context.Context, pol policy.Policy, violators []provider.Resource) error
}

// Scheduler owns one goroutine per policy (spec.md §4.6, §9: "pick one
// model consistently" -- a blocking goroutine per policy, never a hybrid
// with a cooperative event loop).
type Scheduler struct {
	engine     Engine
	controller Controller
	metrics    metrics.Sink

	wg      sync.WaitGroup
	stopAll context.CancelFunc
}

// New builds a Scheduler over the given engine and controller.
func New(engine Engine, controller Controller, metricSink metrics.Sink) *Scheduler {
	return &Scheduler{engine: engine, controller: controller, metrics: metricSink}
}

// Start launches one loop per policy in policies, all running under a
// context derived from ctx. It returns immediately; loops run in the
// background until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, policies []policy.Policy) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.stopAll = cancel

	for _, pol := range policies {
		s.wg.Add(1)
		go s.runLoop(loopCtx, pol)
	}
}

// Stop cancels every loop and blocks until all of them have exited
// (spec.md §4.6: "the daemon's stop waits for all loops to exit").
func (s *Scheduler) Stop() {
	if s.stopAll != nil {
		s.stopAll()
	}
	s.wg.Wait()
}

// runLoop is one policy's evaluation loop: tick, evaluate, remediate,
// sleep; on engine error, log + metric + short recovery sleep instead of
// propagating (spec.md §4.6 step 3, §7's "Resource-list failure" row).
func (s *Scheduler) runLoop(ctx context.Context, pol policy.Policy) {
	defer s.wg.Done()

	log := logging.WithComponent("scheduler").With().Str("policy_id", pol.ID).Logger()
	cadence := time.Duration(pol.EvaluationFrequency) * time.Minute

	for {
		if ctx.Err() != nil {
			log.Info().Msg("policy loop stopping: context cancelled")
			return
		}

		violators, err := s.engine.Evaluate(ctx, pol)
		if err != nil {
			s.handleTickError(log, pol, err)
			if !sleepOrDone(ctx, recoveryInterval) {
				return
			}
			continue
		}

		if err := s.controller.Handle(ctx, pol, violators); err != nil {
			log.Error().Err(err).Msg("remediation controller returned an error for this tick")
		}

		if !sleepOrDone(ctx, cadence) {
			return
		}
	}
}

func (s *Scheduler) handleTickError(log zerolog.Logger, pol policy.Policy, err error) {
	log.Error().Err(err).Msg("policy evaluation failed, will retry after recovery interval")
	s.metrics.Record(metrics.Record{
		PolicyID: pol.ID,
		Action:   metrics.ActionViolationDetected,
		Status:   metrics.StatusFailed,
	})
}

// sleepOrDone sleeps for d, returning false early (meaning "stop") if ctx is
// cancelled first -- the interruptible sleep spec.md §4.6 requires.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
