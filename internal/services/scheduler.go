// Package services – Scheduler
//
// Thin periodic trigger around the orchestrator: fires a sampling pass on a
// fixed interval and exposes a synchronous run-now entry point. A tick that
// lands while the previous run is still in flight is skipped, not queued.
// There is no retry logic here; a failed run is logged and the next tick
// proceeds normally.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler drives periodic execution of sampling passes.
type Scheduler struct {
	Orchestrator *ScrapeOrchestrator

	// Interval between scheduled passes.
	Interval time.Duration

	// Enabled gates the periodic loop; RunNow works either way.
	Enabled bool

	Log zerolog.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(orch *ScrapeOrchestrator, interval time.Duration, enabled bool, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	return &Scheduler{
		Orchestrator: orch,
		Interval:     interval,
		Enabled:      enabled,
		Log:          log.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks, triggering a sampling pass every Interval until ctx is
// cancelled. When the scheduler is disabled it simply waits for
// cancellation so the caller's lifecycle stays uniform.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.Enabled {
		s.Log.Info().Msg("periodic sampling disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	s.Log.Info().Dur("interval", s.Interval).Msg("periodic sampling scheduled")
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one scheduled pass, skipping when a previous run still holds
// the orchestrator.
func (s *Scheduler) tick(ctx context.Context) {
	count, started, err := s.Orchestrator.TryRun(ctx)
	switch {
	case !started:
		s.Log.Warn().Msg("previous run still in flight, skipping tick")
	case err != nil:
		s.Log.Error().Err(err).Msg("scheduled run failed")
	default:
		s.Log.Info().Int("samples", count).Msg("scheduled run finished")
	}
}

// RunNow triggers a pass immediately and returns its sample count to the
// caller, waiting out any run already in flight.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	s.Log.Info().Msg("on-demand run requested")
	return s.Orchestrator.Run(ctx)
}

// NextRunHint describes the periodic cadence for status endpoints.
func (s *Scheduler) NextRunHint() string {
	if !s.Enabled {
		return "disabled"
	}
	return "every " + s.Interval.String()
}
