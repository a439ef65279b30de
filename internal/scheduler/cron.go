package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/veracta/doclifecycle/internal/core/ports"
	"github.com/veracta/doclifecycle/internal/observability/metrics"
)

// Schedule binds each sweep policy to a cron cadence. Cadences are injected
// configuration; nothing here is discovered at runtime.
type Schedule struct {
	EffectiveSpec    string
	ObsolescenceSpec string
	ReviewSpec       string
	OverdueSpec      string
	SweepTimeout     time.Duration
}

func (s Schedule) normalize() Schedule {
	out := s
	if out.EffectiveSpec == "" {
		out.EffectiveSpec = "@hourly"
	}
	if out.ObsolescenceSpec == "" {
		out.ObsolescenceSpec = "@daily"
	}
	if out.ReviewSpec == "" {
		out.ReviewSpec = "@daily"
	}
	if out.OverdueSpec == "" {
		out.OverdueSpec = "@hourly"
	}
	if out.SweepTimeout <= 0 {
		out.SweepTimeout = 5 * time.Minute
	}
	return out
}

// Runner owns the cron loop of the scheduler process. Sweeps never assume
// exclusive execution; overlapping or duplicated runs are harmless by the
// sweeper's contract.
type Runner struct {
	cron    *cron.Cron
	service string
}

func New(service string, sweeper ports.Sweeper, m *metrics.SweepMetrics, schedule Schedule) (*Runner, error) {
	schedule = schedule.normalize()
	c := cron.New()

	jobs := []struct {
		spec string
		name string
		run  func(context.Context) (ports.SweepReport, error)
	}{
		{schedule.EffectiveSpec, "effective_date", sweeper.RunEffectiveDateSweep},
		{schedule.ObsolescenceSpec, "obsolescence", sweeper.RunObsolescenceSweep},
		{schedule.ReviewSpec, "periodic_review", sweeper.RunPeriodicReviewSweep},
		{schedule.OverdueSpec, "overdue_escalation", sweeper.RunOverdueEscalationSweep},
	}

	for _, job := range jobs {
		run := job.run
		name := job.name
		_, err := c.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), schedule.SweepTimeout)
			defer cancel()

			start := time.Now()
			report, err := run(ctx)
			if m != nil {
				m.ObserveSweep(service, report, time.Since(start), err)
			}
			if err != nil {
				slog.Error("sweep_failed", "policy", name, "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s sweep (%q): %w", name, job.spec, err)
		}
	}

	return &Runner{cron: c, service: service}, nil
}

// Start launches the cron loop in its own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
	slog.Info("scheduler_started", "service", r.service)
}

// Stop halts scheduling and returns a context that completes when running
// jobs finish.
func (r *Runner) Stop() context.Context {
	slog.Info("scheduler_stopping", "service", r.service)
	return r.cron.Stop()
}
