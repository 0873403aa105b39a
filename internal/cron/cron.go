// Package cron runs periodic background jobs such as the redemption
// passes. Each job is driven by an owned Worker handle.
package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job (used for logging).
	Name() string

	// Run executes one pass. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}

// Schedule is re-exported so callers need not import robfig/cron.
type Schedule = cron.Schedule

// everySchedule fires at a fixed period after the previous activation.
// Unlike cron.Every it keeps sub-second precision.
type everySchedule struct {
	period time.Duration
}

// Next implements cron.Schedule.
func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.period)
}

// Every returns a schedule that fires every period.
func Every(period time.Duration) Schedule {
	return everySchedule{period: period}
}

// ParseSchedule accepts either a Go duration ("60s", "5m") or a cron
// expression, including descriptors such as "@hourly" and "@every 1m".
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron: empty schedule")
	}
	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("cron: schedule period must be positive, got %s", d)
		}
		return Every(d), nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}
