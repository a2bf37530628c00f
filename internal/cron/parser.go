// Package cron wraps the robfig cron expression parser with the
// five-field syntax the digest scheduler expects.
package cron

import (
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"
)

var parser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow,
)

// Schedule yields successive activation times for a cron expression.
type Schedule struct {
	inner robfig.Schedule
	loc   *time.Location
}

// Parse validates a five-field cron expression and returns its schedule
// evaluated in the given timezone. An empty timezone means UTC.
func Parse(expr, timezone string) (*Schedule, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Schedule{inner: sched, loc: loc}, nil
}

// Next returns the first activation time after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.inner.Next(t.In(s.loc))
}

// Location returns the timezone the schedule is evaluated in.
func (s *Schedule) Location() *time.Location {
	return s.loc
}
