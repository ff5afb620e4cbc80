// Package cron wraps github.com/robfig/cron/v3's expression parser with the
// macro and seconds-field support maremma's service schedules need, and
// exposes the monotonicity guarantee the scheduler relies on: Next never
// returns a time at or before the instant it was asked to advance from.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard 5-field form, a 6-field form with a leading
// seconds column, and the "@every"/"@hourly"-style macros. Descriptors are
// handled by this parser's cron.Descriptor option, but we also recognise
// maremma's own @minutely macro, which the upstream package does not
// define.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// expandMacro rewrites maremma-specific shorthand that robfig/cron doesn't
// already understand into an equivalent 6-field expression.
func expandMacro(expr string) string {
	switch strings.TrimSpace(expr) {
	case "@minutely":
		return "0 * * * * *"
	default:
		return expr
	}
}

// Validate reports whether expr is a well-formed cron expression, in any of
// the forms Next accepts.
func Validate(expr string) error {
	_, err := parser.Parse(expandMacro(expr))
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the first activation of expr strictly after after. Because
// robfig/cron's Schedule.Next is already defined as "first time strictly
// after t", this is just a thin, validated pass-through — but it is the
// property the scheduler's forward-progress guarantee is built on, so it is
// named and tested here rather than inlined at every call site.
func Next(expr string, after time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expandMacro(expr))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	next := schedule.Next(after)
	if !next.After(after) {
		return time.Time{}, fmt.Errorf("cron expression %q produced non-increasing next check", expr)
	}
	return next, nil
}

// Interval estimates expr's steady-state firing interval by measuring the
// gap between its next two activations after at. It returns 0 if expr
// can't be parsed, which callers treat as "interval unknown" rather than a
// zero-length period.
func Interval(expr string, at time.Time) time.Duration {
	first, err := Next(expr, at)
	if err != nil {
		return 0
	}
	second, err := Next(expr, first)
	if err != nil {
		return 0
	}
	return second.Sub(first)
}
