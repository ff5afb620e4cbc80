package scheduler

import (
	"time"

	"github.com/maremma-monitoring/maremma/internal/cron"
)

// cronNextFunc is a seam so tests can substitute a deterministic clock;
// production code always calls internal/cron.Next.
var cronNextFunc = cron.Next

// cronIntervalFunc estimates a cron schedule's steady-state interval by
// measuring the gap between its next two activations from now. It is a
// seam for tests; production code always calls cronInterval.
var cronIntervalFunc = cronInterval

// cronInterval returns the gap between a cron schedule's next two
// activations from now, or 0 if the schedule can't be parsed.
func cronInterval(expr string) time.Duration {
	return cron.Interval(expr, time.Now())
}
