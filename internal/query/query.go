// Package query is maremma's read-only view layer: paginated service-check
// listings and on-demand counters, computed straight from internal/storage
// with plain SQL rather than a separate cache or read model, per spec. Its
// counters aggregation mirrors the teacher's pkg/api.HealthServer.readyHandler,
// which folds several independent checks into one response struct — here
// generalized to fold every service-check's status into one summary.
package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/maremma-monitoring/maremma/internal/cron"
	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/storage"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// Views is the read-only query surface for the out-of-scope HTTP front-end.
// Nothing in this repository feeds its Counters into internal/metrics'
// gauges.
type Views struct {
	store storage.Store
}

// New returns a Views backed by store.
func New(store storage.Store) *Views {
	return &Views{store: store}
}

// ListServiceChecks returns one page of service-checks matching filter.
func (v *Views) ListServiceChecks(ctx context.Context, filter storage.ServiceCheckFilter) ([]*types.ServiceCheck, error) {
	checks, err := v.store.ListServiceChecks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing service checks: %w", err)
	}
	return checks, nil
}

// History returns the most recent history entries for one service-check,
// most recent first.
func (v *Views) History(ctx context.Context, serviceCheckID uuid.UUID, limit int) ([]*types.ServiceCheckHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	history, err := v.store.ListServiceCheckHistory(ctx, serviceCheckID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history for %s: %w", serviceCheckID, err)
	}
	return history, nil
}

// Counters summarizes the current state of every service-check.
type Counters struct {
	ByStatus map[status.Status]int
	Overdue  int
	// LatencyP50Millis and LatencyP95Millis are computed from each
	// service-check's last recorded elapsed time, not a full history scan.
	LatencyP50Millis int64
	LatencyP95Millis int64
}

// ComputeCounters aggregates every service-check's current status and last
// elapsed time into a Counters snapshot.
func (v *Views) ComputeCounters(ctx context.Context) (Counters, error) {
	checks, err := v.store.ListServiceChecks(ctx, storage.ServiceCheckFilter{Limit: -1})
	if err != nil {
		return Counters{}, fmt.Errorf("listing service checks: %w", err)
	}
	services, err := v.store.ListServices(ctx)
	if err != nil {
		return Counters{}, fmt.Errorf("listing services: %w", err)
	}
	cronByService := make(map[uuid.UUID]string, len(services))
	for _, svc := range services {
		cronByService[svc.ID] = svc.CronSchedule
	}

	counters := Counters{ByStatus: make(map[status.Status]int)}
	now := time.Now()
	latencies := make([]int64, 0, len(checks))

	for _, c := range checks {
		counters.ByStatus[status.Status(c.Status)]++
		if isOverdue(c, cronByService[c.ServiceID], now) {
			counters.Overdue++
		}
		if c.LastElapsedMillis > 0 {
			latencies = append(latencies, c.LastElapsedMillis)
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	counters.LatencyP50Millis = percentile(latencies, 0.50)
	counters.LatencyP95Millis = percentile(latencies, 0.95)

	return counters, nil
}

// isOverdue applies spec.md §4.6's overdue definition: more than twice the
// service's cron interval has elapsed since next_check, not merely "past
// due", so a check a few milliseconds late doesn't flap the counter. When
// cronSchedule can't be resolved to an interval, it falls back to a plain
// past-due check rather than never counting the check as overdue.
func isOverdue(c *types.ServiceCheck, cronSchedule string, now time.Time) bool {
	interval := cron.Interval(cronSchedule, now)
	if interval <= 0 {
		return c.NextCheck.Before(now)
	}
	return now.Sub(c.NextCheck) > 2*interval
}

// percentile returns the p-th percentile (0..1) of a sorted slice, 0 if
// empty. It uses nearest-rank, the same simple approach spec.md's counters
// section calls for — no streaming quantile library is warranted for a
// dataset bounded by the number of configured service-checks.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
