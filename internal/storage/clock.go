package storage

import (
	"time"

	"github.com/maremma-monitoring/maremma/internal/cron"
)

// nowFunc is a seam for tests; production code never overrides it.
var nowFunc = time.Now

// cronNext computes the first due time for a freshly materialised service
// check, i.e. the first activation strictly after now.
func cronNext(expr string, now time.Time) (time.Time, error) {
	return cron.Next(expr, now)
}
