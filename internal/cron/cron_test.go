package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsStandardForms(t *testing.T) {
	for _, expr := range []string{
		"*/5 * * * *",
		"0 */6 * * * *",
		"@hourly",
		"@daily",
		"@minutely",
	} {
		assert.NoError(t, Validate(expr), expr)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	assert.Error(t, Validate("not a cron expression"))
	assert.Error(t, Validate(""))
}

func TestNextIsStrictlyIncreasing(t *testing.T) {
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	cur := base
	for i := 0; i < 50; i++ {
		next, err := Next("*/5 * * * *", cur)
		require.NoError(t, err)
		assert.True(t, next.After(cur), "iteration %d: %s did not advance past %s", i, next, cur)
		cur = next
	}
}

func TestNextHandlesMinutelyMacro(t *testing.T) {
	base := time.Date(2026, 7, 30, 12, 0, 30, 0, time.UTC)
	next, err := Next("@minutely", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 30, 12, 1, 0, 0, time.UTC), next)
}
