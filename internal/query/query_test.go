package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/storage"
	"github.com/maremma-monitoring/maremma/internal/types"
)

func seeded(t *testing.T) (*storage.SQLiteStore, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(filepath.Join(t.TempDir(), "maremma.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	host := &types.Host{ID: uuid.New(), Name: "web1", Config: map[string]map[string]any{}, Tags: []string{}}
	require.NoError(t, store.CreateHost(ctx, host))
	service := &types.Service{ID: uuid.New(), Name: "disk-space", Type: types.ServiceTypeCLI, CronSchedule: "*/5 * * * *", ExtraConfig: map[string]any{}, Tags: []string{}}
	require.NoError(t, store.CreateService(ctx, service))
	_, err = store.MaterialiseServiceChecks(ctx, []storage.ServiceCheckPlan{{HostID: host.ID, ServiceID: service.ID, CronSchedule: service.CronSchedule}})
	require.NoError(t, err)

	checks, err := store.ListServiceChecks(ctx, storage.ServiceCheckFilter{})
	require.NoError(t, err)
	return store, checks[0].ID
}

func TestComputeCountersTallyByStatus(t *testing.T) {
	store, checkID := seeded(t)
	ctx := context.Background()
	require.NoError(t, store.RecordResult(ctx, checkID, storage.ServiceCheckResult{
		Status: string(status.Ok), ElapsedMillis: 120, NextCheck: time.Now().Add(time.Minute),
	}, 10))

	v := New(store)
	counters, err := v.ComputeCounters(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, counters.ByStatus[status.Ok])
	assert.Equal(t, int64(120), counters.LatencyP50Millis)
	assert.Equal(t, 0, counters.Overdue)
}

func TestComputeCountersCountsOverdue(t *testing.T) {
	store, checkID := seeded(t)
	ctx := context.Background()
	require.NoError(t, store.RecordResult(ctx, checkID, storage.ServiceCheckResult{
		Status: string(status.Ok), NextCheck: time.Now().Add(-time.Hour),
	}, 10))

	v := New(store)
	counters, err := v.ComputeCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Overdue)
}

func TestHistoryDefaultsLimit(t *testing.T) {
	store, checkID := seeded(t)
	v := New(store)
	history, err := v.History(context.Background(), checkID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}
