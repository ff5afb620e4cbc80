package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maremma-monitoring/maremma/internal/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maremma.sqlite")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedHostAndService(t *testing.T, ctx context.Context, store *SQLiteStore) (*types.Host, *types.Service) {
	t.Helper()
	host := &types.Host{ID: uuid.New(), Name: "web1", Hostname: "web1.example.com", Check: types.HostCheckNone, Config: map[string]map[string]any{}, Tags: []string{}}
	require.NoError(t, store.CreateHost(ctx, host))

	service := &types.Service{ID: uuid.New(), Name: "disk-space", Type: types.ServiceTypeCLI, CronSchedule: "*/5 * * * *", ExtraConfig: map[string]any{}, Tags: []string{}}
	require.NoError(t, store.CreateService(ctx, service))
	return host, service
}

func TestCreateAndGetHost(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	host, _ := seedHostAndService(t, ctx, store)

	got, err := store.GetHost(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, host.Name, got.Name)
	assert.Equal(t, host.Hostname, got.Hostname)

	_, err = store.GetHostByName(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMaterialiseServiceChecksCreatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	host, service := seedHostAndService(t, ctx, store)

	diff, err := store.MaterialiseServiceChecks(ctx, []ServiceCheckPlan{
		{HostID: host.ID, ServiceID: service.ID, CronSchedule: service.CronSchedule},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, diff.Created)

	checks, err := store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.True(t, checks[0].NextCheck.After(time.Now().Add(-time.Minute)))

	diff, err = store.MaterialiseServiceChecks(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, diff.Deleted)

	checks, err = store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	assert.Empty(t, checks)
}

func TestMaterialiseServiceChecksIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	host, service := seedHostAndService(t, ctx, store)
	plan := []ServiceCheckPlan{{HostID: host.ID, ServiceID: service.ID, CronSchedule: service.CronSchedule}}

	_, err := store.MaterialiseServiceChecks(ctx, plan)
	require.NoError(t, err)
	first, err := store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	diff, err := store.MaterialiseServiceChecks(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 0, diff.Created)
	assert.Equal(t, 0, diff.Deleted)

	second, err := store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestRecordResultTrimsHistory(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	host, service := seedHostAndService(t, ctx, store)
	_, err := store.MaterialiseServiceChecks(ctx, []ServiceCheckPlan{
		{HostID: host.ID, ServiceID: service.ID, CronSchedule: service.CronSchedule},
	})
	require.NoError(t, err)
	checks, err := store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	id := checks[0].ID

	for i := 0; i < 5; i++ {
		err := store.RecordResult(ctx, id, ServiceCheckResult{
			Status:        "ok",
			ElapsedMillis: int64(i),
			ResultText:    "fine",
			NextCheck:     time.Now().Add(time.Minute),
		}, 3)
		require.NoError(t, err)
	}

	history, err := store.ListServiceCheckHistory(ctx, id, 100)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	updated, err := store.GetServiceCheck(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ok", updated.Status)
}

func TestNextDueOrdersNeverCheckedBeforeChecked(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	host, service := seedHostAndService(t, ctx, store)
	other := &types.Service{ID: uuid.New(), Name: "other", Type: types.ServiceTypeCLI, CronSchedule: "*/5 * * * *", ExtraConfig: map[string]any{}, Tags: []string{}}
	require.NoError(t, store.CreateService(ctx, other))

	_, err := store.MaterialiseServiceChecks(ctx, []ServiceCheckPlan{
		{HostID: host.ID, ServiceID: service.ID, CronSchedule: service.CronSchedule},
		{HostID: host.ID, ServiceID: other.ID, CronSchedule: other.CronSchedule},
	})
	require.NoError(t, err)

	checks, err := store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	require.Len(t, checks, 2)

	// Both checks share a cron schedule, so both were materialised with the
	// same next_check; using it as asOf makes both due with tied next_check.
	asOf := checks[0].NextCheck

	// Give one check a recorded last_check (non-null), leaving the other's
	// last_check NULL, then confirm the never-checked one sorts first.
	require.NoError(t, store.RecordResult(ctx, checks[0].ID, ServiceCheckResult{
		Status: "ok", NextCheck: asOf,
	}, 10))

	due, err := store.NextDue(ctx, asOf, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, checks[1].ID, due[0].ID, "the never-checked row (NULL last_check) sorts before a recorded one")
	assert.Equal(t, checks[0].ID, due[1].ID)
}

func TestListServiceChecksOrdersWorstStatusFirstAndAppliesDefaultLimit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	host, service := seedHostAndService(t, ctx, store)
	critical := &types.Service{ID: uuid.New(), Name: "critical-svc", Type: types.ServiceTypeCLI, CronSchedule: "*/5 * * * *", ExtraConfig: map[string]any{}, Tags: []string{}}
	require.NoError(t, store.CreateService(ctx, critical))

	_, err := store.MaterialiseServiceChecks(ctx, []ServiceCheckPlan{
		{HostID: host.ID, ServiceID: service.ID, CronSchedule: service.CronSchedule},
		{HostID: host.ID, ServiceID: critical.ID, CronSchedule: critical.CronSchedule},
	})
	require.NoError(t, err)

	checks, err := store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	require.Len(t, checks, 2)
	var criticalCheckID uuid.UUID
	for _, c := range checks {
		if c.ServiceID == critical.ID {
			criticalCheckID = c.ID
		}
	}
	require.NoError(t, store.RecordResult(ctx, criticalCheckID, ServiceCheckResult{
		Status: "critical", NextCheck: time.Now().Add(time.Minute),
	}, 10))

	ordered, err := store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, criticalCheckID, ordered[0].ID, "a critical check sorts ahead of an ok check")

	limited, err := store.ListServiceChecks(ctx, ServiceCheckFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, criticalCheckID, limited[0].ID)
}

func TestExpediteMovesNextCheckToNow(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	host, service := seedHostAndService(t, ctx, store)
	_, err := store.MaterialiseServiceChecks(ctx, []ServiceCheckPlan{
		{HostID: host.ID, ServiceID: service.ID, CronSchedule: service.CronSchedule},
	})
	require.NoError(t, err)
	checks, err := store.ListServiceChecks(ctx, ServiceCheckFilter{})
	require.NoError(t, err)
	id := checks[0].ID

	before := time.Now()
	require.NoError(t, store.Expedite(ctx, id))

	updated, err := store.GetServiceCheck(ctx, id)
	require.NoError(t, err)
	assert.WithinDuration(t, before, updated.NextCheck, 5*time.Second)
}
