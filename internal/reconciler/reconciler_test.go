package reconciler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maremma-monitoring/maremma/internal/config"
	"github.com/maremma-monitoring/maremma/internal/storage"
	"github.com/maremma-monitoring/maremma/internal/types"
)

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maremma.sqlite")
	store, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDoc() *config.Document {
	return &config.Document{
		FrontendURL:               "https://maremma.example.com",
		OIDCIssuer:                "https://idp.example.com",
		OIDCClientID:              "maremma",
		CertFile:                  "cert.pem",
		CertKey:                   "key.pem",
		MaxHistoryEntriesPerCheck: 100,
		Hosts: map[string]config.HostConfig{
			"web1": {Hostname: "web1.example.com", Check: types.HostCheckNone, HostGroups: []string{"web"}},
		},
		Services: map[string]config.ServiceConfig{
			"disk-space": {ServiceType: types.ServiceTypeCLI, CronSchedule: "*/5 * * * *", HostGroups: []string{"web"}},
		},
	}
}

func TestReconcileCreatesHostsServicesAndChecks(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	r := New(store, testDoc(), zerolog.Nop())

	require.NoError(t, r.Reconcile(ctx))

	hosts, err := store.ListHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "web1", hosts[0].Name)

	services, err := store.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)

	checks, err := store.ListServiceChecks(ctx, storage.ServiceCheckFilter{})
	require.NoError(t, err)
	require.Len(t, checks, 1)
}

func TestReconcileIsIdempotentAcrossCycles(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	r := New(store, testDoc(), zerolog.Nop())

	require.NoError(t, r.Reconcile(ctx))
	require.NoError(t, r.Reconcile(ctx))

	checks, err := store.ListServiceChecks(ctx, storage.ServiceCheckFilter{})
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestReconcileRejectsUndeclaredHostGroup(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	doc := testDoc()
	doc.Services["disk-space"] = config.ServiceConfig{
		ServiceType:  types.ServiceTypeCLI,
		CronSchedule: "*/5 * * * *",
		HostGroups:   []string{"does-not-exist"},
	}
	r := New(store, doc, zerolog.Nop())

	err := r.Reconcile(ctx)
	assert.Error(t, err)
}

func TestReconcileMaterialisesLocalServicesAgainstSyntheticHost(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	doc := testDoc()
	doc.Services["agent-heartbeat"] = config.ServiceConfig{ServiceType: types.ServiceTypeCLI, CronSchedule: "*/1 * * * *"}
	doc.LocalServices = []string{"agent-heartbeat"}
	r := New(store, doc, zerolog.Nop())

	require.NoError(t, r.Reconcile(ctx))

	local, err := store.GetHostByName(ctx, localHostName)
	require.NoError(t, err)
	assert.Equal(t, types.HostCheckNone, local.Check)

	checks, err := store.ListServiceChecks(ctx, storage.ServiceCheckFilter{HostID: local.ID})
	require.NoError(t, err)
	require.Len(t, checks, 1)
}

func TestReconcileRejectsUndeclaredLocalService(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	doc := testDoc()
	doc.LocalServices = []string{"does-not-exist"}
	r := New(store, doc, zerolog.Nop())

	assert.Error(t, r.Reconcile(ctx))
}

func TestReconcileRemovesStaleServiceChecks(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	doc := testDoc()
	r := New(store, doc, zerolog.Nop())
	require.NoError(t, r.Reconcile(ctx))

	empty := testDoc()
	empty.Hosts = map[string]config.HostConfig{}
	empty.Services = map[string]config.ServiceConfig{}
	r.ReplaceDocument(empty)
	require.NoError(t, r.Reconcile(ctx))

	checks, err := store.ListServiceChecks(ctx, storage.ServiceCheckFilter{})
	require.NoError(t, err)
	assert.Empty(t, checks)

	hosts, err := store.ListHosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, hosts, "a host absent from config with no remaining service-checks is removed")

	services, err := store.ListServices(ctx)
	require.NoError(t, err)
	assert.Empty(t, services, "a service absent from config with no remaining service-checks is removed")
}

func TestReconcileRemovesDroppedHostAndKeepsDeclaredHost(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	doc := testDoc()
	doc.Hosts["web2"] = config.HostConfig{Hostname: "web2.example.com", Check: types.HostCheckNone, HostGroups: []string{"web"}}
	r := New(store, doc, zerolog.Nop())
	require.NoError(t, r.Reconcile(ctx))

	// Drop web2 from the config but keep the service and web1, so web2
	// loses its only service-check and becomes eligible for removal while
	// web1 keeps its check and must survive.
	trimmed := testDoc()
	r.ReplaceDocument(trimmed)
	require.NoError(t, r.Reconcile(ctx))

	hosts, err := store.ListHosts(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, h.Name)
	}
	assert.Contains(t, names, "web1")
	assert.NotContains(t, names, "web2")
}

func TestReconcilePersistsHostGroupMembership(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	r := New(store, testDoc(), zerolog.Nop())
	require.NoError(t, r.Reconcile(ctx))

	groups, err := store.ListHostGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "web", groups[0].Name)

	checks, err := store.ListServiceChecks(ctx, storage.ServiceCheckFilter{HostGroup: "web"})
	require.NoError(t, err)
	assert.Len(t, checks, 1, "the group_id filter must see rows once membership is persisted")
}

func TestReconcileRejectsCaseInsensitiveDuplicateHostKey(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	doc := testDoc()
	doc.Hosts["Web1"] = config.HostConfig{Hostname: "web1-dup.example.com"}
	r := New(store, doc, zerolog.Nop())

	assert.Error(t, r.Reconcile(ctx))
}

func TestReconcileWarnsButDoesNotFailOnHostGroupWithNoService(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	doc := testDoc()
	doc.Hosts["bastion"] = config.HostConfig{Hostname: "bastion.example.com", Check: types.HostCheckNone, HostGroups: []string{"lonely"}}
	r := New(store, doc, zerolog.Nop())

	assert.NoError(t, r.Reconcile(ctx))
}
