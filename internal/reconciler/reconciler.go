// Package reconciler diffs the declarative configuration document against
// the persisted inventory and brings the database in line with it. Its
// shape — a struct holding a mutex and a ticker-driven run loop, with
// reconcile() also callable directly for an immediate reload — is lifted
// from the teacher's pkg/reconciler.Reconciler; the work it does (config to
// service-check diffing instead of node/container health) is new.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maremma-monitoring/maremma/internal/config"
	"github.com/maremma-monitoring/maremma/internal/cron"
	"github.com/maremma-monitoring/maremma/internal/metrics"
	"github.com/maremma-monitoring/maremma/internal/storage"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// Interval is how often the reconciler re-derives its plan from the
// in-memory config document, matching the teacher's 10-second tick.
const Interval = 10 * time.Second

// localHostName is the synthetic host that local_services (spec.md §6) is
// materialised against: the machine maremmad itself runs on. It never
// appears in doc.Hosts and carries HostCheckNone, since there is no
// meaningful reachability probe for the daemon's own process to run
// against itself.
const localHostName = "__local__"

// Reconciler periodically (or on demand) reconciles the configuration
// document against internal/storage's inventory.
type Reconciler struct {
	store  storage.Store
	logger zerolog.Logger

	mu     sync.Mutex
	doc    *config.Document
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Reconciler that reconciles against doc until ReplaceDocument
// is called with a new one (e.g. after a SIGHUP reload).
func New(store storage.Store, doc *config.Document, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		doc:    doc,
		logger: logger.With().Str("component", "reconciler").Logger(),
		stopCh: make(chan struct{}),
	}
}

// ReplaceDocument swaps in a newly loaded configuration document, to be
// picked up by the next reconciliation cycle.
func (r *Reconciler) ReplaceDocument(doc *config.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = doc
}

// Start runs the reconciler's ticker loop in a background goroutine.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop signals the run loop to exit and waits for it to do so.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile runs one reconciliation cycle: validate, canonicalise, diff,
// apply. It never runs concurrently with itself — r.mu serializes callers
// exactly as the teacher's Reconciler.mu does.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
	defer metrics.ReconciliationCyclesTotal.Inc()

	doc := r.doc
	if doc == nil {
		return nil
	}

	if err := r.validate(doc); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	hostIDs, serviceIDs, err := r.canonicalise(ctx, doc)
	if err != nil {
		return fmt.Errorf("canonicalising identities: %w", err)
	}

	if err := r.applyHostGroups(ctx, doc, hostIDs, serviceIDs); err != nil {
		return fmt.Errorf("persisting host groups: %w", err)
	}

	plan, err := r.buildPlan(doc, hostIDs, serviceIDs)
	if err != nil {
		return fmt.Errorf("building service-check plan: %w", err)
	}

	diff, err := r.store.MaterialiseServiceChecks(ctx, plan)
	if err != nil {
		return fmt.Errorf("materialising service checks: %w", err)
	}

	pruned, err := r.pruneStale(ctx, hostIDs, serviceIDs)
	if err != nil {
		return fmt.Errorf("pruning stale inventory: %w", err)
	}

	r.logger.Info().
		Int("created", diff.Created).
		Int("deleted", diff.Deleted).
		Int("hosts", len(hostIDs)).
		Int("services", len(serviceIDs)).
		Int("hosts_removed", pruned.hosts).
		Int("services_removed", pruned.services).
		Msg("reconciliation cycle complete")

	return nil
}

// validate checks every cron schedule is parseable and every host_groups
// reference resolves to a declared group. It rejects hard errors; a host
// belonging to a group with no matching service is a no-op, not a failure —
// it only logs a warning.
func (r *Reconciler) validate(doc *config.Document) error {
	if err := rejectDuplicateKeys(doc); err != nil {
		return err
	}

	hostGroups := make(map[string]struct{})
	for _, h := range doc.Hosts {
		for _, g := range h.HostGroups {
			hostGroups[g] = struct{}{}
		}
	}
	serviceGroups := make(map[string]struct{})

	for name, svc := range doc.Services {
		if err := cron.Validate(svc.CronSchedule); err != nil {
			return fmt.Errorf("service %q: %w", name, err)
		}
		for _, g := range svc.HostGroups {
			if _, ok := hostGroups[g]; !ok {
				return fmt.Errorf("service %q references undeclared host group %q", name, g)
			}
			serviceGroups[g] = struct{}{}
		}
	}

	for name, h := range doc.Hosts {
		for _, g := range h.HostGroups {
			if _, ok := serviceGroups[g]; !ok {
				r.logger.Warn().Str("host", name).Str("host_group", g).
					Msg("host belongs to a group no service targets")
			}
		}
	}

	for _, name := range doc.LocalServices {
		if _, ok := doc.Services[name]; !ok {
			return fmt.Errorf("local_services references undeclared service %q", name)
		}
	}
	return nil
}

// rejectDuplicateKeys rejects host or service names that differ only by
// case. doc.Hosts and doc.Services are Go maps, so a literal duplicate JSON
// key is already impossible by the time the document is decoded — but two
// differently-cased spellings of the same name decode to two distinct map
// entries while meaning the same inventory row, which is the duplicate-key
// mistake worth catching here.
func rejectDuplicateKeys(doc *config.Document) error {
	if dup, ok := duplicateKey(hostNames(doc.Hosts)); ok {
		return fmt.Errorf("duplicate host key %q", dup)
	}
	if dup, ok := duplicateKey(serviceNames(doc.Services)); ok {
		return fmt.Errorf("duplicate service key %q", dup)
	}
	return nil
}

func hostNames(hosts map[string]config.HostConfig) []string {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	return names
}

func serviceNames(services map[string]config.ServiceConfig) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	return names
}

// duplicateKey reports the first name it finds whose case-folded form
// collides with an earlier one.
func duplicateKey(names []string) (string, bool) {
	seen := make(map[string]string, len(names))
	for _, name := range names {
		fold := strings.ToLower(name)
		if _, ok := seen[fold]; ok {
			return name, true
		}
		seen[fold] = name
	}
	return "", false
}

// canonicalise ensures every named host and service in doc has a stable
// UUID, reusing the persisted one when the name already exists and minting
// a fresh one via google/uuid otherwise.
func (r *Reconciler) canonicalise(ctx context.Context, doc *config.Document) (hostIDs, serviceIDs map[string]uuid.UUID, err error) {
	hostIDs = make(map[string]uuid.UUID, len(doc.Hosts)+1)
	if len(doc.LocalServices) > 0 {
		id, err := r.ensureLocalHost(ctx)
		if err != nil {
			return nil, nil, err
		}
		hostIDs[localHostName] = id
	}

	for name, hc := range doc.Hosts {
		existing, lookupErr := r.store.GetHostByName(ctx, name)
		switch {
		case lookupErr == nil:
			hostIDs[name] = existing.ID
			existing.Hostname = hc.Hostname
			existing.Check = hc.Check
			existing.Config = hc.Config
			existing.Tags = hc.Tags
			if updErr := r.store.UpdateHost(ctx, existing); updErr != nil {
				return nil, nil, fmt.Errorf("updating host %q: %w", name, updErr)
			}
		default:
			id := uuid.New()
			hostIDs[name] = id
			host := &types.Host{
				ID:       id,
				Name:     name,
				Hostname: hc.Hostname,
				Check:    hc.Check,
				Config:   hc.Config,
				Tags:     hc.Tags,
			}
			if createErr := r.store.CreateHost(ctx, host); createErr != nil {
				return nil, nil, fmt.Errorf("creating host %q: %w", name, createErr)
			}
		}
	}

	serviceIDs = make(map[string]uuid.UUID, len(doc.Services))
	for name, sc := range doc.Services {
		existing, lookupErr := r.store.GetServiceByName(ctx, name)
		switch {
		case lookupErr == nil:
			serviceIDs[name] = existing.ID
			existing.Description = sc.Description
			existing.CronSchedule = sc.CronSchedule
			existing.Tags = sc.Tags
			existing.ExtraConfig = sc.Extra
			if updErr := r.store.UpdateService(ctx, existing); updErr != nil {
				return nil, nil, fmt.Errorf("updating service %q: %w", name, updErr)
			}
		default:
			id := uuid.New()
			serviceIDs[name] = id
			service := &types.Service{
				ID:           id,
				Name:         name,
				Description:  sc.Description,
				Type:         sc.ServiceType,
				CronSchedule: sc.CronSchedule,
				Tags:         sc.Tags,
				ExtraConfig:  sc.Extra,
			}
			if createErr := r.store.CreateService(ctx, service); createErr != nil {
				return nil, nil, fmt.Errorf("creating service %q: %w", name, createErr)
			}
		}
	}

	return hostIDs, serviceIDs, nil
}

// ensureLocalHost returns the synthetic local host's ID, creating it on
// first use and reusing it (like any other canonicalised host) afterward.
func (r *Reconciler) ensureLocalHost(ctx context.Context) (uuid.UUID, error) {
	existing, err := r.store.GetHostByName(ctx, localHostName)
	if err == nil {
		return existing.ID, nil
	}

	host := &types.Host{
		ID:       uuid.New(),
		Name:     localHostName,
		Hostname: "localhost",
		Check:    types.HostCheckNone,
	}
	if err := r.store.CreateHost(ctx, host); err != nil {
		return uuid.UUID{}, fmt.Errorf("creating synthetic local host: %w", err)
	}
	return host.ID, nil
}

// buildPlan expands each service's host_groups membership into the
// concrete (host, service) tuples that should have a materialised
// service-check, fanning a service out to every host that is a member of
// any of its host_groups.
func (r *Reconciler) buildPlan(doc *config.Document, hostIDs, serviceIDs map[string]uuid.UUID) ([]storage.ServiceCheckPlan, error) {
	groupMembers := make(map[string][]string) // group name -> host names
	for hostName, hc := range doc.Hosts {
		for _, g := range hc.HostGroups {
			groupMembers[g] = append(groupMembers[g], hostName)
		}
	}

	localSet := make(map[string]struct{}, len(doc.LocalServices))
	for _, name := range doc.LocalServices {
		localSet[name] = struct{}{}
	}

	var plan []storage.ServiceCheckPlan
	for svcName, sc := range doc.Services {
		hostsSeen := make(map[string]struct{})
		for _, group := range sc.HostGroups {
			for _, hostName := range groupMembers[group] {
				if _, dup := hostsSeen[hostName]; dup {
					continue
				}
				hostsSeen[hostName] = struct{}{}
				plan = append(plan, storage.ServiceCheckPlan{
					HostID:       hostIDs[hostName],
					ServiceID:    serviceIDs[svcName],
					CronSchedule: sc.CronSchedule,
				})
			}
		}

		if _, wantsLocal := localSet[svcName]; wantsLocal {
			if _, dup := hostsSeen[localHostName]; !dup {
				plan = append(plan, storage.ServiceCheckPlan{
					HostID:       hostIDs[localHostName],
					ServiceID:    serviceIDs[svcName],
					CronSchedule: sc.CronSchedule,
				})
			}
		}
	}
	return plan, nil
}

// applyHostGroups persists every host_groups name doc references, plus each
// host's and service's membership in them, so the Query Views' group_id
// filter (spec.md §4.6, internal/storage.ServiceCheckFilter.HostGroup) has
// rows to join against instead of empty host_group_members/
// service_host_groups tables.
func (r *Reconciler) applyHostGroups(ctx context.Context, doc *config.Document, hostIDs, serviceIDs map[string]uuid.UUID) error {
	groupIDs, err := r.ensureHostGroups(ctx, doc)
	if err != nil {
		return err
	}

	for hostName, hc := range doc.Hosts {
		ids := make([]uuid.UUID, 0, len(hc.HostGroups))
		for _, g := range hc.HostGroups {
			ids = append(ids, groupIDs[g])
		}
		if err := r.store.SetHostGroupMembers(ctx, hostIDs[hostName], ids); err != nil {
			return fmt.Errorf("setting host group membership for %q: %w", hostName, err)
		}
	}

	for svcName, sc := range doc.Services {
		ids := make([]uuid.UUID, 0, len(sc.HostGroups))
		for _, g := range sc.HostGroups {
			ids = append(ids, groupIDs[g])
		}
		if err := r.store.SetServiceHostGroups(ctx, serviceIDs[svcName], ids); err != nil {
			return fmt.Errorf("setting host groups for service %q: %w", svcName, err)
		}
	}
	return nil
}

// ensureHostGroups returns every host_groups name doc references (on either
// a host or a service) mapped to a stable UUID, reusing the persisted one by
// name and minting a fresh one for names not seen before.
func (r *Reconciler) ensureHostGroups(ctx context.Context, doc *config.Document) (map[string]uuid.UUID, error) {
	names := make(map[string]struct{})
	for _, hc := range doc.Hosts {
		for _, g := range hc.HostGroups {
			names[g] = struct{}{}
		}
	}
	for _, sc := range doc.Services {
		for _, g := range sc.HostGroups {
			names[g] = struct{}{}
		}
	}

	ids := make(map[string]uuid.UUID, len(names))
	for name := range names {
		existing, err := r.store.GetHostGroupByName(ctx, name)
		if err == nil {
			ids[name] = existing.ID
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("looking up host group %q: %w", name, err)
		}
		id := uuid.New()
		if err := r.store.CreateHostGroup(ctx, &types.HostGroup{ID: id, Name: name}); err != nil {
			return nil, fmt.Errorf("creating host group %q: %w", name, err)
		}
		ids[name] = id
	}
	return ids, nil
}

// pruneResult reports how many stale hosts/services pruneStale removed.
type pruneResult struct {
	hosts    int
	services int
}

// pruneStale implements spec.md §4.4 step 4: a host or service absent from
// the reloaded config is removed, but only once it has no remaining
// service-checks — which, thanks to service_checks' ON DELETE CASCADE onto
// service_check_history, is also the schema's guarantee that no history row
// still references it. A host or service that still has a materialised
// service-check (because some other, still-declared entity pins it) is left
// in place until a later cycle drains it.
func (r *Reconciler) pruneStale(ctx context.Context, hostIDs, serviceIDs map[string]uuid.UUID) (pruneResult, error) {
	var result pruneResult

	declaredHosts := make(map[uuid.UUID]struct{}, len(hostIDs))
	for _, id := range hostIDs {
		declaredHosts[id] = struct{}{}
	}
	hosts, err := r.store.ListHosts(ctx)
	if err != nil {
		return pruneResult{}, fmt.Errorf("listing hosts: %w", err)
	}
	for _, h := range hosts {
		if _, declared := declaredHosts[h.ID]; declared {
			continue
		}
		checks, err := r.store.ListServiceChecks(ctx, storage.ServiceCheckFilter{HostID: h.ID, Limit: 1})
		if err != nil {
			return pruneResult{}, fmt.Errorf("checking service-checks for host %q: %w", h.Name, err)
		}
		if len(checks) > 0 {
			continue
		}
		if err := r.store.DeleteHost(ctx, h.ID); err != nil {
			return pruneResult{}, fmt.Errorf("removing host %q: %w", h.Name, err)
		}
		result.hosts++
		r.logger.Info().Str("host", h.Name).Msg("removed host absent from configuration")
	}

	declaredServices := make(map[uuid.UUID]struct{}, len(serviceIDs))
	for _, id := range serviceIDs {
		declaredServices[id] = struct{}{}
	}
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return pruneResult{}, fmt.Errorf("listing services: %w", err)
	}
	for _, svc := range services {
		if _, declared := declaredServices[svc.ID]; declared {
			continue
		}
		checks, err := r.store.ListServiceChecks(ctx, storage.ServiceCheckFilter{ServiceID: svc.ID, Limit: 1})
		if err != nil {
			return pruneResult{}, fmt.Errorf("checking service-checks for service %q: %w", svc.Name, err)
		}
		if len(checks) > 0 {
			continue
		}
		if err := r.store.DeleteService(ctx, svc.ID); err != nil {
			return pruneResult{}, fmt.Errorf("removing service %q: %w", svc.Name, err)
		}
		result.services++
		r.logger.Info().Str("service", svc.Name).Msg("removed service absent from configuration")
	}

	return result, nil
}
