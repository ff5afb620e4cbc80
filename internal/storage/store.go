// Package storage persists maremma's inventory and check state. The
// interface below is segregated by entity the way the teacher's
// pkg/storage.Store is; Store's one implementation is a SQLite database
// (internal/storage/sqlite.go) rather than the teacher's BoltDB, because the
// reconciler and scheduler need transactional multi-row writes and indexed
// range scans ("everything due by now") that a bucket-of-blobs store can't
// give without hand-rolled secondary indices.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/maremma-monitoring/maremma/internal/types"
)

// Store is the full persistence surface maremma's core depends on.
type Store interface {
	// Hosts
	CreateHost(ctx context.Context, host *types.Host) error
	GetHost(ctx context.Context, id uuid.UUID) (*types.Host, error)
	GetHostByName(ctx context.Context, name string) (*types.Host, error)
	ListHosts(ctx context.Context) ([]*types.Host, error)
	UpdateHost(ctx context.Context, host *types.Host) error
	DeleteHost(ctx context.Context, id uuid.UUID) error

	// Host groups
	CreateHostGroup(ctx context.Context, group *types.HostGroup) error
	GetHostGroupByName(ctx context.Context, name string) (*types.HostGroup, error)
	ListHostGroups(ctx context.Context) ([]*types.HostGroup, error)
	SetHostGroupMembers(ctx context.Context, hostID uuid.UUID, groupIDs []uuid.UUID) error

	// Services
	CreateService(ctx context.Context, service *types.Service) error
	GetService(ctx context.Context, id uuid.UUID) (*types.Service, error)
	GetServiceByName(ctx context.Context, name string) (*types.Service, error)
	ListServices(ctx context.Context) ([]*types.Service, error)
	UpdateService(ctx context.Context, service *types.Service) error
	DeleteService(ctx context.Context, id uuid.UUID) error
	SetServiceHostGroups(ctx context.Context, serviceID uuid.UUID, groupIDs []uuid.UUID) error

	// Service checks: the materialised (host, service) units the scheduler
	// and reconciler both operate on.
	GetServiceCheck(ctx context.Context, id uuid.UUID) (*types.ServiceCheck, error)
	ListServiceChecks(ctx context.Context, filter ServiceCheckFilter) ([]*types.ServiceCheck, error)
	ListServiceCheckHistory(ctx context.Context, serviceCheckID uuid.UUID, limit int) ([]*types.ServiceCheckHistory, error)

	// MaterialiseServiceChecks reconciles the set of service-checks that
	// should exist against plan, inserting new ones, deleting ones whose
	// (host, service) pair no longer applies, and leaving the rest (and
	// their schedule/history) untouched. It runs in one transaction.
	MaterialiseServiceChecks(ctx context.Context, plan []ServiceCheckPlan) (ServiceCheckDiff, error)

	// NextDue returns up to limit service-checks whose next_check is at or
	// before asOf, ordered oldest-due first.
	NextDue(ctx context.Context, asOf time.Time, limit int) ([]*types.ServiceCheck, error)

	// RecordResult persists the outcome of one probe execution: it appends a
	// history row (trimmed to maxHistory in the same transaction) and
	// advances the service-check's status/next_check/consecutive_errors.
	RecordResult(ctx context.Context, serviceCheckID uuid.UUID, result ServiceCheckResult, maxHistory int) error

	// Expedite moves a service-check's next_check to now, for on-demand
	// "check now" requests. It does not touch history or status.
	Expedite(ctx context.Context, serviceCheckID uuid.UUID) error

	// Users and sessions (shared with the out-of-scope web front-end; the
	// core never mutates them beyond what an OIDC login flow requires).
	GetOrCreateUser(ctx context.Context, email, subject string) (*types.User, error)
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	DeleteExpiredSessions(ctx context.Context, asOf time.Time) error

	Close() error
}

// ServiceCheckFilter narrows ListServiceChecks; zero values mean "no
// filter" for that dimension. Limit follows a three-way convention: 0 uses
// ListServiceChecks's default page size, a positive value is an explicit
// page size, and a negative value means "no limit" (for internal callers,
// such as aggregate counters, that need every matching row rather than one
// page of them).
type ServiceCheckFilter struct {
	HostID    uuid.UUID
	ServiceID uuid.UUID
	HostGroup string
	Status    string
	Limit     int
	Offset    int
}

// ServiceCheckPlan is one (host, service) pairing the reconciler has
// determined should have a materialised service-check.
type ServiceCheckPlan struct {
	HostID       uuid.UUID
	ServiceID    uuid.UUID
	CronSchedule string
}

// ServiceCheckDiff reports what MaterialiseServiceChecks changed.
type ServiceCheckDiff struct {
	Created int
	Deleted int
}

// ServiceCheckResult is the input to RecordResult.
type ServiceCheckResult struct {
	Status        string
	ElapsedMillis int64
	ResultText    string
	NextCheck     time.Time
	// ConsecutiveErrors is the caller's pre-computed new value (the
	// scheduler owns the back-off curve; storage only persists it).
	ConsecutiveErrors int
}
