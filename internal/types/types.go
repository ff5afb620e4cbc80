// Package types holds the value types shared by maremma's storage,
// reconciler, scheduler, and query layers: the inventory (Host, HostGroup,
// Service, ServiceCheck, ServiceCheckHistory) plus User and Session. The
// declarative configuration document's types live in internal/config.
package types

import (
	"time"

	"github.com/google/uuid"
)

// ServiceType is the closed set of probe kinds.
type ServiceType string

const (
	ServiceTypeCLI        ServiceType = "cli"
	ServiceTypeSSH        ServiceType = "ssh"
	ServiceTypePing       ServiceType = "ping"
	ServiceTypeHTTP       ServiceType = "http"
	ServiceTypeTLS        ServiceType = "tls"
	ServiceTypeKubernetes ServiceType = "kubernetes"
)

// HostCheckKind decides whether, and how, a host itself is probed for
// reachability before its services run.
type HostCheckKind string

const (
	HostCheckNone       HostCheckKind = "none"
	HostCheckPing       HostCheckKind = "ping"
	HostCheckSSH        HostCheckKind = "ssh"
	HostCheckKubernetes HostCheckKind = "kubernetes"
)

// Host is an addressable target that groups service-checks.
type Host struct {
	ID        uuid.UUID
	Name      string // the configuration map key; stable human identity
	Hostname  string // optional: empty for synthetic/"local" hosts
	Check     HostCheckKind
	Config    map[string]map[string]any // per-service overrides, keyed by service name
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HostGroup is a named bag that hosts join and services fan out against.
type HostGroup struct {
	ID   uuid.UUID
	Name string
}

// Service is an immutable-identity declaration of what to probe, on what
// schedule, with what parameters.
type Service struct {
	ID            uuid.UUID
	Name          string
	Description   string
	Type          ServiceType
	CronSchedule  string
	ExtraConfig   map[string]any
	Tags          []string
	TimeoutSecs   int // 0 means no override: the deadline is 60s, or the cron interval if shorter
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ServiceCheck is the materialised (host, service) unit the scheduler
// operates on.
type ServiceCheck struct {
	ID                uuid.UUID
	HostID            uuid.UUID
	ServiceID         uuid.UUID
	Status            string // status.Status, stored as text
	LastCheck         time.Time
	NextCheck         time.Time
	LastUpdated       time.Time
	LastElapsedMillis int64
	ConsecutiveErrors int
}

// ServiceCheckHistory is one append-only result row.
type ServiceCheckHistory struct {
	ID             int64
	ServiceCheckID uuid.UUID
	Timestamp      time.Time
	Status         string
	ElapsedMillis  int64
	ResultText     string
}

// Session and User exist only because the scheduler and the (out-of-scope)
// web front-end share one database; the core never mutates them.
type User struct {
	ID      uuid.UUID
	Email   string
	Subject string // OIDC subject
}

type Session struct {
	ID        string
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}
