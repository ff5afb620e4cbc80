// Package config loads and validates maremma's declarative configuration
// document: the JSON file that the reconciler (internal/reconciler) diffs
// against the persisted inventory on every startup and reload.
//
// Loading is layered with koanf (github.com/knadh/koanf/v2): a confmap
// provider supplies the documented defaults, a file provider overlays the
// JSON document on top, and go-playground/validator checks the decoded
// struct for required fields and enum membership before it ever reaches the
// reconciler.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/maremma-monitoring/maremma/internal/types"
)

// HostConfig is one entry of the top-level "hosts" map.
type HostConfig struct {
	Hostname   string                     `json:"hostname" koanf:"hostname"`
	Check      types.HostCheckKind        `json:"check" koanf:"check" validate:"omitempty,oneof=none ping ssh kubernetes"`
	HostGroups []string                   `json:"host_groups" koanf:"host_groups"`
	Config     map[string]map[string]any  `json:"config" koanf:"config"`
	Tags       []string                   `json:"tags" koanf:"tags"`
}

// ServiceConfig is one entry of the top-level "services" map.
type ServiceConfig struct {
	ServiceType  types.ServiceType `json:"service_type" koanf:"service_type" validate:"required,oneof=cli ssh ping http tls kubernetes"`
	Description  string            `json:"description" koanf:"description"`
	HostGroups   []string          `json:"host_groups" koanf:"host_groups"`
	CronSchedule string            `json:"cron_schedule" koanf:"cron_schedule" validate:"required"`
	Tags         []string          `json:"tags" koanf:"tags"`
	Extra        map[string]any    `json:"-" koanf:"-"`
}

// Document is the fully decoded and validated configuration file (spec §6).
type Document struct {
	Hosts                     map[string]HostConfig    `json:"hosts" koanf:"hosts" validate:"dive"`
	Services                  map[string]ServiceConfig `json:"services" koanf:"services" validate:"dive"`
	FrontendURL               string                   `json:"frontend_url" koanf:"frontend_url" validate:"required"`
	OIDCIssuer                string                   `json:"oidc_issuer" koanf:"oidc_issuer" validate:"required"`
	OIDCClientID              string                   `json:"oidc_client_id" koanf:"oidc_client_id" validate:"required"`
	OIDCClientSecret          string                   `json:"oidc_client_secret" koanf:"oidc_client_secret"`
	CertFile                  string                   `json:"cert_file" koanf:"cert_file" validate:"required"`
	CertKey                   string                   `json:"cert_key" koanf:"cert_key" validate:"required"`
	MaxHistoryEntriesPerCheck int                      `json:"max_history_entries_per_check" koanf:"max_history_entries_per_check" validate:"required,min=1"`
	DatabaseFile              string                   `json:"database_file" koanf:"database_file"`
	ListenAddress             string                   `json:"listen_address" koanf:"listen_address"`
	ListenPort                int                      `json:"listen_port" koanf:"listen_port"`
	MaxConcurrentChecks       int                      `json:"max_concurrent_checks" koanf:"max_concurrent_checks" validate:"min=1"`
	LocalServices             []string                 `json:"local_services" koanf:"local_services"`
	StaticPath                string                   `json:"static_path" koanf:"static_path"`
}

// defaults mirrors spec.md §6's documented defaults.
var defaults = map[string]any{
	"database_file":                 "maremma.sqlite",
	"listen_address":                "127.0.0.1",
	"listen_port":                   8888,
	"max_concurrent_checks":         10,
	"max_history_entries_per_check": 25000,
}

var validate = validator.New()

// Load reads and validates the configuration document at path, applying the
// documented defaults for any field the file omits.
func Load(path string) (*Document, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var doc Document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if doc.DatabaseFile == "" {
		doc.DatabaseFile = defaults["database_file"].(string)
	}

	for name, hc := range doc.Hosts {
		if hc.Check == "" {
			hc.Check = types.HostCheckPing
			doc.Hosts[name] = hc
		}
	}

	extractExtra(k, &doc)

	return &doc, nil
}

// knownServiceFields are the ServiceConfig keys already bound by its struct
// tags; everything else under a service's map becomes its Extra, which
// ResolveTarget (internal/executor) later overlays per-host.
var knownServiceFields = map[string]struct{}{
	"service_type":  {},
	"description":   {},
	"host_groups":   {},
	"cron_schedule": {},
	"tags":          {},
}

// extractExtra recovers the probe-specific fields koanf's struct tags don't
// bind (service_type-dependent keys like "url" or "command"), since
// ServiceConfig can't declare a fixed field set for every probe kind.
func extractExtra(k *koanf.Koanf, doc *Document) {
	raw, ok := k.Get("services").(map[string]any)
	if !ok {
		return
	}
	for name, svc := range doc.Services {
		fields, ok := raw[name].(map[string]any)
		if !ok {
			continue
		}
		extra := make(map[string]any)
		for key, val := range fields {
			if _, known := knownServiceFields[key]; !known {
				extra[key] = val
			}
		}
		svc.Extra = extra
		doc.Services[name] = svc
	}
}
