// Package executor implements maremma's probe executors: the pluggable
// per-ServiceType "how do we actually check this" strategies the scheduler
// dispatches a due service-check to. It replaces the teacher's
// pkg/worker.HealthMonitor createChecker type-switch with a small registry
// of Executor implementations, one per types.ServiceType, so that adding a
// probe kind never means touching the scheduler.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// Target is everything an Executor needs to run one probe: the host being
// probed and the service declaration, with any per-host config override
// already merged in.
type Target struct {
	Host    types.Host
	Service types.Service
	// Config is service.ExtraConfig overlaid with host.Config[service.Name],
	// the per-host override a host's config map may carry for this service.
	Config map[string]any
}

// ResolveTarget merges a service's default ExtraConfig with any override the
// host carries for that service, the host's keys winning.
func ResolveTarget(host types.Host, service types.Service) Target {
	merged := make(map[string]any, len(service.ExtraConfig))
	for k, v := range service.ExtraConfig {
		merged[k] = v
	}
	if override, ok := host.Config[service.Name]; ok {
		for k, v := range override {
			merged[k] = v
		}
	}
	return Target{Host: host, Service: service, Config: merged}
}

// Executor is the interface every probe kind implements.
type Executor interface {
	// Kind reports the ServiceType this executor handles.
	Kind() types.ServiceType
	// Execute runs the probe against target. It must honor ctx's deadline
	// and never panic; the registry recovers defensively, but a well
	// behaved executor reports status.Error itself on failure.
	Execute(ctx context.Context, target Target) status.Result
}

// Registry dispatches a target to the Executor registered for its
// service's type.
type Registry struct {
	mu        sync.RWMutex
	executors map[types.ServiceType]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[types.ServiceType]Executor)}
}

// Register adds e, replacing any executor previously registered for the
// same Kind.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Kind()] = e
}

// NewDefaultRegistry returns a registry with every built-in executor
// registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewCLIExecutor())
	r.Register(NewSSHExecutor())
	r.Register(NewPingExecutor())
	r.Register(NewHTTPExecutor())
	r.Register(NewTLSExecutor())
	r.Register(NewKubernetesExecutor())
	return r
}

// Execute looks up the executor for target.Service.Type and runs it,
// converting an unregistered type or a panicking executor into a
// status.Error result rather than propagating either to the scheduler.
func (r *Registry) Execute(ctx context.Context, target Target) (result status.Result) {
	r.mu.RLock()
	exec, ok := r.executors[target.Service.Type]
	r.mu.RUnlock()

	if !ok {
		return status.Result{
			Status: status.Error,
			Text:   fmt.Sprintf("no executor registered for service type %q", target.Service.Type),
		}.Sanitize()
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = status.Result{
				Status: status.Error,
				Text:   fmt.Sprintf("executor panicked: %v", rec),
			}.Sanitize()
		}
	}()

	start := time.Now()
	result = exec.Execute(ctx, target)
	if result.Elapsed == 0 {
		result.Elapsed = time.Since(start).Milliseconds()
	}
	return result.Sanitize()
}

// timeoutResult builds the standard "the probe exceeded its deadline"
// result every executor reports the same way, so the wording stays uniform.
func timeoutResult(timeout time.Duration) status.Result {
	return status.Result{
		Status: status.Critical,
		Text:   fmt.Sprintf("timed out after %dms", timeout.Milliseconds()),
	}
}

// errorResult wraps err into a status.Error result with a consistent
// message shape.
func errorResult(err error) status.Result {
	return status.Result{Status: status.Error, Text: err.Error()}
}

func configString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func configStringSlice(cfg map[string]any, key string) []string {
	v, ok := cfg[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func configInt(cfg map[string]any, key string, def int) int {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch vv := v.(type) {
	case int:
		return vv
	case int64:
		return int(vv)
	case float64:
		return int(vv)
	default:
		return def
	}
}

// effectiveTimeout picks the service's configured timeout, defaulting to
// 60s per spec.
func effectiveTimeout(service types.Service) time.Duration {
	if service.TimeoutSecs > 0 {
		return time.Duration(service.TimeoutSecs) * time.Second
	}
	return 60 * time.Second
}
