package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/types"
)

func TestResolveTargetMergesHostOverride(t *testing.T) {
	host := types.Host{
		Name:   "web1",
		Config: map[string]map[string]any{"disk-space": {"path": "/data"}},
	}
	service := types.Service{Name: "disk-space", ExtraConfig: map[string]any{"path": "/", "warn_pct": 80}}

	target := ResolveTarget(host, service)

	assert.Equal(t, "/data", target.Config["path"])
	assert.Equal(t, 80, target.Config["warn_pct"])
}

func TestRegistryExecuteUnknownType(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), Target{Service: types.Service{Type: "bogus"}})
	assert.Equal(t, status.Error, result.Status)
}

type panickyExecutor struct{}

func (panickyExecutor) Kind() types.ServiceType { return types.ServiceTypeCLI }
func (panickyExecutor) Execute(ctx context.Context, target Target) status.Result {
	panic("boom")
}

func TestRegistryRecoversFromPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(panickyExecutor{})
	result := r.Execute(context.Background(), Target{Service: types.Service{Type: types.ServiceTypeCLI}})
	assert.Equal(t, status.Error, result.Status)
	assert.Contains(t, result.Text, "panicked")
}

func TestCLIExecutorSuccessAndFailure(t *testing.T) {
	e := NewCLIExecutor()

	ok := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeCLI},
		Config:  map[string]any{"command": "true"},
	})
	assert.Equal(t, status.Ok, ok.Status)

	warn := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeCLI},
		Config:  map[string]any{"command": "sh -c 'exit 1'"},
	})
	assert.Equal(t, status.Warning, warn.Status)

	critical := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeCLI},
		Config:  map[string]any{"command": "sh -c 'exit 2'"},
	})
	assert.Equal(t, status.Critical, critical.Status)
}

func TestCLIExecutorTimesOut(t *testing.T) {
	e := NewCLIExecutor()
	result := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeCLI, TimeoutSecs: 1},
		Config:  map[string]any{"command": "sleep 5"},
	})
	assert.Equal(t, status.Critical, result.Status)
	assert.Contains(t, result.Text, "timed out")
}

func TestCLIExecutorMissingCommand(t *testing.T) {
	e := NewCLIExecutor()
	result := e.Execute(context.Background(), Target{Service: types.Service{Type: types.ServiceTypeCLI}})
	assert.Equal(t, status.Error, result.Status)
}

func TestCLIExecutorDoesNotInheritArbitraryParentEnv(t *testing.T) {
	t.Setenv("MAREMMA_TEST_SECRET", "leaked")
	e := NewCLIExecutor()
	result := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeCLI},
		Config:  map[string]any{"command": "sh -c 'echo -n \"[$MAREMMA_TEST_SECRET]\"'"},
	})
	assert.Equal(t, status.Ok, result.Status)
	assert.Equal(t, "[]", result.Text)
}

func TestCLIExecutorEnvConfigOverridesAllowlist(t *testing.T) {
	e := NewCLIExecutor()
	result := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeCLI},
		Config: map[string]any{
			"command": "sh -c 'echo -n \"$GREETING\"'",
			"env":     map[string]any{"GREETING": "hello"},
		},
	})
	assert.Equal(t, status.Ok, result.Status)
	assert.Equal(t, "hello", result.Text)
}

func TestCLIExecutorAppendsStderrOnNonZeroExit(t *testing.T) {
	e := NewCLIExecutor()
	result := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeCLI},
		Config:  map[string]any{"command": "sh -c 'echo out; echo err 1>&2; exit 1'"},
	})
	assert.Equal(t, status.Warning, result.Status)
	assert.Contains(t, result.Text, "out")
	assert.Contains(t, result.Text, "err")
}

func TestHTTPExecutorDefaultStatusMapping(t *testing.T) {
	var code int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) }))
	defer srv.Close()
	e := NewHTTPExecutor()

	code = 200
	ok := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeHTTP},
		Config:  map[string]any{"url": srv.URL},
	})
	assert.Equal(t, status.Ok, ok.Status)

	code = 304 // a 3xx with no Location: the client won't follow it, so this
	// exercises the default-status-mapping branch, not CheckRedirect.
	warn := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeHTTP},
		Config:  map[string]any{"url": srv.URL},
	})
	assert.Equal(t, status.Warning, warn.Status)

	code = 500
	critical := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeHTTP},
		Config:  map[string]any{"url": srv.URL},
	})
	assert.Equal(t, status.Critical, critical.Status)
}

func TestHTTPExecutorCapsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/", http.StatusFound)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()
	e := NewHTTPExecutor()

	result := e.Execute(context.Background(), Target{
		Service: types.Service{Type: types.ServiceTypeHTTP},
		Config:  map[string]any{"url": srv.URL},
	})
	assert.Equal(t, status.Critical, result.Status)
}

func TestEffectiveTimeoutDefaultsTo60s(t *testing.T) {
	assert.Equal(t, 60*time.Second, effectiveTimeout(types.Service{}))
	assert.Equal(t, 5*time.Second, effectiveTimeout(types.Service{TimeoutSecs: 5}))
}
