package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// HTTPExecutor issues an HTTP request and maps the response status code
// range to a Status, generalising the teacher's HTTPChecker (which only
// distinguished healthy/unhealthy) to the full Ok/Warning/Critical scale.
type HTTPExecutor struct {
	client *http.Client
}

// maxRedirects caps how many redirects a probe request follows before the
// client gives up, per spec.md §4.3's "fixed cap (5)".
const maxRedirects = 5

// NewHTTPExecutor returns an HTTPExecutor with a client that has no
// Timeout set: the per-check deadline is imposed via the request context
// instead, so one client can be shared across every HTTP service-check.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{client: &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}}
}

func (e *HTTPExecutor) Kind() types.ServiceType { return types.ServiceTypeHTTP }

func (e *HTTPExecutor) Execute(ctx context.Context, target Target) status.Result {
	url := configString(target.Config, "url", "")
	if url == "" {
		if target.Host.Hostname == "" {
			return status.Result{Status: status.Error, Text: "http service has no \"url\" configured and host has no hostname"}
		}
		url = fmt.Sprintf("http://%s/", target.Host.Hostname)
	}
	method := configString(target.Config, "method", http.MethodGet)
	// Defaults per spec.md §4.3: only a bare 200 is Ok out of the box, so a
	// 3xx redirect response is Warning unless a service opts into a wider
	// expected_status_* range.
	okMin := configInt(target.Config, "expected_status_min", 200)
	okMax := configInt(target.Config, "expected_status_max", 200)
	warnMin := configInt(target.Config, "warning_status_min", 300)
	warnMax := configInt(target.Config, "warning_status_max", 399)

	timeout := effectiveTimeout(target.Service)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, nil)
	if err != nil {
		return errorResult(err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return timeoutResult(timeout)
		}
		return status.Result{Status: status.Critical, Text: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	text := fmt.Sprintf("%s %d %s", req.Method, resp.StatusCode, http.StatusText(resp.StatusCode))

	switch {
	case resp.StatusCode >= okMin && resp.StatusCode <= okMax:
		return status.Result{Status: status.Ok, Text: text}
	case resp.StatusCode >= warnMin && resp.StatusCode <= warnMax:
		return status.Result{Status: status.Warning, Text: text}
	default:
		return status.Result{Status: status.Critical, Text: text}
	}
}
