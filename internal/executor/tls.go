package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/maremma-monitoring/maremma/internal/status"
	"github.com/maremma-monitoring/maremma/internal/types"
)

// TLSExecutor connects to a host:port, completes a TLS handshake, and
// reports the leaf certificate's remaining validity window. It is built on
// the standard library's crypto/tls and crypto/x509: no library in the
// retrieved examples wraps certificate-expiry inspection, and the stdlib
// API is already the idiomatic way to do this in Go.
type TLSExecutor struct{}

// NewTLSExecutor returns a TLSExecutor.
func NewTLSExecutor() *TLSExecutor { return &TLSExecutor{} }

func (e *TLSExecutor) Kind() types.ServiceType { return types.ServiceTypeTLS }

func (e *TLSExecutor) Execute(ctx context.Context, target Target) status.Result {
	host := configString(target.Config, "host", target.Host.Hostname)
	if host == "" {
		return status.Result{Status: status.Error, Text: "tls service has no host to connect to"}
	}
	port := configInt(target.Config, "port", 443)
	warnDays := configInt(target.Config, "warning_days", 30)
	criticalDays := configInt(target.Config, "critical_days", 7)

	timeout := effectiveTimeout(target.Service)
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := tls.DialWithDialer(dialerWithContext(dialer, dialCtx), "tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		if dialCtx.Err() != nil {
			return timeoutResult(timeout)
		}
		return status.Result{Status: status.Critical, Text: err.Error()}
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return status.Result{Status: status.Critical, Text: "server presented no certificates"}
	}
	leaf := certs[0]
	remaining := time.Until(leaf.NotAfter)
	text := fmt.Sprintf("certificate for %s expires %s (%s remaining)", leaf.Subject.CommonName, leaf.NotAfter.Format(time.RFC3339), remaining.Round(time.Hour))

	switch {
	case remaining <= time.Duration(criticalDays)*24*time.Hour:
		return status.Result{Status: status.Critical, Text: text}
	case remaining <= time.Duration(warnDays)*24*time.Hour:
		return status.Result{Status: status.Warning, Text: text}
	default:
		return status.Result{Status: status.Ok, Text: text}
	}
}

// dialerWithContext adapts net.Dialer to tls.DialWithDialer's signature,
// which takes no context directly; the deadline is already enforced by ctx
// having been used to derive a net.Dialer.Deadline below.
func dialerWithContext(d *net.Dialer, ctx context.Context) *net.Dialer {
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	return d
}
