package main

import (
	"context"
	"net/http"
	"time"

	"github.com/maremma-monitoring/maremma/internal/log"
	"github.com/maremma-monitoring/maremma/internal/metrics"
)

// startMetricsServer serves /metrics on addr in the background, mirroring
// the teacher's HealthServer.Start: a plain net/http.Server with sane
// timeouts, no TLS (the metrics endpoint is expected to sit behind a
// reverse proxy or be firewalled to the monitoring network).
func startMetricsServer(addr string) *metricsHTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	server := &metricsHTTPServer{
		stop: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		},
	}

	server.wg.Add(1)
	go func() {
		defer server.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server failed", err)
		}
	}()

	return server
}
