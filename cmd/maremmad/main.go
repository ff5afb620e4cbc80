// Command maremmad is maremma's daemon binary: it loads a configuration
// document, reconciles it against the persisted inventory, and runs the
// scheduler loop until signaled to stop. Its cobra command layout and
// graceful-shutdown shape follow cmd/warren/main.go in the teacher repo.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maremma-monitoring/maremma/internal/config"
	"github.com/maremma-monitoring/maremma/internal/executor"
	"github.com/maremma-monitoring/maremma/internal/log"
	"github.com/maremma-monitoring/maremma/internal/metrics"
	"github.com/maremma-monitoring/maremma/internal/reconciler"
	"github.com/maremma-monitoring/maremma/internal/scheduler"
	"github.com/maremma-monitoring/maremma/internal/storage"
)

// shutdownGrace bounds how long Stop waits for in-flight probes to finish
// before the process exits anyway.
const shutdownGrace = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "maremmad",
	Short: "maremmad is a Nagios-style monitoring daemon",
	Long: `maremmad schedules and executes host and service probes on cron
schedules declared in a configuration file, persisting results to a local
SQLite database and exposing Prometheus metrics on /metrics.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "/etc/maremma/maremma.json", "Path to the configuration document")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("log-file", "", "Rotate logs to this file instead of (or in addition to) stdout")
	rootCmd.PersistentFlags().Bool("tokio-console", false, "Accepted for compatibility with the original daemon's flag set; has no effect in this implementation")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(exportConfigSchemaCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logFile, _ := rootCmd.PersistentFlags().GetString("log-file")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
		LogFile:    logFile,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		doc, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(2)
		}

		store, err := storage.Open(doc.DatabaseFile)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		recon := reconciler.New(store, doc, log.Logger)
		if err := recon.Reconcile(context.Background()); err != nil {
			return fmt.Errorf("initial reconciliation: %w", err)
		}
		recon.Start()

		sched := scheduler.New(store, executor.NewDefaultRegistry(), doc.MaxConcurrentChecks, doc.MaxHistoryEntriesPerCheck, log.Logger)
		sched.Start()

		var metricsServer *metricsHTTPServer
		if doc.ListenAddress != "" {
			metricsServer = startMetricsServer(fmt.Sprintf("%s:%d", doc.ListenAddress, doc.ListenPort))
		}

		log.Info("maremmad started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down")

		sched.Stop(shutdownGrace)
		recon.Stop()
		if metricsServer != nil {
			metricsServer.Stop()
		}

		log.Info("shutdown complete")
		return nil
	},
}

var exportConfigSchemaCmd = &cobra.Command{
	Use:   "export-config-schema",
	Short: "Print the JSON shape of the configuration document to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := configDocumentSchema()
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(schema)
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config [path]",
	Short: "Validate a configuration document without starting the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(2)
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

// metricsHTTPServer wraps the Prometheus handler in a minimal net/http
// server, following the teacher's pkg/api.HealthServer pattern of a
// standalone mux rather than folding metrics into a larger API surface.
type metricsHTTPServer struct {
	stop func()
	wg   sync.WaitGroup
}

func (m *metricsHTTPServer) Stop() {
	m.stop()
	m.wg.Wait()
}
