// Command frontdoor is the configurable, reloadable HTTP(S) front-end
// server: it loads a YAML configuration document, builds and starts the
// warehouse described by it, and then drives it from OS signals —
// SIGHUP to reload, SIGTERM/SIGINT to drain and stop, a second SIGINT
// within five seconds to abort immediately — until the process exits.
// Grounded on the teacher's cmd/warren/main.go cobra root-command shape
// (PersistentFlags + cobra.OnInitialize(initLogging) + a single
// signal.Notify/select loop per long-running subcommand), collapsed
// from warren's many cluster/worker/manager subcommands to the single
// run-and-serve command frontdoor needs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/frontdoor/internal/config"
	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/endpoint"
	"github.com/cuemby/frontdoor/pkg/ferrors"
	"github.com/cuemby/frontdoor/pkg/frontlog"
	"github.com/cuemby/frontdoor/pkg/warehouse"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// defaultGrace is used for both the endpoint drain grace and the
// application stop grace when reload/shutdown don't override them.
const defaultGrace = 5 * time.Second

// secondSignalWindow is how long after the first SIGINT a second one
// forces an immediate abort, per spec.md §6.
const secondSignalWindow = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "frontdoor",
	Short: "Configurable, reloadable HTTP(S) front-end server",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("config", "", "path to the configuration file (required)")
	rootCmd.Flags().Bool("check", false, "validate the configuration and exit")
	rootCmd.Flags().String("metrics-addr", "", "address to serve /metrics on (disabled if empty)")
	_ = rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "frontdoor: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	k := ferrors.KindOf(err)
	if k == ferrors.KindUnknown {
		return 1
	}
	return ferrors.ExitCode(k)
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	checkOnly, _ := cmd.Flags().GetBool("check")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}

	frontlog.Init(doc.Logging)
	logger := frontlog.Root

	registry := component.NewRegistry()
	var w *warehouse.Warehouse
	w = warehouse.New(registry, logger, func(app warehouse.ApplicationComponent, spec warehouse.Spec, services warehouse.ServiceLookup) (endpoint.Deps, error) {
		return config.EndpointDeps(w.HostManager())(app, spec, services)
	})
	config.RegisterClasses(registry, w.Tree())

	if checkOnly {
		if err := w.Validate(doc.Warehouse); err != nil {
			return err
		}
		fmt.Println("configuration is valid")
		return nil
	}

	ctx := context.Background()
	if err := w.Start(ctx, doc.Warehouse); err != nil {
		return err
	}
	logger.Info().Msg("frontdoor started")

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	return driveSignals(ctx, w, configPath, logger)
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}

func driveSignals(ctx context.Context, w *warehouse.Warehouse, configPath string, logger zerolog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, os.Interrupt)

	var lastInterrupt time.Time
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("reload requested")
			doc, err := config.Load(configPath)
			if err != nil {
				logger.Error().Err(err).Msg("reload: invalid configuration, keeping current state")
				continue
			}
			if err := w.Reload(ctx, doc.Warehouse, defaultGrace, defaultGrace); err != nil {
				logger.Error().Err(err).Msg("reload failed")
				continue
			}
			logger.Info().Msg("reload complete")

		case syscall.SIGTERM:
			logger.Info().Msg("shutdown requested")
			if err := w.Stop(ctx, defaultGrace, defaultGrace); err != nil {
				return err
			}
			return nil

		case os.Interrupt:
			now := time.Now()
			if !lastInterrupt.IsZero() && now.Sub(lastInterrupt) < secondSignalWindow {
				logger.Warn().Msg("second interrupt received, aborting immediately")
				return fmt.Errorf("aborted by second interrupt")
			}
			lastInterrupt = now
			logger.Info().Msg("shutdown requested")
			if err := w.Stop(ctx, defaultGrace, defaultGrace); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}
