// Package main implements the avflow command. It loads a graph file, builds
// its streamlets into one river and runs them until every streamlet has
// finished or the process is signalled. The metrics endpoint also serves
// the river health, the engine control API and a WebSocket feed of runtime
// reports; a configured NATS server receives the same reports and control
// requests.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/c360/avflow/config"
	"github.com/c360/avflow/engine"
	"github.com/c360/avflow/implregistry"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/natsclient"
	"github.com/c360/avflow/node"
	"github.com/c360/avflow/pkg/tlsutil"
	"github.com/c360/avflow/watch"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "avflow"
)

const apiPrefix = "/api"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	cliCfg, err := parseFlags(args, settings, os.Stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := setupLogger(settings.LogLevel, settings.LogFormat)
	slog.SetDefault(logger)
	slog.Info("Starting avflow",
		"version", Version,
		"build_time", BuildTime,
		"graph_path", cliCfg.GraphPath)

	graph, err := config.LoadGraph(cliCfg.GraphPath)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}

	deps, err := createDependencies(settings, logger)
	if err != nil {
		return err
	}
	eng := engine.New(deps, engine.Options{
		BufLimit:        settings.BufLimit,
		MonitorInterval: settings.MonitorInterval,
		ShutdownTimeout: settings.ShutdownTimeout,
		BuildWorkers:    settings.BuildWorkers,
	})
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("Build pool did not stop", "error", err)
		}
	}()

	if err := eng.Load(graph); err != nil {
		drainMessages(deps.Messages, logger)
		return fmt.Errorf("build graph: %w", err)
	}
	if cliCfg.Validate {
		eng.River().Stop()
		slog.Info("Graph is valid", "streamlets", eng.River().Len())
		slog.Debug("River layout", "dump", eng.River().Dump())
		return nil
	}

	return runWithSignalHandling(eng, deps, settings)
}

// createDependencies creates the registry, diagnostics queue and metrics
// shared by every node.
func createDependencies(settings *config.Settings, logger *slog.Logger) (node.Dependencies, error) {
	registry, err := implregistry.NewRegistry()
	if err != nil {
		return node.Dependencies{}, fmt.Errorf("register implementations: %w", err)
	}
	slog.Info("Implementations registered", "variants", registry.Keys())

	metricsRegistry := metric.NewMetricsRegistry()
	msgs, err := message.NewCollector(
		message.WithCapacity(settings.MessageCapacity),
		message.WithLogger(logger),
		message.WithMetrics(metricsRegistry),
	)
	if err != nil {
		return node.Dependencies{}, fmt.Errorf("create message collector: %w", err)
	}

	return node.Dependencies{
		Registry: registry,
		Messages: msgs,
		Metrics:  metricsRegistry,
		Logger:   logger,
	}, nil
}

// runWithSignalHandling serves HTTP and the optional NATS control plane,
// reports diagnostics and runs the engine until it finishes or SIGINT/SIGTERM
// arrives.
func runWithSignalHandling(eng *engine.Engine, deps node.Dependencies, settings *config.Settings) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep := &reporter{
		msgs:     deps.Messages,
		logger:   deps.Logger,
		eng:      eng,
		subjects: engine.Subjects{Prefix: settings.NATS.SubjectPrefix},
	}

	var server *metric.Server
	if settings.MetricsAddr != "" {
		tlsConfig, err := tlsutil.LoadServerConfig(settings.TLS.ServerConfig())
		if err != nil {
			return fmt.Errorf("load TLS config: %w", err)
		}
		hub, err := watch.NewHub(
			watch.WithLogger(deps.Logger),
			watch.WithMetrics(deps.Metrics),
			watch.WithQueueSize(settings.WatchQueueSize),
		)
		if err != nil {
			return fmt.Errorf("create watch hub: %w", err)
		}
		defer func() { _ = hub.Close() }()
		rep.addSink(hub)

		server = metric.NewServer(settings.MetricsAddr, settings.MetricsPath, deps.Metrics, eng.HealthHandler())
		server.SetTLSConfig(tlsConfig)
		server.Mount(func(mux *http.ServeMux) {
			eng.RegisterHTTPHandlers(apiPrefix, mux)
			mux.Handle("GET "+apiPrefix+"/watch", hub)
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("HTTP server listening", "metrics", server.Address(), "api", apiPrefix)
	}

	client, err := connectBus(ctx, settings.NATS, deps)
	if err != nil {
		stopServer(server, settings.ShutdownTimeout)
		return err
	}
	if client != nil {
		defer closeBus(client, settings.ShutdownTimeout)
		rep.addSink(client)
		if err := eng.ServeBus(ctx, client, rep.subjects); err != nil {
			stopServer(server, settings.ShutdownTimeout)
			return fmt.Errorf("serve nats control: %w", err)
		}
	}

	drainCtx, stopDrain := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pumpMessages(drainCtx, rep, settings.MonitorInterval)
	}()

	slog.Info("avflow started", "streamlets", eng.River().Len())
	runErr := eng.Run(ctx)
	if ctx.Err() != nil {
		slog.Info("Received shutdown signal")
	}

	stopDrain()
	wg.Wait()
	stopServer(server, settings.ShutdownTimeout)

	if runErr != nil {
		return fmt.Errorf("run graph: %w", runErr)
	}
	slog.Info("avflow shutdown complete")
	return nil
}

func stopServer(server *metric.Server, timeout time.Duration) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		slog.Error("Error stopping HTTP server", "error", err)
	}
}

func closeBus(client *natsclient.Client, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Close(ctx); err != nil {
		slog.Warn("Error closing NATS connection", "error", err)
	}
}

// pumpMessages reports diagnostics every interval until ctx is done, then
// reports what is left.
func pumpMessages(ctx context.Context, rep *reporter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			rep.report(context.Background())
			return
		case <-ticker.C:
			rep.report(ctx)
		}
	}
}

func drainMessages(msgs *message.Collector, logger *slog.Logger) []message.Message {
	drained := msgs.Drain()
	for _, m := range drained {
		logMessage(logger, m)
	}
	return drained
}
