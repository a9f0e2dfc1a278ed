package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/c360/avflow/config"
)

// CLIConfig holds command-line configuration. Flags default to the
// environment settings, so a flag always wins over its variable.
type CLIConfig struct {
	GraphPath   string
	Settings    *config.Settings
	Debug       bool
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags(args []string, settings *config.Settings, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{Settings: settings}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	graphDefault := getEnv(config.EnvPrefix+"_GRAPH", "graph.yaml")
	fs.StringVar(&cfg.GraphPath, "graph", graphDefault,
		"Path to the graph file (env: AVFLOW_GRAPH)")
	fs.StringVar(&cfg.GraphPath, "g", graphDefault,
		"Path to the graph file (env: AVFLOW_GRAPH)")

	fs.StringVar(&settings.LogLevel, "log-level", settings.LogLevel,
		"Log level: debug, info, warn, error (env: AVFLOW_LOG_LEVEL)")
	fs.StringVar(&settings.LogFormat, "log-format", settings.LogFormat,
		"Log format: json, text (env: AVFLOW_LOG_FORMAT)")
	fs.BoolVar(&cfg.Debug, "debug", false, "Shorthand for --log-level=debug")
	fs.StringVar(&settings.MetricsAddr, "metrics-addr", settings.MetricsAddr,
		"Metrics, health and control API address, empty to disable (env: AVFLOW_METRICS_ADDR)")
	fs.DurationVar(&settings.MonitorInterval, "monitor-interval", settings.MonitorInterval,
		"How often finished streamlets are swept (env: AVFLOW_MONITOR_INTERVAL)")
	fs.DurationVar(&settings.ShutdownTimeout, "shutdown-timeout", settings.ShutdownTimeout,
		"Graceful shutdown timeout (env: AVFLOW_SHUTDOWN_TIMEOUT)")
	fs.IntVar(&settings.BufLimit, "buf-limit", settings.BufLimit,
		"Default per-node output bound, 0 for none (env: AVFLOW_BUF_LIMIT)")

	fs.IntVar(&settings.BuildWorkers, "build-workers", settings.BuildWorkers,
		"Streamlets built concurrently while loading (env: AVFLOW_BUILD_WORKERS)")
	fs.StringVar(&settings.NATS.URL, "nats-url", settings.NATS.URL,
		"NATS server for reports and remote control, empty to disable (env: AVFLOW_NATS_URL)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate the graph and exit")

	fs.Usage = func() { printDetailedHelp(fs, output) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Debug {
		settings.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if _, err := os.Stat(cfg.GraphPath); err != nil {
		return fmt.Errorf("graph file not found: %s", cfg.GraphPath)
	}
	return cfg.Settings.Validate()
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - audio/video stream processing engine

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run a graph
  %[1]s --graph=/etc/avflow/transcode.yaml

  # Run with debug logging
  %[1]s --graph=graph.yaml --log-level=debug --log-format=text

  # Run with environment variables
  export AVFLOW_GRAPH=/etc/avflow/transcode.yaml
  export AVFLOW_METRICS_ADDR=:9100
  %[1]s

  # Publish health and take control requests over NATS
  %[1]s --graph=graph.yaml --nats-url=nats://localhost:4222

  # Validate the graph only
  %[1]s --graph=graph.yaml --validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
