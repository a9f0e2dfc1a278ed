package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/avflow/config"
	"github.com/c360/avflow/engine"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/natsclient"
	"github.com/c360/avflow/node"
)

func busOptions(s config.NATSSettings, deps node.Dependencies) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithName(s.Name),
		natsclient.WithTimeout(s.ConnectTimeout),
		natsclient.WithRequestTimeout(s.RequestTimeout),
		natsclient.WithMaxReconnects(s.MaxReconnects),
		natsclient.WithLogger(deps.Logger),
		natsclient.WithMetrics(deps.Metrics),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			deps.Logger.Info("NATS health changed", "healthy", healthy)
		}),
	}
	switch {
	case s.Token != "":
		opts = append(opts, natsclient.WithToken(s.Token))
	case s.Username != "":
		opts = append(opts, natsclient.WithCredentials(s.Username, s.Password))
	}
	if s.CertFile != "" || s.CAFile != "" {
		opts = append(opts, natsclient.WithTLS(s.CertFile, s.KeyFile, s.CAFile))
	}
	return opts
}

// connectBus connects to the configured NATS server. It returns nil when no
// bus is configured.
func connectBus(ctx context.Context, s config.NATSSettings, deps node.Dependencies) (*natsclient.Client, error) {
	if !s.Enabled() {
		return nil, nil
	}
	client, err := natsclient.NewClient(s.URL, busOptions(s, deps)...)
	if err != nil {
		return nil, fmt.Errorf("create nats client: %w", err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, s.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	slog.Info("Connected to NATS", "url", s.URL, "prefix", s.SubjectPrefix)
	return client, nil
}

// reporter logs drained diagnostics and publishes them, with the river
// health, to every sink.
type reporter struct {
	msgs     *message.Collector
	logger   *slog.Logger
	eng      *engine.Engine
	subjects engine.Subjects
	sinks    []engine.Publisher
}

func (r *reporter) addSink(p engine.Publisher) {
	r.sinks = append(r.sinks, p)
}

func (r *reporter) report(ctx context.Context) {
	drained := drainMessages(r.msgs, r.logger)
	for _, sink := range r.sinks {
		if err := engine.PublishMessages(ctx, sink, r.subjects, drained); err != nil {
			r.logger.Warn("Failed to publish messages", "error", err)
		}
		if err := r.eng.PublishHealth(ctx, sink, r.subjects); err != nil {
			r.logger.Warn("Failed to publish health", "error", err)
		}
	}
}
