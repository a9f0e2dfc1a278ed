package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/config"
	"github.com/c360/avflow/engine"
	"github.com/c360/avflow/implregistry"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/natsclient"
	"github.com/c360/avflow/node"
)

type recordingSink struct {
	mu       sync.Mutex
	subjects []string
	fail     error
}

func (b *recordingSink) Publish(_ context.Context, subject string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.subjects = append(b.subjects, subject)
	return nil
}

func newTestDeps(t *testing.T) node.Dependencies {
	t.Helper()
	registry, err := implregistry.NewRegistry()
	require.NoError(t, err)
	msgs, err := message.NewCollector()
	require.NoError(t, err)
	return node.Dependencies{
		Registry: registry,
		Messages: msgs,
		Metrics:  metric.NewMetricsRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestReporter(t *testing.T) {
	deps := newTestDeps(t)
	eng := engine.New(deps, engine.Options{})
	t.Cleanup(func() { _ = eng.Close() })

	t.Run("log only", func(t *testing.T) {
		rep := &reporter{msgs: deps.Messages, logger: deps.Logger, eng: eng}
		deps.Messages.Add(message.InfoStreamletAdd, "cam", "added")
		rep.report(context.Background())
		assert.Zero(t, deps.Messages.Len())
	})

	t.Run("publishes messages and health", func(t *testing.T) {
		bus := &recordingSink{}
		subjects := engine.Subjects{Prefix: "studio"}
		second := &recordingSink{}
		rep := &reporter{msgs: deps.Messages, logger: deps.Logger, eng: eng, subjects: subjects}
		rep.addSink(bus)
		rep.addSink(second)
		deps.Messages.Add(message.InfoStreamletAdd, "cam", "added")

		rep.report(context.Background())
		want := []string{subjects.Messages(message.SeverityInfo), subjects.Health()}
		assert.Equal(t, want, bus.subjects)
		assert.Equal(t, want, second.subjects, "every sink gets every report")
	})

	t.Run("publish failures are logged", func(t *testing.T) {
		bus := &recordingSink{fail: errors.New("bus down")}
		rep := &reporter{msgs: deps.Messages, logger: deps.Logger, eng: eng, sinks: []engine.Publisher{bus}}
		deps.Messages.Add(message.InfoStreamletAdd, "cam", "added")
		assert.NotPanics(t, func() { rep.report(context.Background()) })
		assert.Zero(t, deps.Messages.Len())
	})
}

func TestBusOptions(t *testing.T) {
	deps := newTestDeps(t)
	s := config.DefaultSettings().NATS
	s.URL = "nats://127.0.0.1:4222"
	s.Token = "s3cret"

	client, err := natsclient.NewClient(s.URL, busOptions(s, deps)...)
	require.NoError(t, err)
	status := client.GetStatus()
	assert.Equal(t, natsclient.StatusDisconnected, status.Status)

	s.CertFile = "client.crt"
	_, err = natsclient.NewClient(s.URL, busOptions(s, newTestDeps(t))...)
	assert.Error(t, err, "a certificate needs its key")
}

func TestConnectBusDisabled(t *testing.T) {
	client, err := connectBus(context.Background(), config.DefaultSettings().NATS, newTestDeps(t))
	require.NoError(t, err)
	assert.Nil(t, client)
}
