package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("AVFLOW_LOG_LEVEL", "debug")
	t.Setenv("AVFLOW_LOG_FORMAT", "text")
	t.Setenv("AVFLOW_METRICS_ADDR", "")
	t.Setenv("AVFLOW_MONITOR_INTERVAL", "250ms")
	t.Setenv("AVFLOW_BUF_LIMIT", "8")
	t.Setenv("AVFLOW_BUILD_WORKERS", "2")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "text", s.LogFormat)
	assert.Empty(t, s.MetricsAddr)
	assert.Equal(t, 250*time.Millisecond, s.MonitorInterval)
	assert.Equal(t, 8, s.BufLimit)
	assert.Equal(t, 1000, s.MessageCapacity)
	assert.Equal(t, 2, s.BuildWorkers)
}

func TestLoadTLSSettingsFromEnv(t *testing.T) {
	t.Setenv("AVFLOW_TLS_CERT_FILE", "/etc/avflow/tls.crt")
	t.Setenv("AVFLOW_TLS_KEY_FILE", "/etc/avflow/tls.key")
	t.Setenv("AVFLOW_TLS_CLIENT_CA_FILES", "/etc/avflow/ops.crt,/etc/avflow/ci.crt")
	t.Setenv("AVFLOW_TLS_REQUIRE_CLIENT_CERT", "true")
	t.Setenv("AVFLOW_TLS_ALLOWED_CLIENT_CNS", "ops")

	s, err := LoadSettings()
	require.NoError(t, err)
	tlsCfg := s.TLS.ServerConfig()
	assert.True(t, tlsCfg.Enabled())
	assert.Equal(t, "1.2", tlsCfg.MinVersion)
	assert.Equal(t, []string{"/etc/avflow/ops.crt", "/etc/avflow/ci.crt"}, tlsCfg.ClientCAFiles)
	assert.True(t, tlsCfg.RequireClientCert)
	assert.Equal(t, []string{"ops"}, tlsCfg.AllowedClientCNs)

	t.Setenv("AVFLOW_TLS_CERT_FILE", "")
	_, err = LoadSettings()
	assert.True(t, errors.IsInvalid(err), "client certificates need a server certificate")
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"log level", func(s *Settings) { s.LogLevel = "verbose" }},
		{"log format", func(s *Settings) { s.LogFormat = "xml" }},
		{"monitor interval", func(s *Settings) { s.MonitorInterval = 0 }},
		{"message capacity", func(s *Settings) { s.MessageCapacity = -1 }},
		{"buffer limit", func(s *Settings) { s.BufLimit = -2 }},
		{"build workers", func(s *Settings) { s.BuildWorkers = 0 }},
		{"watch queue", func(s *Settings) { s.WatchQueueSize = 0 }},
		{"tls key without cert", func(s *Settings) { s.TLS.KeyFile = "key.pem" }},
		{"tls version", func(s *Settings) { s.TLS.CertFile, s.TLS.KeyFile, s.TLS.MinVersion = "c", "k", "1.0" }},
		{"metrics path", func(s *Settings) { s.MetricsPath = "metrics" }},
		{"nats scheme", func(s *Settings) { s.NATS.URL = "http://localhost:4222" }},
		{"nats subject prefix", func(s *Settings) { s.NATS.URL, s.NATS.SubjectPrefix = "nats://localhost:4222", "av.*" }},
		{"nats timeout", func(s *Settings) { s.NATS.URL, s.NATS.RequestTimeout = "nats://localhost:4222", 0 }},
		{"nats token and user", func(s *Settings) {
			s.NATS.URL, s.NATS.Token, s.NATS.Username = "nats://localhost:4222", "t", "u"
		}},
		{"nats key without cert", func(s *Settings) { s.NATS.URL, s.NATS.KeyFile = "tls://localhost:4222", "k" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	s := DefaultSettings()
	s.MetricsAddr = ""
	s.MetricsPath = ""
	assert.NoError(t, s.Validate(), "the path is irrelevant without a server")
}

func TestLoadSettingsRejectsBadEnv(t *testing.T) {
	t.Setenv("AVFLOW_MONITOR_INTERVAL", "soon")
	_, err := LoadSettings()
	assert.Error(t, err)

	t.Setenv("AVFLOW_MONITOR_INTERVAL", "1s")
	t.Setenv("AVFLOW_LOG_FORMAT", "xml")
	_, err = LoadSettings()
	assert.Error(t, err)
}

func TestLoadNATSSettingsFromEnv(t *testing.T) {
	s, err := LoadSettings()
	require.NoError(t, err)
	assert.False(t, s.NATS.Enabled())

	t.Setenv("AVFLOW_NATS_URL", "nats://bus:4222")
	t.Setenv("AVFLOW_NATS_SUBJECT_PREFIX", "studio.a")
	t.Setenv("AVFLOW_NATS_TOKEN", "s3cret")
	t.Setenv("AVFLOW_NATS_REQUEST_TIMEOUT", "2s")

	s, err = LoadSettings()
	require.NoError(t, err)
	assert.True(t, s.NATS.Enabled())
	assert.Equal(t, "studio.a", s.NATS.SubjectPrefix)
	assert.Equal(t, "s3cret", s.NATS.Token)
	assert.Equal(t, 2*time.Second, s.NATS.RequestTimeout)
	assert.Equal(t, 5*time.Second, s.NATS.ConnectTimeout)
	assert.Equal(t, -1, s.NATS.MaxReconnects)
	assert.Equal(t, "avflow", s.NATS.Name)

	s.NATS.URL = ""
	s.NATS.SubjectPrefix = ""
	assert.NoError(t, s.NATS.Validate(), "disabled settings are not checked")
}
