package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/pkg/tlsutil"
)

// EnvPrefix prefixes every environment variable Settings reads, e.g.
// AVFLOW_LOG_LEVEL.
const EnvPrefix = "AVFLOW"

// Settings holds process-wide runtime settings. Everything graph specific
// lives in Graph.
type Settings struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// MetricsAddr is where the metrics and health endpoints listen. Empty
	// disables the server.
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	MetricsPath string `envconfig:"METRICS_PATH" default:"/metrics"`

	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"3s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// MessageCapacity bounds the diagnostic message queue.
	MessageCapacity int `envconfig:"MESSAGE_CAPACITY" default:"1000"`

	// BufLimit is the per-node output bound applied to streamlets that do
	// not set their own. Zero means unbounded.
	BufLimit int `envconfig:"BUF_LIMIT" default:"0"`

	// BuildWorkers is how many streamlets of a graph are built at once.
	BuildWorkers int `envconfig:"BUILD_WORKERS" default:"4"`

	// WatchQueueSize bounds the reports queued for each WebSocket watcher.
	WatchQueueSize int `envconfig:"WATCH_QUEUE_SIZE" default:"256"`

	TLS  TLSSettings  `envconfig:"TLS"`
	NATS NATSSettings `envconfig:"NATS"`
}

// NATSSettings connects the runtime to a NATS bus, e.g. AVFLOW_NATS_URL.
// An empty URL leaves the bus off.
type NATSSettings struct {
	URL            string        `envconfig:"URL"`
	SubjectPrefix  string        `envconfig:"SUBJECT_PREFIX" default:"avflow"`
	Name           string        `envconfig:"NAME" default:"avflow"`
	Username       string        `envconfig:"USERNAME"`
	Password       string        `envconfig:"PASSWORD"`
	Token          string        `envconfig:"TOKEN"`
	CertFile       string        `envconfig:"CERT_FILE"`
	KeyFile        string        `envconfig:"KEY_FILE"`
	CAFile         string        `envconfig:"CA_FILE"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s"`
	MaxReconnects  int           `envconfig:"MAX_RECONNECTS" default:"-1"`
}

// Enabled reports whether a bus is configured.
func (n NATSSettings) Enabled() bool { return n.URL != "" }

// Validate checks the bus settings. Disabled settings are always valid.
func (n NATSSettings) Validate() error {
	if !n.Enabled() {
		return nil
	}
	if !strings.HasPrefix(n.URL, "nats://") && !strings.HasPrefix(n.URL, "tls://") {
		return errors.WrapInvalid(fmt.Errorf("%w: nats url %q", errors.ErrValueInvalid, n.URL),
			"Settings", "Validate", "check nats url")
	}
	if n.SubjectPrefix == "" || strings.ContainsAny(n.SubjectPrefix, " *>") {
		return errors.WrapInvalid(fmt.Errorf("%w: subject prefix %q", errors.ErrValueInvalid, n.SubjectPrefix),
			"Settings", "Validate", "check subject prefix")
	}
	if n.ConnectTimeout <= 0 || n.RequestTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Settings", "Validate", "nats timeouts must be positive")
	}
	if n.Token != "" && n.Username != "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Settings", "Validate", "use either a nats token or credentials")
	}
	if (n.CertFile == "") != (n.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Settings", "Validate", "nats cert and key go together")
	}
	return nil
}

// TLSSettings secures the HTTP server, e.g. AVFLOW_TLS_CERT_FILE. Lists are
// comma separated.
type TLSSettings struct {
	CertFile          string   `envconfig:"CERT_FILE"`
	KeyFile           string   `envconfig:"KEY_FILE"`
	MinVersion        string   `envconfig:"MIN_VERSION" default:"1.2"`
	ClientCAFiles     []string `envconfig:"CLIENT_CA_FILES"`
	RequireClientCert bool     `envconfig:"REQUIRE_CLIENT_CERT"`
	AllowedClientCNs  []string `envconfig:"ALLOWED_CLIENT_CNS"`
}

// ServerConfig converts the settings for tlsutil.
func (t TLSSettings) ServerConfig() tlsutil.ServerConfig {
	return tlsutil.ServerConfig{
		CertFile:          t.CertFile,
		KeyFile:           t.KeyFile,
		MinVersion:        t.MinVersion,
		ClientCAFiles:     t.ClientCAFiles,
		RequireClientCert: t.RequireClientCert,
		AllowedClientCNs:  t.AllowedClientCNs,
	}
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return nil, errors.WrapInvalid(err, "Settings", "Load", "read environment")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultSettings returns the settings used when nothing is set.
func DefaultSettings() *Settings {
	return &Settings{
		LogLevel:        "info",
		LogFormat:       "json",
		MetricsAddr:     ":9090",
		MetricsPath:     "/metrics",
		MonitorInterval: 3 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MessageCapacity: message.DefaultCapacity,
		BuildWorkers:    4,
		WatchQueueSize:  256,
		TLS:             TLSSettings{MinVersion: "1.2"},
		NATS: NATSSettings{
			SubjectPrefix:  "avflow",
			Name:           "avflow",
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: 5 * time.Second,
			MaxReconnects:  -1,
		},
	}
}

// Validate checks value ranges and enumerations.
func (s *Settings) Validate() error {
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: log level %q", errors.ErrValueInvalid, s.LogLevel),
			"Settings", "Validate", "check log level")
	}
	switch strings.ToLower(s.LogFormat) {
	case "json", "text":
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: log format %q", errors.ErrValueInvalid, s.LogFormat),
			"Settings", "Validate", "check log format")
	}
	if s.MonitorInterval <= 0 {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Settings", "Validate", "monitor interval must be positive")
	}
	if s.MessageCapacity <= 0 {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Settings", "Validate", "message capacity must be positive")
	}
	if s.BufLimit < 0 {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Settings", "Validate", "buffer limit must not be negative")
	}
	if s.BuildWorkers <= 0 {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Settings", "Validate", "build workers must be positive")
	}
	if s.WatchQueueSize <= 0 {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Settings", "Validate", "watch queue size must be positive")
	}
	if err := s.TLS.ServerConfig().Validate(); err != nil {
		return err
	}
	if err := s.NATS.Validate(); err != nil {
		return err
	}
	if s.MetricsAddr != "" && !strings.HasPrefix(s.MetricsPath, "/") {
		return errors.WrapInvalid(fmt.Errorf("%w: metrics path %q", errors.ErrValueInvalid, s.MetricsPath),
			"Settings", "Validate", "check metrics path")
	}
	return nil
}
