package message

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/pkg/buffer"
)

// DefaultCapacity is the number of undrained messages a collector keeps.
const DefaultCapacity = 1000

// Message is one diagnostic report.
type Message struct {
	Seq      uint64    `json:"seq"`
	Code     Code      `json:"code"`
	Severity Severity  `json:"severity"`
	Source   string    `json:"source,omitempty"`
	Detail   string    `json:"detail"`
	Time     time.Time `json:"time"`
}

// HasErr reports whether the message carries an error code.
func (m Message) HasErr() bool { return m.Code.IsError() }

func (m Message) String() string {
	return fmt.Sprintf("{code: %d, type: %s, source: %s, detail: %s}", int32(m.Code), m.Severity, m.Source, m.Detail)
}

// Collector is a bounded FIFO of messages. Producers push from any goroutine;
// one consumer drains. When full, the oldest undrained message is discarded.
type Collector struct {
	ring    buffer.Buffer[Message]
	logger  *slog.Logger
	metrics *metric.Metrics

	// mu keeps Seq in queue order across producers.
	mu  sync.Mutex
	seq uint64
}

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

type collectorConfig struct {
	capacity int
	logger   *slog.Logger
	registry *metric.MetricsRegistry
}

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) CollectorOption {
	return func(c *collectorConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the logger used to report discarded messages.
func WithLogger(logger *slog.Logger) CollectorOption {
	return func(c *collectorConfig) {
		c.logger = logger
	}
}

// WithMetrics counts recorded messages by severity.
func WithMetrics(registry *metric.MetricsRegistry) CollectorOption {
	return func(c *collectorConfig) {
		c.registry = registry
	}
}

// NewCollector creates a collector.
func NewCollector(opts ...CollectorOption) (*Collector, error) {
	cfg := collectorConfig{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	c := &Collector{
		logger:  cfg.logger.With("component", "diagnostics"),
		metrics: cfg.registry.CoreMetrics(),
	}

	ring, err := buffer.NewCircularBuffer[Message](cfg.capacity,
		buffer.WithOverflowPolicy[Message](buffer.DropOldest),
		buffer.WithDropCallback[Message](c.discarded),
		buffer.WithMetrics[Message](cfg.registry, "diagnostics"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Collector", "NewCollector", "create message ring")
	}
	c.ring = ring
	return c, nil
}

func (c *Collector) discarded(m Message) {
	c.logger.Warn("discard undrained message", "seq", m.Seq, "code", int32(m.Code), "detail", m.Detail)
}

// Add records a message. Detail is prefixed with the code text. A nil
// collector builds the message without recording it.
func (c *Collector) Add(code Code, source, detail string) Message {
	m := Message{
		Code:     code,
		Severity: code.Severity(),
		Source:   source,
		Detail:   code.String(),
		Time:     time.Now(),
	}
	if detail != "" {
		m.Detail += ", " + detail
	}
	if c == nil {
		return m
	}
	c.mu.Lock()
	c.seq++
	m.Seq = c.seq
	_ = c.ring.Write(m)
	c.mu.Unlock()
	c.metrics.RecordDiagnostic(m.Severity.String())
	return m
}

// AddError records err under the code CodeOf derives for it.
func (c *Collector) AddError(source string, err error) Message {
	return c.Add(CodeOf(err), source, err.Error())
}

// Next pops the oldest message.
func (c *Collector) Next() (Message, bool) {
	return c.ring.Read()
}

// Drain pops every pending message, oldest first.
func (c *Collector) Drain() []Message {
	return c.ring.ReadBatch(c.ring.Capacity())
}

// Len returns the number of pending messages.
func (c *Collector) Len() int {
	return c.ring.Size()
}

// Dropped returns how many messages were discarded on overflow.
func (c *Collector) Dropped() int64 {
	return c.ring.Stats().Drops()
}
