package impl

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/avflow/event"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/option"
	"github.com/c360/avflow/pkg/timestamp"
)

// SingleOutput is the output index of an implementation with one output
// stream. Per-edge timestamp mappers are created automatically only then.
const SingleOutput = -1

// Base holds the state every implementation shares. Embed it and call Init
// from the constructor.
type Base struct {
	Options  *option.Options
	Logger   *slog.Logger
	Messages *message.Collector
	Metrics  *metric.MetricsRegistry
	// Events dispatches peer and dynamic events. Register handlers in
	// OnConstruct.
	Events   *event.Dispatcher
	Tag      string
	ImplType string

	// InputDescriptors holds the descriptor each peer announced.
	InputDescriptors media.AddressMap[*media.Descriptor]
	// Mappers rescale each peer's timestamps into the output time base.
	Mappers media.AddressMap[*timestamp.Mapper]
	// OutputDescriptors are keyed by output stream index, or SingleOutput.
	OutputDescriptors map[int]*media.Descriptor
	OutputMedia       map[int]media.Kind

	preInit     []*media.Buffer
	initialized atomic.Bool
	dataRelay   atomic.Bool
	warnLimit   *rate.Limiter
}

// Init wires env into b.
func (b *Base) Init(env Env) {
	b.Options = env.Options
	if b.Options == nil {
		b.Options = option.New()
	}
	b.Messages = env.Messages
	b.Metrics = env.Metrics
	b.Tag = b.Options.GetDefault(option.KeyLogtag, "[impl]")
	b.ImplType = b.Options.ImplType()

	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b.Logger = logger.With("node", b.Tag, "impl", b.ImplType)
	b.Events = event.NewDispatcher()
	b.OutputDescriptors = make(map[int]*media.Descriptor)
	b.OutputMedia = make(map[int]media.Kind)
	b.warnLimit = rate.NewLimiter(rate.Every(time.Second), 5)
}

// Core returns b.
func (b *Base) Core() *Base { return b }

// Initialized reports whether dynamic initialization has completed.
func (b *Base) Initialized() bool { return b.initialized.Load() }

// SetInitialized marks dynamic initialization done. Sources that need no
// peer descriptors call it from OnConstruct.
func (b *Base) SetInitialized(v bool) { b.initialized.Store(v) }

// DataRelay reports whether inputs pass through without rescaling.
func (b *Base) DataRelay() bool { return b.dataRelay.Load() }

// SetDataRelay makes inputs pass through without rescaling.
func (b *Base) SetDataRelay(v bool) { b.dataRelay.Store(v) }

// SetOutput records the descriptor of output stream index.
func (b *Base) SetOutput(index int, d *media.Descriptor) {
	b.OutputDescriptors[index] = d
	if d != nil {
		b.OutputMedia[index] = d.Kind
	}
}

// Output returns the descriptor of output stream index.
func (b *Base) Output(index int) *media.Descriptor {
	return b.OutputDescriptors[index]
}

// CachedInputs returns the number of buffers parked before initialization.
func (b *Base) CachedInputs() int {
	return len(b.preInit)
}

// Reset drops negotiated state and cached input so the implementation can
// initialize again.
func (b *Base) Reset() {
	b.initialized.Store(false)
	b.InputDescriptors.Clear()
	b.Mappers.Clear()
	clear(b.OutputDescriptors)
	clear(b.OutputMedia)
	for _, buf := range b.preInit {
		buf.Release()
	}
	b.preInit = nil
}

// Infof records an informational message.
func (b *Base) Infof(code message.Code, format string, args ...any) {
	msg := b.Messages.Add(code, b.Tag, fmt.Sprintf(format, args...))
	b.Logger.Info(msg.Detail, "code", int32(code))
}

// Errorf records an error message and returns it as an error carrying code.
// format may use %w.
func (b *Base) Errorf(code message.Code, format string, args ...any) error {
	err := message.Errorf(code, format, args...)
	msg := b.Messages.Add(code, b.Tag, fmt.Errorf(format, args...).Error())
	b.Logger.Error(msg.Detail, "code", int32(code))
	return err
}

// warnf logs at most a few warnings per second; the rest are dropped.
func (b *Base) warnf(format string, args ...any) {
	if b.warnLimit != nil && !b.warnLimit.Allow() {
		return
	}
	b.Logger.Warn(fmt.Sprintf(format, args...))
}

func (b *Base) cache(buf *media.Buffer) {
	buf.Hold()
	buf.Unlimit()
	b.preInit = append(b.preInit, buf)
	b.warnf("cache data before initialization, %d cached", len(b.preInit))
}

func (b *Base) dropCached(from media.Address) int {
	kept := b.preInit[:0]
	dropped := 0
	for _, buf := range b.preInit {
		if buf.Address().Equal(from) {
			buf.Release()
			dropped++
			continue
		}
		kept = append(kept, buf)
	}
	clear(b.preInit[len(kept):])
	b.preInit = kept
	return dropped
}

func (b *Base) descriptorsComplete(froms []media.Address) bool {
	for _, from := range froms {
		if !b.InputDescriptors.Has(from) {
			return false
		}
	}
	return true
}

func (b *Base) singleOutput() (*media.Descriptor, bool) {
	if len(b.OutputDescriptors) != 1 {
		return nil, false
	}
	d, ok := b.OutputDescriptors[SingleOutput]
	return d, ok && d != nil
}
