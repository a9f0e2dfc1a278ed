package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/event"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/option"
)

// MockVariant is the variant name every mock implementation registers under.
const MockVariant = "mock"

// Raw option names the mocks read.
const (
	// OptPackets is how many packets MockSource emits per stream.
	OptPackets = "mock_packets"
	// OptStreams is how many output streams MockSource has; stream 0 is
	// video, the rest audio.
	OptStreams = "mock_streams"
	// OptPublish makes MockSource publish a VideoMixSync event per packet.
	OptPublish = "mock_publish"
	// OptRelay makes MockSink initialized from construction, so its input is
	// never cached and never rescaled.
	OptRelay = "mock_relay"
	// OptFail makes a mock return a plain error from every OnProcess call.
	OptFail = "mock_fail"
)

// MockSource emits numbered packets without needing any input.
type MockSource struct {
	impl.Base

	packets int
	streams int
	publish bool
	emitted atomic.Int64
}

// NewMockSource is the factory of MockSource.
func NewMockSource(env impl.Env) (impl.Implementation, error) {
	s := &MockSource{}
	s.Init(env)
	return s, nil
}

func (s *MockSource) OnConstruct() error {
	var err error
	if s.packets, err = rawInt(s.Options, OptPackets, 3); err != nil {
		return err
	}
	if s.streams, err = rawInt(s.Options, OptStreams, 1); err != nil {
		return err
	}
	s.publish, _ = s.Options.RawBool(OptPublish)
	for i := range s.streams {
		if i == 0 {
			s.SetOutput(i, VideoDescriptor())
		} else {
			s.SetOutput(i, AudioDescriptor())
		}
	}
	s.SetInitialized(true)
	return nil
}

func (s *MockSource) OnDestruct() error { return nil }

func (s *MockSource) OnProcess(ctx *impl.Context) error {
	ctx.Expect = impl.ExpectNothing()
	n := int(s.emitted.Load())
	if n >= s.packets*s.streams {
		return errors.ErrEndOfStream
	}
	stream := n % s.streams
	seq := int64(n / s.streams)
	ctx.Emit(media.NewPacketBuffer(media.Address{Stream: stream}, Packet(seq), s.Output(stream)))
	ctx.CurStreamIndex = stream
	if s.publish {
		ctx.Publish(&event.VideoMixSync{MixPTS: seq})
	}
	s.emitted.Add(1)
	return nil
}

func (s *MockSource) OnDynamicallyInitialize(*impl.Context) error { return nil }

func (s *MockSource) OnProcessTravelDynamic(*impl.Context) error { return nil }

// Emitted returns how many packets were emitted so far.
func (s *MockSource) Emitted() int { return int(s.emitted.Load()) }

// MockTransform forwards every input on output stream 0. It ends once its
// last peer has flushed.
type MockTransform struct {
	impl.Base

	fail      bool
	forwarded atomic.Int64
}

// NewMockTransform is the factory of MockTransform.
func NewMockTransform(env impl.Env) (impl.Implementation, error) {
	t := &MockTransform{}
	t.Init(env)
	return t, nil
}

func (t *MockTransform) OnConstruct() error {
	t.fail, _ = t.Options.RawBool(OptFail)
	return nil
}

func (t *MockTransform) OnDestruct() error { return nil }

func (t *MockTransform) OnDynamicallyInitialize(ctx *impl.Context) error {
	for _, from := range ctx.Froms {
		if desc, ok := t.InputDescriptors.Get(from); ok && desc != nil {
			t.SetOutput(impl.SingleOutput, desc)
			return nil
		}
	}
	return errors.ErrInvalidDescriptor
}

func (t *MockTransform) OnProcessTravelDynamic(*impl.Context) error { return nil }

func (t *MockTransform) OnProcess(ctx *impl.Context) error {
	ctx.Expect = impl.ExpectAnyOne()
	if ctx.In == nil {
		return errors.ErrTryAgain
	}
	if ctx.InputFlush {
		if len(ctx.Froms) <= 1 {
			return errors.ErrEndOfStream
		}
		return nil
	}
	if t.fail {
		return errors.New("mock failure")
	}
	out := ctx.Input().Clone()
	out.SetAddress(media.Address{Stream: media.DefaultStream})
	ctx.Emit(out)
	t.forwarded.Add(1)
	return nil
}

// Forwarded returns how many buffers were forwarded.
func (t *MockTransform) Forwarded() int { return int(t.forwarded.Load()) }

// Received is one buffer a MockSink consumed.
type Received struct {
	From media.Address
	DTS  int64
	Data []byte
}

// MockSink records every input and every VideoMixSync or StopPublishing
// event it is handed. It ends once its last peer has flushed.
type MockSink struct {
	impl.Base

	mu       sync.Mutex
	received []Received
	syncs    []*event.VideoMixSync
	stops    []media.Address
	flushes  int
}

// NewMockSink is the factory of MockSink.
func NewMockSink(env impl.Env) (impl.Implementation, error) {
	s := &MockSink{}
	s.Init(env)
	return s, nil
}

func (s *MockSink) OnConstruct() error {
	if relay, _ := s.Options.RawBool(OptRelay); relay {
		s.SetInitialized(true)
		s.SetDataRelay(true)
	}
	event.Handle(s.Events, func(e *event.VideoMixSync) error {
		s.mu.Lock()
		s.syncs = append(s.syncs, e)
		s.mu.Unlock()
		return nil
	})
	event.Handle(s.Events, func(e *event.StopPublishing) error {
		s.mu.Lock()
		s.stops = append(s.stops, e.Address())
		s.mu.Unlock()
		return nil
	})
	return nil
}

func (s *MockSink) OnDestruct() error { return nil }

func (s *MockSink) OnDynamicallyInitialize(ctx *impl.Context) error {
	for _, from := range ctx.Froms {
		if desc, ok := s.InputDescriptors.Get(from); ok && desc != nil {
			s.SetOutput(impl.SingleOutput, desc)
			return nil
		}
	}
	return errors.ErrInvalidDescriptor
}

func (s *MockSink) OnProcessTravelDynamic(*impl.Context) error { return nil }

func (s *MockSink) OnProcess(ctx *impl.Context) error {
	ctx.Expect = impl.ExpectAnyOne()
	if ctx.In == nil {
		return errors.ErrTryAgain
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.InputFlush {
		s.flushes++
		if len(ctx.Froms) <= 1 {
			return errors.ErrEndOfStream
		}
		return nil
	}
	in := ctx.Input()
	r := Received{From: ctx.In.Address()}
	if in.Packet != nil {
		r.DTS = in.Packet.DTS
		r.Data = in.Packet.Data
	}
	s.received = append(s.received, r)
	return nil
}

// Received returns a copy of the consumed buffers in arrival order.
func (s *MockSink) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// Syncs returns the VideoMixSync events handled so far.
func (s *MockSink) Syncs() []*event.VideoMixSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.VideoMixSync(nil), s.syncs...)
}

// Stops returns the publishers whose StopPublishing event was handled.
func (s *MockSink) Stops() []media.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Address(nil), s.stops...)
}

// Flushes returns how many flush markers arrived.
func (s *MockSink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

var transformCategories = []option.Category{
	option.DataRelay,
	option.VideoDecode,
	option.AudioDecode,
	option.VideoFilter,
	option.AudioFilter,
	option.VideoMix,
	option.AudioMix,
	option.VideoEncode,
	option.AudioEncode,
}

// Register registers the mocks: MockSource as Demux, MockSink as Mux and
// MockTransform as every other category, all under MockVariant.
func Register(registry *impl.Registry) error {
	regs := []impl.RegistrationConfig{
		{Category: option.Demux, Variants: []string{MockVariant}, Factory: NewMockSource},
		{Category: option.Mux, Variants: []string{MockVariant}, Factory: NewMockSink},
	}
	for _, c := range transformCategories {
		regs = append(regs, impl.RegistrationConfig{Category: c, Variants: []string{MockVariant}, Factory: NewMockTransform})
	}
	for _, r := range regs {
		r.Properties.Description = "test double"
		if err := registry.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding only the mocks.
func NewRegistry() *impl.Registry {
	reg := impl.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

// Wave returns options selecting the mock of category.
func Wave(category option.Category) *option.Options {
	return option.NewWave(category, MockVariant)
}

func rawInt(o *option.Options, key string, def int) (int, error) {
	if !o.HasRaw(key) {
		return def, nil
	}
	return o.RawInt(key, 0, 1<<30)
}
