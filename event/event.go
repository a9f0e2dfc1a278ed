// Package event defines the control messages nodes exchange besides media
// buffers: peer events published from one node to its subscribers, and
// dynamic events a control plane delivers to a running node.
//
// Each event is a struct with a Kind. Receivers dispatch on the Kind through a
// Dispatcher rather than on the Go type name.
package event

import (
	"fmt"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/media"
)

// Kind identifies an event type.
type Kind int

const (
	KindUnknown Kind = iota
	// peer events
	KindStopPublishing
	KindVideoMixSync
	// dynamic events
	KindVideoMixLayoutUpdate
	KindAudioMixMuteUnmute
	KindVideoMixSetBackground
	KindVideoKeyFrameRequest
)

func (k Kind) String() string {
	switch k {
	case KindStopPublishing:
		return "StopPublishing"
	case KindVideoMixSync:
		return "VideoMixSync"
	case KindVideoMixLayoutUpdate:
		return "VideoMixLayoutUpdate"
	case KindAudioMixMuteUnmute:
		return "AudioMixMuteUnmute"
	case KindVideoMixSetBackground:
		return "VideoMixSetBackground"
	case KindVideoKeyFrameRequest:
		return "VideoKeyFrameRequest"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is anything carried on an event edge or delivered to a node.
type Event interface {
	Kind() Kind
	// Address is the publishing node's address, stamped on publish.
	Address() media.Address
	SetAddress(media.Address)
}

// Base carries the publisher address. Embed it in event structs.
type Base struct {
	From media.Address
}

func (b *Base) Address() media.Address { return b.From }
func (b *Base) SetAddress(a media.Address) { b.From = a }

// StopPublishing is broadcast by a node when its loop exits.
type StopPublishing struct {
	Base
}

func (*StopPublishing) Kind() Kind { return KindStopPublishing }

// StreamPosition is the current position of one mixed stream.
type StreamPosition struct {
	From media.Address
	// PTS is the stream's own pts in microseconds.
	PTS int64
}

// VideoMixSync reports a video mixer's progress so audio mixing can follow it.
type VideoMixSync struct {
	Base
	Streams []StreamPosition
	// MixPTS is the mixer output pts in microseconds.
	MixPTS int64
}

func (*VideoMixSync) Kind() Kind { return KindVideoMixSync }

// Layout selects a predefined video mix arrangement.
type Layout int

const (
	LayoutUnknown Layout = iota - 1
	LayoutAuto
	LayoutSingle1
	LayoutHorizontal2
	LayoutLeft1SmallRight1Big2
	LayoutLeft2SmallRight1Big3
	LayoutEqual4
	LayoutLeft1BigRight3Small4
	LayoutRow2Col3
	LayoutEqual9
	LayoutRow3Col4
	LayoutEqual16
	LayoutEqual25
	LayoutEqual36
	LayoutSpecific
)

// Cell places one stream in a video mix.
type Cell struct {
	X, Y, W, H int
	Layer      int
}

// VideoMixLayoutUpdate changes a running mixer's layout.
type VideoMixLayoutUpdate struct {
	Base
	Layout Layout
	// Cells overrides individual cell positions.
	Cells []Cell
}

func (*VideoMixLayoutUpdate) Kind() Kind { return KindVideoMixLayoutUpdate }

// AudioMixMuteUnmute mutes or unmutes streams by group.
type AudioMixMuteUnmute struct {
	Base
	Mute   []media.GroupID
	Unmute []media.GroupID
}

func (*AudioMixMuteUnmute) Kind() Kind { return KindAudioMixMuteUnmute }

// VideoMixSetBackground replaces a mixer's background image.
type VideoMixSetBackground struct {
	Base
	URL string
}

func (*VideoMixSetBackground) Kind() Kind { return KindVideoMixSetBackground }

// VideoKeyFrameRequest asks an encoder for a key frame.
type VideoKeyFrameRequest struct {
	Base
	ForceIDR bool
}

func (*VideoKeyFrameRequest) Kind() Kind { return KindVideoKeyFrameRequest }

// Handler processes one event.
type Handler func(Event) error

// Dispatcher routes events to handlers by Kind. It is populated while a node
// is constructed and read-only afterwards.
type Dispatcher struct {
	handlers map[Kind]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind]Handler)}
}

// Register installs h for kind, replacing any previous handler.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Supports reports whether a handler is registered for kind.
func (d *Dispatcher) Supports(kind Kind) bool {
	_, ok := d.handlers[kind]
	return ok
}

// Dispatch calls the handler registered for e's kind.
func (d *Dispatcher) Dispatch(e Event) error {
	if e == nil {
		return errors.WrapInvalid(errors.ErrEventNotSupported, "Dispatcher", "Dispatch", "nil event")
	}
	h, ok := d.handlers[e.Kind()]
	if !ok {
		return errors.WrapInvalid(errors.ErrEventNotSupported, "Dispatcher", "Dispatch", e.Kind().String())
	}
	return h(e)
}

// Handle registers a typed handler for the event type T.
func Handle[T Event](d *Dispatcher, fn func(T) error) {
	var zero T
	d.Register(zero.Kind(), func(e Event) error {
		typed, ok := e.(T)
		if !ok {
			return errors.WrapInvalid(errors.ErrTypeMismatch, "Dispatcher", "Handle", e.Kind().String())
		}
		return fn(typed)
	})
}
