package media

import (
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nareix/joy4/av"

	"github.com/c360/avflow/pkg/timestamp"
)

// Packet is one encoded access unit. Timestamps are in the time base of the
// buffer's descriptor.
type Packet struct {
	timestamp.Times
	KeyFrame bool
	Data     []byte
}

// PacketFromAV converts a demuxed joy4 packet, whose times are durations, to
// ticks of timeBase.
func PacketFromAV(pkt av.Packet, timeBase timestamp.Rational) *Packet {
	dts := timestamp.FromDuration(pkt.Time, timeBase)
	return &Packet{
		Times: timestamp.Times{
			DTS: dts,
			PTS: dts + timestamp.FromDuration(pkt.CompositionTime, timeBase),
		},
		KeyFrame: pkt.IsKeyFrame,
		Data:     pkt.Data,
	}
}

// AV converts p to a joy4 packet for stream index idx.
func (p *Packet) AV(idx int, timeBase timestamp.Rational) av.Packet {
	dts := timestamp.ToDuration(p.DTS, timeBase)
	var cts time.Duration
	if p.PTS != timestamp.NoValue && p.DTS != timestamp.NoValue {
		cts = timestamp.ToDuration(p.PTS-p.DTS, timeBase)
	}
	return av.Packet{
		IsKeyFrame:      p.KeyFrame,
		Idx:             int8(idx),
		Time:            dts,
		CompositionTime: cts,
		Data:            p.Data,
	}
}

// Frame is one decoded picture or block of audio samples.
type Frame struct {
	PTS      int64
	Duration int64
	KeyFrame bool
	// Planes holds the sample data, one slice per plane.
	Planes [][]byte
	// Samples is the number of audio samples per channel.
	Samples int
}

// Buffer carries at most one packet or one frame between nodes. A buffer with
// neither is a flush marker.
//
// A buffer is reference counted. The producer holds the first reference;
// every queue that accepts it takes another. When the last reference is
// released the limiter slot attached to it, if any, is given back.
type Buffer struct {
	addr Address

	Packet     *Packet
	Frame      *Frame
	Descriptor *Descriptor
	// Meta is per-buffer dynamic data such as detection results.
	Meta map[string]string

	refs atomic.Int32
	mu   sync.Mutex
	slot *Slot
}

// NewPacketBuffer wraps an encoded packet.
func NewPacketBuffer(addr Address, pkt *Packet, desc *Descriptor) *Buffer {
	b := &Buffer{addr: addr, Packet: pkt, Descriptor: desc}
	b.refs.Store(1)
	return b
}

// NewFrameBuffer wraps a decoded frame.
func NewFrameBuffer(addr Address, frame *Frame, desc *Descriptor) *Buffer {
	b := &Buffer{addr: addr, Frame: frame, Descriptor: desc}
	b.refs.Store(1)
	return b
}

// NewFlush returns an end-of-stream marker for addr's producer.
func NewFlush(addr Address) *Buffer {
	b := &Buffer{addr: addr.Flush()}
	b.refs.Store(1)
	return b
}

// Address returns the origin of the buffer.
func (b *Buffer) Address() Address { return b.addr }

// SetAddress sets the origin. Producers call it before emitting.
func (b *Buffer) SetAddress(addr Address) { b.addr = addr }

// IsFlush reports whether b carries no payload.
func (b *Buffer) IsFlush() bool {
	return b.Packet == nil && b.Frame == nil
}

// Hold takes a reference.
func (b *Buffer) Hold() {
	b.refs.Add(1)
}

// Release drops a reference. The last release frees the limiter slot.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	if b.refs.Add(-1) == 0 {
		b.Unlimit()
	}
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 {
	return b.refs.Load()
}

// Unlimit gives the attached limiter slot back now, without waiting for the
// last release. Nodes use it for buffers they park while not yet initialized.
func (b *Buffer) Unlimit() {
	b.mu.Lock()
	slot := b.slot
	b.slot = nil
	b.mu.Unlock()
	slot.Release()
}

// Limited reports whether a limiter slot is attached.
func (b *Buffer) Limited() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot != nil
}

func (b *Buffer) attach(slot *Slot) {
	b.mu.Lock()
	prev := b.slot
	b.slot = slot
	b.mu.Unlock()
	prev.Release()
}

// Clone returns a buffer sharing b's payload bytes but with its own
// timestamps, metadata and reference count, and no limiter slot.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{
		addr:       b.addr,
		Descriptor: b.Descriptor,
		Meta:       maps.Clone(b.Meta),
	}
	if b.Packet != nil {
		pkt := *b.Packet
		c.Packet = &pkt
	}
	if b.Frame != nil {
		frame := *b.Frame
		c.Frame = &frame
	}
	c.refs.Store(1)
	return c
}

func (b *Buffer) String() string {
	switch {
	case b.Packet != nil:
		return fmt.Sprintf("packet{%s pts %d dts %d key %t size %d}",
			b.addr, b.Packet.PTS, b.Packet.DTS, b.Packet.KeyFrame, len(b.Packet.Data))
	case b.Frame != nil:
		return fmt.Sprintf("frame{%s pts %d planes %d}", b.addr, b.Frame.PTS, len(b.Frame.Planes))
	default:
		return fmt.Sprintf("flush{%s}", b.addr)
	}
}
