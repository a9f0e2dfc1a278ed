package media

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nareix/joy4/av"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/pkg/timestamp"
)

func TestAddressEqual(t *testing.T) {
	p1 := uuid.New()
	p2 := uuid.New()

	tests := []struct {
		name string
		a, b Address
		want bool
	}{
		{"same stream", NewAddress(p1, 1, 0), NewAddress(p1, 1, 0), true},
		{"different stream", NewAddress(p1, 1, 0), NewAddress(p1, 1, 1), false},
		{"flush left", NewAddress(p1, 1, FlushIndex), NewAddress(p1, 1, 3), true},
		{"flush right", NewAddress(p1, 1, 3), NewAddress(p1, 1, FlushIndex), true},
		{"group ignored", NewAddress(p1, 1, 0), NewAddress(p1, 2, 0), true},
		{"different producer", NewAddress(p1, 1, 0), NewAddress(p2, 1, 0), false},
		{"different producer flush", NewAddress(p1, 1, FlushIndex), NewAddress(p2, 1, 0), false},
		{"both flush different producer", NewAddress(p1, 1, FlushIndex), NewAddress(p2, 1, FlushIndex), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a), "equality must be symmetric")
		})
	}
}

func TestAddressFlushMatchesEveryStream(t *testing.T) {
	p := uuid.New()
	flush := NewAddress(p, 0, 0).Flush()
	for s := 0; s < 64; s++ {
		assert.True(t, flush.Equal(NewAddress(p, 0, s)), "stream %d", s)
	}
}

func TestAddressMap(t *testing.T) {
	p1 := uuid.New()
	p2 := uuid.New()

	var m AddressMap[string]
	m.Set(NewAddress(p1, 0, 0), "p1/0")
	m.Set(NewAddress(p1, 0, 1), "p1/1")
	m.Set(NewAddress(p2, 0, 0), "p2/0")
	require.Equal(t, 3, m.Len())

	v, ok := m.Get(NewAddress(p1, 0, 1))
	require.True(t, ok)
	assert.Equal(t, "p1/1", v)

	m.Set(NewAddress(p1, 0, 1), "p1/1b")
	v, _ = m.Get(NewAddress(p1, 0, 1))
	assert.Equal(t, "p1/1b", v)
	assert.Equal(t, 3, m.Len())

	assert.Equal(t, 2, m.Delete(NewAddress(p1, 0, 0).Flush()))
	assert.Equal(t, 1, m.Len())
	assert.False(t, m.Has(NewAddress(p1, 0, 0)))
	assert.True(t, m.Has(NewAddress(p2, 0, 0)))

	m.Clear()
	assert.Zero(t, m.Len())
}

func TestBufferReleaseFreesSlotOnce(t *testing.T) {
	l := NewLimiter(4)
	b := NewPacketBuffer(Address{}, &Packet{Data: []byte{1}}, nil)
	require.NoError(t, l.Limit(t.Context(), b))
	require.Equal(t, 1, l.InFlight())

	b.Hold()
	b.Hold()
	b.Release()
	b.Release()
	assert.Equal(t, 1, l.InFlight(), "slot is held while references remain")

	b.Release()
	assert.Equal(t, 0, l.InFlight())

	// stray releases after the last one must not free other slots
	other := NewPacketBuffer(Address{}, &Packet{}, nil)
	require.NoError(t, l.Limit(t.Context(), other))
	b.Release()
	b.Unlimit()
	assert.Equal(t, 1, l.InFlight())
}

func TestBufferUnlimit(t *testing.T) {
	l := NewLimiter(1)
	b := NewFrameBuffer(Address{}, &Frame{PTS: 1}, nil)
	require.NoError(t, l.Limit(t.Context(), b))
	assert.True(t, b.Limited())

	b.Unlimit()
	assert.False(t, b.Limited())
	assert.Equal(t, 0, l.InFlight())

	b.Release()
	assert.Equal(t, 0, l.InFlight())
}

func TestBufferClone(t *testing.T) {
	desc := NewVideoDescriptor("yuv420p", 320, 240, timestamp.Rational{Num: 1, Den: 25}, timestamp.Rational{Num: 25, Den: 1})
	b := NewPacketBuffer(NewAddress(uuid.New(), 0, 0), &Packet{
		Times: timestamp.Times{PTS: 10, DTS: 9},
		Data:  []byte{0xde, 0xad},
	}, desc)
	b.Meta = map[string]string{"roi": "0,0,10,10"}
	l := NewLimiter(1)
	require.NoError(t, l.Limit(t.Context(), b))

	c := b.Clone()
	c.Packet.PTS = 400
	c.Meta["roi"] = "changed"

	assert.Equal(t, int64(10), b.Packet.PTS)
	assert.Equal(t, "0,0,10,10", b.Meta["roi"])
	assert.Same(t, &b.Packet.Data[0], &c.Packet.Data[0], "payload bytes are shared")
	assert.Same(t, b.Descriptor, c.Descriptor)
	assert.False(t, c.Limited())
	assert.True(t, b.Address().Equal(c.Address()))

	c.Release()
	assert.Equal(t, 1, l.InFlight())
	b.Release()
	assert.Equal(t, 0, l.InFlight())
}

func TestFlushBuffer(t *testing.T) {
	addr := NewAddress(uuid.New(), 3, 2)
	f := NewFlush(addr)
	assert.True(t, f.IsFlush())
	assert.True(t, f.Address().IsFlush())
	assert.True(t, f.Address().Equal(addr))
	assert.Contains(t, f.String(), "flush")

	assert.False(t, NewPacketBuffer(addr, &Packet{}, nil).IsFlush())
}

func TestPacketAVConversion(t *testing.T) {
	tb := timestamp.Rational{Num: 1, Den: 90000}
	in := av.Packet{
		IsKeyFrame:      true,
		Time:            time.Second,
		CompositionTime: 40 * time.Millisecond,
		Data:            []byte{1, 2, 3},
	}

	p := PacketFromAV(in, tb)
	assert.Equal(t, int64(90000), p.DTS)
	assert.Equal(t, int64(93600), p.PTS)
	assert.True(t, p.KeyFrame)

	out := p.AV(1, tb)
	assert.Equal(t, int8(1), out.Idx)
	assert.Equal(t, in.Time, out.Time)
	assert.Equal(t, in.CompositionTime, out.CompositionTime)
}

func TestDescriptorValidate(t *testing.T) {
	tb := timestamp.Rational{Num: 1, Den: 1000}

	tests := []struct {
		name    string
		desc    *Descriptor
		wantErr bool
	}{
		{"video", NewVideoDescriptor("yuv420p", 640, 480, tb, timestamp.Rational{Num: 30, Den: 1}), false},
		{"video without size", NewVideoDescriptor("yuv420p", 0, 480, tb, timestamp.Rational{}), true},
		{"audio", NewAudioDescriptor(av.FLTP, 48000, av.CH_STEREO, tb), false},
		{"audio without channels", NewAudioDescriptor(av.FLTP, 48000, 0, tb), true},
		{"bad time base", NewAudioDescriptor(av.S16, 8000, av.CH_MONO, timestamp.Rational{}), true},
		{"unknown kind", &Descriptor{TimeBase: tb}, true},
		{"nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidDescriptor)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDescriptorFromNilCodec(t *testing.T) {
	_, err := DescriptorFromCodec(nil, timestamp.Millisecond)
	assert.ErrorIs(t, err, errors.ErrInvalidDescriptor)
}
