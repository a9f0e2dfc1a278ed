package mp4

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/impl"
	inputmp4 "github.com/c360/avflow/input/mp4"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/option"
	"github.com/c360/avflow/pkg/timestamp"
)

func aacDescriptor(t *testing.T) *media.Descriptor {
	t.Helper()
	codec, err := aacparser.NewCodecDataFromMPEG4AudioConfig(aacparser.MPEG4AudioConfig{
		ObjectType:      2,
		SampleRateIndex: 4,
		ChannelConfig:   2,
	})
	require.NoError(t, err)
	desc, err := media.DescriptorFromCodec(codec, timestamp.Rational{Num: 1, Den: 44100})
	require.NoError(t, err)
	return desc
}

func newRegistry(t *testing.T) *impl.Registry {
	t.Helper()
	reg := impl.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, inputmp4.Register(reg))
	return reg
}

func create(t *testing.T, reg *impl.Registry, cat option.Category, key option.Key, url string) impl.Implementation {
	t.Helper()
	opts := option.NewWave(cat, "mp4")
	require.NoError(t, opts.Set(key, url))
	im, err := reg.Create(impl.Env{Options: opts})
	require.NoError(t, err)
	return im
}

func TestMuxThenDemux(t *testing.T) {
	reg := newRegistry(t)
	path := filepath.Join(t.TempDir(), "out.mp4")
	desc := aacDescriptor(t)
	from := media.NewAddress(uuid.New(), 0, media.DefaultStream)
	froms := []media.Address{from}

	mux := create(t, reg, option.Mux, option.KeyOutputURL, "file://"+path)
	const n = 5
	for i := range n {
		ts := int64(i * 1024)
		in := media.NewPacketBuffer(from, &media.Packet{
			Times:    timestamp.Times{PTS: ts, DTS: ts},
			KeyFrame: true,
			Data:     []byte{byte(i), 0xA, 0xB, 0xC},
		}, desc)
		require.NoError(t, impl.Process(mux, impl.NewContext(froms, in, impl.ExpectAnyOne())))
	}
	err := impl.Process(mux, impl.NewContext(froms, media.NewFlush(from), impl.ExpectAnyOne()))
	require.True(t, errors.IsEOF(err), "got %v", err)
	assert.Equal(t, "5", mux.(*Muxer).Statistics()["packets"])
	require.NoError(t, impl.Destroy(mux))

	demux := create(t, reg, option.Demux, option.KeyInputURL, path)
	defer impl.Destroy(demux)
	out := demux.Core().Output(0)
	require.NotNil(t, out)
	assert.Equal(t, media.KindAudio, out.Kind)
	assert.Equal(t, 44100, out.SampleRate)

	var got [][]byte
	var last int64 = -1
	for range n + 1 {
		ctx := impl.NewContext(nil, nil, impl.ExpectNothing())
		err := impl.Process(demux, ctx)
		if errors.IsEOF(err) {
			break
		}
		require.NoError(t, err)
		require.Len(t, ctx.Outputs, 1)
		b := ctx.Outputs[0]
		assert.Equal(t, 0, b.Address().Stream)
		assert.Greater(t, b.Packet.DTS, last)
		last = b.Packet.DTS
		got = append(got, b.Packet.Data)
	}
	require.Len(t, got, n)
	for i, data := range got {
		assert.Equal(t, []byte{byte(i), 0xA, 0xB, 0xC}, data)
	}
}

func TestOneFlushEndsEveryTrackOfItsProducer(t *testing.T) {
	reg := newRegistry(t)
	mux := create(t, reg, option.Mux, option.KeyOutputURL, "file://"+filepath.Join(t.TempDir(), "two.mp4"))
	defer impl.Destroy(mux)
	desc := aacDescriptor(t)
	producer := media.NewAddress(uuid.New(), 0, media.DefaultStream)
	froms := []media.Address{producer.WithStream(0), producer.WithStream(1)}

	for _, from := range froms {
		in := media.NewPacketBuffer(from, &media.Packet{KeyFrame: true, Data: []byte{0xA}}, desc)
		require.NoError(t, impl.Process(mux, impl.NewContext(froms, in, impl.ExpectAnyOne())))
	}
	assert.Equal(t, "2", mux.(*Muxer).Statistics()["packets"])

	err := impl.Process(mux, impl.NewContext(froms, media.NewFlush(producer), impl.ExpectAnyOne()))
	assert.True(t, errors.IsEOF(err), "got %v", err)
}

func TestMuxRejectsRawInput(t *testing.T) {
	reg := newRegistry(t)
	mux := create(t, reg, option.Mux, option.KeyOutputURL, filepath.Join(t.TempDir(), "raw.mp4"))
	from := media.NewAddress(uuid.New(), 0, media.DefaultStream)

	raw := media.NewVideoDescriptor("yuv420p", 320, 240, timestamp.MPEG, timestamp.Rational{Num: 25, Den: 1})
	in := media.NewFrameBuffer(from, &media.Frame{PTS: 0}, raw)
	err := impl.Process(mux, impl.NewContext([]media.Address{from}, in, impl.ExpectAnyOne()))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrDynamicInit)
}

func TestMuxOptions(t *testing.T) {
	reg := newRegistry(t)

	_, err := reg.Create(impl.Env{Options: option.NewWave(option.Mux, "mp4")})
	assert.ErrorIs(t, err, errors.ErrCreateImplementation)

	opts := option.NewWave(option.Mux, "auto")
	require.NoError(t, opts.Set(option.KeyOutputURL, "out.flv"))
	require.NoError(t, opts.Set(option.KeyContainerFmt, "flv"))
	_, err = reg.Create(impl.Env{Options: opts})
	assert.ErrorIs(t, err, errors.ErrValueInvalid)
}
