// Package mp4 provides the MP4 muxer implementation. It writes one track per
// connected peer and finishes the file once every peer has flushed.
package mp4

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nareix/joy4/av"
	mp4fmt "github.com/nareix/joy4/format/mp4"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/option"
)

type track struct {
	from  media.Address
	index int
	ended bool
}

// Muxer writes encoded packets into an MP4 file.
type Muxer struct {
	impl.Base

	path   string
	file   *os.File
	mux    *mp4fmt.Muxer
	tracks []track

	packets atomic.Uint64
	dropped atomic.Uint64
}

// New creates a muxer.
func New(env impl.Env) (impl.Implementation, error) {
	m := &Muxer{}
	m.Init(env)
	return m, nil
}

// OnConstruct validates the output options. The file is created once every
// peer has announced its stream.
func (m *Muxer) OnConstruct() error {
	url := m.Options.GetDefault(option.KeyOutputURL, "")
	if url == "" {
		return m.Errorf(message.CodeDictMissOutput, "%w", errors.ErrMissingConfig)
	}
	if f := m.Options.GetDefault(option.KeyContainerFmt, "mp4"); !strings.EqualFold(f, "mp4") {
		return errors.WrapInvalid(errors.ErrValueInvalid, "mp4-muxer", "construct", "container format "+f)
	}
	m.path = strings.TrimPrefix(url, "file://")
	return nil
}

// OnDynamicallyInitialize writes the file header with one track per peer,
// in connection order.
func (m *Muxer) OnDynamicallyInitialize(ctx *impl.Context) error {
	codecs := make([]av.CodecData, 0, len(ctx.Froms))
	m.tracks = m.tracks[:0]
	for i, from := range ctx.Froms {
		desc, _ := m.InputDescriptors.Get(from)
		if desc == nil || !desc.IsEncoded() {
			return errors.WrapInvalid(errors.ErrInvalidDescriptor, "mp4-muxer", "initialize",
				"peer "+from.String()+" does not send encoded packets")
		}
		codecs = append(codecs, desc.Codec)
		m.tracks = append(m.tracks, track{from: from, index: i})
	}

	f, err := os.Create(m.path)
	if err != nil {
		return errors.Wrap(err, "mp4-muxer", "initialize", "create output")
	}
	mux := mp4fmt.NewMuxer(f)
	if err := mux.WriteHeader(codecs); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "mp4-muxer", "initialize", "write header")
	}
	m.file, m.mux = f, mux
	m.Logger.Info("output opened", "path", m.path, "tracks", len(codecs))
	return nil
}

// OnProcess writes one packet. The last flush finishes the file and ends the
// stream.
func (m *Muxer) OnProcess(ctx *impl.Context) error {
	ctx.Expect = impl.ExpectAnyOne()
	if ctx.In == nil {
		return errors.ErrTryAgain
	}

	if ctx.InputFlush {
		m.endTracks(ctx.In.Address())
		if m.allEnded() {
			if err := m.finish(); err != nil {
				return m.Errorf(message.CodeImplProcess, "finish output: %v", err)
			}
			return errors.ErrEndOfStream
		}
		return nil
	}

	in := ctx.Input()
	t := m.track(ctx.In.Address())
	if t == nil || in.Packet == nil {
		m.dropped.Add(1)
		m.Infof(message.WarnDropData, "no track for %s", in)
		return nil
	}
	if m.mux == nil {
		return errors.ErrEndOfStream
	}

	if err := m.mux.WritePacket(in.Packet.AV(t.index, in.Descriptor.TimeBase)); err != nil {
		return m.Errorf(message.CodeImplProcess, "write packet: %v", err)
	}
	m.packets.Add(1)
	return nil
}

func (m *Muxer) track(from media.Address) *track {
	for i := range m.tracks {
		if m.tracks[i].from.Equal(from) {
			return &m.tracks[i]
		}
	}
	return nil
}

// endTracks marks every track of flush's producer ended. One flush from a
// demuxer ends all the tracks it feeds.
func (m *Muxer) endTracks(flush media.Address) {
	for i := range m.tracks {
		if m.tracks[i].from.Equal(flush) {
			m.tracks[i].ended = true
		}
	}
}

func (m *Muxer) allEnded() bool {
	for _, t := range m.tracks {
		if !t.ended {
			return false
		}
	}
	return true
}

func (m *Muxer) finish() error {
	if m.mux == nil {
		return nil
	}
	err := m.mux.WriteTrailer()
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	m.file, m.mux = nil, nil
	m.Logger.Info("output finished", "path", m.path, "packets", m.packets.Load())
	return err
}

// OnProcessTravelDynamic drops peers joining after the header was written;
// an MP4 file cannot gain tracks.
func (m *Muxer) OnProcessTravelDynamic(ctx *impl.Context) error {
	m.Logger.Warn("peer joined after header, its data is dropped", "peer", ctx.In.Address().String())
	return nil
}

// OnDestruct finishes a file that did not see every flush.
func (m *Muxer) OnDestruct() error {
	return m.finish()
}

// Statistics implements impl.Statistician.
func (m *Muxer) Statistics() map[string]string {
	return map[string]string{
		"path":    m.path,
		"tracks":  strconv.Itoa(len(m.tracks)),
		"packets": strconv.FormatUint(m.packets.Load(), 10),
		"dropped": strconv.FormatUint(m.dropped.Load(), 10),
	}
}

// Register registers the muxer under the Mux category.
func Register(registry *impl.Registry) error {
	return registry.Register(impl.RegistrationConfig{
		Category: option.Mux,
		Variants: []string{option.DefaultImplType, "mp4"},
		Properties: impl.Properties{
			Description: "Writes H.264 and AAC packets into an MP4 file",
			Inputs:      []option.DataType{option.InVideoBitstream, option.InAudioBitstream},
			Attributes:  map[string]string{"container": "mp4"},
		},
		Factory: New,
	})
}
