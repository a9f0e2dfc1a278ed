// Package file provides the MPEG-TS file muxer implementation. It writes one
// elementary stream per connected peer through a buffered writer, creating
// the output directory when needed, and finishes the file once every peer
// has flushed.
package file

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/ts"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/option"
)

// Raw option keys read by the muxer.
const (
	// OptAppend appends to an existing file instead of truncating it.
	OptAppend = "file_append"
	// OptBufferSize sets the write buffer in bytes.
	OptBufferSize = "file_buffer_size"
)

const defaultBufferSize = 64 << 10

var containerNames = []string{"mpegts", "ts"}

type stream struct {
	from  media.Address
	index int
	ended bool
}

// Muxer writes encoded packets into an MPEG-TS file.
type Muxer struct {
	impl.Base

	path       string
	append     bool
	bufferSize int

	file    *os.File
	w       *bufio.Writer
	mux     *ts.Muxer
	streams []stream

	packets atomic.Uint64
	bytes   atomic.Uint64
	dropped atomic.Uint64
}

// New creates a muxer.
func New(env impl.Env) (impl.Implementation, error) {
	m := &Muxer{}
	m.Init(env)
	return m, nil
}

// OnConstruct validates the output options. The file is opened once every
// peer has announced its stream.
func (m *Muxer) OnConstruct() error {
	url := m.Options.GetDefault(option.KeyOutputURL, "")
	if url == "" {
		return m.Errorf(message.CodeDictMissOutput, "%w", errors.ErrMissingConfig)
	}
	if f := m.Options.GetDefault(option.KeyContainerFmt, "mpegts"); !isContainer(f) {
		return errors.WrapInvalid(errors.ErrValueInvalid, "ts-muxer", "construct", "container format "+f)
	}
	m.path = strings.TrimPrefix(url, "file://")

	if m.Options.HasRaw(OptAppend) {
		v, err := m.Options.RawBool(OptAppend)
		if err != nil {
			return errors.WrapInvalid(err, "ts-muxer", "construct", "option "+OptAppend)
		}
		m.append = v
	}
	m.bufferSize = defaultBufferSize
	if m.Options.HasRaw(OptBufferSize) {
		v, err := m.Options.RawInt(OptBufferSize, 188, 64<<20)
		if err != nil {
			return errors.WrapInvalid(err, "ts-muxer", "construct", "option "+OptBufferSize)
		}
		m.bufferSize = v
	}
	return nil
}

func isContainer(name string) bool {
	for _, c := range containerNames {
		if strings.EqualFold(name, c) {
			return true
		}
	}
	return false
}

// OnDynamicallyInitialize opens the file and writes the program tables with
// one stream per peer, in connection order.
func (m *Muxer) OnDynamicallyInitialize(ctx *impl.Context) error {
	codecs := make([]av.CodecData, 0, len(ctx.Froms))
	m.streams = m.streams[:0]
	for i, from := range ctx.Froms {
		desc, _ := m.InputDescriptors.Get(from)
		if desc == nil || !desc.IsEncoded() {
			return errors.WrapInvalid(errors.ErrInvalidDescriptor, "ts-muxer", "initialize",
				"peer "+from.String()+" does not send encoded packets")
		}
		codecs = append(codecs, desc.Codec)
		m.streams = append(m.streams, stream{from: from, index: i})
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "ts-muxer", "initialize", "create directory")
		}
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if m.append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(m.path, flags, 0o644)
	if err != nil {
		return errors.Wrap(err, "ts-muxer", "initialize", "open output")
	}

	w := bufio.NewWriterSize(&countingWriter{w: f, n: &m.bytes}, m.bufferSize)
	mux := ts.NewMuxer(w)
	if err := mux.WriteHeader(codecs); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "ts-muxer", "initialize", "write header")
	}
	m.file, m.w, m.mux = f, w, mux
	m.Logger.Info("output opened", "path", m.path, "streams", len(codecs), "append", m.append)
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
		m.endStreams(ctx.In.Address())
		if m.allEnded() {
			if err := m.finish(); err != nil {
				return m.Errorf(message.CodeImplProcess, "finish output: %v", err)
			}
			return errors.ErrEndOfStream
		}
		return nil
	}

	in := ctx.Input()
	s := m.stream(ctx.In.Address())
	if s == nil || in.Packet == nil {
		m.dropped.Add(1)
		m.Infof(message.WarnDropData, "no stream for %s", in)
		return nil
	}
	if m.mux == nil {
		return errors.ErrEndOfStream
	}

	if err := m.mux.WritePacket(in.Packet.AV(s.index, in.Descriptor.TimeBase)); err != nil {
		return m.Errorf(message.CodeImplProcess, "write packet: %v", err)
	}
	m.packets.Add(1)
	return nil
}

func (m *Muxer) stream(from media.Address) *stream {
	for i := range m.streams {
		if m.streams[i].from.Equal(from) {
			return &m.streams[i]
		}
	}
	return nil
}

// endStreams marks every stream of flush's producer ended.
func (m *Muxer) endStreams(flush media.Address) {
	for i := range m.streams {
		if m.streams[i].from.Equal(flush) {
			m.streams[i].ended = true
		}
	}
}

func (m *Muxer) allEnded() bool {
	for _, s := range m.streams {
		if !s.ended {
			return false
		}
	}
	return true
}

func (m *Muxer) finish() error {
	if m.mux == nil {
		return nil
	}
	err := errors.Join(m.mux.WriteTrailer(), m.w.Flush(), m.file.Close())
	m.file, m.w, m.mux = nil, nil, nil
	m.Logger.Info("output finished", "path", m.path, "packets", m.packets.Load(), "bytes", m.bytes.Load())
	return err
}

// OnProcessTravelDynamic drops peers joining after the program tables were
// written.
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
		"streams": strconv.Itoa(len(m.streams)),
		"packets": strconv.FormatUint(m.packets.Load(), 10),
		"bytes":   strconv.FormatUint(m.bytes.Load(), 10),
		"dropped": strconv.FormatUint(m.dropped.Load(), 10),
	}
}

// Register registers the muxer under the Mux category.
func Register(registry *impl.Registry) error {
	return registry.Register(impl.RegistrationConfig{
		Category: option.Mux,
		Variants: containerNames,
		Properties: impl.Properties{
			Description: "Writes H.264 and AAC packets into an MPEG-TS file",
			Inputs:      []option.DataType{option.InVideoBitstream, option.InAudioBitstream},
			Attributes:  map[string]string{"container": "mpegts"},
		},
		Factory: New,
	})
}
