// Package mp4 provides the MP4 demuxer implementation. It reads an MP4 file
// and emits its packets, one output stream per track, with descriptors built
// from the track codec parameters.
package mp4

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nareix/joy4/av"
	mp4fmt "github.com/nareix/joy4/format/mp4"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/option"
	"github.com/c360/avflow/pkg/retry"
	"github.com/c360/avflow/pkg/timestamp"
)

// Demuxer reads packets from an MP4 file.
type Demuxer struct {
	impl.Base

	path       string
	fpsEmulate bool
	retries    int

	file    *os.File
	demux   *mp4fmt.Demuxer
	streams []av.CodecData
	descs   []*media.Descriptor
	start   time.Time
	eof     bool

	packets atomic.Uint64
	bytes   atomic.Uint64
}

// New creates a demuxer.
func New(env impl.Env) (impl.Implementation, error) {
	d := &Demuxer{}
	d.Init(env)
	return d, nil
}

// OnConstruct opens the input and announces one output per track. A demuxer
// needs no peers, so it is initialized once this returns.
func (d *Demuxer) OnConstruct() error {
	url := d.Options.GetDefault(option.KeyInputURL, "")
	if url == "" {
		return d.Errorf(message.CodeDictMissInputURL, "%w", errors.ErrMissingConfig)
	}
	d.path = strings.TrimPrefix(url, "file://")
	d.fpsEmulate = d.Options.BoolOr(option.KeyInputFpsEmulate, false)
	d.retries = d.Options.IntOr(option.KeyReconnectRetries, 0)

	if err := d.open(); err != nil {
		return err
	}
	d.SetInitialized(true)
	d.Logger.Info("input opened", "path", d.path, "streams", len(d.streams))
	return nil
}

func (d *Demuxer) open() error {
	policy := retry.Reconnect(d.retries)
	policy.Notify = func(attempt int, err error, wait time.Duration) {
		d.Logger.Warn("open input failed, retrying", "path", d.path, "attempt", attempt, "wait", wait, "error", err)
	}

	f, err := retry.Value(context.Background(), policy, func(int) (*os.File, error) {
		return os.Open(d.path)
	})
	if err != nil {
		return errors.WrapTransient(err, "mp4-demuxer", "open", "open input")
	}

	demux := mp4fmt.NewDemuxer(f)
	streams, err := demux.Streams()
	if err != nil {
		_ = f.Close()
		return errors.WrapInvalid(err, "mp4-demuxer", "open", "read tracks")
	}
	if len(streams) == 0 {
		_ = f.Close()
		return errors.WrapInvalid(errors.ErrInvalidDescriptor, "mp4-demuxer", "open", "no tracks")
	}

	descs := make([]*media.Descriptor, len(streams))
	for i, codec := range streams {
		desc, err := media.DescriptorFromCodec(codec, trackTimeBase(codec))
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("track %d: %w", i, err)
		}
		descs[i] = desc
		d.SetOutput(i, desc)
	}

	d.file, d.demux, d.streams, d.descs = f, demux, streams, descs
	d.start, d.eof = time.Time{}, false
	return nil
}

// trackTimeBase is 1/sample rate for audio and 1/90000 otherwise.
func trackTimeBase(codec av.CodecData) timestamp.Rational {
	if a, ok := codec.(av.AudioCodecData); ok && a.SampleRate() > 0 {
		return timestamp.Rational{Num: 1, Den: a.SampleRate()}
	}
	return timestamp.MPEG
}

// OnDestruct closes the input. It is safe to call twice.
func (d *Demuxer) OnDestruct() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file, d.demux = nil, nil
	return err
}

// OnProcess emits the next packet. The end of the file ends the stream.
func (d *Demuxer) OnProcess(ctx *impl.Context) error {
	ctx.Expect = impl.ExpectNothing()
	if d.eof || d.demux == nil {
		return errors.ErrEndOfStream
	}

	pkt, err := d.demux.ReadPacket()
	if err == io.EOF {
		d.eof = true
		d.Logger.Info("input ended", "path", d.path, "packets", d.packets.Load())
		return errors.ErrEndOfStream
	}
	if err != nil {
		return d.Errorf(message.CodeImplProcess, "read packet: %v", err)
	}

	idx := int(pkt.Idx)
	if idx < 0 || idx >= len(d.descs) {
		d.Logger.Warn("packet for unknown track", "track", idx)
		return errors.ErrTryAgain
	}
	if d.fpsEmulate {
		d.pace(pkt.Time)
	}

	desc := d.descs[idx]
	b := media.NewPacketBuffer(media.Address{Stream: idx}, media.PacketFromAV(pkt, desc.TimeBase), desc)
	ctx.CurStreamIndex = idx
	ctx.Emit(b)

	d.packets.Add(1)
	d.bytes.Add(uint64(len(pkt.Data)))
	return nil
}

// pace sleeps until the wall clock catches up with the packet time.
func (d *Demuxer) pace(at time.Duration) {
	if d.start.IsZero() {
		d.start = time.Now().Add(-at)
		return
	}
	if wait := time.Until(d.start.Add(at)); wait > 0 {
		time.Sleep(wait)
	}
}

func (d *Demuxer) OnDynamicallyInitialize(*impl.Context) error { return nil }

func (d *Demuxer) OnProcessTravelDynamic(*impl.Context) error { return nil }

// Statistics implements impl.Statistician.
func (d *Demuxer) Statistics() map[string]string {
	return map[string]string{
		"path":    d.path,
		"streams": strconv.Itoa(len(d.streams)),
		"packets": strconv.FormatUint(d.packets.Load(), 10),
		"bytes":   strconv.FormatUint(d.bytes.Load(), 10),
	}
}

// Register registers the demuxer under the Demux category.
func Register(registry *impl.Registry) error {
	return registry.Register(impl.RegistrationConfig{
		Category: option.Demux,
		Variants: []string{option.DefaultImplType, "mp4"},
		Properties: impl.Properties{
			Description: "Reads H.264 and AAC tracks from an MP4 file",
			Outputs:     []option.DataType{option.OutVideoBitstream, option.OutAudioBitstream},
			Attributes:  map[string]string{"container": "mp4"},
		},
		Factory: New,
	})
}
