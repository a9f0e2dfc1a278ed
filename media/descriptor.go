package media

import (
	"fmt"

	"github.com/nareix/joy4/av"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/pkg/timestamp"
)

// Kind is the media type of a stream.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Descriptor is the negotiated format of one output stream. A node builds it
// once its dynamic initialization succeeds and never mutates it afterwards;
// re-initialization replaces it wholesale.
type Descriptor struct {
	Kind     Kind
	TimeBase timestamp.Rational

	// Codec carries the codec parameters of encoded streams. It is nil for
	// raw streams.
	Codec av.CodecData

	// video
	PixelFormat  string
	Width        int
	Height       int
	SampleAspect timestamp.Rational
	FrameRate    timestamp.Rational

	// audio
	SampleFormat  av.SampleFormat
	SampleRate    int
	ChannelLayout av.ChannelLayout
}

// NewVideoDescriptor describes a raw video stream.
func NewVideoDescriptor(pixFmt string, width, height int, timeBase, frameRate timestamp.Rational) *Descriptor {
	return &Descriptor{
		Kind:         KindVideo,
		TimeBase:     timeBase,
		PixelFormat:  pixFmt,
		Width:        width,
		Height:       height,
		SampleAspect: timestamp.Rational{Num: 1, Den: 1},
		FrameRate:    frameRate,
	}
}

// NewAudioDescriptor describes a raw audio stream.
func NewAudioDescriptor(format av.SampleFormat, rate int, layout av.ChannelLayout, timeBase timestamp.Rational) *Descriptor {
	return &Descriptor{
		Kind:          KindAudio,
		TimeBase:      timeBase,
		SampleFormat:  format,
		SampleRate:    rate,
		ChannelLayout: layout,
	}
}

// DescriptorFromCodec describes an encoded stream from its codec parameters.
func DescriptorFromCodec(codec av.CodecData, timeBase timestamp.Rational) (*Descriptor, error) {
	if codec == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidDescriptor, "Descriptor", "FromCodec", "nil codec data")
	}

	d := &Descriptor{TimeBase: timeBase, Codec: codec}
	switch c := codec.(type) {
	case av.VideoCodecData:
		d.Kind = KindVideo
		d.Width = c.Width()
		d.Height = c.Height()
		d.SampleAspect = timestamp.Rational{Num: 1, Den: 1}
	case av.AudioCodecData:
		d.Kind = KindAudio
		d.SampleFormat = c.SampleFormat()
		d.SampleRate = c.SampleRate()
		d.ChannelLayout = c.ChannelLayout()
	default:
		d.Kind = KindData
	}
	return d, d.Validate()
}

// Channels returns the audio channel count.
func (d *Descriptor) Channels() int {
	return d.ChannelLayout.Count()
}

// IsEncoded reports whether the stream carries compressed packets.
func (d *Descriptor) IsEncoded() bool {
	return d.Codec != nil
}

// CodecName returns the codec name, or "raw".
func (d *Descriptor) CodecName() string {
	if d.Codec == nil {
		return "raw"
	}
	return d.Codec.Type().String()
}

// Validate checks the fields a downstream node needs to initialize.
func (d *Descriptor) Validate() error {
	if d == nil {
		return errors.WrapInvalid(errors.ErrInvalidDescriptor, "Descriptor", "Validate", "nil descriptor")
	}
	if !d.TimeBase.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidDescriptor, "Descriptor", "Validate",
			fmt.Sprintf("time base %s", d.TimeBase))
	}
	switch d.Kind {
	case KindVideo:
		if d.Width <= 0 || d.Height <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidDescriptor, "Descriptor", "Validate",
				fmt.Sprintf("video size %dx%d", d.Width, d.Height))
		}
	case KindAudio:
		if d.SampleRate <= 0 || d.Channels() <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidDescriptor, "Descriptor", "Validate",
				fmt.Sprintf("audio rate %d channels %d", d.SampleRate, d.Channels()))
		}
	case KindUnknown:
		return errors.WrapInvalid(errors.ErrInvalidDescriptor, "Descriptor", "Validate", "unknown media kind")
	}
	return nil
}

func (d *Descriptor) String() string {
	if d == nil {
		return "descriptor: nil"
	}
	switch d.Kind {
	case KindVideo:
		return fmt.Sprintf("video %s %s %dx%d sar %s fps %s tb %s",
			d.CodecName(), d.PixelFormat, d.Width, d.Height, d.SampleAspect, d.FrameRate, d.TimeBase)
	case KindAudio:
		return fmt.Sprintf("audio %s %s %dHz %dch tb %s",
			d.CodecName(), d.SampleFormat, d.SampleRate, d.Channels(), d.TimeBase)
	default:
		return fmt.Sprintf("%s %s tb %s", d.Kind, d.CodecName(), d.TimeBase)
	}
}
