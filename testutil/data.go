package testutil

import (
	"github.com/nareix/joy4/av"

	"github.com/c360/avflow/media"
	"github.com/c360/avflow/pkg/timestamp"
)

// PacketStep is the DTS distance between consecutive Packet calls, one frame
// at 25 fps in the MPEG time base.
const PacketStep = 3600

// VideoDescriptor describes a small raw video stream in the MPEG time base.
func VideoDescriptor() *media.Descriptor {
	return media.NewVideoDescriptor("yuv420p", 320, 240, timestamp.MPEG, timestamp.Rational{Num: 25, Den: 1})
}

// AudioDescriptor describes stereo 48 kHz audio in the MPEG time base.
func AudioDescriptor() *media.Descriptor {
	return media.NewAudioDescriptor(av.FLTP, 48000, av.CH_STEREO, timestamp.MPEG)
}

// Packet returns packet number seq: DTS and PTS are seq*PacketStep and the
// payload is seq's low byte followed by a fixed pattern.
func Packet(seq int64) *media.Packet {
	ts := seq * PacketStep
	return &media.Packet{
		Times:    timestamp.Times{PTS: ts, DTS: ts, Duration: PacketStep},
		KeyFrame: seq == 0,
		Data:     []byte{byte(seq), 0xCA, 0xFE},
	}
}
