package streamlet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/node"
	"github.com/c360/avflow/option"
	"github.com/c360/avflow/testutil"
)

func waves(categories ...option.Category) []*option.Options {
	out := make([]*option.Options, len(categories))
	for i, c := range categories {
		out[i] = testutil.Wave(c)
	}
	return out
}

func demux(streams int) *option.Options {
	o := testutil.Wave(option.Demux)
	o.SetRawInt(testutil.OptStreams, streams)
	return o
}

func build(t *testing.T, b Builder, opts []*option.Options, kind Kind, slOpts *option.Options) *Streamlet {
	t.Helper()
	s, err := b.Build(opts, NewTag(t.Name(), kind), slOpts)
	require.NoError(t, err)
	require.NotNil(t, s)
	stopOnCleanup(t, s)
	return s
}

func TestBuilderFor(t *testing.T) {
	deps := newDeps(t)
	for k, want := range map[Kind]Builder{
		KindInput:      InputBuilder{Deps: deps},
		KindMix:        MixBuilder{Deps: deps},
		KindOutput:     OutputBuilder{Deps: deps},
		KindSingleNode: SingleNodeBuilder{Deps: deps},
	} {
		b, err := BuilderFor(k, deps)
		require.NoError(t, err)
		assert.IsType(t, want, b)
	}
	_, err := BuilderFor(KindUnknown, deps)
	assert.True(t, errors.IsInvalid(err))
}

func TestInputBuilder(t *testing.T) {
	deps := newDeps(t)
	// stream 0 is video, 1 and 2 are audio
	opts := append([]*option.Options{demux(3)},
		waves(option.VideoDecode, option.AudioDecode, option.AudioDecode, option.VideoFilter)...)
	s := build(t, InputBuilder{Deps: deps}, opts, KindInput, nil)

	dmx := s.NodesByCategory(option.Demux)[0]
	vdec := s.NodesByCategory(option.VideoDecode)[0]
	adecs := s.NodesByCategory(option.AudioDecode)
	vf := s.NodesByCategory(option.VideoFilter)[0]

	assert.True(t, node.Connected(dmx, vdec, 0))
	assert.True(t, node.Connected(dmx, adecs[0], 1))
	assert.True(t, node.Connected(dmx, adecs[1], 2))
	assert.True(t, node.Connected(vdec, vf, media.DefaultStream))

	assert.Equal(t, []*node.Node{vf}, s.Entries(option.OutVideoRaw))
	assert.Equal(t, adecs, s.Entries(option.OutAudioRaw))
	assert.Empty(t, s.Entries(option.InVideoRaw))
	for _, n := range s.Nodes() {
		assert.Equal(t, s.GroupID(), n.GroupID())
	}
}

func TestInputBuilderAudioFilters(t *testing.T) {
	deps := newDeps(t)
	opts := append([]*option.Options{demux(3)},
		waves(option.VideoDecode, option.AudioDecode, option.AudioDecode, option.AudioFilter)...)
	s := build(t, InputBuilder{Deps: deps}, opts, KindInput, nil)

	adecs := s.NodesByCategory(option.AudioDecode)
	af := s.NodesByCategory(option.AudioFilter)[0]
	assert.True(t, node.Connected(adecs[0], af, media.DefaultStream))
	assert.Equal(t, []*node.Node{af, adecs[1]}, s.Entries(option.OutAudioRaw))
	assert.Equal(t, s.NodesByCategory(option.VideoDecode), s.Entries(option.OutVideoRaw))
}

func TestMixBuilder(t *testing.T) {
	deps := newDeps(t)

	t.Run("video and audio", func(t *testing.T) {
		s := build(t, MixBuilder{Deps: deps},
			waves(option.VideoMix, option.AudioMix, option.VideoFilter), KindMix, nil)
		vmix := s.NodesByCategory(option.VideoMix)[0]
		amix := s.NodesByCategory(option.AudioMix)[0]
		vf := s.NodesByCategory(option.VideoFilter)[0]

		assert.Equal(t, []*node.Node{vmix}, s.Entries(option.InVideoRaw))
		assert.Equal(t, []*node.Node{amix}, s.Entries(option.InAudioRaw))
		assert.Equal(t, []*node.Node{vf}, s.Entries(option.OutVideoRaw))
		assert.Equal(t, []*node.Node{amix}, s.Entries(option.OutAudioRaw))
		assert.True(t, node.Connected(vmix, vf, media.DefaultStream))
	})

	t.Run("video only", func(t *testing.T) {
		s := build(t, MixBuilder{Deps: deps}, waves(option.VideoMix), KindMix, nil)
		vmix := s.NodesByCategory(option.VideoMix)[0]
		assert.Equal(t, []*node.Node{vmix}, s.Entries(option.OutVideoRaw))
		assert.Empty(t, s.Entries(option.InAudioRaw))
	})
}

func TestOutputBuilder(t *testing.T) {
	deps := newDeps(t)
	slOpts := option.New()
	require.NoError(t, slOpts.SetInt(option.KeyStreamletBufLimit, 4))
	s := build(t, OutputBuilder{Deps: deps},
		waves(option.AudioFilter, option.VideoEncode, option.AudioEncode, option.Mux, option.Mux), KindOutput, slOpts)

	af := s.NodesByCategory(option.AudioFilter)[0]
	venc := s.NodesByCategory(option.VideoEncode)[0]
	aenc := s.NodesByCategory(option.AudioEncode)[0]
	assert.Equal(t, []*node.Node{venc}, s.Entries(option.InVideoRaw))
	assert.Equal(t, []*node.Node{af}, s.Entries(option.InAudioRaw))
	assert.True(t, node.Connected(af, aenc, media.DefaultStream))
	for _, m := range s.NodesByCategory(option.Mux) {
		assert.True(t, node.Connected(venc, m, media.DefaultStream))
		assert.True(t, node.Connected(aenc, m, media.DefaultStream))
		assert.Len(t, m.Senders(), 2)
	}
}

func TestSingleNodeBuilder(t *testing.T) {
	deps := newDeps(t)
	slOpts := option.New()
	require.NoError(t, slOpts.SetCategory(option.KeyInputDataType, option.InVideoRaw))
	require.NoError(t, slOpts.SetCategory(option.KeyOutputDataType, option.OutVideoBitstream))

	s := build(t, SingleNodeBuilder{Deps: deps}, waves(option.VideoEncode), KindSingleNode, slOpts)
	n := s.Nodes()[0]
	assert.Equal(t, []*node.Node{n}, s.Entries(option.InVideoRaw))
	assert.Equal(t, []*node.Node{n}, s.Entries(option.OutVideoBitstream))
}

func TestBuildFailuresStopCreatedNodes(t *testing.T) {
	withTypes := func(in, out option.DataType) *option.Options {
		o := option.New()
		if in != option.DataTypeUndefined {
			_ = o.SetCategory(option.KeyInputDataType, in)
		}
		if out != option.DataTypeUndefined {
			_ = o.SetCategory(option.KeyOutputDataType, out)
		}
		return o
	}

	tests := []struct {
		name    string
		builder func(node.Dependencies) Builder
		opts    []*option.Options
		slOpts  *option.Options
		created int
	}{
		{"no nodes", func(d node.Dependencies) Builder { return InputBuilder{Deps: d} }, nil, nil, 0},
		{"input without demux", func(d node.Dependencies) Builder { return InputBuilder{Deps: d} },
			waves(option.VideoDecode), nil, 1},
		{"input with two demuxers", func(d node.Dependencies) Builder { return InputBuilder{Deps: d} },
			append([]*option.Options{demux(1), demux(1)}, waves(option.VideoDecode)...), nil, 3},
		{"input without decoders", func(d node.Dependencies) Builder { return InputBuilder{Deps: d} },
			[]*option.Options{demux(1)}, nil, 1},
		{"input with unregistered variant", func(d node.Dependencies) Builder { return InputBuilder{Deps: d} },
			[]*option.Options{demux(1), option.NewWave(option.VideoDecode, "h264_cuvid")}, nil, 2},
		{"mix without video mix", func(d node.Dependencies) Builder { return MixBuilder{Deps: d} },
			waves(option.AudioMix), nil, 1},
		{"mix with two video filters", func(d node.Dependencies) Builder { return MixBuilder{Deps: d} },
			waves(option.VideoMix, option.VideoFilter, option.VideoFilter), nil, 3},
		{"output without muxer", func(d node.Dependencies) Builder { return OutputBuilder{Deps: d} },
			waves(option.VideoEncode), nil, 1},
		{"output with two audio encoders", func(d node.Dependencies) Builder { return OutputBuilder{Deps: d} },
			waves(option.VideoEncode, option.AudioEncode, option.AudioEncode, option.Mux), nil, 4},
		{"single node without data types", func(d node.Dependencies) Builder { return SingleNodeBuilder{Deps: d} },
			waves(option.Mux), nil, 0},
		{"single node with swapped data types", func(d node.Dependencies) Builder { return SingleNodeBuilder{Deps: d} },
			waves(option.Mux), withTypes(option.OutVideoRaw, option.InVideoRaw), 0},
		{"single node with two nodes", func(d node.Dependencies) Builder { return SingleNodeBuilder{Deps: d} },
			waves(option.Mux, option.Mux), withTypes(option.InVideoRaw, option.OutVideoRaw), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newDeps(t)
			s, err := tt.builder(deps).Build(tt.opts, NewTag(tt.name, KindUnknown), tt.slOpts)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Equal(t, tt.created, count(deps.Messages.Drain(), message.InfoEndThread),
				"every created node is shut down")
		})
	}
}
