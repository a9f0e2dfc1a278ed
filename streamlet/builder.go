package streamlet

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/node"
	"github.com/c360/avflow/option"
)

// Builder assembles a streamlet from one options set per node. Streamlet
// options tune the whole unit: KeyStreamletBufLimit bounds every node's
// in-flight buffers. A builder either returns a complete streamlet or an
// error; on error every node it created has been stopped.
type Builder interface {
	Build(nodes []*option.Options, tag Tag, streamletOpts *option.Options) (*Streamlet, error)
}

// BuilderFor returns the builder of streamlets of kind k.
func BuilderFor(k Kind, deps node.Dependencies) (Builder, error) {
	switch k {
	case KindInput:
		return InputBuilder{Deps: deps}, nil
	case KindMix:
		return MixBuilder{Deps: deps}, nil
	case KindOutput:
		return OutputBuilder{Deps: deps}, nil
	case KindSingleNode:
		return SingleNodeBuilder{Deps: deps}, nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Streamlet", "BuilderFor",
			fmt.Sprintf("no builder for %s", k))
	}
}

// create constructs every node and collects them in a new streamlet.
func create(deps node.Dependencies, nodeOpts []*option.Options, tag Tag, slOpts *option.Options) (*Streamlet, error) {
	if len(nodeOpts) == 0 {
		return nil, errors.WrapInvalid(errors.ErrEmptyOption, "Streamlet", "Build", tag.String())
	}
	if slOpts == nil {
		slOpts = option.New()
	}
	limit := slOpts.IntOr(option.KeyStreamletBufLimit, 0)

	s := New(tag)
	for i, o := range nodeOpts {
		n, err := node.New(o, deps)
		if err != nil {
			if n != nil {
				n.Stop()
			}
			discard(s)
			return nil, errors.Wrap(err, "Streamlet", "Build",
				fmt.Sprintf("%s: create node %d", tag, i))
		}
		n.SetMaxBuffers(limit)
		s.AddNode(n)
	}
	return s, nil
}

// discard stops and forgets every node of a half-built streamlet.
func discard(s *Streamlet) {
	s.Stop()
	s.Clear()
}

func buildErr(s *Streamlet, method, format string, args ...any) error {
	discard(s)
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Streamlet", method,
		fmt.Sprintf("%s: %s", s.Tag(), fmt.Sprintf(format, args...)))
}

func linkErr(s *Streamlet, method string, err error) error {
	discard(s)
	return errors.Wrap(err, "Streamlet", method, s.Tag().String())
}

func loggerOf(deps node.Dependencies) *slog.Logger {
	if deps.Logger != nil {
		return deps.Logger
	}
	return slog.Default()
}

// InputBuilder builds a demux followed by decoders and optional filters.
//
// The demux's output streams are taken in index order: video streams feed the
// video decoders one by one, audio streams the audio decoders. The i-th
// filter of a kind follows the i-th connected decoder. Filters and the
// decoders without a filter become the raw output entries.
type InputBuilder struct {
	Deps node.Dependencies
}

func (b InputBuilder) Build(nodeOpts []*option.Options, tag Tag, slOpts *option.Options) (*Streamlet, error) {
	const method = "InputBuilder.Build"
	s, err := create(b.Deps, nodeOpts, tag, slOpts)
	if err != nil {
		return nil, err
	}

	demuxers := s.NodesByCategory(option.Demux)
	if len(demuxers) != 1 {
		return nil, buildErr(s, method, "need exactly 1 demuxer, have %d", len(demuxers))
	}
	demux := demuxers[0]
	outMedia := demux.OutputMedia()
	if len(outMedia) == 0 {
		return nil, buildErr(s, method, "demuxer has no output streams")
	}

	videoDecoders := s.NodesByCategory(option.VideoDecode)
	audioDecoders := s.NodesByCategory(option.AudioDecode)
	if len(videoDecoders) == 0 && len(audioDecoders) == 0 {
		return nil, buildErr(s, method, "need at least one audio or video decoder")
	}

	var videoConnected, videoTotal, audioConnected, audioTotal int
	for _, idx := range slices.Sorted(maps.Keys(outMedia)) {
		switch outMedia[idx] {
		case media.KindVideo:
			if videoConnected < len(videoDecoders) {
				if err := node.Connect(demux, videoDecoders[videoConnected], idx); err != nil {
					return nil, linkErr(s, method, err)
				}
				videoConnected++
			}
			videoTotal++
		case media.KindAudio:
			if audioConnected < len(audioDecoders) {
				if err := node.Connect(demux, audioDecoders[audioConnected], idx); err != nil {
					return nil, linkErr(s, method, err)
				}
				audioConnected++
			}
			audioTotal++
		}
	}
	loggerOf(b.Deps).Info("input streamlet built", "streamlet", tag.String(),
		"video_streams", videoTotal, "video_connected", videoConnected,
		"audio_streams", audioTotal, "audio_connected", audioConnected)

	if err := attachFilters(s, option.VideoFilter, videoDecoders[:videoConnected], option.OutVideoRaw); err != nil {
		return nil, linkErr(s, method, err)
	}
	if err := attachFilters(s, option.AudioFilter, audioDecoders[:audioConnected], option.OutAudioRaw); err != nil {
		return nil, linkErr(s, method, err)
	}
	return s, nil
}

// attachFilters connects the i-th filter of category after decoders[i] and
// lists the chain tails under out.
func attachFilters(s *Streamlet, category option.Category, decoders []*node.Node, out option.DataType) error {
	filters := s.NodesByCategory(category)
	filtered := 0
	for _, f := range filters {
		if filtered >= len(decoders) {
			break
		}
		if err := node.Connect(decoders[filtered], f, media.DefaultStream); err != nil {
			return err
		}
		s.AddEntry(out, f)
		filtered++
	}
	for _, d := range decoders[filtered:] {
		s.AddEntry(out, d)
	}
	return nil
}

// MixBuilder builds one video mixer, an optional audio mixer and at most one
// filter after each. The mixers are the raw input entries; the filter, or the
// mixer when there is none, is the raw output entry. The audio mixer
// subscribes to the video mixer's events so the two stay in sync.
type MixBuilder struct {
	Deps node.Dependencies
}

func (b MixBuilder) Build(nodeOpts []*option.Options, tag Tag, slOpts *option.Options) (*Streamlet, error) {
	const method = "MixBuilder.Build"
	s, err := create(b.Deps, nodeOpts, tag, slOpts)
	if err != nil {
		return nil, err
	}

	videoMixes := s.NodesByCategory(option.VideoMix)
	audioMixes := s.NodesByCategory(option.AudioMix)
	if len(videoMixes) != 1 || len(audioMixes) > 1 {
		return nil, buildErr(s, method, "need exactly 1 video mix and at most 1 audio mix, have %d and %d",
			len(videoMixes), len(audioMixes))
	}
	videoFilters := s.NodesByCategory(option.VideoFilter)
	audioFilters := s.NodesByCategory(option.AudioFilter)
	if len(videoFilters) > 1 || len(audioFilters) > 1 {
		return nil, buildErr(s, method, "at most 1 video filter and 1 audio filter, have %d and %d",
			len(videoFilters), len(audioFilters))
	}

	videoMix := videoMixes[0]
	s.AddEntry(option.InVideoRaw, videoMix)
	if err := chain(s, videoMix, videoFilters, option.OutVideoRaw); err != nil {
		return nil, linkErr(s, method, err)
	}

	if len(audioMixes) == 1 {
		audioMix := audioMixes[0]
		s.AddEntry(option.InAudioRaw, audioMix)
		if err := chain(s, audioMix, audioFilters, option.OutAudioRaw); err != nil {
			return nil, linkErr(s, method, err)
		}
		if err := node.Subscribe(videoMix, audioMix); err != nil {
			return nil, linkErr(s, method, err)
		}
	}
	return s, nil
}

// chain lists head under out, or connects head to tail[0] and lists that.
func chain(s *Streamlet, head *node.Node, tail []*node.Node, out option.DataType) error {
	if len(tail) == 0 {
		s.AddEntry(out, head)
		return nil
	}
	if err := node.Connect(head, tail[0], media.DefaultStream); err != nil {
		return err
	}
	s.AddEntry(out, tail[0])
	return nil
}

// OutputBuilder builds optional pre-encode filters, one video encoder, an
// optional audio encoder and one or more muxers. Every muxer receives both
// encoders. The filters, or the encoders without one, are the raw input
// entries.
type OutputBuilder struct {
	Deps node.Dependencies
}

func (b OutputBuilder) Build(nodeOpts []*option.Options, tag Tag, slOpts *option.Options) (*Streamlet, error) {
	const method = "OutputBuilder.Build"
	s, err := create(b.Deps, nodeOpts, tag, slOpts)
	if err != nil {
		return nil, err
	}

	videoFilters := s.NodesByCategory(option.VideoFilter)
	audioFilters := s.NodesByCategory(option.AudioFilter)
	if len(videoFilters) > 1 || len(audioFilters) > 1 {
		return nil, buildErr(s, method, "at most 1 video filter and 1 audio filter, have %d and %d",
			len(videoFilters), len(audioFilters))
	}
	videoEncoders := s.NodesByCategory(option.VideoEncode)
	audioEncoders := s.NodesByCategory(option.AudioEncode)
	if len(videoEncoders) != 1 || len(audioEncoders) > 1 {
		return nil, buildErr(s, method, "need exactly 1 video encoder and at most 1 audio encoder, have %d and %d",
			len(videoEncoders), len(audioEncoders))
	}
	muxers := s.NodesByCategory(option.Mux)
	if len(muxers) == 0 {
		return nil, buildErr(s, method, "need at least 1 muxer")
	}

	videoEncoder := videoEncoders[0]
	if err := feed(s, videoFilters, videoEncoder, option.InVideoRaw); err != nil {
		return nil, linkErr(s, method, err)
	}
	var audioEncoder *node.Node
	if len(audioEncoders) == 1 {
		audioEncoder = audioEncoders[0]
		if err := feed(s, audioFilters, audioEncoder, option.InAudioRaw); err != nil {
			return nil, linkErr(s, method, err)
		}
	}

	for _, m := range muxers {
		if err := node.Connect(videoEncoder, m, media.DefaultStream); err != nil {
			return nil, linkErr(s, method, err)
		}
		if audioEncoder != nil {
			if err := node.Connect(audioEncoder, m, media.DefaultStream); err != nil {
				return nil, linkErr(s, method, err)
			}
		}
	}
	return s, nil
}

// feed lists encoder under in, or connects head[0] to encoder and lists that.
func feed(s *Streamlet, head []*node.Node, encoder *node.Node, in option.DataType) error {
	if len(head) == 0 {
		s.AddEntry(in, encoder)
		return nil
	}
	if err := node.Connect(head[0], encoder, media.DefaultStream); err != nil {
		return err
	}
	s.AddEntry(in, head[0])
	return nil
}

// SingleNodeBuilder wraps exactly one node. The streamlet options name its
// input and output entry lists through KeyInputDataType and
// KeyOutputDataType; both are required.
type SingleNodeBuilder struct {
	Deps node.Dependencies
}

func (b SingleNodeBuilder) Build(nodeOpts []*option.Options, tag Tag, slOpts *option.Options) (*Streamlet, error) {
	const method = "SingleNodeBuilder.Build"
	if len(nodeOpts) != 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Streamlet", method,
			fmt.Sprintf("%s: need exactly 1 node, have %d", tag, len(nodeOpts)))
	}
	if slOpts == nil {
		slOpts = option.New()
	}
	in, _ := slOpts.DataType(option.KeyInputDataType)
	out, _ := slOpts.DataType(option.KeyOutputDataType)
	if !isInput(in) || !isOutput(out) {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Streamlet", method,
			fmt.Sprintf("%s: input and output data types required, have %s and %s", tag, in, out))
	}

	s, err := create(b.Deps, nodeOpts, tag, slOpts)
	if err != nil {
		return nil, err
	}
	n := s.Nodes()[0]
	s.AddEntry(in, n)
	s.AddEntry(out, n)
	return s, nil
}

func isInput(dt option.DataType) bool {
	return dt >= option.InVideoBitstream && dt <= option.InAudioRaw
}

func isOutput(dt option.DataType) bool {
	return dt >= option.OutVideoBitstream && dt <= option.OutAudioRaw
}
