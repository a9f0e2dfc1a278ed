package config

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/option"
	"github.com/c360/avflow/streamlet"
)

// Graph describes a set of streamlets and the links between them. Files are
// YAML; JSON is accepted as its subset.
type Graph struct {
	Streamlets []StreamletDef `yaml:"streamlets"`
	Links      []Link         `yaml:"links,omitempty"`
}

// StreamletDef describes one streamlet.
type StreamletDef struct {
	Name string `yaml:"name"`
	// Kind is one of input, mix, output, singleNode.
	Kind string `yaml:"kind"`
	// BufLimit bounds every node's in-flight buffers. Zero falls back to the
	// process setting.
	BufLimit int `yaml:"buf_limit,omitempty"`
	// Input and Output are the data types a single node streamlet exposes,
	// e.g. InVideoRaw and OutVideoBitstream.
	Input  string    `yaml:"input,omitempty"`
	Output string    `yaml:"output,omitempty"`
	Nodes  []NodeDef `yaml:"nodes"`
}

// NodeDef describes one node. Options keys naming a typed option (InputUrl,
// FilterDesc, ...) are validated against its kind; any other key passes
// through to the implementation untouched.
type NodeDef struct {
	Category string            `yaml:"category"`
	Variant  string            `yaml:"variant,omitempty"`
	Tag      string            `yaml:"tag,omitempty"`
	Options  map[string]string `yaml:"options,omitempty"`
}

// Link connects two streamlets, or two nodes when both ends are written as
// "streamlet/node". Streamlet links pair entries by media: all, video or
// audio. Node links carry one stream index, or peer events when Subscribe
// is set.
type Link struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Media     string `yaml:"media,omitempty"`
	Stream    *int   `yaml:"stream,omitempty"`
	Subscribe bool   `yaml:"subscribe,omitempty"`
}

// Endpoint is one end of a Link. Node is empty for streamlet links.
type Endpoint struct {
	Streamlet string
	Node      string
}

func (e Endpoint) String() string {
	if e.Node == "" {
		return e.Streamlet
	}
	return e.Streamlet + "/" + e.Node
}

// ParseEndpoint splits "streamlet/node". A plain name is a streamlet end.
func ParseEndpoint(s string) Endpoint {
	name, nodeTag, _ := strings.Cut(s, "/")
	return Endpoint{Streamlet: name, Node: nodeTag}
}

// Ends returns both endpoints.
func (l Link) Ends() (from, to Endpoint) {
	return ParseEndpoint(l.From), ParseEndpoint(l.To)
}

// IsNodeLink reports whether the link joins two nodes.
func (l Link) IsNodeLink() bool {
	return strings.Contains(l.From, "/")
}

// StreamIndex returns the stream index of a node link.
func (l Link) StreamIndex() int {
	if l.Stream == nil {
		return media.DefaultStream
	}
	return *l.Stream
}

// Media selects which entries a streamlet link pairs.
type Media int

const (
	MediaAll Media = iota
	MediaVideo
	MediaAudio
)

// ParseMedia accepts all, video or audio; empty means all.
func ParseMedia(s string) (Media, bool) {
	switch strings.ToLower(s) {
	case "", "all":
		return MediaAll, true
	case "video":
		return MediaVideo, true
	case "audio":
		return MediaAudio, true
	}
	return MediaAll, false
}

// LoadGraph reads and validates a graph file. Unknown fields are rejected.
func LoadGraph(path string) (*Graph, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Graph", "Load", "read graph file")
	}
	g, err := ParseGraph(data)
	if err != nil {
		return nil, errors.Wrap(err, "Graph", "Load", path)
	}
	return g, nil
}

// ParseGraph decodes and validates a graph.
func ParseGraph(data []byte) (*Graph, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var g Graph
	if err := dec.Decode(&g); err != nil {
		return nil, errors.WrapInvalid(err, "Graph", "Parse", "decode graph")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks names, kinds, categories, data types and link ends. It
// does not check that variants are registered; building does.
func (g *Graph) Validate() error {
	if len(g.Streamlets) == 0 {
		return invalid("graph has no streamlets")
	}
	names := make(map[string]*StreamletDef, len(g.Streamlets))
	for i := range g.Streamlets {
		def := &g.Streamlets[i]
		if err := def.Validate(); err != nil {
			return err
		}
		if _, dup := names[def.Name]; dup {
			return invalid("duplicate streamlet %q", def.Name)
		}
		names[def.Name] = def
	}
	for i, l := range g.Links {
		if err := l.validate(names); err != nil {
			return errors.WrapInvalid(err, "Graph", "Validate", fmt.Sprintf("link %d", i))
		}
	}
	return nil
}

// Validate checks one streamlet definition in isolation.
func (d *StreamletDef) Validate() error {
	if d.Name == "" || strings.Contains(d.Name, "/") {
		return invalid("streamlet name %q must be non-empty and free of '/'", d.Name)
	}
	kind, err := d.StreamletKind()
	if err != nil {
		return err
	}
	if d.BufLimit < 0 {
		return invalid("streamlet %q: negative buf_limit", d.Name)
	}
	if len(d.Nodes) == 0 {
		return invalid("streamlet %q has no nodes", d.Name)
	}
	if kind == streamlet.KindSingleNode {
		if _, ok := option.ParseDataType(d.Input); !ok {
			return invalid("streamlet %q: unknown input data type %q", d.Name, d.Input)
		}
		if _, ok := option.ParseDataType(d.Output); !ok {
			return invalid("streamlet %q: unknown output data type %q", d.Name, d.Output)
		}
	}
	tags := make(map[string]bool, len(d.Nodes))
	for i, n := range d.Nodes {
		if _, ok := option.ParseCategory(n.Category); !ok {
			return invalid("streamlet %q node %d: unknown category %q", d.Name, i, n.Category)
		}
		if n.Tag == "" {
			continue
		}
		if tags[n.Tag] {
			return invalid("streamlet %q: duplicate node tag %q", d.Name, n.Tag)
		}
		tags[n.Tag] = true
	}
	return nil
}

// StreamletKind parses Kind.
func (d *StreamletDef) StreamletKind() (streamlet.Kind, error) {
	k, ok := streamlet.ParseKind(d.Kind)
	if !ok || k == streamlet.KindUnknown {
		return streamlet.KindUnknown, invalid("streamlet %q: unknown kind %q", d.Name, d.Kind)
	}
	return k, nil
}

// Tag returns the streamlet tag the definition builds.
func (d *StreamletDef) Tag() (streamlet.Tag, error) {
	k, err := d.StreamletKind()
	if err != nil {
		return streamlet.Tag{}, err
	}
	return streamlet.NewTag(d.Name, k), nil
}

// StreamletOptions returns the options the builder receives. defaultLimit
// applies when BufLimit is zero.
func (d *StreamletDef) StreamletOptions(defaultLimit int) (*option.Options, error) {
	o := option.New()
	limit := d.BufLimit
	if limit == 0 {
		limit = defaultLimit
	}
	if limit > 0 {
		if err := o.SetInt(option.KeyStreamletBufLimit, limit); err != nil {
			return nil, err
		}
	}
	if d.Input != "" {
		if err := o.SetString(option.KeyInputDataType, d.Input); err != nil {
			return nil, errors.WrapInvalid(err, "StreamletDef", "StreamletOptions", "input data type")
		}
	}
	if d.Output != "" {
		if err := o.SetString(option.KeyOutputDataType, d.Output); err != nil {
			return nil, errors.WrapInvalid(err, "StreamletDef", "StreamletOptions", "output data type")
		}
	}
	return o, nil
}

// NodeOptions converts every node definition, in order.
func (d *StreamletDef) NodeOptions() ([]*option.Options, error) {
	out := make([]*option.Options, 0, len(d.Nodes))
	for i, n := range d.Nodes {
		o, err := n.ToOptions()
		if err != nil {
			return nil, errors.Wrap(err, "StreamletDef", "NodeOptions", fmt.Sprintf("%s node %d", d.Name, i))
		}
		out = append(out, o)
	}
	return out, nil
}

// ToOptions converts the definition into node options. Keys are applied in
// sorted order so conversion is deterministic.
func (n NodeDef) ToOptions() (*option.Options, error) {
	c, ok := option.ParseCategory(n.Category)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrValueInvalid, "NodeDef", "ToOptions",
			fmt.Sprintf("category %q", n.Category))
	}
	o := option.NewWave(c, n.Variant)
	if n.Tag != "" {
		if err := o.Set(option.KeyLogtag, n.Tag); err != nil {
			return nil, err
		}
	}
	keys := make([]string, 0, len(n.Options))
	for k := range n.Options {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := n.Options[k]
		key, typed := option.ParseKey(k)
		switch {
		case !typed:
			o.SetRaw(k, v)
		case key == option.KeyClassCategory || key == option.KeyImplType || key == option.KeyLogtag:
			return nil, errors.WrapInvalid(errors.ErrKeyExists, "NodeDef", "ToOptions",
				fmt.Sprintf("%s is set by category, variant or tag", k))
		default:
			if err := o.SetString(key, v); err != nil {
				return nil, errors.WrapInvalid(err, "NodeDef", "ToOptions", fmt.Sprintf("option %s=%q", k, v))
			}
		}
	}
	return o, nil
}

func (l Link) validate(streamlets map[string]*StreamletDef) error {
	from, to := l.Ends()
	if (from.Node == "") != (to.Node == "") {
		return fmt.Errorf("%w: %s -> %s mixes streamlet and node ends", errors.ErrInvalidConfig, l.From, l.To)
	}
	for _, e := range []Endpoint{from, to} {
		def, ok := streamlets[e.Streamlet]
		if !ok {
			return fmt.Errorf("%w: unknown streamlet %q", errors.ErrInvalidConfig, e.Streamlet)
		}
		if e.Node != "" && !slices.ContainsFunc(def.Nodes, func(n NodeDef) bool { return n.Tag == e.Node }) {
			return fmt.Errorf("%w: streamlet %q has no node tagged %q", errors.ErrInvalidConfig, e.Streamlet, e.Node)
		}
	}
	if from.Node == "" {
		if _, ok := ParseMedia(l.Media); !ok {
			return fmt.Errorf("%w: media %q", errors.ErrValueInvalid, l.Media)
		}
		if l.Stream != nil || l.Subscribe {
			return fmt.Errorf("%w: stream and subscribe apply to node links only", errors.ErrInvalidConfig)
		}
		return nil
	}
	if l.Media != "" {
		return fmt.Errorf("%w: media applies to streamlet links only", errors.ErrInvalidConfig)
	}
	if l.Subscribe && l.Stream != nil {
		return fmt.Errorf("%w: a subscription carries no stream index", errors.ErrInvalidConfig)
	}
	if l.StreamIndex() < 0 {
		return fmt.Errorf("%w: stream %d", errors.ErrValueOutOfRange, l.StreamIndex())
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Graph", "Validate", "check graph")
}
