// Package streamlet groups nodes into named units with designated input and
// output roles, wires units to each other, and keeps a River of them running.
package streamlet

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/node"
	"github.com/c360/avflow/option"
)

var groupSeq atomic.Uint64

// Streamlet owns an ordered set of nodes. For each of the eight data types it
// lists the nodes other streamlets connect to (In*) or from (Out*).
type Streamlet struct {
	mu      sync.Mutex
	tag     Tag
	group   media.GroupID
	nodes   []*node.Node
	entries map[option.DataType][]*node.Node
}

// New returns an empty streamlet with a fresh group id.
func New(tag Tag) *Streamlet {
	return NewWithGroup(media.GroupID(groupSeq.Add(1)), tag)
}

// NewWithGroup returns an empty streamlet whose nodes all carry group.
func NewWithGroup(group media.GroupID, tag Tag) *Streamlet {
	return &Streamlet{
		tag:     tag,
		group:   group,
		entries: make(map[option.DataType][]*node.Node),
	}
}

// Tag returns the streamlet's tag.
func (s *Streamlet) Tag() Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tag
}

// SetTag renames the streamlet. Do not call it while a River holds s.
func (s *Streamlet) SetTag(tag Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tag = tag
}

// GroupID returns the group id stamped on every owned node.
func (s *Streamlet) GroupID() media.GroupID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

// SetGroupID changes the group id of the streamlet and of every owned node.
func (s *Streamlet) SetGroupID(group media.GroupID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group = group
	for _, n := range s.nodes {
		n.SetGroupID(group)
	}
}

// Start starts every owned node. Nodes that fail to start are reported
// together; the others keep running.
func (s *Streamlet) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, n := range s.nodes {
		if err := n.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), "Streamlet", "Start", s.tag.String())
	}
	return nil
}

// Pause pauses every owned node.
func (s *Streamlet) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.Pause()
	}
}

// Resume resumes every owned node.
func (s *Streamlet) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.Resume()
	}
}

// Stop asks every owned node to stop. It does not wait.
func (s *Streamlet) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.Stop()
	}
}

// IsStopped reports whether every owned node has stopped. An empty streamlet
// is stopped.
func (s *Streamlet) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if !n.IsStopped() {
			return false
		}
	}
	return true
}

// Wait blocks until every owned node has stopped or ctx ends.
func (s *Streamlet) Wait(ctx context.Context) error {
	for _, n := range s.Nodes() {
		if err := n.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset resets every owned node.
func (s *Streamlet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.Reset()
	}
}

// Clear forgets every node and entry. It does not stop anything.
func (s *Streamlet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nil
	s.entries = make(map[option.DataType][]*node.Node)
}

// Err returns the failure of the first owned node that has one.
func (s *Streamlet) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if err := n.Failure(); err != nil {
			return err
		}
	}
	return nil
}

// SetNodes replaces the owned nodes and stamps them with the group id.
func (s *Streamlet) SetNodes(nodes []*node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = slices.Clone(nodes)
	for _, n := range s.nodes {
		n.SetGroupID(s.group)
	}
}

// AddNode appends n and stamps it with the group id.
func (s *Streamlet) AddNode(n *node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.SetGroupID(s.group)
	s.nodes = append(s.nodes, n)
}

// RemoveNode stops n and drops it from the node and entry lists.
func (s *Streamlet) RemoveNode(n *node.Node) {
	n.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = slices.DeleteFunc(s.nodes, func(x *node.Node) bool { return x == n })
	for dt, list := range s.entries {
		s.entries[dt] = slices.DeleteFunc(list, func(x *node.Node) bool { return x == n })
	}
}

// Node returns the owned node tagged tag.
func (s *Streamlet) Node(tag string) (*node.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.Tag() == tag {
			return n, true
		}
	}
	return nil, false
}

// Nodes returns the owned nodes in insertion order.
func (s *Streamlet) Nodes() []*node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.nodes)
}

// NodesByCategory returns the owned nodes of category c in insertion order.
func (s *Streamlet) NodesByCategory(c option.Category) []*node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*node.Node
	for _, n := range s.nodes {
		if n.Category() == c {
			out = append(out, n)
		}
	}
	return out
}

// Entries returns the nodes listed under dt.
func (s *Streamlet) Entries(dt option.DataType) []*node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries[dt])
}

// SetEntries replaces the nodes listed under dt.
func (s *Streamlet) SetEntries(dt option.DataType, nodes []*node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[dt] = slices.Clone(nodes)
}

// AddEntry appends n to the nodes listed under dt.
func (s *Streamlet) AddEntry(dt option.DataType, n *node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[dt] = append(s.entries[dt], n)
}

// Dump renders the tag, the nodes and the entry lists.
func (s *Streamlet) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "%s group %d\n", s.tag, s.group)
	for _, n := range s.nodes {
		fmt.Fprintf(&b, "  %s %s\n", n, n.State())
	}
	for dt := option.InVideoBitstream; dt <= option.OutAudioRaw; dt++ {
		list := s.entries[dt]
		if len(list) == 0 {
			continue
		}
		tags := make([]string, len(list))
		for i, n := range list {
			tags[i] = n.Tag()
		}
		fmt.Fprintf(&b, "  %s: %s\n", dt, strings.Join(tags, ", "))
	}
	return b.String()
}

func (s *Streamlet) String() string {
	return s.Tag().String()
}

// entryPair pairs an output entry list of one streamlet with the input entry
// list of the next.
type entryPair struct {
	out, in option.DataType
}

var (
	videoPairs = []entryPair{
		{option.OutVideoBitstream, option.InVideoBitstream},
		{option.OutVideoRaw, option.InVideoRaw},
	}
	audioPairs = []entryPair{
		{option.OutAudioBitstream, option.InAudioBitstream},
		{option.OutAudioRaw, option.InAudioRaw},
	}
)

// Connect wires from's output entries to to's input entries of the same data
// type, index by index. Extra entries on either side stay unconnected.
func Connect(from, to *Streamlet) error {
	return connectPairs("Connect", from, to, append(slices.Clone(videoPairs), audioPairs...))
}

// ConnectVideo is Connect restricted to video entries.
func ConnectVideo(from, to *Streamlet) error {
	return connectPairs("ConnectVideo", from, to, videoPairs)
}

// ConnectAudio is Connect restricted to audio entries.
func ConnectAudio(from, to *Streamlet) error {
	return connectPairs("ConnectAudio", from, to, audioPairs)
}

func connectPairs(method string, from, to *Streamlet, pairs []entryPair) error {
	if from == nil || to == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Streamlet", method, "nil streamlet")
	}
	for _, p := range pairs {
		outs, ins := from.Entries(p.out), to.Entries(p.in)
		for k := range min(len(outs), len(ins)) {
			if err := node.Connect(outs[k], ins[k], media.DefaultStream); err != nil {
				return errors.Wrap(err, "Streamlet", method,
					fmt.Sprintf("connect %s to %s", from.Tag(), to.Tag()))
			}
		}
	}
	return nil
}
