package streamlet

import (
	"fmt"
	"strings"
)

// Kind is the role a streamlet plays in a graph.
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindMix
	KindOutput
	KindSingleNode
	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:    "UnknownStreamlet",
	KindInput:      "InputStreamlet",
	KindMix:        "MixStreamlet",
	KindOutput:     "OutputStreamlet",
	KindSingleNode: "SingleNodeStreamlet",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseKind looks a kind up by name, case-insensitively. The "Streamlet"
// suffix is optional.
func ParseKind(name string) (Kind, bool) {
	for k := KindInput; k < kindCount; k++ {
		full := kindNames[k]
		if strings.EqualFold(full, name) || strings.EqualFold(strings.TrimSuffix(full, "Streamlet"), name) {
			return k, true
		}
	}
	return KindUnknown, false
}

// Tag identifies a streamlet inside a River. Two streamlets of different
// kinds may share a name.
type Tag struct {
	Name string
	Kind Kind
}

// NewTag returns a tag of kind named name.
func NewTag(name string, kind Kind) Tag {
	return Tag{Name: name, Kind: kind}
}

// Less orders tags by kind, then by name.
func (t Tag) Less(o Tag) bool {
	if t.Kind != o.Kind {
		return t.Kind < o.Kind
	}
	return t.Name < o.Name
}

func (t Tag) String() string {
	return fmt.Sprintf("%s_%s", t.Kind, t.Name)
}
