// Package media defines the data moving along node edges: the Address that
// identifies a producer's output, the reference-counted Buffer carrying one
// packet or frame, the negotiated stream Descriptor, and the Limiter that
// bounds how many buffers a producer may have in flight downstream.
package media

import (
	"fmt"

	"github.com/google/uuid"
)

// FlushIndex is the stream index carried by end-of-stream markers. An address
// with this index equals every address of the same producer.
const FlushIndex = 0xFEDCBA98

// DefaultStream is the stream index of a producer with a single output.
const DefaultStream = 0

// GroupID identifies the streamlet a node belongs to.
type GroupID uint64

// Address identifies one logical output of a node.
type Address struct {
	Producer uuid.UUID
	Group    GroupID
	Stream   int
	// Tag is the producer's log tag. It does not take part in comparison.
	Tag string
}

// NewAddress returns the address of stream on producer.
func NewAddress(producer uuid.UUID, group GroupID, stream int) Address {
	return Address{Producer: producer, Group: group, Stream: stream}
}

// Equal reports whether a and b name the same output. The flush index
// matches any stream of the same producer.
func (a Address) Equal(b Address) bool {
	if a.Producer != b.Producer {
		return false
	}
	return a.Stream == b.Stream || a.Stream == FlushIndex || b.Stream == FlushIndex
}

// IsFlush reports whether a carries the flush index.
func (a Address) IsFlush() bool {
	return a.Stream == FlushIndex
}

// WithStream returns a copy of a pointing at stream.
func (a Address) WithStream(stream int) Address {
	a.Stream = stream
	return a
}

// Flush returns the flush address of a's producer.
func (a Address) Flush() Address {
	return a.WithStream(FlushIndex)
}

func (a Address) String() string {
	stream := fmt.Sprint(a.Stream)
	if a.IsFlush() {
		stream = "flush"
	}
	if a.Tag != "" {
		return fmt.Sprintf("%s(%s)/%d/%s", a.Tag, a.Producer.String()[:8], a.Group, stream)
	}
	return fmt.Sprintf("%s/%d/%s", a.Producer, a.Group, stream)
}
