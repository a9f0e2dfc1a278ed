// Package implregistry registers the implementations shipped with avflow.
package implregistry

import (
	"errors"

	pkgerrors "github.com/c360/avflow/errors"
	"github.com/c360/avflow/impl"
	inputmp4 "github.com/c360/avflow/input/mp4"
	"github.com/c360/avflow/input/udp"
	"github.com/c360/avflow/output/file"
	outputmp4 "github.com/c360/avflow/output/mp4"
	"github.com/c360/avflow/processor/relay"
)

// Register registers every built-in implementation with registry:
//
//   - DataRelay: relay (variants "auto", "dataRelay")
//   - Demux: MP4 file input (variants "auto", "mp4")
//   - Demux: MPEG-TS over UDP input (variants "udp", "mpegts")
//   - Mux: MP4 file output (variants "auto", "mp4")
//   - Mux: MPEG-TS file output (variants "mpegts", "ts")
//
// Codec, filter and mixer implementations live outside this module and
// register themselves the same way.
func Register(registry *impl.Registry) error {
	// A nil registry is a programming error, not invalid input.
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ImplRegistry", "Register", "registry validation")
	}

	if err := relay.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ImplRegistry", "Register", "data relay registration")
	}
	if err := inputmp4.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ImplRegistry", "Register", "MP4 demuxer registration")
	}
	if err := udp.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ImplRegistry", "Register", "UDP demuxer registration")
	}
	if err := outputmp4.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ImplRegistry", "Register", "MP4 muxer registration")
	}
	if err := file.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ImplRegistry", "Register", "MPEG-TS muxer registration")
	}
	return nil
}

// NewRegistry returns a registry holding every built-in implementation.
func NewRegistry() (*impl.Registry, error) {
	registry := impl.NewRegistry()
	if err := Register(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
