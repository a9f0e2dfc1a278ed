package implregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/option"
)

func TestRegister(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"DataRelay_auto", "DataRelay_datarelay",
		"Demux_auto", "Demux_mp4", "Demux_mpegts", "Demux_udp",
		"Mux_auto", "Mux_mp4", "Mux_mpegts", "Mux_ts",
	}, registry.Keys())

	_, ok := registry.Lookup(option.Demux, "MP4")
	assert.True(t, ok)
	_, ok = registry.Lookup(option.Mux, "ts")
	assert.True(t, ok)
}

func TestRegisterTwice(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	err = Register(registry)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrKeyExists)
}

func TestRegisterNil(t *testing.T) {
	err := Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
