package mp4

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/option"
)

func TestDemuxerOptions(t *testing.T) {
	reg := impl.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Equal(t, []string{"auto", "mp4"}, reg.Variants(option.Demux))

	t.Run("missing url", func(t *testing.T) {
		_, err := reg.Create(impl.Env{Options: option.NewWave(option.Demux, "mp4")})
		assert.ErrorIs(t, err, errors.ErrCreateImplementation)
		assert.ErrorIs(t, err, errors.ErrMissingConfig)
	})

	t.Run("missing file", func(t *testing.T) {
		opts := option.NewWave(option.Demux, "mp4")
		require.NoError(t, opts.Set(option.KeyInputURL, filepath.Join(t.TempDir(), "none.mp4")))
		require.NoError(t, opts.SetInt(option.KeyReconnectRetries, 1))

		start := time.Now()
		_, err := reg.Create(impl.Env{Options: opts})
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "one retry waits")
	})

	t.Run("not an mp4", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.mp4")
		require.NoError(t, os.WriteFile(path, []byte("not a movie"), 0o600))
		opts := option.NewWave(option.Demux, "mp4")
		require.NoError(t, opts.Set(option.KeyInputURL, path))

		_, err := reg.Create(impl.Env{Options: opts})
		assert.ErrorIs(t, err, errors.ErrCreateImplementation)
	})
}

func TestDemuxerDestructTwice(t *testing.T) {
	d := &Demuxer{}
	d.Init(impl.Env{})
	require.NoError(t, d.OnDestruct())
	require.NoError(t, d.OnDestruct())

	ctx := impl.NewContext(nil, nil, impl.ExpectNothing())
	assert.True(t, errors.IsEOF(d.OnProcess(ctx)))
}

func TestPace(t *testing.T) {
	d := &Demuxer{}
	d.pace(time.Second)
	first := d.start

	begin := time.Now()
	d.pace(time.Second + 20*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(begin), 15*time.Millisecond)
	assert.Equal(t, first, d.start)
}
