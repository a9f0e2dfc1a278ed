package message

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
)

func TestCodeSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     Code
		severity Severity
	}{
		{"success", Success, SeverityInfo},
		{"try again", CodeTryAgain, SeverityError},
		{"eof", CodeEndOfStream, SeverityError},
		{"dynamic init", CodeImplDynamicInit, SeverityError},
		{"info", InfoConnect, SeverityInfo},
		{"warning", WarnDropData, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.severity, tt.code.Severity())
		})
	}
}

func TestReportCodesArePositive(t *testing.T) {
	assert.Greater(t, int32(InfoRunThread), int32(0))
	assert.Greater(t, int32(WarnCacheTooMany), int32(0))
	assert.Less(t, int32(CodeEmptyImpl), int32(0))
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "Success", Success.String())
	assert.Equal(t, "Node connect", InfoConnect.String())
	assert.Equal(t, "unknown", InfoTag('Z', 'Z', 'Z').String())
	assert.Equal(t, "error -99", Code(-99).String())
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
	}{
		{"nil", nil, Success},
		{"try again", errors.ErrTryAgain, CodeTryAgain},
		{"wrapped eof", errors.Wrap(errors.ErrEndOfStream, "Demux", "OnProcess", "read"), CodeEndOfStream},
		{"dynamic init", errors.WrapFatal(errors.ErrDynamicInit, "Mux", "Init", "open"), CodeImplDynamicInit},
		{"unregistered", errors.ErrVariantNotRegistered, CodeFactoryBadVariant},
		{"explicit code", Errorf(CodeEventLayout, "bad cell %d", 3), CodeEventLayout},
		{"unknown", fmt.Errorf("boom"), CodeImplProcess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}
}

func TestCollectorFIFO(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	c.Add(InfoRunThread, "demux", "")
	c.AddError("mux", errors.ErrDynamicInit)

	msgs := c.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, InfoRunThread, msgs[0].Code)
	assert.Equal(t, "Node - run process loop", msgs[0].Detail)
	assert.False(t, msgs[0].HasErr())
	assert.True(t, msgs[1].HasErr())
	assert.Equal(t, SeverityError, msgs[1].Severity)
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)
	assert.Equal(t, 0, c.Len())
}

func TestCollectorDropsOldest(t *testing.T) {
	c, err := NewCollector(WithCapacity(3))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.Add(WarnDropData, "node", fmt.Sprintf("frame %d", i))
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(2), c.Dropped())

	first, ok := c.Next()
	require.True(t, ok)
	assert.Contains(t, first.Detail, "frame 2")
}

func TestCollectorDefaultCapacity(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	for i := 0; i < DefaultCapacity+10; i++ {
		c.Add(InfoConnect, "", "")
	}
	assert.Equal(t, DefaultCapacity, c.Len())
}

func TestCollectorConcurrentProducers(t *testing.T) {
	c, err := NewCollector(WithCapacity(10000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Add(InfoConnect, "p", "")
			}
		}()
	}
	wg.Wait()

	msgs := c.Drain()
	require.Len(t, msgs, 800)
	for i := 1; i < len(msgs); i++ {
		require.Equal(t, msgs[i-1].Seq+1, msgs[i].Seq, "drain order follows sequence order")
	}
}
