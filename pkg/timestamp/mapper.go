package timestamp

import (
	"github.com/c360/avflow/errors"
)

// Times are the timestamps of an encoded packet, in one time base.
type Times struct {
	PTS      int64
	DTS      int64
	Duration int64
}

// Mapper rescales timestamps crossing one input edge and tracks the first and
// last values seen. It is owned by a single node and is not safe for
// concurrent use.
type Mapper struct {
	Src Rational
	Dst Rational

	firstDTS      int64
	firstPTS      int64
	lastDTS       int64
	lastPTS       int64
	firstFramePTS int64
	lastFramePTS  int64
}

// NewMapper creates a mapper from src to dst.
func NewMapper(src, dst Rational) *Mapper {
	return &Mapper{
		Src:           src,
		Dst:           dst,
		firstDTS:      NoValue,
		firstPTS:      NoValue,
		lastDTS:       NoValue,
		lastPTS:       NoValue,
		firstFramePTS: NoValue,
		lastFramePTS:  NoValue,
	}
}

// RescalePacket rescales t in place. A packet without DTS is left untouched
// and reported as ErrNoDTS. A DTS lower than the last accepted one is
// rescaled but reported as ErrDTSNotMonotonic, and does not move the
// last-seen values.
func (m *Mapper) RescalePacket(t *Times) error {
	if t.DTS == NoValue {
		return errors.ErrNoDTS
	}

	t.PTS = Rescale(t.PTS, m.Src, m.Dst)
	t.DTS = Rescale(t.DTS, m.Src, m.Dst)
	if t.Duration > 0 {
		t.Duration = Rescale(t.Duration, m.Src, m.Dst)
	}

	if m.lastDTS != NoValue && t.DTS < m.lastDTS {
		return errors.ErrDTSNotMonotonic
	}

	m.lastDTS = t.DTS
	m.lastPTS = t.PTS
	if m.firstDTS == NoValue {
		m.firstDTS = t.DTS
	}
	if m.firstPTS == NoValue {
		m.firstPTS = t.PTS
	}
	return nil
}

// RescaleFrame rescales a raw frame pts. Frames carry no DTS and are not
// checked for monotonicity.
func (m *Mapper) RescaleFrame(pts int64) int64 {
	if pts == NoValue {
		return NoValue
	}
	pts = Rescale(pts, m.Src, m.Dst)
	m.lastFramePTS = pts
	if m.firstFramePTS == NoValue {
		m.firstFramePTS = pts
	}
	return pts
}

// Rescale converts v from Src to Dst without touching state.
func (m *Mapper) Rescale(v int64) int64 {
	return Rescale(v, m.Src, m.Dst)
}

func (m *Mapper) FirstDTS() int64      { return m.firstDTS }
func (m *Mapper) FirstPTS() int64      { return m.firstPTS }
func (m *Mapper) LastDTS() int64       { return m.lastDTS }
func (m *Mapper) LastPTS() int64       { return m.lastPTS }
func (m *Mapper) FirstFramePTS() int64 { return m.firstFramePTS }
func (m *Mapper) LastFramePTS() int64  { return m.lastFramePTS }

// SetLastDTS overrides the monotonicity reference, for implementations that
// repair timestamps in their non-monotonic handler.
func (m *Mapper) SetLastDTS(dts int64) { m.lastDTS = dts }

// SetLastPTS overrides the last seen pts.
func (m *Mapper) SetLastPTS(pts int64) { m.lastPTS = pts }
