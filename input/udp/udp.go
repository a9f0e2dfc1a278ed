// Package udp provides the MPEG-TS over UDP demuxer implementation. A
// receive loop reads datagrams into a bounded queue; the demuxer parses the
// queued bytes as a transport stream and emits one output per elementary
// stream. Multicast groups are joined when the URL host is one.
package udp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/ts"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/impl"
	"github.com/c360/avflow/media"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/option"
	"github.com/c360/avflow/pkg/buffer"
	"github.com/c360/avflow/pkg/retry"
	"github.com/c360/avflow/pkg/timestamp"
)

// Raw option keys read by the demuxer.
const (
	// OptReadBuffer sets the socket receive buffer in bytes.
	OptReadBuffer = "udp_read_buffer"
	// OptFifoSize bounds the number of queued datagrams. The oldest are
	// dropped when the parser falls behind.
	OptFifoSize = "udp_fifo_size"
	// OptInterface names the interface a multicast group is joined on.
	OptInterface = "udp_interface"
)

const (
	defaultRWTimeout  = 5000 // milliseconds
	defaultFifoSize   = 4096
	defaultReadBuffer = 2 << 20
	maxDatagram       = 65536
)

var errReadTimeout = errors.New("udp read timed out")

// Demuxer reads an MPEG-TS stream from a UDP socket.
type Demuxer struct {
	impl.Base

	addr    *net.UDPAddr
	iface   string
	timeout time.Duration
	retries int

	conn    *net.UDPConn
	fifo    buffer.Buffer[[]byte]
	reader  *datagramReader
	demux   *ts.Demuxer
	streams []av.CodecData
	descs   []*media.Descriptor
	done    chan struct{}
	wg      sync.WaitGroup
	eof     bool

	datagrams atomic.Uint64
	bytes     atomic.Uint64
	dropped   atomic.Uint64
	packets   atomic.Uint64
	socketErr atomic.Uint64
}

// New creates a demuxer.
func New(env impl.Env) (impl.Implementation, error) {
	d := &Demuxer{}
	d.Init(env)
	return d, nil
}

// OnConstruct binds the socket and reads until every stream is described.
// Probing gives up after RWTimeout milliseconds without data.
func (d *Demuxer) OnConstruct() error {
	raw := d.Options.GetDefault(option.KeyInputURL, "")
	if raw == "" {
		return d.Errorf(message.CodeDictMissInputURL, "%w", errors.ErrMissingConfig)
	}
	addr, err := ParseURL(raw)
	if err != nil {
		return err
	}
	d.addr = addr
	d.iface = d.Options.RawDefault(OptInterface, "")
	d.timeout = time.Duration(d.Options.IntOr(option.KeyRWTimeout, defaultRWTimeout)) * time.Millisecond
	d.retries = d.Options.IntOr(option.KeyReconnectRetries, 0)

	fifoSize, err := rawIntOr(d.Options, OptFifoSize, defaultFifoSize, 1, 1<<20)
	if err != nil {
		return err
	}
	readBuffer, err := rawIntOr(d.Options, OptReadBuffer, defaultReadBuffer, 0, 1<<30)
	if err != nil {
		return err
	}

	if err := d.listen(readBuffer); err != nil {
		return err
	}
	if err := d.startReceiver(fifoSize); err != nil {
		_ = d.close()
		return err
	}
	if err := d.probe(); err != nil {
		_ = d.close()
		return err
	}
	d.SetInitialized(true)
	d.Logger.Info("input opened", "addr", d.addr.String(), "multicast", d.addr.IP.IsMulticast(),
		"streams", len(d.streams))
	return nil
}

// ParseURL resolves udp://host:port. An empty host listens on every
// interface.
func ParseURL(raw string) (*net.UDPAddr, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.WrapInvalid(err, "udp-demuxer", "ParseURL", "parse url")
	}
	if !strings.EqualFold(u.Scheme, "udp") {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: scheme %q", errors.ErrValueInvalid, u.Scheme),
			"udp-demuxer", "ParseURL", "check scheme")
	}
	if u.Port() == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s has no port", errors.ErrValueInvalid, raw),
			"udp-demuxer", "ParseURL", "check port")
	}
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, errors.WrapInvalid(err, "udp-demuxer", "ParseURL", "resolve address")
	}
	return addr, nil
}

func rawIntOr(o *option.Options, key string, def, minV, maxV int) (int, error) {
	if !o.HasRaw(key) {
		return def, nil
	}
	v, err := o.RawInt(key, minV, maxV)
	if err != nil {
		return 0, errors.WrapInvalid(err, "udp-demuxer", "construct", "option "+key)
	}
	return v, nil
}

func (d *Demuxer) listen(readBuffer int) error {
	policy := retry.Reconnect(d.retries)
	policy.Notify = func(attempt int, err error, wait time.Duration) {
		d.Logger.Warn("bind failed, retrying", "addr", d.addr.String(), "attempt", attempt, "wait", wait, "error", err)
	}

	conn, err := retry.Value(context.Background(), policy, func(int) (*net.UDPConn, error) {
		if d.addr.IP.IsMulticast() {
			var ifi *net.Interface
			if d.iface != "" {
				i, err := net.InterfaceByName(d.iface)
				if err != nil {
					return nil, retry.Permanent(err)
				}
				ifi = i
			}
			return net.ListenMulticastUDP("udp", ifi, d.addr)
		}
		return net.ListenUDP("udp", d.addr)
	})
	if err != nil {
		return errors.WrapTransient(err, "udp-demuxer", "listen", "bind socket")
	}
	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			d.Logger.Warn("set read buffer failed", "size", readBuffer, "error", err)
		}
	}
	d.conn = conn
	return nil
}

func (d *Demuxer) startReceiver(fifoSize int) error {
	fifo, err := buffer.NewCircularBuffer(fifoSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) { d.dropped.Add(1) }))
	if err != nil {
		return errors.Wrap(err, "udp-demuxer", "construct", "create fifo")
	}
	d.fifo = fifo
	d.done = make(chan struct{})
	d.reader = newDatagramReader(fifo, d.done, d.timeout)

	d.wg.Add(1)
	go d.receive()
	return nil
}

// receive copies datagrams into the fifo until the socket is closed.
func (d *Demuxer) receive() {
	defer d.wg.Done()
	defer close(d.done)

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.socketErr.Add(1)
			d.Logger.Debug("socket read failed", "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if err := d.fifo.Write(data); err != nil {
			return
		}
		d.datagrams.Add(1)
		d.bytes.Add(uint64(n))
		d.reader.notify()
	}
}

func (d *Demuxer) probe() error {
	demux := ts.NewDemuxer(d.reader)
	streams, err := demux.Streams()
	if err != nil {
		if errors.Is(err, errReadTimeout) {
			return errors.WrapTransient(err, "udp-demuxer", "probe", "no data on "+d.addr.String())
		}
		return errors.WrapInvalid(err, "udp-demuxer", "probe", "read program tables")
	}
	if len(streams) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidDescriptor, "udp-demuxer", "probe", "no streams")
	}

	descs := make([]*media.Descriptor, len(streams))
	for i, codec := range streams {
		desc, err := media.DescriptorFromCodec(codec, streamTimeBase(codec))
		if err != nil {
			return fmt.Errorf("stream %d: %w", i, err)
		}
		descs[i] = desc
		d.SetOutput(i, desc)
	}
	d.demux, d.streams, d.descs = demux, streams, descs
	return nil
}

// streamTimeBase is 1/sample rate for audio and 1/90000 otherwise.
func streamTimeBase(codec av.CodecData) timestamp.Rational {
	if a, ok := codec.(av.AudioCodecData); ok && a.SampleRate() > 0 {
		return timestamp.Rational{Num: 1, Den: a.SampleRate()}
	}
	return timestamp.MPEG
}

// OnDestruct closes the socket and waits for the receive loop.
func (d *Demuxer) OnDestruct() error {
	return d.close()
}

func (d *Demuxer) close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.wg.Wait()
	if d.fifo != nil {
		_ = d.fifo.Close()
	}
	d.conn, d.demux = nil, nil
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// OnProcess emits the next packet. A closed socket ends the stream; silence
// longer than RWTimeout is an error.
func (d *Demuxer) OnProcess(ctx *impl.Context) error {
	ctx.Expect = impl.ExpectNothing()
	if d.eof || d.demux == nil {
		return errors.ErrEndOfStream
	}

	pkt, err := d.demux.ReadPacket()
	if err == io.EOF {
		d.eof = true
		d.Logger.Info("input ended", "addr", d.addr.String(), "packets", d.packets.Load())
		return errors.ErrEndOfStream
	}
	if errors.Is(err, errReadTimeout) {
		return d.Errorf(message.CodeImplProcess, "no data for %s: %w", d.timeout, errReadTimeout)
	}
	if err != nil {
		return d.Errorf(message.CodeImplProcess, "read packet: %v", err)
	}

	idx := int(pkt.Idx)
	if idx < 0 || idx >= len(d.descs) {
		d.Logger.Warn("packet for unknown stream", "stream", idx)
		return errors.ErrTryAgain
	}

	desc := d.descs[idx]
	b := media.NewPacketBuffer(media.Address{Stream: idx}, media.PacketFromAV(pkt, desc.TimeBase), desc)
	ctx.CurStreamIndex = idx
	ctx.Emit(b)
	d.packets.Add(1)
	return nil
}

func (d *Demuxer) OnDynamicallyInitialize(*impl.Context) error { return nil }

func (d *Demuxer) OnProcessTravelDynamic(*impl.Context) error { return nil }

// LocalAddr returns the bound socket address, or nil once closed.
func (d *Demuxer) LocalAddr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Statistics implements impl.Statistician.
func (d *Demuxer) Statistics() map[string]string {
	addr := ""
	if d.addr != nil {
		addr = d.addr.String()
	}
	return map[string]string{
		"addr":          addr,
		"streams":       strconv.Itoa(len(d.streams)),
		"datagrams":     strconv.FormatUint(d.datagrams.Load(), 10),
		"bytes":         strconv.FormatUint(d.bytes.Load(), 10),
		"dropped":       strconv.FormatUint(d.dropped.Load(), 10),
		"packets":       strconv.FormatUint(d.packets.Load(), 10),
		"socket_errors": strconv.FormatUint(d.socketErr.Load(), 10),
	}
}

// Register registers the demuxer under the Demux category.
func Register(registry *impl.Registry) error {
	return registry.Register(impl.RegistrationConfig{
		Category: option.Demux,
		Variants: []string{"udp", "mpegts"},
		Properties: impl.Properties{
			Description: "Reads an H.264 and AAC MPEG-TS stream from a UDP socket, unicast or multicast",
			Outputs:     []option.DataType{option.OutVideoBitstream, option.OutAudioBitstream},
			Attributes:  map[string]string{"container": "mpegts", "transport": "udp"},
		},
		Factory: New,
	})
}
