package udp

import (
	"io"
	"time"

	"github.com/c360/avflow/pkg/buffer"
)

// datagramReader serves queued datagrams as one byte stream. Read blocks
// until data arrives, the receive loop ends or the timeout passes.
type datagramReader struct {
	fifo    buffer.Buffer[[]byte]
	ready   chan struct{}
	done    <-chan struct{}
	timeout time.Duration
	cur     []byte
}

func newDatagramReader(fifo buffer.Buffer[[]byte], done <-chan struct{}, timeout time.Duration) *datagramReader {
	return &datagramReader{
		fifo:    fifo,
		ready:   make(chan struct{}, 1),
		done:    done,
		timeout: timeout,
	}
}

// notify wakes a blocked Read. It never blocks.
func (r *datagramReader) notify() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

func (r *datagramReader) Read(p []byte) (int, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for len(r.cur) == 0 {
		if b, ok := r.fifo.Read(); ok {
			r.cur = b
			continue
		}
		var expired <-chan time.Time
		if r.timeout > 0 {
			if timer == nil {
				timer = time.NewTimer(r.timeout)
			}
			expired = timer.C
		}
		select {
		case <-r.ready:
		case <-r.done:
			// drain what the receive loop queued before it stopped
			if b, ok := r.fifo.Read(); ok {
				r.cur = b
				continue
			}
			return 0, io.EOF
		case <-expired:
			return 0, errReadTimeout
		}
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}
