package transmit

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/media"
)

type edge = Transmitor[*media.Buffer, media.Address]

func newEdge(tag string) (*edge, media.Address) {
	self := media.NewAddress(uuid.New(), 0, media.DefaultStream)
	self.Tag = tag
	return New[*media.Buffer](tag, self), self
}

func connect(t *testing.T, from *edge, fromAddr media.Address, to *edge) {
	t.Helper()
	require.NoError(t, to.AddSender(fromAddr, from))
	require.NoError(t, from.AddRecipient(fromAddr, to))
}

func packet(addr media.Address) *media.Buffer {
	return media.NewPacketBuffer(addr, &media.Packet{Data: []byte{0}}, nil)
}

func TestProducerConsumerFlush(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")
	connect(t, p, pAddr, c)

	for i := range 3 {
		assert.Equal(t, 1, p.Delivery(packet(pAddr)))
		assert.Equal(t, uint64(i+1), c.ReceiveCount(pAddr))
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, uint64(3), p.SendCount(c.Self()))

	// the consumer works through its queue
	for range 3 {
		buf, err := c.Expect(t.Context(), ExpectAnyOne[media.Address](), 10*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, buf)
		assert.True(t, c.Farewell(buf))
	}

	flush := media.NewFlush(pAddr)
	assert.Zero(t, p.Delivery(flush), "flush is not routed by address")
	assert.Equal(t, 1, p.Broadcast(flush))

	in, err := c.Expect(t.Context(), ExpectAnyOne[media.Address](), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, in.IsFlush())

	assert.Equal(t, 1, c.DeleteSender(in.Address()))
	c.Farewell(in)
	assert.False(t, c.HasSender(pAddr))
	assert.Empty(t, c.Senders())
	assert.Zero(t, c.Len())
}

func TestMergeCountsPerSender(t *testing.T) {
	orders := map[string][]int{
		"alternating": {1, 2, 1, 2},
		"grouped":     {1, 1, 2, 2},
		"reversed":    {2, 2, 1, 1},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			p1, a1 := newEdge("P1")
			p2, a2 := newEdge("P2")
			m, _ := newEdge("M")
			connect(t, p1, a1, m)
			connect(t, p2, a2, m)

			for _, who := range order {
				if who == 1 {
					p1.Delivery(packet(a1))
				} else {
					p2.Delivery(packet(a2))
				}
			}

			for range 4 {
				buf, err := m.Expect(t.Context(), ExpectAnyOne[media.Address](), 10*time.Millisecond)
				require.NoError(t, err)
				m.Farewell(buf)
			}
			assert.Equal(t, uint64(2), m.ReceiveCount(a1))
			assert.Equal(t, uint64(2), m.ReceiveCount(a2))
		})
	}
}

func TestDeliveryRoutesByStream(t *testing.T) {
	p, pAddr := newEdge("P")
	video, _ := newEdge("video")
	audio, _ := newEdge("audio")
	connect(t, p, pAddr.WithStream(0), video)
	connect(t, p, pAddr.WithStream(1), audio)

	assert.Equal(t, 1, p.Delivery(packet(pAddr.WithStream(1))))
	assert.Zero(t, video.Len())
	assert.Equal(t, 1, audio.Len())

	assert.Equal(t, 2, p.Broadcast(media.NewFlush(pAddr)))
	assert.Equal(t, 1, video.Len())
	assert.Equal(t, 2, audio.Len())
}

func TestExpectRules(t *testing.T) {
	p1, a1 := newEdge("P1")
	p2, a2 := newEdge("P2")
	m, _ := newEdge("M")
	connect(t, p1, a1, m)
	connect(t, p2, a2, m)

	first := packet(a1)
	second := packet(a2)
	p1.Delivery(first)
	p2.Delivery(second)

	tests := []struct {
		name string
		exp  Expectation[media.Address]
		want *media.Buffer
	}{
		{"nothing takes head", ExpectNothing[media.Address](), first},
		{"any one", ExpectAnyOne[media.Address](), first},
		{"specific", ExpectSpecific(a2), second},
		{"exclude", ExpectExcept(a1), second},
		{"empty order", Expectation[media.Address]{}, first},
		{"first satisfied rule wins", Expectation[media.Address]{
			Order:    []Rule{SpecificOne, AnyOne},
			Specific: a2,
		}, second},
		{"fallback rule", Expectation[media.Address]{
			Order:    []Rule{SpecificOne, AnyOne},
			Specific: media.NewAddress(uuid.New(), 0, 0),
		}, first},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Expect(t.Context(), tt.exp, time.Millisecond)
			require.NoError(t, err)
			assert.Same(t, tt.want, got)
			assert.Equal(t, 2, m.Len(), "Expect must not dequeue")
		})
	}
}

func TestExpectUnsatisfied(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")

	got, err := c.Expect(t.Context(), ExpectNothing[media.Address](), time.Millisecond)
	require.NoError(t, err, "nothing is satisfied vacuously")
	assert.Nil(t, got)

	_, err = c.Expect(t.Context(), ExpectAnyOne[media.Address](), 5*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrTryAgain)

	connect(t, p, pAddr, c)
	p.Delivery(packet(pAddr))
	_, err = c.Expect(t.Context(), ExpectExcept(pAddr), 5*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrTryAgain)

	c.DeleteSender(pAddr)
	_, err = c.Expect(t.Context(), ExpectAnyOne[media.Address](), 5*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrNoSenders)
}

func TestExpectWakesOnWelcome(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")
	connect(t, p, pAddr, c)

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Delivery(packet(pAddr))
	}()

	start := time.Now()
	got, err := c.Expect(t.Context(), ExpectAnyOne[media.Address](), 5*time.Second)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueueHoldsReference(t *testing.T) {
	p, pAddr := newEdge("P")
	c1, _ := newEdge("C1")
	c2, _ := newEdge("C2")
	connect(t, p, pAddr, c1)
	connect(t, p, pAddr, c2)

	limiter := media.NewLimiter(1)
	buf := packet(pAddr)
	require.NoError(t, limiter.Limit(t.Context(), buf))
	require.Equal(t, 2, p.Delivery(buf))
	buf.Release() // producer's reference
	assert.Equal(t, 1, limiter.InFlight())

	c1.Farewell(buf)
	assert.Equal(t, 1, limiter.InFlight())
	assert.False(t, c1.Farewell(buf), "second farewell is a no-op")

	c2.Clear()
	assert.Equal(t, 0, limiter.InFlight())
}

func TestFarewellRemovesOneOccurrence(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")
	connect(t, p, pAddr, c)

	buf := packet(pAddr)
	p.Delivery(buf)
	p.Delivery(buf)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, int32(3), buf.Refs())

	c.Farewell(buf)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int32(2), buf.Refs())
}

func TestClearDetachesFromUpstream(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")
	connect(t, p, pAddr, c)
	p.Delivery(packet(pAddr))

	c.Clear()
	assert.Zero(t, p.Recipients())
	assert.Zero(t, c.Len())
	assert.True(t, c.Closed())
	assert.False(t, c.Welcome(packet(pAddr)))
	assert.ErrorIs(t, c.AddSender(pAddr, p), errors.ErrEdgeClosed)
}

func TestClearWhileUpstreamDelivers(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")
	connect(t, p, pAddr, c)

	limiter := media.NewLimiter(0)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 1000 {
			buf := packet(pAddr)
			_ = limiter.Limit(t.Context(), buf)
			p.Delivery(buf)
			buf.Release()
		}
	}()

	time.Sleep(time.Millisecond)
	c.Clear()
	wg.Wait()

	assert.Zero(t, limiter.InFlight(), "every buffer refused or dropped by the cleared edge is released")
}

func TestRetrieve(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")
	connect(t, p, pAddr, c)

	_, ok := c.Retrieve()
	assert.False(t, ok)

	a := packet(pAddr)
	b := packet(pAddr)
	p.Delivery(a)
	p.Delivery(b)

	got, ok := c.Retrieve()
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, 1, c.Len())
}

func TestStats(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")
	connect(t, p, pAddr, c)
	p.Delivery(packet(pAddr))

	assert.Contains(t, c.Stats(), "= 1>")
	assert.Contains(t, p.Stats(), "= 1>")
}

func TestDeleteRecipientLink(t *testing.T) {
	p, pAddr := newEdge("P")
	c, _ := newEdge("C")
	video, audio := pAddr.WithStream(0), pAddr.WithStream(1)
	connect(t, p, video, c)
	connect(t, p, audio, c)

	assert.Equal(t, 1, p.DeleteRecipientLink(audio, c))
	assert.Zero(t, p.DeleteRecipientLink(audio, c))
	assert.Equal(t, 1, p.Recipients())
	assert.Equal(t, 1, p.Delivery(packet(video)))
	assert.Zero(t, p.Delivery(packet(audio)))
}
