package engine

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avflow/config"
	"github.com/c360/avflow/errors"
	"github.com/c360/avflow/event"
	"github.com/c360/avflow/message"
	"github.com/c360/avflow/metric"
	"github.com/c360/avflow/node"
	"github.com/c360/avflow/streamlet"
	"github.com/c360/avflow/testutil"
)

const waitFor = 2 * time.Second

func newEngine(t *testing.T) *Engine {
	t.Helper()
	msgs, err := message.NewCollector()
	require.NoError(t, err)
	deps := node.Dependencies{
		Registry: testutil.NewRegistry(),
		Messages: msgs,
		Metrics:  metric.NewMetricsRegistry(),
	}
	e := New(deps, Options{MonitorInterval: 5 * time.Millisecond, ShutdownTimeout: waitFor})
	t.Cleanup(func() {
		assert.NoError(t, e.Close())
		e.River().Stop()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = e.River().Wait(ctx)
	})
	return e
}

func mockNode(category, tag string, opts map[string]string) config.NodeDef {
	return config.NodeDef{Category: category, Variant: testutil.MockVariant, Tag: tag, Options: opts}
}

func camDef(packets string) config.StreamletDef {
	return config.StreamletDef{
		Name: "cam",
		Kind: "input",
		Nodes: []config.NodeDef{
			mockNode("Demux", "demux", map[string]string{testutil.OptPackets: packets}),
			mockNode("VideoDecode", "vdec", nil),
		},
	}
}

func recordDef(name string) config.StreamletDef {
	return config.StreamletDef{
		Name:   name,
		Kind:   "singleNode",
		Input:  "InVideoRaw",
		Output: "OutVideoBitstream",
		Nodes:  []config.NodeDef{mockNode("Mux", "mux", nil)},
	}
}

func transcodeGraph(packets string) *config.Graph {
	return &config.Graph{
		Streamlets: []config.StreamletDef{camDef(packets), recordDef("rec")},
		Links:      []config.Link{{From: "cam", To: "rec", Media: "video"}},
	}
}

func sinkOf(t *testing.T, e *Engine, name string) *testutil.MockSink {
	t.Helper()
	n, err := e.Node(config.Endpoint{Streamlet: name, Node: "mux"})
	require.NoError(t, err)
	return n.Implementation().(*testutil.MockSink)
}

func count(msgs []message.Message, code message.Code) int {
	c := 0
	for _, m := range msgs {
		if m.Code == code {
			c++
		}
	}
	return c
}

func TestEngineRunsGraphToCompletion(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Load(transcodeGraph("5")))
	assert.Equal(t, 2, e.River().Len())
	sink := sinkOf(t, e, "rec")

	ctx, cancel := context.WithTimeout(context.Background(), 5*waitFor)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	require.NoError(t, ctx.Err(), "run returns once every streamlet finished")

	assert.Len(t, sink.Received(), 5)
	assert.Zero(t, e.River().Len())

	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.builds.WithLabelValues("InputStreamlet", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.builds.WithLabelValues("SingleNodeStreamlet", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.links.WithLabelValues("streamlet", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.loads.WithLabelValues("success")))
	assert.Equal(t, 2, count(e.deps.Messages.Drain(), message.InfoStreamletAdd))
	assert.Eventually(t, func() bool { return e.builds.Stats().Processed == 2 }, waitFor, time.Millisecond,
		"load builds on the pool")
}

func TestEngineLoadAfterClose(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Close())

	require.NoError(t, e.Load(transcodeGraph("5")), "a closed engine builds inline")
	assert.Equal(t, 2, e.River().Len())
	assert.Zero(t, e.builds.Stats().Processed)

	err := e.Load(transcodeGraph("5"))
	assert.ErrorIs(t, err, errors.ErrKeyExists, "a graph cannot reuse loaded names")
	assert.Equal(t, 2, e.River().Len())
}

func TestEngineBuildPanicIsAnError(t *testing.T) {
	e := newEngine(t)
	var got error
	job := buildJob{
		def:  nil,
		done: func(s *streamlet.Streamlet, err error) { got = err; assert.Nil(t, s) },
	}
	assert.Error(t, e.runBuild(context.Background(), job))
	assert.True(t, errors.IsFatal(got))
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Load(transcodeGraph("1000000")))
	sink := sinkOf(t, e, "rec")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.Received()) > 0 }, waitFor, time.Millisecond)
	assert.Error(t, e.Run(ctx), "one run at a time")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * waitFor):
		t.Fatal("run did not return after cancel")
	}
	assert.Zero(t, e.River().Len())
}

func TestEngineAddStreamletWhileRunning(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Load(transcodeGraph("1000000")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, e.isRunning, waitFor, time.Millisecond)

	producer := config.StreamletDef{
		Name:   "late",
		Kind:   "singleNode",
		Input:  "InVideoBitstream",
		Output: "OutVideoBitstream",
		Nodes:  []config.NodeDef{mockNode("Demux", "src", map[string]string{testutil.OptPackets: "3"})},
	}
	s, err := e.AddStreamlet(&producer)
	require.NoError(t, err)
	src := s.Nodes()[0].Implementation().(*testutil.MockSource)
	require.Eventually(t, func() bool { return src.Emitted() == 3 }, waitFor, time.Millisecond,
		"a streamlet added to a running engine starts at once")
}

func TestEngineLoadRollsBack(t *testing.T) {
	e := newEngine(t)
	g := transcodeGraph("5")
	g.Streamlets[1].Nodes[0].Variant = "matroska"

	err := e.Load(g)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrVariantNotRegistered)
	assert.Zero(t, e.River().Len(), "streamlets built before the failure are removed")

	msgs := e.deps.Messages.Drain()
	assert.Equal(t, 1, count(msgs, message.CodeBuildStreamlet))
	assert.Equal(t, 1, count(msgs, message.CodeLoadGraph))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.loads.WithLabelValues("failure")))

	t.Run("nil graph", func(t *testing.T) {
		assert.ErrorIs(t, e.Load(nil), errors.ErrMissingConfig)
	})
}

func TestEngineStreamletControl(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Load(transcodeGraph("1000000")))

	dup := recordDef("cam")
	_, err := e.AddStreamlet(&dup)
	assert.ErrorIs(t, err, errors.ErrKeyExists, "names are unique across kinds")

	s, ok := e.Streamlet("cam")
	require.True(t, ok)
	assert.Equal(t, streamlet.KindInput, s.Tag().Kind)

	require.NoError(t, s.Start())
	require.NoError(t, e.Pause("cam"))
	for _, n := range s.Nodes() {
		assert.Equal(t, node.StatePause, n.State())
	}
	require.NoError(t, e.Resume("cam"))

	require.NoError(t, e.RemoveStreamlet("cam"))
	require.Eventually(t, s.IsStopped, waitFor, time.Millisecond)

	for _, op := range []func(string) error{e.RemoveStreamlet, e.Pause, e.Resume} {
		assert.ErrorIs(t, op("nope"), errors.ErrNoSuchKey)
	}
}

func TestEngineNodeLinks(t *testing.T) {
	e := newEngine(t)
	g := transcodeGraph("5")
	g.Links = nil
	require.NoError(t, e.Load(g))

	vdec, err := e.Node(config.Endpoint{Streamlet: "cam", Node: "vdec"})
	require.NoError(t, err)
	mux, err := e.Node(config.Endpoint{Streamlet: "rec", Node: "mux"})
	require.NoError(t, err)

	data := config.Link{From: "cam/vdec", To: "rec/mux"}
	require.NoError(t, e.Link(data))
	assert.True(t, node.Connected(vdec, mux, 0))
	require.NoError(t, e.Unlink(data))
	assert.False(t, node.Connected(vdec, mux, 0))

	sub := config.Link{From: "cam/vdec", To: "rec/mux", Subscribe: true}
	require.NoError(t, e.Link(sub))
	require.NoError(t, e.Link(sub), "subscribing twice is a no-op")
	require.NoError(t, e.Unlink(sub))

	assert.Error(t, e.Unlink(config.Link{From: "cam", To: "rec"}), "streamlet links cannot be undone")
	assert.ErrorIs(t, e.Link(config.Link{From: "cam/nope", To: "rec/mux"}), errors.ErrNoSuchKey)
	assert.ErrorIs(t, e.Link(config.Link{From: "cam", To: "gone"}), errors.ErrNoSuchKey)
	assert.Error(t, e.Link(config.Link{From: "cam", To: "rec", Media: "subtitles"}))

	assert.Equal(t, 2.0, promtest.ToFloat64(e.metrics.links.WithLabelValues("node", "success")))
	assert.Equal(t, 3.0, promtest.ToFloat64(e.metrics.links.WithLabelValues("subscribe", "success")))
}

func TestEngineSendEvent(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Load(transcodeGraph("5")))
	to := config.Endpoint{Streamlet: "rec", Node: "mux"}

	require.NoError(t, e.SendEvent(to, &event.StopPublishing{}))
	assert.Len(t, sinkOf(t, e, "rec").Stops(), 1)

	err := e.SendEvent(to, &event.VideoKeyFrameRequest{ForceIDR: true})
	assert.ErrorIs(t, err, errors.ErrEventNotSupported)
	assert.ErrorIs(t, e.SendEvent(config.Endpoint{Streamlet: "rec", Node: "x"}, &event.StopPublishing{}), errors.ErrNoSuchKey)
	assert.Error(t, e.SendEvent(to, nil))

	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.events.WithLabelValues("StopPublishing", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.events.WithLabelValues("VideoKeyFrameRequest", "failure")))
}

func TestNewWithoutMetrics(t *testing.T) {
	e := New(node.Dependencies{Registry: testutil.NewRegistry()}, Options{})
	defer e.Close()
	assert.Nil(t, e.metrics)
	assert.NotNil(t, e.builds)
	assert.Equal(t, streamlet.DefaultMonitorInterval, e.opts.MonitorInterval)
	assert.Equal(t, defaultShutdownTimeout, e.opts.ShutdownTimeout)
	assert.Equal(t, defaultBuildWorkers, e.opts.BuildWorkers)

	def := camDef("1")
	_, err := e.AddStreamlet(&def)
	require.NoError(t, err)
	e.River().Stop()
}
