// Package avflow is a live audio/video dataflow runtime. A process holds a
// river of streamlets; each streamlet owns nodes; each node runs one
// implementation (a demuxer, decoder, relay, muxer and so on) on its own
// goroutine and exchanges processing buffers and control events with its
// peers over transmitors.
//
// # Architecture
//
// Data moves along edges between nodes:
//
//	demux ──▶ decode ──▶ ... ──▶ mux
//	  │                          ▲
//	  └──────── events ──────────┘
//
// The layers, bottom up:
//
//   - media: Address, Buffer and Stream Descriptor, the values that travel.
//   - transmit: the edge. A thread-safe queue that routes buffers to
//     recipients by Address and waits on the Expectation a node sets.
//   - impl: the Implementation contract, the pre/post process pipeline
//     that performs dynamic initialization and timestamp rescaling, and the
//     Registry keyed by category and variant.
//   - node: the state machine (Create, Start, Pause, Stop) and the loop that
//     drives one implementation, with a Limiter bounding unreleased output.
//   - streamlet: named groups of nodes with designated external inputs and
//     outputs, the builders that assemble them, and the River that starts,
//     stops, monitors and sweeps them as a whole.
//   - engine: loads a graph definition into a river and exposes it over
//     HTTP and, optionally, NATS.
//
// Ambient infrastructure follows one shape throughout: log/slog for
// logging, the errors package for classified errors
// (Invalid/Transient/Fatal), metric for Prometheus collectors, and message
// for the numeric diagnostics every node reports.
//
// # Implementations
//
// Shipped variants are registered by implregistry:
//
//   - Demux: mp4 (file), udp/mpegts (MPEG-TS over UDP, unicast or multicast)
//   - Mux: mp4 (file), mpegts/ts (MPEG-TS file)
//   - DataRelay: datarelay
//
// Container parsing and writing is done with joy4.
//
// # Running
//
//	avflow --graph=/etc/avflow/transcode.yaml
//	avflow --graph=graph.yaml --validate
//	avflow --graph=graph.yaml --nats-url=nats://localhost:4222
//
// With the metrics server enabled the process serves /metrics, /health, the
// control API under /api, and a WebSocket feed of reports at /api/watch.
package avflow
