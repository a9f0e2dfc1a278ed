// Package testutil provides test doubles for exercising nodes, streamlets and
// graphs without real media.
//
// # Mock Implementations
//
// Register installs three implementations under the variant "mock":
//
//   - MockSource (Demux) emits numbered packets on one or more streams and
//     then ends its stream. It needs no input.
//   - MockTransform (every decode, filter, mix, encode and relay category)
//     forwards each input on stream 0 and ends after its last peer flushed.
//   - MockSink (Mux) records what it consumes and the peer events it is
//     handed.
//
// Their behavior is tuned with raw options (OptPackets, OptStreams,
// OptPublish, OptFail) set on the options returned by Wave.
//
// # Usage
//
//	reg := testutil.NewRegistry()
//	src := testutil.Wave(option.Demux)
//	src.SetRawInt(testutil.OptPackets, 10)
//	n, err := node.New(src, node.Dependencies{Registry: reg})
//
// All mocks are safe to inspect from the test goroutine while their node
// runs.
package testutil
