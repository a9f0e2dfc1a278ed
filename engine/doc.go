// Package engine turns graph definitions into a running river.
//
// An Engine owns one streamlet.River. Load builds every streamlet a
// config.Graph describes with the builder of its kind, then applies the
// graph's links:
//
//	eng := engine.New(deps, engine.Options{BufLimit: 8})
//	if err := eng.Load(graph); err != nil {
//		return err
//	}
//	err := eng.Run(ctx)
//
// Run starts every streamlet and sweeps the river until ctx ends or all
// streamlets have finished. While it runs, streamlets can be added
// (AddStreamlet starts them at once), linked, paused, resumed and removed,
// and dynamic events can be sent to single nodes. RegisterHTTPHandlers
// exposes the same operations over HTTP:
//
//	GET    /streamlets               list streamlets and node state
//	POST   /streamlets               add a streamlet (YAML or JSON StreamletDef)
//	DELETE /streamlets/{name}        stop a streamlet; the monitor sweeps it
//	POST   /streamlets/{name}/pause
//	POST   /streamlets/{name}/resume
//	POST   /links                    apply a Link
//	DELETE /links                    undo a node Link
//	POST   /events                   send an EventRequest to "streamlet/node"
//	GET    /health                   river health, 503 when unhealthy
//	GET    /load                     queue depth and in-flight summary
//
// Build, link, event and load outcomes are counted in Prometheus metrics
// under the avflow_engine subsystem.
package engine
