// Ring buffer usage
//
//	ring, err := buffer.NewCircularBuffer[message.Message](1000,
//	    buffer.WithOverflowPolicy[message.Message](buffer.DropOldest),
//	    buffer.WithMetrics[message.Message](registry, "diagnostics"),
//	)
//
// DropOldest keeps the most recent items, which is what bounded histories
// want. DropNewest keeps the oldest. Block makes writers wait for readers;
// WriteContext bounds that wait.
//
// Statistics are always collected and are available through Stats(). When a
// metrics registry is supplied, writes, reads, drops and current size are also
// exported under the avflow_ring_* metric family.
package buffer
