// Package health tracks the health of the streamlets a river runs and
// aggregates it into one status.
//
// A status is one of three levels: healthy, degraded (some nodes stopped
// while others still run) or unhealthy (a node failed). Aggregate reports the
// worst level among its sub-statuses.
//
//	m := health.NewMonitor()
//	m.Update("InputStreamlet_cam1", health.NewHealthy("", "3 nodes running"))
//	m.Update("OutputStreamlet_rtmp", health.FromError("", err))
//	river := m.AggregateHealth("river")
//
// FromError sanitizes error text before it reaches a status: URLs (web and
// media schemes such as rtmp:// or srt://), file paths, IP addresses, ports
// and credentials are replaced with placeholders.
package health
