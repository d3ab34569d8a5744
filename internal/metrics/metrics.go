// Package metrics wires github.com/encodeous/metric counters and
// histograms for the router's ambient observability, mirroring the
// teacher's perf/vars.go: cheap, always-on instrumentation exposed via
// expvar rather than a spec-mandated feature.
package metrics

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	ForwarderQueueDepth = metric.NewHistogram("10s1s")
	SubstrateQueueDepth = metric.NewHistogram("10s1s")
	LinkRTT             = metric.NewHistogram("1m1s")
	DataPacketsSent     = metric.NewCounter("10s1s")
	DataPacketsRecv     = metric.NewCounter("10s1s")
	ControlPacketsSent  = metric.NewCounter("10s1s")
	ControlPacketsRecv  = metric.NewCounter("10s1s")
	PacketsDropped      = metric.NewCounter("10s1s")
)

var published bool

// Publish registers /debug/metrics on the default mux and exposes all
// counters/histograms via expvar. Idempotent, and only called when the
// CLI is given --metrics-addr.
func Publish() {
	if published {
		return
	}
	published = true
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("pathrtr:ForwarderQueueDepth", ForwarderQueueDepth)
	expvar.Publish("pathrtr:SubstrateQueueDepth", SubstrateQueueDepth)
	expvar.Publish("pathrtr:LinkRTT(s)", LinkRTT)
	expvar.Publish("pathrtr:DataPackets/sSent", DataPacketsSent)
	expvar.Publish("pathrtr:DataPackets/sRecv", DataPacketsRecv)
	expvar.Publish("pathrtr:ControlPackets/sSent", ControlPacketsSent)
	expvar.Publish("pathrtr:ControlPackets/sRecv", ControlPacketsRecv)
	expvar.Publish("pathrtr:PacketsDropped/s", PacketsDropped)
}
