package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency  = metric.NewHistogram("1m1s")
	MsgsRecvPerSec   = metric.NewCounter("10s1s")
	MsgsSentPerSec   = metric.NewCounter("10s1s")
	BytesRecvPerSec  = metric.NewCounter("10s1s")
	BytesSentPerSec  = metric.NewCounter("10s1s")
	UpdatesPerSec    = metric.NewCounter("10s1s")
	RejectedPerSec   = metric.NewCounter("10s1s")
	WithdrawalPerSec = metric.NewCounter("10s1s")
)

// Mux serves the live metric dashboards
var Mux = http.NewServeMux()

func init() {
	Mux.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	Mux.Handle("/debug/vars", expvar.Handler())
	expvar.Publish("bgp:Msgs/s recv", MsgsRecvPerSec)
	expvar.Publish("bgp:Msgs/s sent", MsgsSentPerSec)
	expvar.Publish("bgp:Bytes/s recv", BytesRecvPerSec)
	expvar.Publish("bgp:Bytes/s sent", BytesSentPerSec)
	expvar.Publish("bgp:Updates/s", UpdatesPerSec)
	expvar.Publish("bgp:Rejected/s", RejectedPerSec)
	expvar.Publish("bgp:Withdrawals/s", WithdrawalPerSec)
	expvar.Publish("bgp:DispatchLatency (µs)", DispatchLatency)
}
