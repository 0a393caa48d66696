package perf

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Routes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bgp",
		Name:      "routes",
		Help:      "Number of routes in the routing table",
	}, []string{"router"})

	Sessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bgp",
		Name:      "sessions",
		Help:      "Number of live sessions",
	}, []string{"router"})

	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bgp",
		Name:      "messages_received_total",
		Help:      "Messages received by type",
	}, []string{"router", "type"})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bgp",
		Name:      "messages_sent_total",
		Help:      "Messages sent by type",
	}, []string{"router", "type"})

	UpdatesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bgp",
		Name:      "updates_rejected_total",
		Help:      "Updates dropped by the trust gate",
	}, []string{"router", "neighbor"})

	SessionFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bgp",
		Name:      "session_faults_total",
		Help:      "Sessions ended by decode, unsupported feature or connection faults",
	}, []string{"router", "kind"})

	Trust = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bgp",
		Name:      "trust",
		Help:      "Blended trust per neighbor",
	}, []string{"router", "neighbor"})
)

func mustRegister(c prometheus.Collector) {
	err := prometheus.Register(c)
	are := prometheus.AlreadyRegisteredError{}
	if errors.As(err, &are) {
		return
	}
	if err != nil {
		panic(err)
	}
}

func init() {
	mustRegister(Routes)
	mustRegister(Sessions)
	mustRegister(MessagesReceived)
	mustRegister(MessagesSent)
	mustRegister(UpdatesRejected)
	mustRegister(SessionFaults)
	mustRegister(Trust)
}
