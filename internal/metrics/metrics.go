// Package metrics exposes the relay's counters and gauges via Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beamdrop_signaling"

// Metrics owns a private Prometheus registry so multiple instances can
// coexist in one process (tests construct them freely).
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal      prometheus.Counter
	ConnectionsActive     prometheus.Gauge
	MessagesReceived      prometheus.Counter
	ProtocolErrors        prometheus.Counter
	FramesRelayed         prometheus.Counter
	RelayDroppedNoRoom    prometheus.Counter
	SlowConsumerEvictions prometheus.Counter
	RoomsCreated          prometheus.Counter
	RoomsReaped           prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help,
		})
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		registry:              reg,
		ConnectionsTotal:      counter("connections_total", "WebSocket connections accepted."),
		MessagesReceived:      counter("messages_received_total", "Signaling frames read from clients."),
		ProtocolErrors:        counter("protocol_errors_total", "Frames dropped as malformed or invalid."),
		FramesRelayed:         counter("frames_relayed_total", "Frames delivered to room members."),
		RelayDroppedNoRoom:    counter("relay_dropped_no_room_total", "Relay frames dropped because the sender had no room."),
		SlowConsumerEvictions: counter("slow_consumer_evictions_total", "Members evicted because their send queue was full."),
		RoomsCreated:          counter("rooms_created_total", "Rooms created."),
		RoomsReaped:           counter("rooms_reaped_total", "Idle empty rooms deleted by the reaper."),
	}

	m.ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "connections_active", Help: "Currently open WebSocket connections.",
	})
	reg.MustRegister(m.ConnectionsActive)

	return m
}

// ObserveHub registers gauges reading room/peer counts straight from the
// registry on every scrape.
func (m *Metrics) ObserveHub(stats func() (rooms, peers int)) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms", Help: "Rooms currently in the registry.",
		}, func() float64 {
			rooms, _ := stats()
			return float64(rooms)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peers", Help: "Peers currently in rooms.",
		}, func() float64 {
			_, peers := stats()
			return float64(peers)
		}),
	)
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
