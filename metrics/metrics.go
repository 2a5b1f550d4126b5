package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every mmcd collector plus the Go runtime and process collectors.
var Registry = prometheus.NewRegistry()

var (
	PayloadTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmcd_payload_transitions_total",
			Help: "Number of payload state transitions by slot and destination state",
		},
		[]string{"slot", "to"},
	)

	PayloadFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmcd_payload_faults_total",
			Help: "Number of transitions that recorded a fault",
		},
		[]string{"slot", "fault"},
	)

	PayloadState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmcd_payload_state",
			Help: "Current payload state of each slot as its numeric code",
		},
		[]string{"slot"},
	)

	SensorEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmcd_sensor_events_total",
			Help: "Number of sensor events emitted by the sensor repository",
		},
		[]string{"sensor", "direction"},
	)

	SensorReading = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmcd_sensor_reading",
			Help: "Last valid raw reading of each threshold sensor",
		},
		[]string{"sensor"},
	)

	IPMIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmcd_ipmi_requests_total",
			Help: "Number of management bus requests by netfn and completion code",
		},
		[]string{"netfn", "cc"},
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mmcd_outbox_pending",
			Help: "Messages waiting in the outbox after the last drain",
		},
	)

	OutboxDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmcd_outbox_dropped_total",
			Help: "Outbox messages discarded without being sent",
		},
		[]string{"reason"},
	)

	EngineEventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmcd_engine_events_dropped_total",
			Help: "Internal events discarded because subscribers fell behind",
		},
		[]string{"type"},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(PayloadTransitionsTotal)
	Registry.MustRegister(PayloadFaultsTotal)
	Registry.MustRegister(PayloadState)
	Registry.MustRegister(SensorEventsTotal)
	Registry.MustRegister(SensorReading)
	Registry.MustRegister(IPMIRequestsTotal)
	Registry.MustRegister(OutboxPending)
	Registry.MustRegister(OutboxDroppedTotal)
	Registry.MustRegister(EngineEventsDroppedTotal)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
