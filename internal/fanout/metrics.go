package fanout

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/powersensor-core/internal/dispatcher"
)

// StatusSource reports dispatcher state for the gauge functions.
type StatusSource interface {
	Status() dispatcher.Status
}

// Metrics holds the daemon's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	readings    *prometheus.CounterVec
	exceptions  *prometheus.CounterVec
	devicePower *prometheus.GaugeVec
	household   *prometheus.GaugeVec
	roleUpdates prometheus.Counter
	dropped     prometheus.Counter
	sinkErrors  *prometheus.CounterVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powersensor_readings_total",
				Help: "Device readings routed, by event",
			},
			[]string{"event"},
		),
		exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powersensor_device_exceptions_total",
				Help: "Exception events reported by plug connections",
			},
			[]string{"mac"},
		),
		devicePower: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "powersensor_device_power_watts",
				Help: "Latest average power per device",
			},
			[]string{"mac", "role"},
		),
		household: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "powersensor_household_value",
				Help: "Latest household figure; watts for power, joules for summations",
			},
			[]string{"figure"},
		),
		roleUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "powersensor_role_updates_total",
				Help: "Role updates published for persistence",
			},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "powersensor_fanout_dropped_total",
				Help: "Bus events dropped because the fanout queue was full",
			},
		),
		sinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powersensor_sink_errors_total",
				Help: "Failed writes to an outer sink",
			},
			[]string{"sink"},
		),
	}

	m.Registry.MustRegister(m.readings)
	m.Registry.MustRegister(m.exceptions)
	m.Registry.MustRegister(m.devicePower)
	m.Registry.MustRegister(m.household)
	m.Registry.MustRegister(m.roleUpdates)
	m.Registry.MustRegister(m.dropped)
	m.Registry.MustRegister(m.sinkErrors)
	return m
}

// WatchDispatcher registers gauges computed from src on every scrape.
func (m *Metrics) WatchDispatcher(src StatusSource) {
	gauge := func(name, help string, value func(dispatcher.Status) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return value(src.Status()) },
		)
	}
	m.Registry.MustRegister(
		gauge("powersensor_plugs_connected", "Plugs with a live connection",
			func(s dispatcher.Status) float64 { return float64(len(s.Live)) }),
		gauge("powersensor_plugs_pending", "Discovered plugs awaiting reconciliation",
			func(s dispatcher.Status) float64 { return float64(len(s.Pending)) }),
		gauge("powersensor_plugs_removal_pending", "Plugs with a scheduled removal",
			func(s dispatcher.Status) float64 { return float64(len(s.PendingRemovals)) }),
		gauge("powersensor_sensors_known", "Sensors acknowledged by the catalogue",
			func(s dispatcher.Status) float64 { return float64(len(s.Sensors)) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
