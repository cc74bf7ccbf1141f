package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Presence holds the presence service collectors
type Presence struct {
	registry *prometheus.Registry

	SamplesIngested  *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	SessionChanges   *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	ActiveEngines    prometheus.Gauge
	PublishFailures  prometheus.Counter
	VenueCacheLookup *prometheus.CounterVec
}

// NewPresence creates and registers the presence collectors on a fresh registry
func NewPresence() *Presence {
	reg := prometheus.NewRegistry()

	m := &Presence{
		registry: reg,
		SamplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ketchup",
			Subsystem: "presence",
			Name:      "samples_total",
			Help:      "Location samples ingested, by outcome.",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ketchup",
			Subsystem: "presence",
			Name:      "transitions_total",
			Help:      "Confirmed geofence transitions, by type.",
		}, []string{"type"}),
		SessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ketchup",
			Subsystem: "checkin",
			Name:      "session_changes_total",
			Help:      "Venue session lifecycle changes, by kind.",
		}, []string{"kind"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ketchup",
			Subsystem: "checkin",
			Name:      "active_sessions",
			Help:      "Venue sessions currently active across all users.",
		}),
		ActiveEngines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ketchup",
			Subsystem: "presence",
			Name:      "engines",
			Help:      "Per-user presence engines currently running.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ketchup",
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Events that could not be published to the bus.",
		}),
		VenueCacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ketchup",
			Subsystem: "venue",
			Name:      "cache_lookups_total",
			Help:      "Venue directory cache lookups, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SamplesIngested,
		m.Transitions,
		m.SessionChanges,
		m.ActiveSessions,
		m.ActiveEngines,
		m.PublishFailures,
		m.VenueCacheLookup,
	)

	return m
}

// Handler returns the scrape endpoint for this registry
func (m *Presence) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
