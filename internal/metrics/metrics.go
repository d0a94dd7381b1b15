// Package metrics defines the Prometheus counters exported on the control
// server's /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the pipeline updates. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	GeocodeRequests *prometheus.CounterVec
	GeocodeCache    *prometheus.CounterVec
	SpatialLookups  *prometheus.CounterVec
	MatchOutcomes   *prometheus.CounterVec
	RowsWritten     *prometheus.CounterVec
	Municipalities  *prometheus.CounterVec
}

// New registers the collectors on reg, or on a fresh registry when reg is nil
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Registry: reg,
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel", Name: "geocode_requests_total",
			Help: "Geocoding requests sent, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel", Name: "geocode_cache_total",
			Help: "Geocode cache lookups, by result (hit or miss).",
		}, []string{"result"}),
		SpatialLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel", Name: "spatial_lookups_total",
			Help: "Nearest-parcel lookups, by cache result.",
		}, []string{"result"}),
		MatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel", Name: "match_outcomes_total",
			Help: "Entity match outcomes, by kind and method.",
		}, []string{"kind", "method"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel", Name: "rows_written_total",
			Help: "Canonical store writes, by kind.",
		}, []string{"kind"}),
		Municipalities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel", Name: "municipalities_total",
			Help: "Municipalities reaching a terminal state.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.GeocodeRequests, m.GeocodeCache, m.SpatialLookups, m.MatchOutcomes, m.RowsWritten, m.Municipalities)
	return m
}

// Geocode counts one provider request
func (m *Metrics) Geocode(provider, outcome string) {
	if m != nil {
		m.GeocodeRequests.WithLabelValues(provider, outcome).Inc()
	}
}

// GeocodeCacheResult counts one geocode cache lookup
func (m *Metrics) GeocodeCacheResult(hit bool) {
	if m != nil {
		m.GeocodeCache.WithLabelValues(hitLabel(hit)).Inc()
	}
}

// Spatial adds nearest-parcel cache hits and misses
func (m *Metrics) Spatial(hits, misses int) {
	if m != nil {
		m.SpatialLookups.WithLabelValues("hit").Add(float64(hits))
		m.SpatialLookups.WithLabelValues("miss").Add(float64(misses))
	}
}

// Match counts one entity match outcome
func (m *Metrics) Match(kind, method string) {
	if m != nil {
		m.MatchOutcomes.WithLabelValues(kind, method).Inc()
	}
}

// Written adds n rows written of the given kind
func (m *Metrics) Written(kind string, n int) {
	if m != nil && n > 0 {
		m.RowsWritten.WithLabelValues(kind).Add(float64(n))
	}
}

// Municipality counts a municipality reaching a terminal state
func (m *Metrics) Municipality(state string) {
	if m != nil {
		m.Municipalities.WithLabelValues(state).Inc()
	}
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
