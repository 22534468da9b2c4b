// Package metrics exposes Prometheus counters for catalog imports.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dissemin"

// Profile statuses.
const (
	ProfileImported = "imported"
	ProfileInvalid  = "invalid"
	ProfileFailed   = "failed"
)

// Folder statuses.
const (
	FolderSkipped  = "skipped"
	FolderImported = "imported"
)

// ImportMetrics counts what an import run does. It uses its own registry
// so several runs in one process (tests) do not collide.
type ImportMetrics struct {
	registry *prometheus.Registry

	profiles        *prometheus.CounterVec
	papers          *prometheus.CounterVec
	skippedWorks    *prometheus.CounterVec
	folders         *prometheus.CounterVec
	profileDuration prometheus.Histogram
	inFlight        prometheus.Gauge
}

// NewImportMetrics registers the import collectors on a fresh registry.
func NewImportMetrics() *ImportMetrics {
	m := &ImportMetrics{
		registry: prometheus.NewRegistry(),
		profiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "profiles_total",
			Help:      "Processed profiles by status.",
		}, []string{"status"}),
		papers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "papers_total",
			Help:      "Saved papers by upsert outcome.",
		}, []string{"outcome"}),
		skippedWorks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "skipped_works_total",
			Help:      "Works that could not be turned into papers, by reason.",
		}, []string{"reason"}),
		folders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "folders_total",
			Help:      "Archive folders by status.",
		}, []string{"status"}),
		profileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "profile_duration_seconds",
			Help:      "Time spent importing one profile.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "profiles_in_flight",
			Help:      "Profiles currently being imported.",
		}),
	}
	m.registry.MustRegister(m.profiles, m.papers, m.skippedWorks, m.folders, m.profileDuration, m.inFlight)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *ImportMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *ImportMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartProfile marks a profile as in flight.
func (m *ImportMetrics) StartProfile() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// FinishProfile records the outcome of a profile started with StartProfile.
func (m *ImportMetrics) FinishProfile(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.profiles.WithLabelValues(status).Inc()
	m.profileDuration.Observe(d.Seconds())
}

// Paper counts a saved paper.
func (m *ImportMetrics) Paper(outcome string) {
	if m == nil {
		return
	}
	m.papers.WithLabelValues(outcome).Inc()
}

// SkippedWork counts a work dropped during normalization.
func (m *ImportMetrics) SkippedWork(reason string) {
	if m == nil {
		return
	}
	m.skippedWorks.WithLabelValues(reason).Inc()
}

// Folder counts an archive folder.
func (m *ImportMetrics) Folder(status string) {
	if m == nil {
		return
	}
	m.folders.WithLabelValues(status).Inc()
}
