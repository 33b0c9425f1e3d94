package observability

import (
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Transition labels recorded by the session controller.
const (
	TransitionAuthenticated  = "authenticated"
	TransitionAnonymous      = "anonymous"
	TransitionTimeout        = "init_timeout"
	TransitionIdentityChange = "identity_change"
	TransitionSignedOut      = "signed_out"
	TransitionDuplicate      = "duplicate"
	TransitionGhostKept      = "ghost_kept"
)

// Profile resolution outcomes.
const (
	ResolutionResolved  = "resolved"
	ResolutionCreated   = "created"
	ResolutionFallback  = "fallback"
	ResolutionExhausted = "exhausted"
)

// Metrics holds all Prometheus metrics for the session agent.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	externalErrors     *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	profileResolutions *prometheus.CounterVec
	keepAlivePings     *prometheus.CounterVec
	ghostOperations    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maspatas_request_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maspatas_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maspatas_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maspatas_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		sessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maspatas_session_transitions_total",
				Help: "Session lifecycle transitions by kind.",
			},
			[]string{"transition"},
		),
		profileResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maspatas_profile_resolutions_total",
				Help: "Profile resolutions by outcome.",
			},
			[]string{"outcome"},
		),
		keepAlivePings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maspatas_keepalive_pings_total",
				Help: "Keep-alive pings by result.",
			},
			[]string{"result"},
		),
		ghostOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maspatas_ghost_operations_total",
				Help: "Impersonation operations by kind.",
			},
			[]string{"operation"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrTransition counts a session lifecycle transition.
func (m *Metrics) IncrTransition(transition string) {
	m.sessionTransitions.WithLabelValues(transition).Inc()
}

// IncrResolution counts a profile resolution outcome.
func (m *Metrics) IncrResolution(outcome string) {
	m.profileResolutions.WithLabelValues(outcome).Inc()
}

// IncrKeepAlive counts a keep-alive ping; ok=false means the ping failed.
func (m *Metrics) IncrKeepAlive(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.keepAlivePings.WithLabelValues(result).Inc()
}

// IncrGhost counts an impersonation operation ("login" or "stop").
func (m *Metrics) IncrGhost(operation string) {
	m.ghostOperations.WithLabelValues(operation).Inc()
}

// TransitionCount returns the current value of a transition counter.
func (m *Metrics) TransitionCount(transition string) float64 {
	return getCounterValue(m.sessionTransitions, transition)
}

// ResolutionCount returns the current value of a resolution counter.
func (m *Metrics) ResolutionCount(outcome string) float64 {
	return getCounterValue(m.profileResolutions, outcome)
}

// SessionSnapshot returns a snapshot of session metrics suitable for the
// GET /v1/metrics/session endpoint.
func (m *Metrics) SessionSnapshot() *domain.SessionMetrics {
	transitions := map[string]int64{}
	for _, t := range []string{
		TransitionAuthenticated, TransitionAnonymous, TransitionTimeout,
		TransitionIdentityChange, TransitionSignedOut, TransitionDuplicate, TransitionGhostKept,
	} {
		transitions[t] = int64(getCounterValue(m.sessionTransitions, t))
	}

	hits := getCounterValue(m.cacheHits, "directory")
	misses := getCounterValue(m.cacheMisses, "directory")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.SessionMetrics{
		Transitions:       transitions,
		ProfileResolved:   int64(getCounterValue(m.profileResolutions, ResolutionResolved) + getCounterValue(m.profileResolutions, ResolutionCreated)),
		ProfileFallbacks:  int64(getCounterValue(m.profileResolutions, ResolutionFallback)),
		ProfileExhausted:  int64(getCounterValue(m.profileResolutions, ResolutionExhausted)),
		KeepAliveOK:       int64(getCounterValue(m.keepAlivePings, "ok")),
		KeepAliveFailures: int64(getCounterValue(m.keepAlivePings, "error")),
		GhostLogins:       int64(getCounterValue(m.ghostOperations, "login")),
		GhostStops:        int64(getCounterValue(m.ghostOperations, "stop")),
		CacheHitRate:      hitRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
