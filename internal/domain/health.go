package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual service.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// SessionMetrics is returned by GET /v1/metrics/session.
type SessionMetrics struct {
	Transitions       map[string]int64 `json:"transitions"`
	ProfileResolved   int64            `json:"profileResolved"`
	ProfileFallbacks  int64            `json:"profileFallbacks"`
	ProfileExhausted  int64            `json:"profileExhausted"`
	KeepAliveOK       int64            `json:"keepAliveOk"`
	KeepAliveFailures int64            `json:"keepAliveFailures"`
	GhostLogins       int64            `json:"ghostLogins"`
	GhostStops        int64            `json:"ghostStops"`
	CacheHitRate      float64          `json:"cacheHitRate"`
}
