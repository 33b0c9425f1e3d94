package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/observability"
	"github.com/maspatas/maspatas-bfa-go/internal/port"
	"github.com/maspatas/maspatas-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

const healthCheckTimeout = 3 * time.Second

// Deps carries everything the router serves.
type Deps struct {
	Controller *service.SessionController
	KeepAlive  *service.KeepAlive
	Directory  *service.UserDirectory
	DB         port.Pinger
	Functions  port.FunctionsPinger // optional
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.DB, d.Functions, logger))
	r.Get("/readyz", readyzHandler(d.Controller))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/session", sessionMetricsHandler(d.Metrics))

		// Session
		r.Get("/session", sessionHandler(d.Controller))
		r.Get("/session/stream", sessionStreamHandler(d.Controller, logger))
		r.Post("/session/visibility", visibilityHandler(d.KeepAlive))

		// Auth
		r.Post("/auth/login", authLoginHandler(d.Controller, logger))
		r.Post("/auth/register", authRegisterHandler(d.Controller, logger))
		r.Post("/auth/logout", authLogoutHandler(d.Controller, logger))
		r.Get("/auth/google", authGoogleHandler(d.Controller, logger))
		r.Get("/auth/callback", authCallbackHandler(d.Controller, logger))
		r.Post("/auth/password/reset", authResetPasswordHandler(d.Controller, logger))

		// Routes below need a signed-in user.
		r.Group(func(r chi.Router) {
			r.Use(RequireUser(d.Controller, logger))

			r.Put("/auth/password", authUpdatePasswordHandler(d.Controller, logger))

			r.Put("/profile", updateProfileHandler(d.Controller, logger))
			r.Post("/profile/pets", addPetHandler(d.Controller, logger))
			r.Put("/profile/pets/{petId}", updatePetHandler(d.Controller, logger))
			r.Delete("/profile/pets/{petId}", removePetHandler(d.Controller, logger))
			r.Post("/profile/saved-pets/{petId}", savePetHandler(d.Controller, logger))
			r.Delete("/profile/saved-pets/{petId}", unsavePetHandler(d.Controller, logger))

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireSuperadmin(d.Controller, logger))
				r.Get("/users/{userId}", lookupUserHandler(d.Directory, logger))
				r.Post("/ghost", ghostLoginHandler(d.Directory, logger))
				r.Delete("/ghost", stopGhostingHandler(d.Controller, logger))
			})
		})
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func healthzHandler(db port.Pinger, functions port.FunctionsPinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "maspatas-bfa", Status: "healthy", LastChecked: now},
		}

		probe := func(name string, p port.Pinger) {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(ctx)
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("health probe failed", zap.String("service", name), zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: name, Status: status,
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}
		if db != nil {
			probe("supabase", db)
		}
		if functions != nil {
			probe("functions", functions)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

// readyzHandler reports ready once the initial session lookup settled.
func readyzHandler(controller *service.SessionController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if controller != nil && controller.State().Loading {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func sessionMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.SessionSnapshot())
	}
}
