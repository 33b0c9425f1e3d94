package handler

import (
	"net/http"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Admin: directory & impersonation
// ============================================================

func lookupUserHandler(directory *service.UserDirectory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/users/{userId}")
		defer span.End()

		userID := chi.URLParam(r, "userId")
		span.SetAttributes(attribute.String("user.id", userID))

		user, err := directory.Lookup(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}

func ghostLoginHandler(directory *service.UserDirectory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/ghost")
		defer span.End()

		var req domain.GhostLoginRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}
		span.SetAttributes(attribute.String("target.id", req.UserID))

		st, err := directory.GhostLoginByID(ctx, req.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, st)
	}
}

func stopGhostingHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/ghost")
		defer span.End()

		if err := controller.StopGhosting(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, controller.State())
	}
}
