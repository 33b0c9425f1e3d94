package handler

import (
	"net/http"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Auth
// ============================================================

func authLoginHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		var req domain.LoginRequest
		if !decodeBody(w, r, &req, false) {
			return
		}

		if _, err := controller.Login(ctx, req.Email, req.Password); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, controller.State())
	}
}

func authRegisterHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/register")
		defer span.End()

		var req domain.RegisterRequest
		if !decodeBody(w, r, &req, false) {
			return
		}

		resp, err := controller.Register(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, resp)
	}
}

func authLogoutHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/logout")
		defer span.End()

		// Local state is already cleared when the remote call fails.
		if err := controller.Logout(ctx); err != nil {
			logger.Warn("logout completed locally only", zap.Error(err))
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func authGoogleHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/auth/google")
		defer span.End()

		url, err := controller.LoginWithGoogle(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, domain.OAuthURLResponse{URL: url})
	}
}

func authCallbackHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/auth/callback")
		defer span.End()

		if msg := r.URL.Query().Get("error_description"); msg != "" {
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			writeError(w, http.StatusBadRequest, "code is required")
			return
		}

		if _, err := controller.CompleteOAuth(ctx, code); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, controller.State())
	}
}

func authResetPasswordHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/password/reset")
		defer span.End()

		var req domain.ResetPasswordRequest
		if !decodeBody(w, r, &req, false) {
			return
		}

		if err := controller.ResetPassword(ctx, req.Email); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusAccepted, domain.SuccessResponse{Message: "recovery email sent"})
	}
}

func authUpdatePasswordHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/auth/password")
		defer span.End()

		var req domain.UpdatePasswordRequest
		if !decodeBody(w, r, &req, false) {
			return
		}

		if err := controller.UpdatePassword(ctx, req.Password); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "password updated"})
	}
}
