package handler

import (
	"context"
	"net/http"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Profile & pets
// ============================================================

func updateProfileHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/profile")
		defer span.End()

		var req domain.UpdateProfileRequest
		if !decodeBody(w, r, &req, false) {
			return
		}

		user, err := controller.UpdateUserProfile(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}

func addPetHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/profile/pets")
		defer span.End()

		var pet domain.OwnedPet
		if !decodeBody(w, r, &pet, false) {
			return
		}

		user, err := controller.AddOwnedPet(ctx, pet)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, user)
	}
}

func updatePetHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/profile/pets/{petId}")
		defer span.End()

		petID := chi.URLParam(r, "petId")
		span.SetAttributes(attribute.String("pet.id", petID))

		var pet domain.OwnedPet
		if !decodeBody(w, r, &pet, false) {
			return
		}

		user, err := controller.UpdateOwnedPet(ctx, petID, pet)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}

// petMutation serves the bodiless pet routes keyed by {petId}.
func petMutation(name string, op func(ctx context.Context, petID string) (*domain.User, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), name)
		defer span.End()

		petID := chi.URLParam(r, "petId")
		span.SetAttributes(attribute.String("pet.id", petID))

		user, err := op(ctx, petID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}

func removePetHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return petMutation("DELETE /v1/profile/pets/{petId}", controller.RemoveOwnedPet, logger)
}

func savePetHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return petMutation("POST /v1/profile/saved-pets/{petId}", controller.SavePet, logger)
}

func unsavePetHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return petMutation("DELETE /v1/profile/saved-pets/{petId}", controller.UnsavePet, logger)
}
