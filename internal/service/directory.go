package service

import (
	"context"
	"fmt"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/observability"
	"github.com/maspatas/maspatas-bfa-go/internal/port"

	"go.uber.org/zap"
)

// UserDirectory lets a superadmin look up other users, typically to pick a
// ghost target. Lookups go through the query cache, which the controller
// purges on every identity change. The email comes from the auth service;
// the profile row's email is only a fallback.
type UserDirectory struct {
	profiles   port.ProfileStore
	identities port.IdentityLookup // optional
	cache      port.Cache[*domain.User]
	controller *SessionController
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewUserDirectory creates a UserDirectory.
func NewUserDirectory(profiles port.ProfileStore, identities port.IdentityLookup, cache port.Cache[*domain.User], controller *SessionController, metrics *observability.Metrics, logger *zap.Logger) *UserDirectory {
	return &UserDirectory{
		profiles:   profiles,
		identities: identities,
		cache:      cache,
		controller: controller,
		metrics:    metrics,
		logger:     logger,
	}
}

// Lookup returns the user with id userID.
func (d *UserDirectory) Lookup(ctx context.Context, userID string) (*domain.User, error) {
	if !d.controller.TrueUser().IsSuperadmin() {
		return nil, &domain.ErrForbidden{Action: "user lookup"}
	}
	if userID == "" {
		return nil, &domain.ErrValidation{Field: "userId", Message: "user id is required"}
	}

	cacheKey := "user:" + userID
	if u, ok := d.cache.Get(cacheKey); ok {
		d.metrics.IncrCacheHit("directory")
		return u.Clone(), nil
	}
	d.metrics.IncrCacheMiss("directory")

	p, err := d.profiles.GetProfile(ctx, userID)
	if err != nil {
		d.metrics.IncrExternalError("profiles")
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if p == nil {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}

	u := domain.UserFromProfile(p, d.accountEmail(ctx, userID))
	d.cache.Set(cacheKey, u)
	return u.Clone(), nil
}

// accountEmail returns the email the auth service holds for userID, or ""
// when it is unavailable.
func (d *UserDirectory) accountEmail(ctx context.Context, userID string) string {
	if d.identities == nil {
		return ""
	}
	identity, err := d.identities.GetUserByID(ctx, userID)
	if err != nil {
		d.metrics.IncrExternalError("auth")
		d.logger.Warn("account lookup failed, using profile email",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return ""
	}
	if identity == nil {
		return ""
	}
	return identity.Email
}

// GhostLoginByID looks the target up and starts ghosting as it.
func (d *UserDirectory) GhostLoginByID(ctx context.Context, userID string) (domain.SessionState, error) {
	target, err := d.Lookup(ctx, userID)
	if err != nil {
		return domain.SessionState{}, err
	}
	if err := d.controller.GhostLogin(ctx, target); err != nil {
		return domain.SessionState{}, err
	}
	d.logger.Debug("ghosting via directory", zap.String("target_id", userID))
	return d.controller.State(), nil
}
