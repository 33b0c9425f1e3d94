package service

import (
	"context"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/observability"
	"github.com/maspatas/maspatas-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var resolverTracer = otel.Tracer("service/profile")

// maxResolveAttempts bounds lookups per resolution: the first read plus two
// more after creating the row.
const maxResolveAttempts = 3

// ResolutionKind tags the outcome of a profile resolution.
type ResolutionKind int

const (
	// Resolved: the profile was found (possibly after creating it).
	Resolved ResolutionKind = iota
	// Fallback: the store failed; User is the identity-only fallback.
	Fallback
	// Exhausted: the row never became visible; User is nil.
	Exhausted
)

func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Fallback:
		return "fallback"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Resolution is the tagged result of ProfileResolver.Resolve.
type Resolution struct {
	User    *domain.User
	Kind    ResolutionKind
	Created bool
}

// ProfileResolver turns an identity into a User, creating the profile row on
// first sign-in. It never returns an error.
type ProfileResolver struct {
	store   port.ProfileStore
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewProfileResolver creates a ProfileResolver.
func NewProfileResolver(store port.ProfileStore, metrics *observability.Metrics, logger *zap.Logger) *ProfileResolver {
	return &ProfileResolver{store: store, metrics: metrics, logger: logger}
}

// ResolveUser returns the user for identity, or nil when resolution was
// exhausted.
func (r *ProfileResolver) ResolveUser(ctx context.Context, identity domain.Identity) *domain.User {
	return r.Resolve(ctx, identity).User
}

// Resolve returns the tagged resolution. Concurrent calls for the same
// identity share one round of store calls.
func (r *ProfileResolver) Resolve(ctx context.Context, identity domain.Identity) Resolution {
	v, _, _ := r.group.Do(identity.ID, func() (any, error) {
		return r.resolve(ctx, identity), nil
	})
	res := v.(Resolution)
	res.User = res.User.Clone()
	return res
}

func (r *ProfileResolver) resolve(ctx context.Context, identity domain.Identity) Resolution {
	ctx, span := resolverTracer.Start(ctx, "ProfileResolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", identity.ID))

	created := false
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		profile, err := r.store.GetProfile(ctx, identity.ID)
		if err != nil {
			return r.fallback(identity, "lookup", err)
		}
		if profile != nil {
			outcome := observability.ResolutionResolved
			if created {
				outcome = observability.ResolutionCreated
			}
			r.metrics.IncrResolution(outcome)
			return Resolution{
				User:    domain.UserFromProfile(profile, identity.Email),
				Kind:    Resolved,
				Created: created,
			}
		}
		if attempt == maxResolveAttempts {
			break
		}

		r.logger.Info("profile missing, creating",
			zap.String("user_id", identity.ID),
			zap.Int("attempt", attempt),
		)
		if err := r.store.CreateProfile(ctx, domain.NewProfileForIdentity(identity)); err != nil {
			return r.fallback(identity, "create", err)
		}
		created = true
	}

	r.logger.Error("profile never became visible after creation",
		zap.String("user_id", identity.ID),
		zap.Int("attempts", maxResolveAttempts),
	)
	r.metrics.IncrResolution(observability.ResolutionExhausted)
	span.SetAttributes(attribute.Bool("profile.exhausted", true))
	return Resolution{Kind: Exhausted, Created: created}
}

func (r *ProfileResolver) fallback(identity domain.Identity, stage string, err error) Resolution {
	r.logger.Warn("profile resolution failed, using fallback user",
		zap.String("user_id", identity.ID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	r.metrics.IncrResolution(observability.ResolutionFallback)
	r.metrics.IncrExternalError("profiles")
	return Resolution{User: domain.FallbackUser(identity), Kind: Fallback}
}
