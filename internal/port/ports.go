// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
)

// ProfileStore persists user profiles keyed by identity id.
type ProfileStore interface {
	// GetProfile returns nil, nil when no row exists.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	// CreateProfile inserts the row unless one already exists for the id.
	CreateProfile(ctx context.Context, profile *domain.Profile) error
	UpdateProfile(ctx context.Context, userID string, columns map[string]any) (*domain.Profile, error)
}

// Pinger performs a cheap round-trip against the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FunctionsPinger warms the serverless functions endpoint.
type FunctionsPinger interface {
	Ping(ctx context.Context) error
}

// AuthEventSource delivers session-change notifications in emission order.
// The returned cancel func stops delivery; the channel is never closed.
type AuthEventSource interface {
	Subscribe() (<-chan domain.AuthEvent, func())
}

// AuthProvider is the remote authentication service.
type AuthProvider interface {
	AuthEventSource

	// GetSession returns nil, nil when nobody is signed in.
	GetSession(ctx context.Context) (*domain.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	// SignUp returns a nil session when the account needs email confirmation.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, *domain.Identity, error)
	SignOut(ctx context.Context) error
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*domain.Session, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, password string) error
}

// IdentityLookup reads other users' accounts from the auth service.
type IdentityLookup interface {
	// GetUserByID returns nil, nil when no account has the id.
	GetUserByID(ctx context.Context, userID string) (*domain.Identity, error)
}

// KeyValueStore is durable client-side storage for small string values.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Purge()
}
