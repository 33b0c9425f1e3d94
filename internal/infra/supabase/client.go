// Package supabase provides clients for the hosted platform: PostgREST for
// profile rows and GoTrue for authentication sessions.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/resilience"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase REST and auth APIs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string // anon key, always sent as the apikey header
	dbKey      string // bearer used for PostgREST calls
	table      string
	guard      *resilience.Guard
	logger     *zap.Logger
}

// NewClient creates a Supabase client. dbKey is the bearer for table access
// (service role or anon); table is the profiles table name.
func NewClient(httpClient *http.Client, baseURL, apiKey, dbKey, table string, guard *resilience.Guard, logger *zap.Logger) *Client {
	if table == "" {
		table = "profiles"
	}
	if dbKey == "" {
		dbKey = apiKey
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		dbKey:      dbKey,
		table:      table,
		guard:      guard,
		logger:     logger,
	}
}

// APIError is a non-2xx reply from Supabase.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase returned status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Message)
}

// wrapErr converts transport failures into domain errors.
func (c *Client) wrapErr(service string, err error) error {
	if resilience.IsCircuitOpen(err) {
		return &domain.ErrCircuitOpen{Service: service}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: service}
	}
	var notFound *domain.ErrNotFound
	if errors.As(err, &notFound) {
		return err
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}

func (c *Client) restURL(path string) string {
	return fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
}

func (c *Client) authURL(path string) string {
	return fmt.Sprintf("%s/auth/v1/%s", c.baseURL, path)
}
