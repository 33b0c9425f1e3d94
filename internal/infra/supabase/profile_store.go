package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// ProfileStore implementation (profiles table via PostgREST)
// ============================================================

const profilesService = "supabase/profiles"

// GetProfile fetches the profile row for userID. Returns nil, nil when absent.
func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var profile *domain.Profile

	err := c.guard.DoWithRetry(ctx, func() error {
		profile = nil
		path := fmt.Sprintf("%s?id=eq.%s&limit=1", c.table, url.QueryEscape(userID))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if body == nil || string(body) == "[]" {
			return nil
		}

		var rows []domain.Profile
		if err := json.Unmarshal(body, &rows); err != nil {
			return resilience.Permanent(fmt.Errorf("decode profiles: %w", err))
		}
		if len(rows) > 0 {
			profile = &rows[0]
		}
		return nil
	})
	if err != nil {
		return nil, c.wrapErr(profilesService, err)
	}

	return profile, nil
}

// CreateProfile inserts the row, ignoring the insert when the id already
// exists, so concurrent first sign-ins converge on one row.
func (c *Client) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", profile.ID))

	err := c.guard.DoWithRetry(ctx, func() error {
		_, err := c.doPost(ctx, c.table+"?on_conflict=id", "resolution=ignore-duplicates,return=minimal", profile)
		return err
	})
	if err != nil {
		return c.wrapErr(profilesService, err)
	}
	return nil
}

// UpdateProfile patches the given columns and returns the updated row.
func (c *Client) UpdateProfile(ctx context.Context, userID string, columns map[string]any) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var rows []domain.Profile

	err := c.guard.Do(ctx, func() error {
		path := fmt.Sprintf("%s?id=eq.%s", c.table, url.QueryEscape(userID))
		body, err := c.doPatch(ctx, path, columns)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &rows); err != nil {
			return resilience.Permanent(fmt.Errorf("decode profiles: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, c.wrapErr(profilesService, err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	return &rows[0], nil
}

// Ping is the keep-alive touch: the cheapest read the table allows.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	err := c.guard.Do(ctx, func() error {
		_, err := c.doRequest(ctx, http.MethodGet, c.table+"?select=id&limit=1")
		return err
	})
	if err != nil {
		return c.wrapErr(profilesService, err)
	}
	return nil
}
