package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// FunctionsClient warms the serverless functions endpoint so the first real
// call after an idle period does not pay the cold start.
type FunctionsClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewFunctionsClient creates a new FunctionsClient.
func NewFunctionsClient(httpClient *http.Client, url, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *FunctionsClient {
	return &FunctionsClient{
		httpClient: httpClient,
		url:        url,
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
	}
}

// Ping GETs the warm-up endpoint with retry, circuit breaker, and tracing.
func (c *FunctionsClient) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "FunctionsClient.Ping")
	defer span.End()
	span.SetAttributes(attribute.String("functions.url", c.url))

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
			if err != nil {
				return resilience.Permanent(err)
			}
			if c.apiKey != "" {
				req.Header.Set("apikey", c.apiKey)
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			if resp.StatusCode >= 500 {
				return fmt.Errorf("functions endpoint returned status %d", resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				return resilience.Permanent(fmt.Errorf("functions endpoint returned status %d", resp.StatusCode))
			}
			return nil
		})
	})

	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return &domain.ErrCircuitOpen{Service: "functions"}
		}
		return &domain.ErrExternalService{Service: "functions", Err: err}
	}
	return nil
}
