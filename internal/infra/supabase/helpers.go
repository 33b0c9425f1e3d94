package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/maspatas/maspatas-bfa-go/internal/infra/resilience"

	"go.uber.org/zap"
)

// ============================================================
// HTTP helpers shared by the REST and auth clients
// ============================================================

// send executes one request. payload is JSON-encoded when non-nil. 4xx
// replies come back as permanent *APIError values so retries stop early.
func (c *Client) send(ctx context.Context, method, url, bearer string, headers map[string]string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, resilience.Permanent(err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, 0, resilience.Permanent(err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("supabase: request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, body)
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resp.StatusCode, resilience.Permanent(apiErr)
		}
		return nil, resp.StatusCode, apiErr
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
	)
	return body, resp.StatusCode, nil
}

// doRequest executes a PostgREST read. A 404 or 204 yields nil, nil.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	body, status, err := c.send(ctx, method, c.restURL(path), c.dbKey, nil, nil)
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, nil
	}
	return body, err
}

func (c *Client) doPost(ctx context.Context, table, prefer string, data any) ([]byte, error) {
	body, _, err := c.send(ctx, http.MethodPost, c.restURL(table), c.dbKey,
		map[string]string{"Prefer": prefer}, data)
	return body, err
}

func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) ([]byte, error) {
	body, _, err := c.send(ctx, http.MethodPatch, c.restURL(path), c.dbKey,
		map[string]string{"Prefer": "return=representation"}, data)
	return body, err
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseAPIError understands both the PostgREST ({code, message}) and the
// GoTrue ({error, error_description} / {error_code, msg}) error shapes.
func parseAPIError(status int, body []byte) *APIError {
	var raw struct {
		Code             any    `json:"code"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
	}
	apiErr := &APIError{Status: status, Message: string(body)}
	if err := json.Unmarshal(body, &raw); err != nil {
		return apiErr
	}

	switch {
	case raw.ErrorCode != "":
		apiErr.Code = raw.ErrorCode
	case raw.Error != "":
		apiErr.Code = raw.Error
	case raw.Code != nil:
		apiErr.Code = fmt.Sprint(raw.Code)
	}
	for _, m := range []string{raw.ErrorDescription, raw.Msg, raw.Message} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	return apiErr
}
