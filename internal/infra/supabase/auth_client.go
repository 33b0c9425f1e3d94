package supabase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/resilience"
	"github.com/maspatas/maspatas-bfa-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ============================================================
// AuthClient: GoTrue session management
// ============================================================

const (
	authService = "supabase/auth"

	// SessionKey is where the token bundle is persisted.
	SessionKey = "auth.session"
	// PKCEVerifierKey holds the verifier between authorize and callback.
	PKCEVerifierKey = "auth.pkce"

	refreshMargin = 60 * time.Second
)

// AuthClient talks to the GoTrue API, keeps the current session in memory and
// in the key-value store, and emits an AuthEvent for every change.
type AuthClient struct {
	c         *Client
	guard     *resilience.Guard
	kv        port.KeyValueStore
	jwtSecret []byte
	events    *broadcaster
	logger    *zap.Logger

	refreshGroup singleflight.Group

	// writeMu orders session writes with their events.
	writeMu sync.Mutex
	mu      sync.Mutex
	session *domain.Session
	loaded  bool
}

// NewAuthClient creates an AuthClient. When jwtSecret is empty access tokens
// are decoded without signature verification.
func NewAuthClient(c *Client, guard *resilience.Guard, kv port.KeyValueStore, jwtSecret string) *AuthClient {
	a := &AuthClient{
		c:      c,
		guard:  guard,
		kv:     kv,
		events: newBroadcaster(),
		logger: c.logger,
	}
	if jwtSecret != "" {
		a.jwtSecret = []byte(jwtSecret)
	}
	return a
}

// Subscribe implements port.AuthEventSource.
func (a *AuthClient) Subscribe() (<-chan domain.AuthEvent, func()) {
	return a.events.Subscribe()
}

// --- wire types ---

type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u *gotrueUser) identity() domain.Identity {
	provider, _ := u.AppMetadata["provider"].(string)
	return domain.Identity{
		ID:       u.ID,
		Email:    u.Email,
		Provider: provider,
		Metadata: u.UserMetadata,
	}
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	User         *gotrueUser `json:"user"`
}

// signupResponse covers both replies: a full session when confirmation is
// off, or the bare user object when it is on.
type signupResponse struct {
	tokenResponse
	gotrueUser
}

type accessClaims struct {
	Email        string         `json:"email"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// parseAccessToken reads the claims of an access token, verifying the HMAC
// signature when a secret is configured.
func (a *AuthClient) parseAccessToken(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	if a.jwtSecret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, &domain.ErrUnauthorized{Message: "malformed access token"}
		}
		return claims, nil
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid access token"}
	}
	return claims, nil
}

func (a *AuthClient) sessionFromResponse(resp *tokenResponse) (*domain.Session, error) {
	if resp.AccessToken == "" {
		return nil, &domain.ErrExternalService{Service: authService, Err: errors.New("response carries no access token")}
	}
	claims, err := a.parseAccessToken(resp.AccessToken)
	if err != nil {
		return nil, err
	}

	s := &domain.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	switch {
	case resp.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case claims.ExpiresAt != nil:
		s.ExpiresAt = claims.ExpiresAt.Time
	case resp.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	if resp.User != nil {
		s.Identity = resp.User.identity()
	} else {
		provider, _ := claims.AppMetadata["provider"].(string)
		s.Identity = domain.Identity{
			ID:       claims.Subject,
			Email:    claims.Email,
			Provider: provider,
			Metadata: claims.UserMetadata,
		}
	}
	if s.Identity.ID == "" {
		return nil, &domain.ErrUnauthorized{Message: "access token has no subject"}
	}
	return s, nil
}

// mapErr turns auth API failures into domain errors.
func (a *AuthClient) mapErr(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return a.c.wrapErr(authService, err)
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return &domain.ErrUnauthorized{Message: apiErr.Message}
	case http.StatusUnprocessableEntity:
		if apiErr.Code == "user_already_exists" || apiErr.Code == "email_exists" ||
			strings.Contains(strings.ToLower(apiErr.Message), "already registered") {
			return &domain.ErrConflict{Message: apiErr.Message}
		}
		return &domain.ErrValidation{Field: "credentials", Message: apiErr.Message}
	}
	return a.c.wrapErr(authService, err)
}

// post sends a JSON body to an auth endpoint and decodes the reply into out.
func (a *AuthClient) post(ctx context.Context, method, path, bearer string, payload, out any) error {
	return a.guard.Do(ctx, func() error {
		body, _, err := a.c.send(ctx, method, a.c.authURL(path), bearer, nil, payload)
		if err != nil {
			return err
		}
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return resilience.Permanent(fmt.Errorf("decode auth response: %w", err))
		}
		return nil
	})
}

// ============================================================
// Session state
// ============================================================

func (a *AuthClient) current(ctx context.Context) *domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		a.loaded = true
		raw, ok, err := a.kv.Get(ctx, SessionKey)
		switch {
		case err != nil:
			a.logger.Warn("auth: failed to read persisted session", zap.Error(err))
		case ok:
			var s domain.Session
			if err := json.Unmarshal([]byte(raw), &s); err != nil {
				a.logger.Warn("auth: discarding unreadable persisted session", zap.Error(err))
			} else if s.AccessToken != "" {
				a.session = &s
			}
		}
	}
	if a.session == nil {
		return nil
	}
	cp := *a.session
	return &cp
}

func (a *AuthClient) storeSession(ctx context.Context, s *domain.Session, ev domain.AuthEvent) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	a.session = s
	a.loaded = true
	a.mu.Unlock()

	raw, err := json.Marshal(s)
	if err == nil {
		err = a.kv.Set(ctx, SessionKey, string(raw))
	}
	if err != nil {
		a.logger.Warn("auth: failed to persist session", zap.Error(err))
	}
	a.events.publish(ev)
}

func (a *AuthClient) clearSession(ctx context.Context) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	a.session = nil
	a.loaded = true
	a.mu.Unlock()

	if err := a.kv.Remove(ctx, SessionKey); err != nil {
		a.logger.Warn("auth: failed to remove persisted session", zap.Error(err))
	}
	a.events.publish(domain.SignedOut())
}

// GetSession returns the live session, refreshing it when the access token
// is about to expire. A rejected refresh token signs the user out.
func (a *AuthClient) GetSession(ctx context.Context) (*domain.Session, error) {
	s := a.current(ctx)
	if s == nil {
		return nil, nil
	}
	if !s.ExpiresWithin(refreshMargin) {
		return s, nil
	}
	return a.refresh(ctx, s)
}

func (a *AuthClient) refresh(ctx context.Context, stale *domain.Session) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.RefreshSession")
	defer span.End()

	v, err, _ := a.refreshGroup.Do("refresh", func() (any, error) {
		var resp tokenResponse
		err := a.post(ctx, http.MethodPost, "token?grant_type=refresh_token", a.c.apiKey,
			map[string]string{"refresh_token": stale.RefreshToken}, &resp)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
				a.logger.Warn("auth: refresh token rejected, dropping session",
					zap.String("user_id", stale.Identity.ID),
					zap.Int("status", apiErr.Status),
				)
				a.clearSession(ctx)
				return nil, nil
			}
			if time.Now().Before(stale.ExpiresAt) {
				a.logger.Warn("auth: refresh failed, keeping unexpired token", zap.Error(err))
				return stale, nil
			}
			return nil, a.mapErr(err)
		}

		s, err := a.sessionFromResponse(&resp)
		if err != nil {
			return nil, err
		}
		a.storeSession(ctx, s, domain.TokenRefreshed(s.Identity))
		a.logger.Debug("auth: session refreshed", zap.String("user_id", s.Identity.ID))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s, _ := v.(*domain.Session)
	return s, nil
}

// ============================================================
// Credentials
// ============================================================

// SignInWithPassword exchanges email + password for a session.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignInWithPassword")
	defer span.End()

	var resp tokenResponse
	err := a.post(ctx, http.MethodPost, "token?grant_type=password", a.c.apiKey,
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return nil, a.mapErr(err)
	}

	s, err := a.sessionFromResponse(&resp)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", s.Identity.ID))

	a.storeSession(ctx, s, domain.SignedIn(s.Identity))
	return s, nil
}

// SignUp creates the account. The session is nil when the project requires
// email confirmation.
func (a *AuthClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, *domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignUp")
	defer span.End()

	var resp signupResponse
	err := a.post(ctx, http.MethodPost, "signup", a.c.apiKey, map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}, &resp)
	if err != nil {
		return nil, nil, a.mapErr(err)
	}

	if resp.AccessToken == "" {
		identity := resp.gotrueUser.identity()
		if identity.ID == "" && resp.User != nil {
			identity = resp.User.identity()
		}
		return nil, &identity, nil
	}

	s, err := a.sessionFromResponse(&resp.tokenResponse)
	if err != nil {
		return nil, nil, err
	}
	a.storeSession(ctx, s, domain.SignedIn(s.Identity))
	identity := s.Identity
	return s, &identity, nil
}

// SignOut revokes the session remotely and always clears it locally.
func (a *AuthClient) SignOut(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.SignOut")
	defer span.End()

	s := a.current(ctx)
	var remoteErr error
	if s != nil {
		remoteErr = a.post(ctx, http.MethodPost, "logout", s.AccessToken, nil, nil)
	}
	a.clearSession(ctx)

	if remoteErr != nil {
		var apiErr *APIError
		if errors.As(remoteErr, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return nil
		}
		return a.mapErr(remoteErr)
	}
	return nil
}

// ============================================================
// OAuth (PKCE)
// ============================================================

// SignInWithOAuth returns the provider authorization URL. The PKCE verifier
// is kept until ExchangeCodeForSession consumes it.
func (a *AuthClient) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", &domain.ErrValidation{Field: "provider", Message: "provider is required"}
	}

	verifier, err := newPKCEVerifier()
	if err != nil {
		return "", fmt.Errorf("generate pkce verifier: %w", err)
	}
	if err := a.kv.Set(ctx, PKCEVerifierKey, verifier); err != nil {
		return "", fmt.Errorf("store pkce verifier: %w", err)
	}

	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	q.Set("code_challenge", pkceChallenge(verifier))
	q.Set("code_challenge_method", "s256")

	return a.c.authURL("authorize?" + q.Encode()), nil
}

// ExchangeCodeForSession completes an OAuth sign-in.
func (a *AuthClient) ExchangeCodeForSession(ctx context.Context, code string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ExchangeCodeForSession")
	defer span.End()

	if code == "" {
		return nil, &domain.ErrValidation{Field: "code", Message: "authorization code is required"}
	}
	verifier, ok, err := a.kv.Get(ctx, PKCEVerifierKey)
	if err != nil {
		return nil, fmt.Errorf("read pkce verifier: %w", err)
	}
	if !ok {
		return nil, &domain.ErrState{Message: "no oauth sign-in in progress"}
	}

	var resp tokenResponse
	err = a.post(ctx, http.MethodPost, "token?grant_type=pkce", a.c.apiKey,
		map[string]string{"auth_code": code, "code_verifier": verifier}, &resp)
	if err != nil {
		return nil, a.mapErr(err)
	}
	if err := a.kv.Remove(ctx, PKCEVerifierKey); err != nil {
		a.logger.Warn("auth: failed to drop pkce verifier", zap.Error(err))
	}

	s, err := a.sessionFromResponse(&resp)
	if err != nil {
		return nil, err
	}
	a.storeSession(ctx, s, domain.SignedIn(s.Identity))
	return s, nil
}

func newPKCEVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ============================================================
// Password
// ============================================================

// ResetPasswordForEmail sends the recovery email.
func (a *AuthClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	ctx, span := tracer.Start(ctx, "Supabase.ResetPasswordForEmail")
	defer span.End()

	path := "recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	if err := a.post(ctx, http.MethodPost, path, a.c.apiKey, map[string]string{"email": email}, nil); err != nil {
		return a.mapErr(err)
	}
	return nil
}

// UpdatePassword changes the password of the signed-in user.
func (a *AuthClient) UpdatePassword(ctx context.Context, password string) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdatePassword")
	defer span.End()

	s, err := a.GetSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return &domain.ErrUnauthorized{Message: "no active session"}
	}

	var user gotrueUser
	if err := a.post(ctx, http.MethodPut, "user", s.AccessToken, map[string]string{"password": password}, &user); err != nil {
		return a.mapErr(err)
	}

	if user.ID != "" {
		s.Identity = user.identity()
	}
	a.storeSession(ctx, s, domain.AuthEvent{Type: domain.AuthEventUserUpdated, Identity: &s.Identity})
	return nil
}

// ============================================================
// Admin
// ============================================================

// GetUserByID reads an account through the admin API. The database key
// must be the service-role key; an unknown id yields nil, nil.
func (a *AuthClient) GetUserByID(ctx context.Context, userID string) (*domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByID")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var user gotrueUser
	if err := a.post(ctx, http.MethodGet, "admin/users/"+url.PathEscape(userID), a.c.dbKey, nil, &user); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, a.mapErr(err)
	}
	if user.ID == "" {
		return nil, nil
	}
	identity := user.identity()
	return &identity, nil
}
