package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/kvstore"
	"github.com/maspatas/maspatas-bfa-go/internal/infra/resilience"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "super-secret-jwt-token"

func signToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()
	claims := accessClaims{
		Email:       email,
		AppMetadata: map[string]any{"provider": "email"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func tokenBody(t *testing.T, sub, email string) map[string]any {
	return map[string]any{
		"access_token":  signToken(t, sub, email, time.Now().Add(time.Hour)),
		"refresh_token": "refresh-" + sub,
		"expires_in":    3600,
		"user": map[string]any{
			"id":            sub,
			"email":         email,
			"app_metadata":  map[string]any{"provider": "email"},
			"user_metadata": map[string]any{"full_name": "Ana Torres"},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newTestAuth(t *testing.T, h http.HandlerFunc) (*AuthClient, *kvstore.Memory) {
	t.Helper()
	c := newTestClient(t, h)
	kv := kvstore.NewMemory()
	guard := resilience.NewGuard(resilience.NewCircuitBreaker("auth-test"), resilience.Config{MaxConcurrency: 4})
	return NewAuthClient(c, guard, kv, testSecret), kv
}

func nextEvent(t *testing.T, ch <-chan domain.AuthEvent) domain.AuthEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auth event")
		return domain.AuthEvent{}
	}
}

func TestSignInWithPassword(t *testing.T) {
	a, kv := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s", r.URL)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@x.com" || body["password"] != "pw" {
			t.Errorf("unexpected body %v", body)
		}
		writeJSON(w, http.StatusOK, tokenBody(t, "u1", "a@x.com"))
	})
	events, cancel := a.Subscribe()
	defer cancel()

	s, err := a.SignInWithPassword(context.Background(), "a@x.com", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Identity.ID != "u1" || s.Identity.Provider != "email" {
		t.Fatalf("unexpected identity %+v", s.Identity)
	}
	if s.Identity.MetadataString("full_name") != "Ana Torres" {
		t.Errorf("expected metadata to be carried over")
	}

	ev := nextEvent(t, events)
	if ev.Type != domain.AuthEventSignedIn || ev.Identity.ID != "u1" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, ok, _ := kv.Get(context.Background(), SessionKey); !ok {
		t.Fatal("expected session to be persisted")
	}
	got, err := a.GetSession(context.Background())
	if err != nil || got == nil || got.AccessToken != s.AccessToken {
		t.Fatalf("expected live session, got %+v err=%v", got, err)
	}
}

func TestSignInWithPassword_InvalidCredentials(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
	})

	_, err := a.SignInWithPassword(context.Background(), "a@x.com", "wrong")
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if unauth.Message != "Invalid login credentials" {
		t.Errorf("unexpected message %q", unauth.Message)
	}
}

func TestSignIn_RejectsForgedToken(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte("other-secret"))
		writeJSON(w, http.StatusOK, map[string]any{"access_token": forged, "refresh_token": "r"})
	})

	_, err := a.SignInWithPassword(context.Background(), "a@x.com", "pw")
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSignUp_ConfirmationRequired(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		data, _ := body["data"].(map[string]any)
		if data["username"] != "ana" {
			t.Errorf("expected metadata to be sent, got %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "u2", "email": "b@x.com"})
	})

	s, identity, err := a.SignUp(context.Background(), "b@x.com", "pw123456", map[string]any{"username": "ana"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Fatalf("expected no session, got %+v", s)
	}
	if identity == nil || identity.ID != "u2" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestSignUp_AlreadyRegistered(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":       422,
			"error_code": "user_already_exists",
			"msg":        "User already registered",
		})
	})

	_, _, err := a.SignUp(context.Background(), "b@x.com", "pw123456", nil)
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func persistSession(t *testing.T, kv *kvstore.Memory, s domain.Session) {
	t.Helper()
	raw, _ := json.Marshal(s)
	if err := kv.Set(context.Background(), SessionKey, string(raw)); err != nil {
		t.Fatal(err)
	}
}

func TestGetSession_RefreshesNearExpiry(t *testing.T) {
	a, kv := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected grant %s", r.URL.RawQuery)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "old-refresh" {
			t.Errorf("unexpected refresh token %q", body["refresh_token"])
		}
		writeJSON(w, http.StatusOK, tokenBody(t, "u1", "a@x.com"))
	})
	persistSession(t, kv, domain.Session{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(10 * time.Second),
		Identity:     domain.Identity{ID: "u1", Email: "a@x.com"},
	})
	events, cancel := a.Subscribe()
	defer cancel()

	s, err := a.GetSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil || s.AccessToken == "old-access" {
		t.Fatalf("expected refreshed session, got %+v", s)
	}
	if ev := nextEvent(t, events); ev.Type != domain.AuthEventTokenRefreshed {
		t.Fatalf("expected TOKEN_REFRESHED, got %s", ev.Type)
	}
}

func TestGetSession_RejectedRefreshSignsOut(t *testing.T) {
	a, kv := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
	})
	persistSession(t, kv, domain.Session{
		AccessToken:  "old-access",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Minute),
		Identity:     domain.Identity{ID: "u1"},
	})
	events, cancel := a.Subscribe()
	defer cancel()

	s, err := a.GetSession(context.Background())
	if err != nil || s != nil {
		t.Fatalf("expected no session and no error, got %+v err=%v", s, err)
	}
	if ev := nextEvent(t, events); ev.Type != domain.AuthEventSignedOut {
		t.Fatalf("expected SIGNED_OUT, got %s", ev.Type)
	}
	if _, ok, _ := kv.Get(context.Background(), SessionKey); ok {
		t.Fatal("expected persisted session to be removed")
	}
}

func TestGetSession_NoSession(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	})
	s, err := a.GetSession(context.Background())
	if err != nil || s != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", s, err)
	}
}

func TestSignOut_ClearsLocallyEvenWhenRemoteFails(t *testing.T) {
	a, kv := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer live-access" {
			t.Errorf("expected user bearer, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	persistSession(t, kv, domain.Session{
		AccessToken: "live-access",
		ExpiresAt:   time.Now().Add(time.Hour),
		Identity:    domain.Identity{ID: "u1"},
	})
	events, cancel := a.Subscribe()
	defer cancel()

	if err := a.SignOut(context.Background()); err == nil {
		t.Fatal("expected remote error to be returned")
	}
	if ev := nextEvent(t, events); ev.Type != domain.AuthEventSignedOut {
		t.Fatalf("expected SIGNED_OUT, got %s", ev.Type)
	}
	if s, _ := a.GetSession(context.Background()); s != nil {
		t.Fatal("expected local session to be cleared")
	}
}

func TestOAuth_PKCERoundTrip(t *testing.T) {
	var gotVerifier string
	a, kv := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "pkce" {
			t.Errorf("unexpected grant %s", r.URL.RawQuery)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["auth_code"] != "code-123" {
			t.Errorf("unexpected code %q", body["auth_code"])
		}
		gotVerifier = body["code_verifier"]
		writeJSON(w, http.StatusOK, tokenBody(t, "u3", "g@x.com"))
	})

	raw, err := a.SignInWithOAuth(context.Background(), "google", "http://localhost:3000/auth/callback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad url: %v", err)
	}
	if !strings.HasSuffix(u.Path, "/auth/v1/authorize") || u.Query().Get("provider") != "google" {
		t.Fatalf("unexpected authorize url %s", raw)
	}
	if u.Query().Get("code_challenge_method") != "s256" {
		t.Errorf("expected s256 challenge")
	}

	s, err := a.ExchangeCodeForSession(context.Background(), "code-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Identity.ID != "u3" {
		t.Fatalf("unexpected identity %+v", s.Identity)
	}
	if pkceChallenge(gotVerifier) != u.Query().Get("code_challenge") {
		t.Error("verifier does not match the published challenge")
	}
	if _, ok, _ := kv.Get(context.Background(), PKCEVerifierKey); ok {
		t.Error("expected verifier to be consumed")
	}
}

func TestExchangeCode_WithoutPendingSignIn(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	})
	_, err := a.ExchangeCodeForSession(context.Background(), "code")
	var stateErr *domain.ErrState
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected ErrState, got %v", err)
	}
}

func TestUpdatePassword_RequiresSession(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	})
	err := a.UpdatePassword(context.Background(), "newpass")
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestBroadcaster_CancelledSubscriberDoesNotBlock(t *testing.T) {
	b := newBroadcaster()
	_, cancel := b.Subscribe()
	cancel()
	cancel()

	live, cancelLive := b.Subscribe()
	defer cancelLive()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.publish(domain.SignedOut())
		}
		close(done)
	}()

	for i := 0; i < subscriberBuffer+10; i++ {
		nextEvent(t, live)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}

func TestGetUserByID(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/auth/v1/admin/users/u1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer service-key" {
			t.Errorf("expected the service key as bearer, got %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":           "u1",
			"email":        "a@x.com",
			"app_metadata": map[string]any{"provider": "google"},
		})
	})

	identity, err := a.GetUserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity == nil || identity.Email != "a@x.com" || identity.Provider != "google" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestGetUserByID_Unknown(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "user_not_found", "msg": "User not found"})
	})

	identity, err := a.GetUserByID(context.Background(), "ghost")
	if err != nil || identity != nil {
		t.Fatalf("expected nil, nil for an unknown id, got %+v, %v", identity, err)
	}
}

func TestGetUserByID_WithoutServiceKey(t *testing.T) {
	a, _ := newTestAuth(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"msg": "User not allowed"})
	})

	_, err := a.GetUserByID(context.Background(), "u1")
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
