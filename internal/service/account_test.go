package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/service"
)

func TestLogin_PublishesUser(t *testing.T) {
	h := newHarness(t, newMockAuth(nil), newMockStore())
	h.start(t)

	u, err := h.ctl.Login(context.Background(), "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u == nil || u.ID != "id-a@x.com" || u.Username != "a" {
		t.Fatalf("unexpected user %+v", u)
	}
	if st := h.ctl.State(); currentID(st) != u.ID || st.Loading {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestLogin_Validation(t *testing.T) {
	h := newHarness(t, newMockAuth(nil), newMockStore())
	h.start(t)

	_, err := h.ctl.Login(context.Background(), "not-an-email", "secret1")
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) || validation.Field != "email" {
		t.Fatalf("expected email validation error, got %v", err)
	}
}

func TestLogin_PropagatesAuthError(t *testing.T) {
	auth := newMockAuth(nil)
	auth.signInErr = &domain.ErrUnauthorized{Message: "Invalid login credentials"}
	h := newHarness(t, auth, newMockStore())
	h.start(t)

	_, err := h.ctl.Login(context.Background(), "a@x.com", "wrong")
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if st := h.ctl.State(); st.CurrentUser != nil || st.Loading {
		t.Fatalf("state changed on failed login: %+v", st)
	}
}

func TestRegister_ConfirmationRequired(t *testing.T) {
	auth := newMockAuth(nil)
	auth.signUpConfirm = true
	h := newHarness(t, auth, newMockStore())
	h.start(t)

	resp, err := h.ctl.Register(context.Background(), &domain.RegisterRequest{
		Email: "n@x.com", Password: "secret1", Username: "nico",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.ConfirmationRequired || resp.UserID != "id-n@x.com" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if h.ctl.State().CurrentUser != nil {
		t.Fatal("no user may be published before confirmation")
	}
}

func TestRegister_AutoConfirmedSeedsProfileFromMetadata(t *testing.T) {
	store := newMockStore()
	h := newHarness(t, newMockAuth(nil), store)
	h.start(t)

	resp, err := h.ctl.Register(context.Background(), &domain.RegisterRequest{
		Email: "n@x.com", Password: "secret1", Username: "nico", FirstName: "Nicolás", LastName: "Paz",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ConfirmationRequired {
		t.Fatal("expected an immediate session")
	}
	u := h.ctl.State().CurrentUser
	if u == nil || u.Username != "nico" || u.FirstName != "Nicolás" || u.LastName != "Paz" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t, newMockAuth(nil), newMockStore())
	h.start(t)

	cases := []struct {
		req   domain.RegisterRequest
		field string
	}{
		{domain.RegisterRequest{Email: "", Password: "secret1", Username: "x"}, "email"},
		{domain.RegisterRequest{Email: "a@x.com", Password: "123", Username: "x"}, "password"},
		{domain.RegisterRequest{Email: "a@x.com", Password: "secret1", Username: "  "}, "username"},
	}
	for _, tc := range cases {
		_, err := h.ctl.Register(context.Background(), &tc.req)
		var validation *domain.ErrValidation
		if !errors.As(err, &validation) || validation.Field != tc.field {
			t.Errorf("expected validation on %s, got %v", tc.field, err)
		}
	}
}

func TestLogout_ClearsStateEvenWhenRemoteFails(t *testing.T) {
	auth := newMockAuth(&adminIdentity)
	auth.signOutErr = errDB
	h := newHarness(t, auth, newMockStore(adminProfile(), targetProfile()))
	h.start(t)
	if err := h.ctl.GhostLogin(context.Background(), targetUser()); err != nil {
		t.Fatal(err)
	}
	h.queries.Set("user:x", &domain.User{ID: "x"})

	if err := h.ctl.Logout(context.Background()); !errors.Is(err, errDB) {
		t.Fatalf("expected remote error, got %v", err)
	}
	st := h.ctl.State()
	if st.CurrentUser != nil || st.IsGhosting != nil || st.Loading {
		t.Fatalf("expected cleared state, got %+v", st)
	}
	if _, ok, _ := h.kv.Get(context.Background(), service.GhostKey); ok {
		t.Error("expected ghost record to be cleared")
	}
	if h.queries.Len() != 0 {
		t.Error("expected query cache to be purged")
	}
}

func TestLoginWithGoogle_UsesRedirect(t *testing.T) {
	h := newHarness(t, newMockAuth(nil), newMockStore())

	url, err := h.ctl.LoginWithGoogle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, "provider=google") || !strings.Contains(url, "localhost:3000/auth/callback") {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestCompleteOAuth_PublishesUser(t *testing.T) {
	h := newHarness(t, newMockAuth(nil), newMockStore())
	h.start(t)

	u, err := h.ctl.CompleteOAuth(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != "google-user" || u.AuthProvider != "google" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestResetAndUpdatePassword(t *testing.T) {
	auth := newMockAuth(&adminIdentity)
	h := newHarness(t, auth, newMockStore(adminProfile()))
	ctx := context.Background()

	if err := h.ctl.ResetPassword(ctx, "a@x.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(auth.resetEmails) != 1 || auth.resetEmails[0] != "a@x.com" {
		t.Errorf("unexpected reset calls %v", auth.resetEmails)
	}

	var validation *domain.ErrValidation
	if err := h.ctl.UpdatePassword(ctx, "123"); !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := h.ctl.UpdatePassword(ctx, "longenough"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(auth.passwords) != 1 {
		t.Errorf("expected one password update, got %d", len(auth.passwords))
	}
}

func TestUpdateUserProfile(t *testing.T) {
	h := newHarness(t, newMockAuth(&adminIdentity), newMockStore(adminProfile()))
	h.start(t)

	name := "Rosa"
	u, err := h.ctl.UpdateUserProfile(context.Background(), &domain.UpdateProfileRequest{FirstName: &name})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.FirstName != "Rosa" || u.Email != adminIdentity.Email {
		t.Fatalf("unexpected user %+v", u)
	}
	if h.ctl.State().CurrentUser.FirstName != "Rosa" {
		t.Error("expected published user to be updated")
	}
}

func TestUpdateUserProfile_WhileGhostingEditsTarget(t *testing.T) {
	h := ghostingHarness(t)

	phone := "999888777"
	if _, err := h.ctl.UpdateUserProfile(context.Background(), &domain.UpdateProfileRequest{Phone: &phone}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.store.profiles[targetIdentity.ID].Phone != phone {
		t.Fatal("expected the target's row to be updated")
	}
	if h.store.profiles[adminIdentity.ID].Phone != "" {
		t.Fatal("the admin's row must be untouched")
	}

	raw, _, _ := h.kv.Get(context.Background(), service.GhostKey)
	if !strings.Contains(raw, phone) {
		t.Error("expected persisted target to be refreshed")
	}
}

func TestUpdateUserProfile_RequiresUser(t *testing.T) {
	h := newHarness(t, newMockAuth(nil), newMockStore())
	h.start(t)

	name := "x"
	_, err := h.ctl.UpdateUserProfile(context.Background(), &domain.UpdateProfileRequest{FirstName: &name})
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
