package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Account operations
// ============================================================

const minPasswordLength = 6

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return &domain.ErrValidation{Field: "email", Message: "email is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &domain.ErrValidation{Field: "email", Message: "email is not valid"}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return &domain.ErrValidation{Field: "password", Message: "password must have at least 6 characters"}
	}
	return nil
}

// adoptSession applies the identity of a freshly obtained session right
// away; the matching SIGNED_IN event then arrives as a duplicate.
func (c *SessionController) adoptSession(ctx context.Context, s *domain.Session) (*domain.User, error) {
	if err := c.lockLive(); err != nil {
		return nil, err
	}
	defer c.opMu.Unlock()

	c.applyIdentityLocked(ctx, s.Identity)
	return c.state.Snapshot().CurrentUser, nil
}

// Login signs in with email and password and returns the visible user.
func (c *SessionController) Login(ctx context.Context, email, password string) (*domain.User, error) {
	ctx, span := sessionTracer.Start(ctx, "SessionController.Login")
	defer span.End()

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, &domain.ErrValidation{Field: "password", Message: "password is required"}
	}

	s, err := c.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.logger.Info("login failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", s.Identity.ID))
	return c.adoptSession(ctx, s)
}

// Register creates an account. Profile fields travel as auth metadata and
// seed the profile row on first sign-in.
func (c *SessionController) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.RegisterResponse, error) {
	ctx, span := sessionTracer.Start(ctx, "SessionController.Register")
	defer span.End()

	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, &domain.ErrValidation{Field: "username", Message: "username is required"}
	}

	metadata := map[string]any{"username": username}
	if req.FirstName != "" {
		metadata["first_name"] = req.FirstName
	}
	if req.LastName != "" {
		metadata["last_name"] = req.LastName
	}
	if full := strings.TrimSpace(req.FirstName + " " + req.LastName); full != "" {
		metadata["full_name"] = full
	}
	if req.Phone != "" {
		metadata["phone"] = req.Phone
	}

	s, identity, err := c.auth.SignUp(ctx, req.Email, req.Password, metadata)
	if err != nil {
		return nil, err
	}

	resp := &domain.RegisterResponse{}
	if identity != nil {
		resp.UserID = identity.ID
	}
	if s == nil {
		resp.ConfirmationRequired = true
		resp.Message = "check your email to confirm the account"
		return resp, nil
	}

	if _, err := c.adoptSession(ctx, s); err != nil {
		return nil, err
	}
	resp.Message = "account created"
	return resp, nil
}

// Logout signs out remotely and always clears local state, ghost record and
// cached queries. The remote error, if any, is returned afterwards.
func (c *SessionController) Logout(ctx context.Context) error {
	ctx, span := sessionTracer.Start(ctx, "SessionController.Logout")
	defer span.End()

	remoteErr := c.auth.SignOut(ctx)
	if remoteErr != nil {
		c.logger.Warn("remote sign-out failed, clearing local state anyway", zap.Error(remoteErr))
	}

	c.opMu.Lock()
	if c.alive() {
		c.applySignOutLocked(ctx)
	}
	c.opMu.Unlock()

	return remoteErr
}

// LoginWithGoogle returns the provider URL the user must visit.
func (c *SessionController) LoginWithGoogle(ctx context.Context) (string, error) {
	return c.auth.SignInWithOAuth(ctx, "google", c.cfg.OAuthRedirectURL)
}

// CompleteOAuth exchanges the callback code for a session.
func (c *SessionController) CompleteOAuth(ctx context.Context, code string) (*domain.User, error) {
	ctx, span := sessionTracer.Start(ctx, "SessionController.CompleteOAuth")
	defer span.End()

	s, err := c.auth.ExchangeCodeForSession(ctx, code)
	if err != nil {
		return nil, err
	}
	return c.adoptSession(ctx, s)
}

// ResetPassword sends the recovery email.
func (c *SessionController) ResetPassword(ctx context.Context, email string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	return c.auth.ResetPasswordForEmail(ctx, email, c.cfg.OAuthRedirectURL)
}

// UpdatePassword changes the signed-in user's password.
func (c *SessionController) UpdatePassword(ctx context.Context, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	return c.auth.UpdatePassword(ctx, password)
}

// UpdateUserProfile patches the visible user's profile and republishes it.
// While ghosting this edits the impersonated user.
func (c *SessionController) UpdateUserProfile(ctx context.Context, req *domain.UpdateProfileRequest) (*domain.User, error) {
	ctx, span := sessionTracer.Start(ctx, "SessionController.UpdateUserProfile")
	defer span.End()

	cols := req.Columns()
	if len(cols) == 0 {
		return nil, &domain.ErrValidation{Field: "profile", Message: "no fields to update"}
	}
	if v, ok := cols["username"].(string); ok && strings.TrimSpace(v) == "" {
		return nil, &domain.ErrValidation{Field: "username", Message: "username cannot be empty"}
	}

	if err := c.lockLive(); err != nil {
		return nil, err
	}
	defer c.opMu.Unlock()

	current := c.state.Snapshot().CurrentUser
	if current == nil {
		return nil, &domain.ErrUnauthorized{Message: "no signed-in user"}
	}
	span.SetAttributes(attribute.String("user.id", current.ID))

	p, err := c.profiles.UpdateProfile(ctx, current.ID, cols)
	if err != nil {
		return nil, err
	}
	updated := domain.UserFromProfile(p, current.Email)
	c.publishVisibleLocked(ctx, updated)
	return updated, nil
}
